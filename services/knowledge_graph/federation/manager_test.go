// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package federation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/storage/memory"
)

var testNow = time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)

// flakyStorage wraps memory storage with injectable latency and failure.
type flakyStorage struct {
	*memory.Storage
	delay time.Duration
	err   error
}

func (f *flakyStorage) wait(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	if f.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(f.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *flakyStorage) QueryNodes(ctx context.Context, filter graph.NodeFilter) ([]graph.Node, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.Storage.QueryNodes(ctx, filter)
}

func (f *flakyStorage) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.Storage.GetNode(ctx, id)
}

func (f *flakyStorage) GetStats(ctx context.Context) (*graph.Stats, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.Storage.GetStats(ctx)
}

func newTestManager(local graph.Storage, opts ...ManagerOption) *Manager {
	base := []ManagerOption{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return testNow }),
	}
	return NewManager(local, append(base, opts...)...)
}

func storeWith(t *testing.T, nodes ...graph.Node) *memory.Storage {
	t.Helper()
	s := memory.New()
	for _, n := range nodes {
		require.NoError(t, s.UpsertNode(context.Background(), n))
	}
	return s
}

func TestManager_RegisterPeer(t *testing.T) {
	m := newTestManager(memory.New())

	info, err := m.RegisterPeer(PeerConfig{ID: "p1", Namespace: "prod-us", Storage: memory.New()})
	require.NoError(t, err)
	assert.Equal(t, "p1", info.Name)
	assert.True(t, info.Healthy)
	assert.Equal(t, testNow, info.RegisteredAt)

	tests := []struct {
		name string
		cfg  PeerConfig
		want error
	}{
		{"duplicate id", PeerConfig{ID: "p1", Namespace: "other", Storage: memory.New()}, ErrDuplicatePeer},
		{"namespace taken", PeerConfig{ID: "p2", Namespace: "prod-us", Storage: memory.New()}, ErrNamespaceConflict},
		{"reserved namespace", PeerConfig{ID: "p3", Namespace: "local", Storage: memory.New()}, ErrReservedNamespace},
		{"missing storage", PeerConfig{ID: "p4", Namespace: "x"}, ErrInvalidPeer},
		{"missing namespace", PeerConfig{ID: "p5", Storage: memory.New()}, ErrInvalidPeer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.RegisterPeer(tt.cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Len(t, m.ListPeers(), 1)
}

func TestManager_CustomLocalNamespaceIsReserved(t *testing.T) {
	m := newTestManager(memory.New(), WithLocalNamespace("hq"))
	assert.Equal(t, "hq", m.LocalNamespace())

	_, err := m.RegisterPeer(PeerConfig{ID: "p", Namespace: "hq", Storage: memory.New()})
	assert.ErrorIs(t, err, ErrReservedNamespace)
}

func TestManager_RemovePeer(t *testing.T) {
	m := newTestManager(memory.New())
	for _, id := range []string{"a", "b", "c"} {
		_, err := m.RegisterPeer(PeerConfig{ID: id, Namespace: "ns-" + id, Storage: memory.New()})
		require.NoError(t, err)
	}

	assert.True(t, m.RemovePeer("b"))
	assert.False(t, m.RemovePeer("b"))
	assert.Nil(t, m.GetPeer("b"))

	peers := m.ListPeers()
	require.Len(t, peers, 2)
	assert.Equal(t, "a", peers[0].ID)
	assert.Equal(t, "c", peers[1].ID)

	// The namespace is free again.
	_, err := m.RegisterPeer(PeerConfig{ID: "b2", Namespace: "ns-b", Storage: memory.New()})
	assert.NoError(t, err)
}

func TestManager_HealthCheckAll(t *testing.T) {
	m := newTestManager(memory.New(), WithQueryTimeout(20*time.Millisecond))
	_, err := m.RegisterPeer(PeerConfig{ID: "ok", Namespace: "ok", Storage: memory.New()})
	require.NoError(t, err)
	_, err = m.RegisterPeer(PeerConfig{ID: "down", Namespace: "down", Storage: &flakyStorage{Storage: memory.New(), err: errors.New("connection refused")}})
	require.NoError(t, err)
	_, err = m.RegisterPeer(PeerConfig{ID: "slow", Namespace: "slow", Storage: &flakyStorage{Storage: memory.New(), delay: time.Second}})
	require.NoError(t, err)

	health := m.HealthCheckAll(context.Background())
	assert.Equal(t, map[string]bool{"ok": true, "down": false, "slow": false}, health)

	for _, p := range m.ListPeers() {
		require.NotNil(t, p.LastHealthCheck, p.ID)
		assert.Equal(t, testNow, *p.LastHealthCheck)
	}
	assert.False(t, m.GetPeer("down").Healthy)
	assert.True(t, m.GetPeer("ok").Healthy)
}

func TestManager_StartHealthMonitor(t *testing.T) {
	m := newTestManager(memory.New())
	_, err := m.RegisterPeer(PeerConfig{ID: "down", Namespace: "down", Storage: &flakyStorage{Storage: memory.New(), err: errors.New("gone")}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := m.StartHealthMonitor(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return !m.GetPeer("down").Healthy
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health monitor did not stop")
	}
}
