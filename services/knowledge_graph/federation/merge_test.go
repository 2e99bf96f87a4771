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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/storage/memory"
)

var (
	earlier = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	later   = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
)

// mergeFixture builds a local and a peer storage sharing node "shared".
func mergeFixture(t *testing.T, localSeen, remoteSeen *time.Time) (*Manager, *memory.Storage) {
	t.Helper()
	ctx := context.Background()

	local := storeWith(t,
		graph.Node{
			ID: "shared", Name: "local-name", Region: "us-east-1", Status: graph.StatusRunning,
			Tags:        map[string]string{"team": "core", "env": "prod"},
			CostMonthly: graph.Ptr(10.0), LastSeenAt: localSeen,
		},
		graph.Node{ID: "local-only"},
	)
	require.NoError(t, local.UpsertEdge(ctx, graph.Edge{ID: "shared-local", SourceNodeID: "shared", TargetNodeID: "local-only", RelationshipType: graph.RelUses, Confidence: 0.5}))

	remote := storeWith(t,
		graph.Node{
			ID: "shared", Name: "remote-name", Region: "eu-west-1", Status: graph.StatusStopped,
			Tags:        map[string]string{"env": "staging", "owner": "ops"},
			CostMonthly: graph.Ptr(99.0), LastSeenAt: remoteSeen,
		},
		graph.Node{ID: "remote-only", Provider: graph.ProviderAzure},
		graph.Node{ID: "orphan-target"},
	)
	require.NoError(t, remote.UpsertEdge(ctx, graph.Edge{ID: "shared-remote", SourceNodeID: "shared", TargetNodeID: "remote-only", RelationshipType: graph.RelDependsOn, Confidence: 1}))
	require.NoError(t, remote.UpsertEdge(ctx, graph.Edge{ID: "shared-local", SourceNodeID: "shared", TargetNodeID: "remote-only", RelationshipType: graph.RelUses, Confidence: 0.9}))

	m := newTestManager(local)
	_, err := m.RegisterPeer(PeerConfig{ID: "peer", Namespace: "remote", Storage: remote})
	require.NoError(t, err)
	return m, local
}

func getNode(t *testing.T, s *memory.Storage, id string) *graph.Node {
	t.Helper()
	n, err := s.GetNode(context.Background(), id)
	require.NoError(t, err)
	return n
}

func TestMerge_LocalWinsNeverChangesLocalNodes(t *testing.T) {
	m, local := mergeFixture(t, graph.Ptr(earlier), graph.Ptr(later))
	before := getNode(t, local, "shared")

	res, err := m.MergePeerIntoLocal(context.Background(), "peer", MergeLocalWins, nil)
	require.NoError(t, err)

	assert.Equal(t, before, getNode(t, local, "shared"))
	assert.Equal(t, 2, res.NodesAdded)
	assert.Equal(t, 1, res.NodesSkipped)
	assert.Equal(t, 0, res.NodesUpdated)
	assert.Equal(t, 1, res.Conflicts)
	assert.Equal(t, 1, res.EdgesAdded)
	assert.Equal(t, 1, res.EdgesSkipped)

	edge, err := local.GetEdge(context.Background(), "shared-local")
	require.NoError(t, err)
	assert.Equal(t, "local-only", edge.TargetNodeID)
}

func TestMerge_RemoteWinsAdoptsEveryField(t *testing.T) {
	m, local := mergeFixture(t, graph.Ptr(later), graph.Ptr(earlier))

	res, err := m.MergePeerIntoLocal(context.Background(), "peer", MergeRemoteWins, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NodesUpdated)
	assert.Equal(t, 1, res.Conflicts)

	got := getNode(t, local, "shared")
	assert.Equal(t, "remote-name", got.Name)
	assert.Equal(t, "eu-west-1", got.Region)
	assert.Equal(t, graph.StatusStopped, got.Status)
	assert.Equal(t, map[string]string{"env": "staging", "owner": "ops"}, got.Tags)
	assert.Equal(t, 99.0, *got.CostMonthly)
	assert.Equal(t, earlier, *got.LastSeenAt)

	assert.Equal(t, 1, res.EdgesAdded)
	assert.Equal(t, 1, res.EdgesUpdated)
	edge, err := local.GetEdge(context.Background(), "shared-local")
	require.NoError(t, err)
	assert.Equal(t, "remote-only", edge.TargetNodeID)
}

func TestMerge_MergeTags(t *testing.T) {
	m, local := mergeFixture(t, graph.Ptr(earlier), graph.Ptr(later))

	res, err := m.MergePeerIntoLocal(context.Background(), "peer", MergeTags, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NodesUpdated)

	got := getNode(t, local, "shared")
	assert.Equal(t, "local-name", got.Name)
	assert.Equal(t, map[string]string{"team": "core", "env": "staging", "owner": "ops"}, got.Tags)
	assert.Equal(t, later, *got.LastSeenAt)
}

func TestMerge_NewestWins(t *testing.T) {
	// 10:00+02:00 is 08:00Z: earlier as an instant, later as text.
	offsetLocal := time.Date(2025, 3, 12, 10, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	utcRemote := time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		local       *time.Time
		remote      *time.Time
		wantName    string
		wantUpdated int
	}{
		{"remote newer", graph.Ptr(earlier), graph.Ptr(later), "remote-name", 1},
		{"local newer", graph.Ptr(later), graph.Ptr(earlier), "local-name", 0},
		{"equal keeps local", graph.Ptr(earlier), graph.Ptr(earlier), "local-name", 0},
		{"remote missing is oldest", graph.Ptr(earlier), nil, "local-name", 0},
		{"local missing is oldest", nil, graph.Ptr(earlier), "remote-name", 1},
		{"both missing keeps local", nil, nil, "local-name", 0},
		{"compared as instants across offsets", graph.Ptr(offsetLocal), graph.Ptr(utcRemote), "remote-name", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, local := mergeFixture(t, tt.local, tt.remote)

			res, err := m.MergePeerIntoLocal(context.Background(), "peer", MergeNewestWins, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, getNode(t, local, "shared").Name)
			assert.Equal(t, tt.wantUpdated, res.NodesUpdated)
			assert.Equal(t, 1, res.Conflicts)
			assert.Equal(t, 1-tt.wantUpdated, res.NodesSkipped)
		})
	}
}

func TestMerge_FilterAndErrors(t *testing.T) {
	m, local := mergeFixture(t, nil, nil)
	ctx := context.Background()

	res, err := m.MergePeerIntoLocal(ctx, "peer", MergeLocalWins, &graph.NodeFilter{Provider: graph.ProviderAzure})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NodesAdded)
	assert.Equal(t, 0, res.Conflicts)
	// shared-remote's source "shared" exists locally, so the edge lands.
	assert.Equal(t, 1, res.EdgesAdded)
	assert.Nil(t, getNode(t, local, "orphan-target"))

	_, err = m.MergePeerIntoLocal(ctx, "ghost", MergeLocalWins, nil)
	assert.ErrorIs(t, err, ErrPeerNotFound)

	_, err = m.MergePeerIntoLocal(ctx, "peer", "coin-flip", nil)
	assert.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestMerge_SkipsEdgesWithMissingEndpoints(t *testing.T) {
	ctx := context.Background()
	remote := storeWith(t, graph.Node{ID: "a"}, graph.Node{ID: "b", Provider: graph.ProviderGCP})
	require.NoError(t, remote.UpsertEdge(ctx, graph.Edge{ID: "a-b", SourceNodeID: "a", TargetNodeID: "b", Confidence: 1}))

	local := memory.New()
	m := newTestManager(local)
	_, err := m.RegisterPeer(PeerConfig{ID: "peer", Namespace: "remote", Storage: remote})
	require.NoError(t, err)

	res, err := m.MergePeerIntoLocal(ctx, "peer", MergeRemoteWins, &graph.NodeFilter{Provider: graph.ProviderGCP})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NodesAdded)
	assert.Equal(t, 0, res.EdgesAdded)
	assert.Equal(t, 1, res.EdgesSkipped)
}

func TestMerge_PeerFailure(t *testing.T) {
	m := newTestManager(memory.New())
	_, err := m.RegisterPeer(PeerConfig{ID: "peer", Namespace: "remote", Storage: &flakyStorage{Storage: memory.New(), err: errors.New("unreachable")}})
	require.NoError(t, err)

	_, err = m.MergePeerIntoLocal(context.Background(), "peer", MergeRemoteWins, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
}
