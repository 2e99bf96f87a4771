// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package federation presents several graph storages as one graph.
//
// A Manager holds the local storage under a reserved namespace and a
// registry of peers, each under its own namespace. Federated reads always
// include the local storage, fan out to the selected peers in parallel with
// a per-peer deadline, and report each peer's outcome in PeerStatus. A slow
// or failing peer degrades completeness, never the call.
package federation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// DefaultLocalNamespace is the namespace of the local storage.
const DefaultLocalNamespace = "local"

// DefaultQueryTimeout bounds each peer call.
const DefaultQueryTimeout = 5 * time.Second

// =============================================================================
// Types
// =============================================================================

// PeerConfig registers a remote graph.
type PeerConfig struct {
	ID        string
	Name      string
	Namespace string
	Storage   graph.Storage
	Metadata  map[string]graph.Value
}

// PeerInfo is the externally visible state of a peer.
type PeerInfo struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Namespace       string                 `json:"namespace"`
	Healthy         bool                   `json:"healthy"`
	RegisteredAt    time.Time              `json:"registered_at"`
	LastHealthCheck *time.Time             `json:"last_health_check,omitempty"`
	Metadata        map[string]graph.Value `json:"metadata,omitempty"`
}

type peer struct {
	info    PeerInfo
	storage graph.Storage
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLocalNamespace renames the local namespace.
func WithLocalNamespace(ns string) ManagerOption {
	return func(m *Manager) {
		if ns != "" {
			m.localNamespace = ns
		}
	}
}

// WithQueryTimeout sets the default per-peer deadline.
func WithQueryTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.queryTimeout = d
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source used for registration and health
// timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// =============================================================================
// Manager
// =============================================================================

// Manager federates a local storage with registered peers.
//
// # Description
//
// The Manager does not own peer storages; it only holds references.
// Closing a peer's storage is the caller's job.
//
// # Thread Safety
//
// Safe for concurrent use. The registry is guarded by an RWMutex; storage
// calls are made without holding it.
type Manager struct {
	local          graph.Storage
	localNamespace string
	queryTimeout   time.Duration
	logger         *slog.Logger
	now            func() time.Time

	mu         sync.RWMutex
	peers      map[string]*peer
	order      []string
	namespaces map[string]string
}

// NewManager creates a federation over local.
func NewManager(local graph.Storage, opts ...ManagerOption) *Manager {
	m := &Manager{
		local:          local,
		localNamespace: DefaultLocalNamespace,
		queryTimeout:   DefaultQueryTimeout,
		logger:         slog.Default(),
		now:            time.Now,
		peers:          make(map[string]*peer),
		namespaces:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LocalNamespace returns the reserved namespace of the local storage.
func (m *Manager) LocalNamespace() string {
	return m.localNamespace
}

// Local returns the local storage.
func (m *Manager) Local() graph.Storage {
	return m.local
}

// RegisterPeer adds a peer. New peers start healthy until the first probe
// says otherwise.
//
// # Outputs
//
//   - *PeerInfo: The registered peer.
//   - error: ErrInvalidPeer, ErrReservedNamespace, ErrDuplicatePeer or
//     ErrNamespaceConflict. The registry is unchanged on error.
func (m *Manager) RegisterPeer(cfg PeerConfig) (*PeerInfo, error) {
	if cfg.ID == "" || cfg.Namespace == "" || cfg.Storage == nil {
		return nil, fmt.Errorf("%w: id, namespace and storage are required", ErrInvalidPeer)
	}
	if cfg.Namespace == m.localNamespace || cfg.Namespace == DefaultLocalNamespace {
		return nil, fmt.Errorf("%w: %s", ErrReservedNamespace, cfg.Namespace)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.peers[cfg.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePeer, cfg.ID)
	}
	if owner, exists := m.namespaces[cfg.Namespace]; exists {
		return nil, fmt.Errorf("%w: %s used by %s", ErrNamespaceConflict, cfg.Namespace, owner)
	}

	name := cfg.Name
	if name == "" {
		name = cfg.ID
	}
	p := &peer{
		info: PeerInfo{
			ID:           cfg.ID,
			Name:         name,
			Namespace:    cfg.Namespace,
			Healthy:      true,
			RegisteredAt: m.now(),
			Metadata:     cfg.Metadata,
		},
		storage: cfg.Storage,
	}
	m.peers[cfg.ID] = p
	m.order = append(m.order, cfg.ID)
	m.namespaces[cfg.Namespace] = cfg.ID
	peerHealthy.WithLabelValues(cfg.ID, cfg.Namespace).Set(1)

	m.logger.Info("federation peer registered",
		slog.String("peer_id", cfg.ID),
		slog.String("namespace", cfg.Namespace),
	)
	info := p.info
	return &info, nil
}

// RemovePeer unregisters a peer and reports whether it existed.
func (m *Manager) RemovePeer(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[id]
	if !ok {
		return false
	}
	delete(m.peers, id)
	delete(m.namespaces, p.info.Namespace)
	for i, pid := range m.order {
		if pid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	peerHealthy.DeleteLabelValues(id, p.info.Namespace)

	m.logger.Info("federation peer removed", slog.String("peer_id", id))
	return true
}

// GetPeer returns a peer's state or nil when absent.
func (m *Manager) GetPeer(id string) *PeerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[id]
	if !ok {
		return nil
	}
	info := p.info
	return &info
}

// ListPeers returns every peer in registration order.
func (m *Manager) ListPeers() []PeerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PeerInfo, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.peers[id].info)
	}
	return out
}

// HealthCheckAll probes every peer in parallel.
//
// # Description
//
// A peer is healthy when GetStats returns within the query timeout without
// error and reports a non-negative node count. Every peer's LastHealthCheck
// is updated regardless of outcome.
//
// # Outputs
//
//   - map[string]bool: Health by peer ID.
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]bool {
	targets := m.peerTargets()
	results := make([]bool, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			stats, status := callWithTimeout(gctx, t, m.queryTimeout, "health", func(ctx context.Context, s graph.Storage) (*graph.Stats, error) {
				return s.GetStats(ctx)
			})
			results[i] = status.Success && stats != nil && stats.TotalNodes >= 0
			if !results[i] {
				m.logger.Warn("federation peer unhealthy",
					slog.String("peer_id", t.peerID),
					slog.String("namespace", t.namespace),
					slog.String("error", status.Error),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	checked := m.now()
	out := make(map[string]bool, len(targets))

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range targets {
		out[t.peerID] = results[i]
		p, ok := m.peers[t.peerID]
		if !ok {
			continue
		}
		p.info.Healthy = results[i]
		ts := checked
		p.info.LastHealthCheck = &ts
		gauge := 0.0
		if results[i] {
			gauge = 1
		}
		peerHealthy.WithLabelValues(t.peerID, t.namespace).Set(gauge)
	}
	return out
}

// StartHealthMonitor runs HealthCheckAll every interval until ctx is done.
// The returned channel is closed when the monitor exits.
func (m *Manager) StartHealthMonitor(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.HealthCheckAll(ctx)
			}
		}
	}()
	return done
}

// target is one storage a federated call is sent to.
type target struct {
	peerID    string
	namespace string
	storage   graph.Storage
}

func (m *Manager) localTarget() target {
	return target{peerID: m.localNamespace, namespace: m.localNamespace, storage: m.local}
}

// peerTargets returns every registered peer in registration order.
func (m *Manager) peerTargets() []target {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]target, 0, len(m.order))
	for _, id := range m.order {
		p := m.peers[id]
		out = append(out, target{peerID: id, namespace: p.info.Namespace, storage: p.storage})
	}
	return out
}

// selectTargets returns the local target followed by the peers opts selects.
// The local storage is always included.
func (m *Manager) selectTargets(opts QueryOptions) []target {
	var allowed map[string]bool
	if len(opts.Namespaces) > 0 {
		allowed = make(map[string]bool, len(opts.Namespaces))
		for _, ns := range opts.Namespaces {
			allowed[ns] = true
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []target{m.localTarget()}
	for _, id := range m.order {
		p := m.peers[id]
		if allowed != nil && !allowed[p.info.Namespace] {
			continue
		}
		if !opts.IncludeUnhealthy && !p.info.Healthy {
			continue
		}
		out = append(out, target{peerID: id, namespace: p.info.Namespace, storage: p.storage})
	}
	return out
}

func (m *Manager) timeout(opts QueryOptions) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return m.queryTimeout
}

func (m *Manager) lookupPeer(id string) (target, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[id]
	if !ok {
		return target{}, false
	}
	return target{peerID: id, namespace: p.info.Namespace, storage: p.storage}, true
}
