// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package temporal captures point-in-time copies of the infrastructure graph
// and answers historical questions over them.
//
// A Store reads the live graph through graph.Storage and keeps versioned
// node and edge records in a Backend. Snapshots are totally ordered by a
// monotonic sequence number; CreatedAt is used for time-based lookups.
//
// Snapshot capture reads nodes and then edges per node. It is not a single
// consistent read, so a snapshot taken during an active sync may include
// edges whose endpoint was added or removed mid-capture.
package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// =============================================================================
// Types
// =============================================================================

// SnapshotFilter selects snapshot headers. Zero-valued fields match
// everything; Since and Until are inclusive.
type SnapshotFilter struct {
	Since    *time.Time            `json:"since,omitempty"`
	Until    *time.Time            `json:"until,omitempty"`
	Trigger  graph.SnapshotTrigger `json:"trigger,omitempty"`
	Provider *graph.Provider       `json:"provider,omitempty"`
	Limit    int                   `json:"limit,omitempty"`
}

// Matches reports whether s satisfies the filter. Limit is ignored.
func (f SnapshotFilter) Matches(s graph.Snapshot) bool {
	if f.Since != nil && s.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && s.CreatedAt.After(*f.Until) {
		return false
	}
	if f.Trigger != "" && s.Trigger != f.Trigger {
		return false
	}
	if f.Provider != nil && (s.Provider == nil || *s.Provider != *f.Provider) {
		return false
	}
	return true
}

// RetentionPolicy bounds how many snapshots are kept. Zero fields are
// unbounded.
type RetentionPolicy struct {
	MaxSnapshots int           `json:"max_snapshots"`
	MaxAge       time.Duration `json:"max_age"`
}

// Topology is the graph as captured by one snapshot.
type Topology struct {
	Snapshot graph.Snapshot `json:"snapshot"`
	Nodes    []graph.Node   `json:"nodes"`
	Edges    []graph.Edge   `json:"edges"`
}

// Option configures a Store.
type Option func(*Store)

// WithBackend sets where snapshots are kept. Defaults to a MemoryBackend.
func WithBackend(b Backend) Option {
	return func(s *Store) {
		if b != nil {
			s.backend = b
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides snapshot ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithSnapshotHook registers fn to run after each snapshot is stored. Hooks
// run synchronously in registration order and cannot fail the snapshot.
func WithSnapshotHook(fn func(ctx context.Context, snap graph.Snapshot)) Option {
	return func(s *Store) {
		if fn != nil {
			s.hooks = append(s.hooks, fn)
		}
	}
}

// =============================================================================
// Store
// =============================================================================

// Store records and queries graph snapshots.
//
// # Thread Safety
//
// Safe for concurrent use. Sequence numbers are assigned under a mutex, so
// concurrent CreateSnapshot calls are totally ordered.
type Store struct {
	storage graph.Storage
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	hooks   []func(ctx context.Context, snap graph.Snapshot)

	seqMu sync.Mutex
	seq   uint64
}

// NewStore creates a snapshot store over storage.
//
// # Inputs
//
//   - ctx: Context for reading existing snapshots from the backend.
//   - storage: Live graph to capture from.
//   - opts: Backend, logger, clock, ID generator.
//
// # Outputs
//
//   - *Store: Ready for use. The sequence resumes after the highest stored Seq.
//   - error: Non-nil if the backend cannot be read.
func NewStore(ctx context.Context, storage graph.Storage, opts ...Option) (*Store, error) {
	s := &Store{
		storage: storage,
		backend: NewMemoryBackend(),
		logger:  slog.Default(),
		now:     time.Now,
		newID:   func() string { return "snap-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}

	existing, err := s.backend.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot sequence: %w", err)
	}
	for _, snap := range existing {
		s.seq = max(s.seq, snap.Seq)
	}
	return s, nil
}

// CreateSnapshot captures the current graph.
//
// # Description
//
// Reads every node (scoped to provider when set) and every edge touching
// those nodes, stores them as version records, and stores the header with
// aggregate counts and cost.
//
// # Inputs
//
//   - ctx: Context for storage reads.
//   - trigger: Why the snapshot is taken.
//   - label: Optional free text.
//   - provider: Optional provider scope.
//
// # Outputs
//
//   - *graph.Snapshot: The stored header.
//   - error: ErrInvalidTrigger, or a storage/backend failure.
func (s *Store) CreateSnapshot(ctx context.Context, trigger graph.SnapshotTrigger, label string, provider *graph.Provider) (*graph.Snapshot, error) {
	switch trigger {
	case graph.TriggerSync, graph.TriggerManual, graph.TriggerScheduled:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTrigger, trigger)
	}

	ctx, span := startSnapshotSpan(ctx, trigger)
	defer span.End()
	start := time.Now()

	filter := graph.NodeFilter{}
	if provider != nil {
		filter.Provider = *provider
	}
	nodes, err := s.storage.QueryNodes(ctx, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query nodes")
		return nil, fmt.Errorf("capture nodes: %w", err)
	}

	seen := make(map[string]bool)
	edges := make([]graph.Edge, 0)
	for _, n := range nodes {
		nodeEdges, err := s.storage.GetEdgesForNode(ctx, n.ID, graph.DirectionBoth)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "query edges")
			return nil, fmt.Errorf("capture edges of %s: %w", n.ID, err)
		}
		for _, e := range nodeEdges {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			edges = append(edges, e)
		}
	}

	snap := graph.Snapshot{
		ID:        s.newID(),
		Seq:       s.nextSeq(),
		CreatedAt: s.now(),
		Trigger:   trigger,
		Label:     label,
		NodeCount: len(nodes),
		EdgeCount: len(edges),
	}
	if provider != nil {
		p := *provider
		snap.Provider = &p
	}
	for _, n := range nodes {
		snap.TotalCostMonthly += n.Cost()
	}

	if err := s.backend.SaveSnapshot(ctx, snap, nodes, edges); err != nil {
		recordSnapshotMetrics(ctx, time.Since(start), &snap, false)
		span.RecordError(err)
		span.SetStatus(codes.Error, "save snapshot")
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	recordSnapshotMetrics(ctx, time.Since(start), &snap, true)
	for _, hook := range s.hooks {
		hook(ctx, snap)
	}

	s.logger.Info("snapshot created",
		slog.String("snapshot_id", snap.ID),
		slog.Uint64("seq", snap.Seq),
		slog.String("trigger", string(trigger)),
		slog.Int("nodes", snap.NodeCount),
		slog.Int("edges", snap.EdgeCount),
		slog.Duration("duration", time.Since(start)),
	)
	return &snap, nil
}

// GetSnapshot returns the header or nil when absent.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*graph.Snapshot, error) {
	snap, err := s.backend.GetSnapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return snap, nil
}

// ListSnapshots returns matching headers, newest first by sequence.
func (s *Store) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]graph.Snapshot, error) {
	all, err := s.backend.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	out := make([]graph.Snapshot, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if !filter.Matches(all[i]) {
			continue
		}
		out = append(out, all[i])
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// GetSnapshotAt returns the latest snapshot created at or before t. When
// every snapshot is newer than t the oldest is returned; nil when none exist.
func (s *Store) GetSnapshotAt(ctx context.Context, t time.Time) (*graph.Snapshot, error) {
	all, err := s.backend.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if len(all) == 0 {
		return nil, nil
	}

	var best *graph.Snapshot
	for i := range all {
		snap := &all[i]
		if snap.CreatedAt.After(t) {
			continue
		}
		if best == nil || !snap.CreatedAt.Before(best.CreatedAt) {
			best = snap
		}
	}
	if best == nil {
		best = &all[0]
	}
	out := *best
	return &out, nil
}

// GetNodesAtSnapshot returns the nodes captured by a snapshot that match
// filter.
func (s *Store) GetNodesAtSnapshot(ctx context.Context, snapshotID string, filter graph.NodeFilter) ([]graph.Node, error) {
	if err := s.requireSnapshot(ctx, snapshotID); err != nil {
		return nil, err
	}
	nodes, err := s.backend.GetNodes(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("get nodes at %s: %w", snapshotID, err)
	}
	return graph.FilterNodes(nodes, filter), nil
}

// GetEdgesAtSnapshot returns the edges captured by a snapshot that match
// filter.
func (s *Store) GetEdgesAtSnapshot(ctx context.Context, snapshotID string, filter graph.EdgeFilter) ([]graph.Edge, error) {
	if err := s.requireSnapshot(ctx, snapshotID); err != nil {
		return nil, err
	}
	edges, err := s.backend.GetEdges(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("get edges at %s: %w", snapshotID, err)
	}
	return graph.FilterEdges(edges, filter), nil
}

// GetTopologyAt returns the graph as of GetSnapshotAt(t). Edges are limited
// to those whose endpoints both pass filter. Nil when no snapshot exists.
func (s *Store) GetTopologyAt(ctx context.Context, t time.Time, filter graph.NodeFilter) (*Topology, error) {
	snap, err := s.GetSnapshotAt(ctx, t)
	if err != nil || snap == nil {
		return nil, err
	}

	nodes, err := s.GetNodesAtSnapshot(ctx, snap.ID, filter)
	if err != nil {
		return nil, err
	}
	edges, err := s.GetEdgesAtSnapshot(ctx, snap.ID, graph.EdgeFilter{})
	if err != nil {
		return nil, err
	}

	kept := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		kept[n.ID] = true
	}
	filtered := make([]graph.Edge, 0, len(edges))
	for _, e := range edges {
		if kept[e.SourceNodeID] && kept[e.TargetNodeID] {
			filtered = append(filtered, e)
		}
	}
	return &Topology{Snapshot: *snap, Nodes: nodes, Edges: filtered}, nil
}

// GetNodeHistory returns the versions of a node, newest first. limit <= 0
// returns every version.
func (s *Store) GetNodeHistory(ctx context.Context, nodeID string, limit int) ([]graph.NodeVersion, error) {
	snaps, err := s.ListSnapshots(ctx, SnapshotFilter{})
	if err != nil {
		return nil, err
	}

	out := make([]graph.NodeVersion, 0)
	for _, snap := range snaps {
		n, err := s.backend.GetNodeVersion(ctx, snap.ID, nodeID)
		if err != nil {
			return nil, fmt.Errorf("get node %s at %s: %w", nodeID, snap.ID, err)
		}
		if n == nil {
			continue
		}
		out = append(out, graph.NodeVersion{SnapshotID: snap.ID, CapturedAt: snap.CreatedAt, Node: *n})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetEdgeHistory returns the versions of an edge, newest first. limit <= 0
// returns every version.
func (s *Store) GetEdgeHistory(ctx context.Context, edgeID string, limit int) ([]graph.EdgeVersion, error) {
	snaps, err := s.ListSnapshots(ctx, SnapshotFilter{})
	if err != nil {
		return nil, err
	}

	out := make([]graph.EdgeVersion, 0)
	for _, snap := range snaps {
		e, err := s.backend.GetEdgeVersion(ctx, snap.ID, edgeID)
		if err != nil {
			return nil, fmt.Errorf("get edge %s at %s: %w", edgeID, snap.ID, err)
		}
		if e == nil {
			continue
		}
		out = append(out, graph.EdgeVersion{SnapshotID: snap.ID, CapturedAt: snap.CreatedAt, Edge: *e})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PruneSnapshots deletes snapshots beyond policy and returns how many were
// removed. Over-cap snapshots are removed oldest first.
func (s *Store) PruneSnapshots(ctx context.Context, policy RetentionPolicy) (int, error) {
	all, err := s.backend.ListSnapshots(ctx)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}

	doomed := make(map[string]bool)
	if policy.MaxSnapshots > 0 && len(all) > policy.MaxSnapshots {
		for _, snap := range all[:len(all)-policy.MaxSnapshots] {
			doomed[snap.ID] = true
		}
	}
	if policy.MaxAge > 0 {
		cutoff := s.now().Add(-policy.MaxAge)
		for _, snap := range all {
			if snap.CreatedAt.Before(cutoff) {
				doomed[snap.ID] = true
			}
		}
	}

	pruned := 0
	for _, snap := range all {
		if !doomed[snap.ID] {
			continue
		}
		if err := s.backend.DeleteSnapshot(ctx, snap.ID); err != nil {
			recordPruneMetrics(ctx, pruned)
			return pruned, fmt.Errorf("delete snapshot %s: %w", snap.ID, err)
		}
		pruned++
	}
	recordPruneMetrics(ctx, pruned)

	if pruned > 0 {
		s.logger.Info("snapshots pruned",
			slog.Int("pruned", pruned),
			slog.Int("remaining", len(all)-pruned),
		)
	}
	return pruned, nil
}

func (s *Store) nextSeq() uint64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	s.seq++
	return s.seq
}

func (s *Store) requireSnapshot(ctx context.Context, id string) error {
	snap, err := s.backend.GetSnapshot(ctx, id)
	if err != nil {
		return fmt.Errorf("get snapshot %s: %w", id, err)
	}
	if snap == nil {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return nil
}
