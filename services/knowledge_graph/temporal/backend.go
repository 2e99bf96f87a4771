// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package temporal

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// Backend persists snapshot headers and their version records.
//
// # Description
//
// A snapshot's header and records are written together by SaveSnapshot and
// removed together by DeleteSnapshot. Records of one snapshot are never
// shared with another.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// SaveSnapshot stores a header with the captured nodes and edges.
	SaveSnapshot(ctx context.Context, snap graph.Snapshot, nodes []graph.Node, edges []graph.Edge) error

	// GetSnapshot returns the header or nil when absent.
	GetSnapshot(ctx context.Context, id string) (*graph.Snapshot, error)

	// ListSnapshots returns every header ordered by Seq ascending.
	ListSnapshots(ctx context.Context) ([]graph.Snapshot, error)

	// GetNodes returns the nodes captured by a snapshot, ordered by ID.
	GetNodes(ctx context.Context, snapshotID string) ([]graph.Node, error)

	// GetEdges returns the edges captured by a snapshot, ordered by ID.
	GetEdges(ctx context.Context, snapshotID string) ([]graph.Edge, error)

	// GetNodeVersion returns one captured node or nil when absent.
	GetNodeVersion(ctx context.Context, snapshotID, nodeID string) (*graph.Node, error)

	// GetEdgeVersion returns one captured edge or nil when absent.
	GetEdgeVersion(ctx context.Context, snapshotID, edgeID string) (*graph.Edge, error)

	// DeleteSnapshot removes a header and its records. Missing IDs are a
	// no-op.
	DeleteSnapshot(ctx context.Context, id string) error
}

type memorySnapshot struct {
	header graph.Snapshot
	nodes  map[string]graph.Node
	edges  map[string]graph.Edge
}

// MemoryBackend keeps snapshots in process memory.
type MemoryBackend struct {
	mu        sync.RWMutex
	snapshots map[string]*memorySnapshot
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{snapshots: make(map[string]*memorySnapshot)}
}

var _ Backend = (*MemoryBackend)(nil)

// SaveSnapshot implements Backend.
func (b *MemoryBackend) SaveSnapshot(ctx context.Context, snap graph.Snapshot, nodes []graph.Node, edges []graph.Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := &memorySnapshot{
		header: snap,
		nodes:  make(map[string]graph.Node, len(nodes)),
		edges:  make(map[string]graph.Edge, len(edges)),
	}
	for _, n := range nodes {
		entry.nodes[n.ID] = n.Clone()
	}
	for _, e := range edges {
		entry.edges[e.ID] = e.Clone()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.snapshots[snap.ID]; exists {
		return fmt.Errorf("snapshot %s already stored", snap.ID)
	}
	b.snapshots[snap.ID] = entry
	return nil
}

// GetSnapshot implements Backend.
func (b *MemoryBackend) GetSnapshot(ctx context.Context, id string) (*graph.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.snapshots[id]
	if !ok {
		return nil, nil
	}
	h := cloneHeader(entry.header)
	return &h, nil
}

// ListSnapshots implements Backend.
func (b *MemoryBackend) ListSnapshots(ctx context.Context) ([]graph.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	out := make([]graph.Snapshot, 0, len(b.snapshots))
	for _, entry := range b.snapshots {
		out = append(out, cloneHeader(entry.header))
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// GetNodes implements Backend.
func (b *MemoryBackend) GetNodes(ctx context.Context, snapshotID string) ([]graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.snapshots[snapshotID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
	}
	out := make([]graph.Node, 0, len(entry.nodes))
	for _, n := range entry.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetEdges implements Backend.
func (b *MemoryBackend) GetEdges(ctx context.Context, snapshotID string) ([]graph.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.snapshots[snapshotID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, snapshotID)
	}
	out := make([]graph.Edge, 0, len(entry.edges))
	for _, e := range entry.edges {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetNodeVersion implements Backend.
func (b *MemoryBackend) GetNodeVersion(ctx context.Context, snapshotID, nodeID string) (*graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.snapshots[snapshotID]
	if !ok {
		return nil, nil
	}
	n, ok := entry.nodes[nodeID]
	if !ok {
		return nil, nil
	}
	c := n.Clone()
	return &c, nil
}

// GetEdgeVersion implements Backend.
func (b *MemoryBackend) GetEdgeVersion(ctx context.Context, snapshotID, edgeID string) (*graph.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.snapshots[snapshotID]
	if !ok {
		return nil, nil
	}
	e, ok := entry.edges[edgeID]
	if !ok {
		return nil, nil
	}
	c := e.Clone()
	return &c, nil
}

// DeleteSnapshot implements Backend.
func (b *MemoryBackend) DeleteSnapshot(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.snapshots, id)
	return nil
}

func cloneHeader(s graph.Snapshot) graph.Snapshot {
	out := s
	if s.Provider != nil {
		p := *s.Provider
		out.Provider = &p
	}
	return out
}
