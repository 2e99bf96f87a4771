// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory provides an in-process graph.Storage.
//
// It backs tests, the CLI's ephemeral mode, and in-process federation peers.
// Data is lost when the process exits; use the badger package for
// persistence.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// Storage is an in-memory graph.Storage.
//
// # Thread Safety
//
// Safe for concurrent use. Writes are serialized by an internal RWMutex.
// Returned values are copies; mutating them does not affect the store.
type Storage struct {
	mu          sync.RWMutex
	nodes       map[string]graph.Node
	edges       map[string]graph.Edge
	changes     map[string]graph.ChangeRequest
	changeOrder []string
}

// New creates an empty in-memory storage.
func New() *Storage {
	return &Storage{
		nodes:   make(map[string]graph.Node),
		edges:   make(map[string]graph.Edge),
		changes: make(map[string]graph.ChangeRequest),
	}
}

var _ graph.Storage = (*Storage)(nil)

// QueryNodes returns matching nodes sorted by ID.
func (s *Storage) QueryNodes(ctx context.Context, filter graph.NodeFilter) ([]graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]graph.Node, 0)
	for _, id := range ids {
		n := s.nodes[id]
		if !filter.Matches(n) {
			continue
		}
		out = append(out, n.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// GetNode returns the node or nil when absent.
func (s *Storage) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, nil
	}
	c := n.Clone()
	return &c, nil
}

// UpsertNode inserts or replaces a node.
func (s *Storage) UpsertNode(ctx context.Context, node graph.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := node.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.ID] = node.Clone()
	return nil
}

// DeleteNode removes a node and every edge touching it. Missing IDs are a
// no-op.
func (s *Storage) DeleteNode(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.nodes, id)
	for eid, e := range s.edges {
		if e.SourceNodeID == id || e.TargetNodeID == id {
			delete(s.edges, eid)
		}
	}
	return nil
}

// QueryEdges returns matching edges sorted by ID.
func (s *Storage) QueryEdges(ctx context.Context, filter graph.EdgeFilter) ([]graph.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedEdges(func(e graph.Edge) bool { return filter.Matches(e) }, filter.Limit), nil
}

// GetEdgesForNode returns the edges touching id in the given direction.
func (s *Storage) GetEdgesForNode(ctx context.Context, id string, dir graph.Direction) ([]graph.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedEdges(func(e graph.Edge) bool { return e.Touches(id, dir) }, 0), nil
}

// UpsertEdge inserts or replaces an edge. Both endpoints must exist.
func (s *Storage) UpsertEdge(ctx context.Context, edge graph.Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := edge.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, endpoint := range []string{edge.SourceNodeID, edge.TargetNodeID} {
		if _, ok := s.nodes[endpoint]; !ok {
			return fmt.Errorf("%w: %s", graph.ErrDanglingEdge, endpoint)
		}
	}
	s.edges[edge.ID] = edge.Clone()
	return nil
}

// GetEdge returns the edge or nil when absent.
func (s *Storage) GetEdge(ctx context.Context, id string) (*graph.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.edges[id]
	if !ok {
		return nil, nil
	}
	c := e.Clone()
	return &c, nil
}

// GetStats aggregates counters over the current contents.
func (s *Storage) GetStats(ctx context.Context) (*graph.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := graph.NewStats()
	for _, n := range s.nodes {
		stats.AddNode(n)
		stats.ObserveSync(n.LastSeenAt)
	}
	for _, e := range s.edges {
		stats.AddEdge(e)
	}
	stats.TotalChanges = len(s.changes)
	return stats, nil
}

// AppendChange appends a request to the audit log.
func (s *Storage) AppendChange(ctx context.Context, change graph.ChangeRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.changes[change.ID]; exists {
		return fmt.Errorf("%w: %s", graph.ErrChangeExists, change.ID)
	}
	s.changes[change.ID] = change.Clone()
	s.changeOrder = append(s.changeOrder, change.ID)
	return nil
}

// UpdateChange replaces a previously appended request.
func (s *Storage) UpdateChange(ctx context.Context, change graph.ChangeRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.changes[change.ID]; !exists {
		return fmt.Errorf("%w: %s", graph.ErrChangeNotFound, change.ID)
	}
	s.changes[change.ID] = change.Clone()
	return nil
}

// GetChange returns one audit record or nil when absent.
func (s *Storage) GetChange(ctx context.Context, id string) (*graph.ChangeRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.changes[id]
	if !ok {
		return nil, nil
	}
	out := c.Clone()
	return &out, nil
}

// GetChanges returns matching audit records, newest first. Records created
// at the same instant are ordered by append order, latest first.
func (s *Storage) GetChanges(ctx context.Context, filter graph.ChangeFilter) ([]graph.ChangeRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]graph.ChangeRequest, 0)
	for i := len(s.changeOrder) - 1; i >= 0; i-- {
		c := s.changes[s.changeOrder[i]]
		if filter.Matches(c) {
			out = append(out, c.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// sortedEdges returns clones of matching edges ordered by ID.
// Caller must hold s.mu.
func (s *Storage) sortedEdges(match func(graph.Edge) bool, limit int) []graph.Edge {
	ids := make([]string, 0, len(s.edges))
	for id := range s.edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]graph.Edge, 0)
	for _, id := range ids {
		e := s.edges[id]
		if !match(e) {
			continue
		}
		out = append(out, e.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
