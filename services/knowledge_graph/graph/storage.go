// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"time"
)

// Storage is the read/write contract for one graph instance.
//
// # Description
//
// Every subsystem consumes this interface; none of them knows how nodes,
// edges or the change log are persisted. Single-entity lookups return
// (nil, nil) when the entity is absent.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use and serialize their own
// conflicting writes. No consistent multi-call read is guaranteed.
type Storage interface {
	// QueryNodes returns nodes matching the filter.
	QueryNodes(ctx context.Context, filter NodeFilter) ([]Node, error)

	// GetNode returns the node or nil when absent.
	GetNode(ctx context.Context, id string) (*Node, error)

	// UpsertNode inserts or replaces a node by ID.
	UpsertNode(ctx context.Context, node Node) error

	// QueryEdges returns edges matching the filter.
	QueryEdges(ctx context.Context, filter EdgeFilter) ([]Edge, error)

	// GetEdgesForNode returns the edges touching id in the given direction.
	GetEdgesForNode(ctx context.Context, id string, dir Direction) ([]Edge, error)

	// UpsertEdge inserts or replaces an edge by ID. Both endpoints must exist.
	UpsertEdge(ctx context.Context, edge Edge) error

	// GetEdge returns the edge or nil when absent.
	GetEdge(ctx context.Context, id string) (*Edge, error)

	// GetStats returns aggregate counters for the instance.
	GetStats(ctx context.Context) (*Stats, error)

	// AppendChange appends a change request to the audit log.
	AppendChange(ctx context.Context, change ChangeRequest) error

	// UpdateChange records the resolution of a previously appended request.
	UpdateChange(ctx context.Context, change ChangeRequest) error

	// GetChange returns one audit record or nil when absent.
	GetChange(ctx context.Context, id string) (*ChangeRequest, error)

	// GetChanges returns audit records matching the filter, newest first.
	GetChanges(ctx context.Context, filter ChangeFilter) ([]ChangeRequest, error)
}

// Stats aggregates counters for one storage instance.
type Stats struct {
	TotalNodes              int            `json:"total_nodes"`
	TotalEdges              int            `json:"total_edges"`
	TotalChanges            int            `json:"total_changes"`
	TotalGroups             int            `json:"total_groups"`
	NodesByProvider         map[string]int `json:"nodes_by_provider"`
	NodesByResourceType     map[string]int `json:"nodes_by_resource_type"`
	EdgesByRelationshipType map[string]int `json:"edges_by_relationship_type"`
	TotalCostMonthly        float64        `json:"total_cost_monthly"`
	LastSyncAt              *time.Time     `json:"last_sync_at,omitempty"`
}

// NewStats returns Stats with initialized maps.
func NewStats() *Stats {
	return &Stats{
		NodesByProvider:         make(map[string]int),
		NodesByResourceType:     make(map[string]int),
		EdgesByRelationshipType: make(map[string]int),
	}
}

// AddNode folds a node into the counters.
func (s *Stats) AddNode(n Node) {
	s.TotalNodes++
	s.NodesByProvider[string(n.Provider)]++
	s.NodesByResourceType[string(n.ResourceType)]++
	s.TotalCostMonthly += n.Cost()
}

// AddEdge folds an edge into the counters.
func (s *Stats) AddEdge(e Edge) {
	s.TotalEdges++
	s.EdgesByRelationshipType[string(e.RelationshipType)]++
}

// ObserveSync advances LastSyncAt to t if t is later.
func (s *Stats) ObserveSync(t *time.Time) {
	if t == nil {
		return
	}
	if s.LastSyncAt == nil || t.After(*s.LastSyncAt) {
		v := *t
		s.LastSyncAt = &v
	}
}
