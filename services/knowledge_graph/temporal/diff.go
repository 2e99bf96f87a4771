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
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// NodeChange is a node present in both snapshots with differing fields.
type NodeChange struct {
	NodeID        string     `json:"node_id"`
	Before        graph.Node `json:"before"`
	After         graph.Node `json:"after"`
	ChangedFields []string   `json:"changed_fields"`
}

// SnapshotDiff describes how the graph moved from one snapshot to another.
//
// Every list is ordered by ID. Swapping From and To swaps the added and
// removed lists and negates CostDelta.
type SnapshotDiff struct {
	FromSnapshotID string       `json:"from_snapshot_id"`
	ToSnapshotID   string       `json:"to_snapshot_id"`
	AddedNodes     []graph.Node `json:"added_nodes"`
	RemovedNodes   []graph.Node `json:"removed_nodes"`
	ChangedNodes   []NodeChange `json:"changed_nodes"`
	AddedEdges     []graph.Edge `json:"added_edges"`
	RemovedEdges   []graph.Edge `json:"removed_edges"`
	CostDelta      float64      `json:"cost_delta"`
}

// DiffSnapshots compares two snapshots by ID.
//
// # Outputs
//
//   - *SnapshotDiff: The difference from fromID to toID.
//   - error: ErrSnapshotNotFound when either ID is unknown.
func (s *Store) DiffSnapshots(ctx context.Context, fromID, toID string) (*SnapshotDiff, error) {
	ctx, span := startDiffSpan(ctx, fromID, toID)
	defer span.End()

	from, err := s.mustGetSnapshot(ctx, fromID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "from snapshot")
		return nil, err
	}
	to, err := s.mustGetSnapshot(ctx, toID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "to snapshot")
		return nil, err
	}

	fromNodes, err := s.backend.GetNodes(ctx, fromID)
	if err != nil {
		return nil, fmt.Errorf("get nodes at %s: %w", fromID, err)
	}
	toNodes, err := s.backend.GetNodes(ctx, toID)
	if err != nil {
		return nil, fmt.Errorf("get nodes at %s: %w", toID, err)
	}
	fromEdges, err := s.backend.GetEdges(ctx, fromID)
	if err != nil {
		return nil, fmt.Errorf("get edges at %s: %w", fromID, err)
	}
	toEdges, err := s.backend.GetEdges(ctx, toID)
	if err != nil {
		return nil, fmt.Errorf("get edges at %s: %w", toID, err)
	}

	diff := diffGraphs(fromNodes, toNodes, fromEdges, toEdges)
	diff.FromSnapshotID = fromID
	diff.ToSnapshotID = toID
	diff.CostDelta = to.TotalCostMonthly - from.TotalCostMonthly

	span.SetAttributes(
		attribute.Int("temporal.added_nodes", len(diff.AddedNodes)),
		attribute.Int("temporal.removed_nodes", len(diff.RemovedNodes)),
		attribute.Int("temporal.changed_nodes", len(diff.ChangedNodes)),
	)
	return diff, nil
}

// DiffTimestamps diffs the snapshots GetSnapshotAt selects for from and to.
func (s *Store) DiffTimestamps(ctx context.Context, from, to time.Time) (*SnapshotDiff, error) {
	fromSnap, err := s.GetSnapshotAt(ctx, from)
	if err != nil {
		return nil, err
	}
	toSnap, err := s.GetSnapshotAt(ctx, to)
	if err != nil {
		return nil, err
	}
	if fromSnap == nil || toSnap == nil {
		return nil, fmt.Errorf("%w: no snapshots recorded", ErrSnapshotNotFound)
	}
	return s.DiffSnapshots(ctx, fromSnap.ID, toSnap.ID)
}

func (s *Store) mustGetSnapshot(ctx context.Context, id string) (*graph.Snapshot, error) {
	snap, err := s.backend.GetSnapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return snap, nil
}

// diffGraphs computes the set differences. Inputs need not be sorted.
func diffGraphs(fromNodes, toNodes []graph.Node, fromEdges, toEdges []graph.Edge) *SnapshotDiff {
	diff := &SnapshotDiff{
		AddedNodes:   []graph.Node{},
		RemovedNodes: []graph.Node{},
		ChangedNodes: []NodeChange{},
		AddedEdges:   []graph.Edge{},
		RemovedEdges: []graph.Edge{},
	}

	before := make(map[string]graph.Node, len(fromNodes))
	for _, n := range fromNodes {
		before[n.ID] = n
	}
	after := make(map[string]graph.Node, len(toNodes))
	for _, n := range toNodes {
		after[n.ID] = n
	}

	for id, n := range after {
		old, ok := before[id]
		if !ok {
			diff.AddedNodes = append(diff.AddedNodes, n)
			continue
		}
		if fields := changedFields(old, n); len(fields) > 0 {
			diff.ChangedNodes = append(diff.ChangedNodes, NodeChange{
				NodeID:        id,
				Before:        old,
				After:         n,
				ChangedFields: fields,
			})
		}
	}
	for id, n := range before {
		if _, ok := after[id]; !ok {
			diff.RemovedNodes = append(diff.RemovedNodes, n)
		}
	}

	beforeEdges := make(map[string]graph.Edge, len(fromEdges))
	for _, e := range fromEdges {
		beforeEdges[e.ID] = e
	}
	afterEdges := make(map[string]graph.Edge, len(toEdges))
	for _, e := range toEdges {
		afterEdges[e.ID] = e
	}
	for id, e := range afterEdges {
		if _, ok := beforeEdges[id]; !ok {
			diff.AddedEdges = append(diff.AddedEdges, e)
		}
	}
	for id, e := range beforeEdges {
		if _, ok := afterEdges[id]; !ok {
			diff.RemovedEdges = append(diff.RemovedEdges, e)
		}
	}

	sort.Slice(diff.AddedNodes, func(i, j int) bool { return diff.AddedNodes[i].ID < diff.AddedNodes[j].ID })
	sort.Slice(diff.RemovedNodes, func(i, j int) bool { return diff.RemovedNodes[i].ID < diff.RemovedNodes[j].ID })
	sort.Slice(diff.ChangedNodes, func(i, j int) bool { return diff.ChangedNodes[i].NodeID < diff.ChangedNodes[j].NodeID })
	sort.Slice(diff.AddedEdges, func(i, j int) bool { return diff.AddedEdges[i].ID < diff.AddedEdges[j].ID })
	sort.Slice(diff.RemovedEdges, func(i, j int) bool { return diff.RemovedEdges[i].ID < diff.RemovedEdges[j].ID })
	return diff
}

// changedFields lists the tracked fields that differ, in a fixed order.
func changedFields(a, b graph.Node) []string {
	var fields []string
	if a.Status != b.Status {
		fields = append(fields, "status")
	}
	if a.Name != b.Name {
		fields = append(fields, "name")
	}
	if a.Region != b.Region {
		fields = append(fields, "region")
	}
	if a.Account != b.Account {
		fields = append(fields, "account")
	}
	if !ptrEqual(a.Owner, b.Owner) {
		fields = append(fields, "owner")
	}
	if !ptrEqual(a.CostMonthly, b.CostMonthly) {
		fields = append(fields, "cost_monthly")
	}
	if !graph.TagsEqual(a.Tags, b.Tags) {
		fields = append(fields, "tags")
	}
	if !graph.MetadataEqual(a.Metadata, b.Metadata) {
		fields = append(fields, "metadata")
	}
	return fields
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
