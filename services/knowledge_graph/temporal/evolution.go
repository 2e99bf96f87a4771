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
	"time"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// EvolutionPoint is one snapshot's aggregate in a trend.
type EvolutionPoint struct {
	SnapshotID       string                `json:"snapshot_id"`
	CreatedAt        time.Time             `json:"created_at"`
	Trigger          graph.SnapshotTrigger `json:"trigger"`
	NodeCount        int                   `json:"node_count"`
	EdgeCount        int                   `json:"edge_count"`
	TotalCostMonthly float64               `json:"total_cost_monthly"`
}

// EvolutionSummary is the oldest-to-newest trend over a period.
type EvolutionSummary struct {
	Points        []EvolutionPoint `json:"points"`
	SnapshotCount int              `json:"snapshot_count"`
	NodesAdded    int              `json:"nodes_added"`
	NodesRemoved  int              `json:"nodes_removed"`
	CostDelta     float64          `json:"cost_delta"`
}

// GetEvolutionSummary returns the trend of node count and cost across the
// snapshots created within [since, until]. Nil bounds are open.
//
// Net change compares the first and last snapshot only:
// NodesAdded = max(0, last-first), NodesRemoved = max(0, first-last).
func (s *Store) GetEvolutionSummary(ctx context.Context, since, until *time.Time) (*EvolutionSummary, error) {
	all, err := s.backend.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	filter := SnapshotFilter{Since: since, Until: until}
	summary := &EvolutionSummary{Points: []EvolutionPoint{}}
	for _, snap := range all {
		if !filter.Matches(snap) {
			continue
		}
		summary.Points = append(summary.Points, EvolutionPoint{
			SnapshotID:       snap.ID,
			CreatedAt:        snap.CreatedAt,
			Trigger:          snap.Trigger,
			NodeCount:        snap.NodeCount,
			EdgeCount:        snap.EdgeCount,
			TotalCostMonthly: snap.TotalCostMonthly,
		})
	}

	summary.SnapshotCount = len(summary.Points)
	if summary.SnapshotCount == 0 {
		return summary, nil
	}

	first := summary.Points[0]
	last := summary.Points[len(summary.Points)-1]
	summary.NodesAdded = max(0, last.NodeCount-first.NodeCount)
	summary.NodesRemoved = max(0, first.NodeCount-last.NodeCount)
	summary.CostDelta = last.TotalCostMonthly - first.TotalCostMonthly
	return summary, nil
}
