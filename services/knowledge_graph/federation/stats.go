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
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// NamespaceStats is one storage's contribution to FederatedStats.
type NamespaceStats struct {
	PeerID    string       `json:"peer_id"`
	Namespace string       `json:"namespace"`
	Stats     *graph.Stats `json:"stats"`
	Error     string       `json:"error,omitempty"`
}

// FederatedStats sums statistics over the local storage and every peer.
type FederatedStats struct {
	TotalNodes              int            `json:"total_nodes"`
	TotalEdges              int            `json:"total_edges"`
	TotalChanges            int            `json:"total_changes"`
	TotalGroups             int            `json:"total_groups"`
	TotalCostMonthly        float64        `json:"total_cost_monthly"`
	NodesByProvider         map[string]int `json:"nodes_by_provider"`
	NodesByResourceType     map[string]int `json:"nodes_by_resource_type"`
	EdgesByRelationshipType map[string]int `json:"edges_by_relationship_type"`
	LastSyncAt              *time.Time     `json:"last_sync_at,omitempty"`

	// TotalPeers counts registered peers, reachable or not.
	TotalPeers int `json:"total_peers"`

	// HealthyPeers counts peers whose stats call succeeded.
	HealthyPeers int `json:"healthy_peers"`

	// Namespaces lists the local storage first, then peers in
	// registration order. Unreachable peers have nil Stats.
	Namespaces []NamespaceStats `json:"namespaces"`
}

// GetStats aggregates GetStats across the local storage and every peer,
// healthy or not.
//
// # Outputs
//
//   - *FederatedStats: Sums of every reachable storage. LastSyncAt is the
//     latest across contributors.
//   - error: Non-nil only when the local storage fails.
func (m *Manager) GetStats(ctx context.Context) (*FederatedStats, error) {
	ctx, span := startFederatedSpan(ctx, "Manager.GetStats")
	defer span.End()

	targets := append([]target{m.localTarget()}, m.peerTargets()...)
	results := fanOut(ctx, targets, m.queryTimeout, "stats",
		func(ctx context.Context, s graph.Storage) (*graph.Stats, error) {
			return s.GetStats(ctx)
		})

	if !results[0].status.Success {
		return nil, fmt.Errorf("get local stats: %s", results[0].status.Error)
	}

	out := &FederatedStats{
		NodesByProvider:         make(map[string]int),
		NodesByResourceType:     make(map[string]int),
		EdgesByRelationshipType: make(map[string]int),
		TotalPeers:              len(targets) - 1,
		Namespaces:              make([]NamespaceStats, 0, len(targets)),
	}
	for i, r := range results {
		ns := NamespaceStats{PeerID: r.target.peerID, Namespace: r.target.namespace, Error: r.status.Error}
		if r.status.Success && r.value != nil {
			ns.Stats = r.value
			out.add(r.value)
			if i > 0 {
				out.HealthyPeers++
			}
		}
		out.Namespaces = append(out.Namespaces, ns)
	}
	return out, nil
}

func (f *FederatedStats) add(s *graph.Stats) {
	f.TotalNodes += s.TotalNodes
	f.TotalEdges += s.TotalEdges
	f.TotalChanges += s.TotalChanges
	f.TotalGroups += s.TotalGroups
	f.TotalCostMonthly += s.TotalCostMonthly
	for k, v := range s.NodesByProvider {
		f.NodesByProvider[k] += v
	}
	for k, v := range s.NodesByResourceType {
		f.NodesByResourceType[k] += v
	}
	for k, v := range s.EdgesByRelationshipType {
		f.EdgesByRelationshipType[k] += v
	}
	if s.LastSyncAt != nil && (f.LastSyncAt == nil || s.LastSyncAt.After(*f.LastSyncAt)) {
		t := *s.LastSyncAt
		f.LastSyncAt = &t
	}
}
