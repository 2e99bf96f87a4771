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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// MergeStrategy decides which side wins when a node exists locally and on
// the peer.
type MergeStrategy string

const (
	// MergeLocalWins keeps the local node unchanged.
	MergeLocalWins MergeStrategy = "local-wins"

	// MergeRemoteWins overwrites the local node with the remote one.
	MergeRemoteWins MergeStrategy = "remote-wins"

	// MergeTags keeps local fields, unions tags (remote wins per key) and
	// takes the newer LastSeenAt.
	MergeTags MergeStrategy = "merge-tags"

	// MergeNewestWins takes the remote node only when its LastSeenAt is
	// strictly newer. A missing LastSeenAt counts as oldest.
	MergeNewestWins MergeStrategy = "newest-wins"
)

// Valid reports whether s is a known strategy.
func (s MergeStrategy) Valid() bool {
	switch s {
	case MergeLocalWins, MergeRemoteWins, MergeTags, MergeNewestWins:
		return true
	}
	return false
}

// MergeResult counts what a merge did.
type MergeResult struct {
	PeerID       string        `json:"peer_id"`
	Strategy     MergeStrategy `json:"strategy"`
	NodesAdded   int           `json:"nodes_added"`
	NodesUpdated int           `json:"nodes_updated"`
	NodesSkipped int           `json:"nodes_skipped"`
	Conflicts    int           `json:"conflicts"`
	EdgesAdded   int           `json:"edges_added"`
	EdgesUpdated int           `json:"edges_updated"`
	EdgesSkipped int           `json:"edges_skipped"`
	DurationMs   int64         `json:"duration_ms"`
}

// MergePeerIntoLocal copies a peer's nodes and their edges into the local
// storage.
//
// # Description
//
// Every remote node (optionally filtered) absent locally is inserted. A
// node present on both sides is a conflict resolved by strategy. Then the
// edges of every merged node are fetched from the peer: new edge IDs are
// inserted, existing ones are replaced only under remote-wins. Edges whose
// endpoints are not both present locally are skipped.
//
// # Inputs
//
//   - ctx: Context for every storage call. Not bounded by the query timeout.
//   - peerID: A registered peer.
//   - strategy: Conflict resolution.
//   - filter: Optional node filter applied on the peer.
//
// # Outputs
//
//   - *MergeResult: Counts and duration.
//   - error: ErrPeerNotFound, ErrInvalidStrategy, or a storage failure.
//     Writes made before a failure are kept.
func (m *Manager) MergePeerIntoLocal(ctx context.Context, peerID string, strategy MergeStrategy, filter *graph.NodeFilter) (*MergeResult, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
	src, ok := m.lookupPeer(peerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
	}

	ctx, span := startFederatedSpan(ctx, "Manager.MergePeerIntoLocal")
	defer span.End()
	span.SetAttributes(attribute.String("federation.peer_id", peerID), attribute.String("federation.strategy", string(strategy)))

	start := time.Now()
	result, err := m.merge(ctx, src, strategy, filter)
	if err != nil {
		mergeTotal.WithLabelValues(string(strategy), "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "merge")
		return nil, err
	}
	result.DurationMs = time.Since(start).Milliseconds()
	mergeTotal.WithLabelValues(string(strategy), "success").Inc()

	m.logger.Info("federation peer merged",
		slog.String("peer_id", peerID),
		slog.String("strategy", string(strategy)),
		slog.Int("nodes_added", result.NodesAdded),
		slog.Int("nodes_updated", result.NodesUpdated),
		slog.Int("conflicts", result.Conflicts),
		slog.Int("edges_added", result.EdgesAdded),
	)
	return result, nil
}

func (m *Manager) merge(ctx context.Context, src target, strategy MergeStrategy, filter *graph.NodeFilter) (*MergeResult, error) {
	result := &MergeResult{PeerID: src.peerID, Strategy: strategy}

	f := graph.NodeFilter{}
	if filter != nil {
		f = *filter
	}
	remoteNodes, err := src.storage.QueryNodes(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query peer nodes: %w", err)
	}

	for _, remote := range remoteNodes {
		local, err := m.local.GetNode(ctx, remote.ID)
		if err != nil {
			return nil, fmt.Errorf("get local node %s: %w", remote.ID, err)
		}
		if local == nil {
			if err := m.local.UpsertNode(ctx, remote); err != nil {
				return nil, fmt.Errorf("insert node %s: %w", remote.ID, err)
			}
			result.NodesAdded++
			continue
		}

		result.Conflicts++
		merged, write := resolveConflict(*local, remote, strategy)
		if !write {
			result.NodesSkipped++
			continue
		}
		if err := m.local.UpsertNode(ctx, merged); err != nil {
			return nil, fmt.Errorf("update node %s: %w", remote.ID, err)
		}
		result.NodesUpdated++
	}

	seen := make(map[string]bool)
	for _, remote := range remoteNodes {
		edges, err := src.storage.GetEdgesForNode(ctx, remote.ID, graph.DirectionBoth)
		if err != nil {
			return nil, fmt.Errorf("get peer edges of %s: %w", remote.ID, err)
		}
		for _, e := range edges {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			if err := m.mergeEdge(ctx, e, strategy, result); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func (m *Manager) mergeEdge(ctx context.Context, e graph.Edge, strategy MergeStrategy, result *MergeResult) error {
	existing, err := m.local.GetEdge(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("get local edge %s: %w", e.ID, err)
	}
	if existing != nil && strategy != MergeRemoteWins {
		result.EdgesSkipped++
		return nil
	}

	for _, endpoint := range []string{e.SourceNodeID, e.TargetNodeID} {
		n, err := m.local.GetNode(ctx, endpoint)
		if err != nil {
			return fmt.Errorf("get local node %s: %w", endpoint, err)
		}
		if n == nil {
			result.EdgesSkipped++
			return nil
		}
	}

	if err := m.local.UpsertEdge(ctx, e); err != nil {
		return fmt.Errorf("upsert edge %s: %w", e.ID, err)
	}
	if existing == nil {
		result.EdgesAdded++
	} else {
		result.EdgesUpdated++
	}
	return nil
}

// resolveConflict returns the node to write and whether to write it.
func resolveConflict(local, remote graph.Node, strategy MergeStrategy) (graph.Node, bool) {
	switch strategy {
	case MergeRemoteWins:
		return remote, true
	case MergeTags:
		merged := local.Clone()
		if merged.Tags == nil {
			merged.Tags = make(map[string]string, len(remote.Tags))
		}
		for k, v := range remote.Tags {
			merged.Tags[k] = v
		}
		if newer(remote.LastSeenAt, local.LastSeenAt) {
			t := *remote.LastSeenAt
			merged.LastSeenAt = &t
		}
		return merged, true
	case MergeNewestWins:
		if newer(remote.LastSeenAt, local.LastSeenAt) {
			return remote, true
		}
		return local, false
	default:
		return local, false
	}
}

// newer reports whether a is strictly after b as instants, so peers that
// report different UTC offsets compare correctly. Nil is older than any
// time and not newer than nil.
func newer(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}
