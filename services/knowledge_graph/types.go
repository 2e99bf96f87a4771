// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge_graph

import (
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/federation"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/temporal"
)

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /v1/graph/health.
type HealthResponse struct {
	Status         string `json:"status"`
	LocalNamespace string `json:"local_namespace"`
	Peers          int    `json:"peers"`
	HealthyPeers   int    `json:"healthy_peers"`
	StreamClients  int    `json:"stream_clients"`
}

// ResolveRequest is the body of approve and reject calls.
type ResolveRequest struct {
	Resolver string `json:"resolver" binding:"required"`
	Reason   string `json:"reason"`
}

// ChangesResponse lists change requests.
type ChangesResponse struct {
	Changes []graph.ChangeRequest `json:"changes"`
	Count   int                   `json:"count"`
}

// CreateSnapshotRequest is the body of POST /v1/graph/snapshots.
type CreateSnapshotRequest struct {
	Label    string          `json:"label"`
	Provider *graph.Provider `json:"provider,omitempty"`
}

// SnapshotsResponse lists snapshot headers, newest first.
type SnapshotsResponse struct {
	Snapshots []graph.Snapshot `json:"snapshots"`
	Count     int              `json:"count"`
}

// PruneRequest overrides the configured retention for one prune. An empty
// body applies the configured retention.
type PruneRequest struct {
	MaxSnapshots *int   `json:"max_snapshots,omitempty" binding:"omitempty,gte=0"`
	MaxAge       string `json:"max_age,omitempty"`
}

// PruneResponse reports a prune.
type PruneResponse struct {
	Pruned    int                      `json:"pruned"`
	Retention temporal.RetentionPolicy `json:"retention"`
}

// NodeHistoryResponse lists a node's captured versions, newest first.
type NodeHistoryResponse struct {
	NodeID   string              `json:"node_id"`
	Versions []graph.NodeVersion `json:"versions"`
}

// PeersResponse lists federation peers in registration order.
type PeersResponse struct {
	LocalNamespace string                `json:"local_namespace"`
	Peers          []federation.PeerInfo `json:"peers"`
}

// HealthCheckResponse maps peer IDs to their probe outcome.
type HealthCheckResponse struct {
	Results map[string]bool `json:"results"`
}

// MergeRequest is the body of POST /v1/graph/federation/merge.
type MergeRequest struct {
	PeerID   string                   `json:"peer_id" binding:"required"`
	Strategy federation.MergeStrategy `json:"strategy" binding:"required"`
	Filter   *graph.NodeFilter        `json:"filter,omitempty"`
}

// ApprovalEvent is pushed to stream clients for every request that needs
// review.
type ApprovalEvent struct {
	Type   string              `json:"type"`
	Change graph.ChangeRequest `json:"change"`
}
