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

import "time"

// SnapshotTrigger records why a snapshot was taken.
type SnapshotTrigger string

const (
	TriggerSync      SnapshotTrigger = "sync"
	TriggerManual    SnapshotTrigger = "manual"
	TriggerScheduled SnapshotTrigger = "scheduled"
)

// Snapshot is the immutable header of a point-in-time graph capture.
//
// Seq is a monotonic creation counter and the primary ordering key.
// CreatedAt is kept for display and time-based lookups.
type Snapshot struct {
	ID               string          `json:"id"`
	Seq              uint64          `json:"seq"`
	CreatedAt        time.Time       `json:"created_at"`
	Trigger          SnapshotTrigger `json:"trigger"`
	Provider         *Provider       `json:"provider,omitempty"`
	Label            string          `json:"label,omitempty"`
	NodeCount        int             `json:"node_count"`
	EdgeCount        int             `json:"edge_count"`
	TotalCostMonthly float64         `json:"total_cost_monthly"`
}

// NodeVersion is a node as captured by one snapshot.
type NodeVersion struct {
	SnapshotID string    `json:"snapshot_id"`
	CapturedAt time.Time `json:"captured_at"`
	Node       Node      `json:"node"`
}

// EdgeVersion is an edge as captured by one snapshot.
type EdgeVersion struct {
	SnapshotID string    `json:"snapshot_id"`
	CapturedAt time.Time `json:"captured_at"`
	Edge       Edge      `json:"edge"`
}
