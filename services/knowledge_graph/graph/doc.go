// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph defines the infrastructure knowledge graph data model and the
// Storage contract consumed by the governance, temporal and federation
// subsystems.
//
// # Data Model
//
//   - Node: a tracked cloud resource, keyed by a stable composite ID
//     (provider:account:region:type:nativeId).
//   - Edge: a directed relationship between two nodes of the same storage.
//   - ChangeRequest: a governance audit record.
//   - Snapshot, NodeVersion, EdgeVersion: immutable point-in-time captures.
//
// Open-ended metadata maps use Value, a tagged JSON value, instead of
// map[string]any.
//
// # Storage Contract
//
// Storage is the only dependency the subsystems share. Implementations live
// under services/knowledge_graph/storage (memory and BadgerDB). Lookups of a
// single entity return (nil, nil) when the entity does not exist.
//
// # Thread Safety
//
// Model types are plain values. Storage implementations must be safe for
// concurrent use and serialize their own conflicting writes.
package graph
