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

import "errors"

// Sentinel errors shared by Storage implementations.
var (
	// ErrInvalidNode indicates a node failed validation.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidEdge indicates an edge failed validation.
	ErrInvalidEdge = errors.New("invalid edge")

	// ErrDanglingEdge indicates an edge endpoint does not exist in the storage.
	ErrDanglingEdge = errors.New("edge endpoint not found")

	// ErrChangeExists indicates an audit record with the same ID was already appended.
	ErrChangeExists = errors.New("change request already exists")

	// ErrChangeNotFound indicates an audit record does not exist.
	ErrChangeNotFound = errors.New("change request not found")
)
