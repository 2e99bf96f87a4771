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

import "errors"

// Sentinel errors for federation operations.
var (
	// ErrPeerNotFound indicates an unknown peer ID.
	ErrPeerNotFound = errors.New("peer not found")

	// ErrDuplicatePeer indicates a peer ID that is already registered.
	ErrDuplicatePeer = errors.New("peer already registered")

	// ErrNamespaceConflict indicates a namespace already used by another peer.
	ErrNamespaceConflict = errors.New("namespace already in use")

	// ErrReservedNamespace indicates an attempt to register the local namespace.
	ErrReservedNamespace = errors.New("namespace is reserved")

	// ErrInvalidPeer indicates a peer configuration missing required fields.
	ErrInvalidPeer = errors.New("invalid peer configuration")

	// ErrInvalidStrategy indicates an unknown merge strategy.
	ErrInvalidStrategy = errors.New("invalid merge strategy")
)
