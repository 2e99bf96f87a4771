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

import "errors"

// Sentinel errors for snapshot operations.
var (
	// ErrSnapshotNotFound indicates a snapshot ID that does not exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrInvalidTrigger indicates an unknown snapshot trigger.
	ErrInvalidTrigger = errors.New("invalid snapshot trigger")

	// ErrSchedulerConfig indicates an unusable scheduler configuration.
	ErrSchedulerConfig = errors.New("invalid scheduler configuration")
)
