// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command infragraph serves and administers the infrastructure knowledge
// graph.
//
// The server exposes change governance, temporal snapshots and federated
// queries under /v1/graph, runs the snapshot scheduler and monitors peer
// health. The remaining subcommands work directly on the configured
// storage and are meant for a Badger-backed deployment.
//
// Usage:
//
//	infragraph serve --config infragraph.yaml
//	infragraph import topology.yaml
//	infragraph snapshot create --label before-migration
//	infragraph snapshot list --limit 5
//	infragraph snapshot diff <from-id> <to-id>
//	infragraph snapshot prune --max-snapshots 24
//	infragraph changes list --status pending
//	infragraph changes approve <id> --resolver alice
//	infragraph risk --action delete --env production --blast-radius 12
//	infragraph federation stats
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/v1/graph/health
//
//	# Propose a change
//	curl -X POST http://localhost:8080/v1/graph/changes \
//	  -H "Content-Type: application/json" \
//	  -d '{"initiator":"bot-1","initiator_type":"agent","target_resource_id":"db-1","action":"delete"}'
//
//	# Graph as of yesterday
//	curl "http://localhost:8080/v1/graph/topology?at=2025-03-11T00:00:00Z"
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
