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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all knowledge graph routes with the router.
//
// Description:
//
//	Registers all /v1/graph/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//	The stream endpoint is only registered when an ApprovalHub was given.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Governance Endpoints:
//
//	POST /v1/graph/changes - Intercept and score a proposed change
//	GET  /v1/graph/changes - Query the audit trail
//	GET  /v1/graph/changes/pending - List requests awaiting review
//	GET  /v1/graph/changes/summary - Aggregate governance statistics
//	GET  /v1/graph/changes/stream - Websocket feed of approval requests
//	POST /v1/graph/changes/:id/approve - Approve a pending request
//	POST /v1/graph/changes/:id/reject - Reject a pending request
//	GET  /v1/graph/policy/rules - List active policy rules
//
// Temporal Endpoints:
//
//	POST /v1/graph/snapshots - Capture a manual snapshot
//	GET  /v1/graph/snapshots - List snapshots
//	GET  /v1/graph/snapshots/diff - Diff two snapshots or two instants
//	GET  /v1/graph/snapshots/:id - Get a snapshot header
//	POST /v1/graph/snapshots/prune - Apply retention
//	GET  /v1/graph/topology - Graph as of a point in time
//	GET  /v1/graph/nodes/:id/history - Captured versions of a node
//	GET  /v1/graph/evolution - Change counts over a window
//
// Federation Endpoints:
//
//	GET  /v1/graph/federation/peers - List peers
//	POST /v1/graph/federation/health - Probe every peer
//	GET  /v1/graph/federation/nodes - Fan-out node query
//	GET  /v1/graph/federation/nodes/:id - First match across graphs
//	GET  /v1/graph/federation/edges - Fan-out edge query
//	GET  /v1/graph/federation/neighbors/:id - Cross-graph traversal
//	GET  /v1/graph/federation/stats - Combined statistics
//	POST /v1/graph/federation/merge - Merge a peer into the local graph
//
// Health Endpoints:
//
//	GET  /v1/graph/health - Service health
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	g := rg.Group("/graph")
	{
		g.GET("/health", handlers.HandleHealth)

		changes := g.Group("/changes")
		{
			changes.POST("", handlers.HandleInterceptChange)
			changes.GET("", handlers.HandleListChanges)
			changes.GET("/pending", handlers.HandlePendingChanges)
			changes.GET("/summary", handlers.HandleChangeSummary)
			if handlers.hub != nil {
				changes.GET("/stream", handlers.hub.HandleStream)
			}
			changes.POST("/:id/approve", handlers.HandleApproveChange)
			changes.POST("/:id/reject", handlers.HandleRejectChange)
		}
		g.GET("/policy/rules", handlers.HandlePolicyRules)

		snapshots := g.Group("/snapshots")
		{
			snapshots.POST("", handlers.HandleCreateSnapshot)
			snapshots.GET("", handlers.HandleListSnapshots)
			snapshots.GET("/diff", handlers.HandleDiffSnapshots)
			snapshots.POST("/prune", handlers.HandlePruneSnapshots)
			snapshots.GET("/:id", handlers.HandleGetSnapshot)
		}
		g.GET("/topology", handlers.HandleTopology)
		g.GET("/nodes/:id/history", handlers.HandleNodeHistory)
		g.GET("/evolution", handlers.HandleEvolution)

		fed := g.Group("/federation")
		{
			fed.GET("/peers", handlers.HandleListPeers)
			fed.POST("/health", handlers.HandleHealthCheckPeers)
			fed.GET("/nodes", handlers.HandleFederatedNodes)
			fed.GET("/nodes/:id", handlers.HandleFederatedNode)
			fed.GET("/edges", handlers.HandleFederatedEdges)
			fed.GET("/neighbors/:id", handlers.HandleFederatedNeighbors)
			fed.GET("/stats", handlers.HandleFederatedStats)
			fed.POST("/merge", handlers.HandleMerge)
		}
	}
}
