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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/federation"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/governance"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/temporal"
)

// Sentinel errors for the HTTP layer.
var (
	// ErrChangeNotPending indicates an approve or reject of a resolved request.
	ErrChangeNotPending = errors.New("change request is not pending")

	// ErrInvalidParameter indicates a malformed query parameter.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// errorMapping pairs a sentinel with its HTTP status and code.
type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{ErrInvalidParameter, http.StatusBadRequest, "INVALID_PARAMETER"},
	{governance.ErrInvalidChange, http.StatusBadRequest, "INVALID_CHANGE"},
	{temporal.ErrInvalidTrigger, http.StatusBadRequest, "INVALID_TRIGGER"},
	{federation.ErrInvalidStrategy, http.StatusBadRequest, "INVALID_STRATEGY"},
	{federation.ErrInvalidPeer, http.StatusBadRequest, "INVALID_PEER"},
	{graph.ErrChangeNotFound, http.StatusNotFound, "CHANGE_NOT_FOUND"},
	{temporal.ErrSnapshotNotFound, http.StatusNotFound, "SNAPSHOT_NOT_FOUND"},
	{federation.ErrPeerNotFound, http.StatusNotFound, "PEER_NOT_FOUND"},
	{ErrChangeNotPending, http.StatusConflict, "CHANGE_NOT_PENDING"},
	{federation.ErrDuplicatePeer, http.StatusConflict, "DUPLICATE_PEER"},
	{federation.ErrNamespaceConflict, http.StatusConflict, "NAMESPACE_CONFLICT"},
	{federation.ErrReservedNamespace, http.StatusConflict, "RESERVED_NAMESPACE"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
}

// writeError maps err to a status and writes an ErrorResponse. Unmapped
// errors are logged and reported as 500.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			c.JSON(m.status, ErrorResponse{Error: err.Error(), Code: m.code})
			return
		}
	}
	logger.Error("request failed",
		slog.String("path", c.FullPath()),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "INTERNAL"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: "INVALID_REQUEST"})
}

func notFound(c *gin.Context, code, msg string) {
	c.JSON(http.StatusNotFound, ErrorResponse{Error: msg, Code: code})
}
