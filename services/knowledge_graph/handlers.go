// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge_graph exposes the infrastructure knowledge graph over
// HTTP: change governance, temporal snapshots and federated queries.
//
// Each subsystem lives in its own package; this package only binds
// requests, calls them and maps their sentinel errors to status codes.
package knowledge_graph

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/federation"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/governance"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/policy"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/temporal"
)

const requestIDHeader = "X-Request-ID"

// Handlers holds the HTTP handlers for /v1/graph.
//
// # Thread Safety
//
// Safe for concurrent use; every dependency is.
type Handlers struct {
	governor   *governance.Governor
	snapshots  *temporal.Store
	federation *federation.Manager
	hub        *ApprovalHub
	rules      RuleSource
	retention  temporal.RetentionPolicy
	logger     *slog.Logger
	now        func() time.Time
}

// RuleSource reports the policy rules in force. Both policy.RuleEvaluator
// and policy.Reloader satisfy it.
type RuleSource interface {
	Rules() []policy.Rule
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithApprovalHub enables the approval websocket stream.
func WithApprovalHub(hub *ApprovalHub) HandlerOption {
	return func(h *Handlers) { h.hub = hub }
}

// WithPolicyRules exposes the active policy rules.
func WithPolicyRules(rules RuleSource) HandlerOption {
	return func(h *Handlers) { h.rules = rules }
}

// WithRetention sets the policy applied by a prune request without a body.
func WithRetention(p temporal.RetentionPolicy) HandlerOption {
	return func(h *Handlers) { h.retention = p }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithClock overrides the time used for defaulted "at" parameters.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handlers) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandlers creates the handlers. All three subsystems are required.
func NewHandlers(gov *governance.Governor, snapshots *temporal.Store, fed *federation.Manager, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		governor:   gov,
		snapshots:  snapshots,
		federation: fed,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(requestIDHeader, id)
	return h.logger.With(slog.String("request_id", id), slog.String("handler", handler))
}

// =============================================================================
// Health
// =============================================================================

// HandleHealth handles GET /v1/graph/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	h.requestLogger(c, "HandleHealth")
	peers := h.federation.ListPeers()
	healthy := 0
	for _, p := range peers {
		if p.Healthy {
			healthy++
		}
	}
	resp := HealthResponse{
		Status:         "ok",
		LocalNamespace: h.federation.LocalNamespace(),
		Peers:          len(peers),
		HealthyPeers:   healthy,
	}
	if h.hub != nil {
		resp.StreamClients = h.hub.ClientCount()
	}
	c.JSON(http.StatusOK, resp)
}

// =============================================================================
// Governance
// =============================================================================

// HandleInterceptChange handles POST /v1/graph/changes.
//
// Scores and records a proposed change. Returns 201 with the audit record;
// its status says whether it was auto-approved or is pending review.
func (h *Handlers) HandleInterceptChange(c *gin.Context) {
	logger := h.requestLogger(c, "HandleInterceptChange")

	var input governance.InterceptInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	req, err := h.governor.InterceptChange(c.Request.Context(), input)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// HandleListChanges handles GET /v1/graph/changes.
//
// Query Parameters:
//
//	initiator, initiator_type, target, status, action: exact matches
//	since, until: RFC 3339 bounds on creation time
//	limit: maximum number of results
func (h *Handlers) HandleListChanges(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListChanges")

	filter := graph.ChangeFilter{
		Initiator:        c.Query("initiator"),
		InitiatorType:    graph.InitiatorType(c.Query("initiator_type")),
		TargetResourceID: c.Query("target"),
		Status:           graph.ChangeStatus(c.Query("status")),
		Action:           graph.ChangeAction(c.Query("action")),
	}
	var err error
	if filter.Since, err = timeParam(c, "since"); err != nil {
		writeError(c, logger, err)
		return
	}
	if filter.Until, err = timeParam(c, "until"); err != nil {
		writeError(c, logger, err)
		return
	}
	if filter.Limit, err = intParam(c, "limit", 0); err != nil {
		writeError(c, logger, err)
		return
	}

	changes, err := h.governor.GetAuditTrail(c.Request.Context(), filter)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ChangesResponse{Changes: changes, Count: len(changes)})
}

// HandlePendingChanges handles GET /v1/graph/changes/pending.
func (h *Handlers) HandlePendingChanges(c *gin.Context) {
	logger := h.requestLogger(c, "HandlePendingChanges")

	changes, err := h.governor.GetPendingRequests(c.Request.Context())
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, ChangesResponse{Changes: changes, Count: len(changes)})
}

// HandleChangeSummary handles GET /v1/graph/changes/summary?since=&until=.
func (h *Handlers) HandleChangeSummary(c *gin.Context) {
	logger := h.requestLogger(c, "HandleChangeSummary")

	since, err := timeParam(c, "since")
	if err != nil {
		writeError(c, logger, err)
		return
	}
	until, err := timeParam(c, "until")
	if err != nil {
		writeError(c, logger, err)
		return
	}

	summary, err := h.governor.GetSummary(c.Request.Context(), since, until)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HandleApproveChange handles POST /v1/graph/changes/:id/approve.
func (h *Handlers) HandleApproveChange(c *gin.Context) {
	h.resolve(c, "HandleApproveChange", h.governor.ApproveChange)
}

// HandleRejectChange handles POST /v1/graph/changes/:id/reject.
func (h *Handlers) HandleRejectChange(c *gin.Context) {
	h.resolve(c, "HandleRejectChange", h.governor.RejectChange)
}

type resolveFunc func(ctx context.Context, id, resolver, reason string) (*graph.ChangeRequest, error)

func (h *Handlers) resolve(c *gin.Context, name string, fn resolveFunc) {
	logger := h.requestLogger(c, name)

	var body ResolveRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}

	id := c.Param("id")
	req, err := fn(c.Request.Context(), id, body.Resolver, body.Reason)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if req == nil {
		writeError(c, logger, fmt.Errorf("%w: %s", ErrChangeNotPending, id))
		return
	}
	logger.Info("change resolved",
		slog.String("change_id", id),
		slog.String("status", string(req.Status)),
		slog.String("resolver", body.Resolver),
	)
	c.JSON(http.StatusOK, req)
}

// HandlePolicyRules handles GET /v1/graph/policy/rules.
func (h *Handlers) HandlePolicyRules(c *gin.Context) {
	if h.rules == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false, "rules": []policy.Rule{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "rules": h.rules.Rules()})
}

// =============================================================================
// Temporal
// =============================================================================

// HandleCreateSnapshot handles POST /v1/graph/snapshots.
func (h *Handlers) HandleCreateSnapshot(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCreateSnapshot")

	var body CreateSnapshotRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	snap, err := h.snapshots.CreateSnapshot(c.Request.Context(), graph.TriggerManual, body.Label, body.Provider)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

// HandleListSnapshots handles GET /v1/graph/snapshots.
//
// Query Parameters:
//
//	since, until: RFC 3339 bounds on creation time
//	trigger: sync, manual or scheduled
//	provider: provider scope
//	limit: maximum number of results
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListSnapshots")

	filter := temporal.SnapshotFilter{Trigger: graph.SnapshotTrigger(c.Query("trigger"))}
	if p := c.Query("provider"); p != "" {
		provider := graph.Provider(p)
		filter.Provider = &provider
	}
	var err error
	if filter.Since, err = timeParam(c, "since"); err != nil {
		writeError(c, logger, err)
		return
	}
	if filter.Until, err = timeParam(c, "until"); err != nil {
		writeError(c, logger, err)
		return
	}
	if filter.Limit, err = intParam(c, "limit", 0); err != nil {
		writeError(c, logger, err)
		return
	}

	snaps, err := h.snapshots.ListSnapshots(c.Request.Context(), filter)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, SnapshotsResponse{Snapshots: snaps, Count: len(snaps)})
}

// HandleGetSnapshot handles GET /v1/graph/snapshots/:id.
func (h *Handlers) HandleGetSnapshot(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetSnapshot")

	snap, err := h.snapshots.GetSnapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if snap == nil {
		notFound(c, "SNAPSHOT_NOT_FOUND", "snapshot not found: "+c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, snap)
}

// HandleDiffSnapshots handles GET /v1/graph/snapshots/diff.
//
// Either from and to (snapshot IDs) or from_time and to_time (RFC 3339)
// must be given.
func (h *Handlers) HandleDiffSnapshots(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDiffSnapshots")
	ctx := c.Request.Context()

	if from, to := c.Query("from"), c.Query("to"); from != "" || to != "" {
		if from == "" || to == "" {
			badRequest(c, "both from and to are required")
			return
		}
		diff, err := h.snapshots.DiffSnapshots(ctx, from, to)
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, diff)
		return
	}

	fromTime, err := timeParam(c, "from_time")
	if err != nil {
		writeError(c, logger, err)
		return
	}
	toTime, err := timeParam(c, "to_time")
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if fromTime == nil || toTime == nil {
		badRequest(c, "either from/to or from_time/to_time is required")
		return
	}
	diff, err := h.snapshots.DiffTimestamps(ctx, *fromTime, *toTime)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, diff)
}

// HandlePruneSnapshots handles POST /v1/graph/snapshots/prune.
func (h *Handlers) HandlePruneSnapshots(c *gin.Context) {
	logger := h.requestLogger(c, "HandlePruneSnapshots")

	retention := h.retention
	if c.Request.ContentLength != 0 {
		var body PruneRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequest(c, err.Error())
			return
		}
		if body.MaxSnapshots != nil {
			retention.MaxSnapshots = *body.MaxSnapshots
		}
		if body.MaxAge != "" {
			d, err := time.ParseDuration(body.MaxAge)
			if err != nil || d < 0 {
				badRequest(c, "max_age must be a non-negative duration")
				return
			}
			retention.MaxAge = d
		}
	}

	n, err := h.snapshots.PruneSnapshots(c.Request.Context(), retention)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	logger.Info("snapshots pruned", slog.Int("pruned", n))
	c.JSON(http.StatusOK, PruneResponse{Pruned: n, Retention: retention})
}

// HandleTopology handles GET /v1/graph/topology?at=.
//
// Returns the graph as captured by the latest snapshot at or before at
// (default now), narrowed by the node filter query parameters.
func (h *Handlers) HandleTopology(c *gin.Context) {
	logger := h.requestLogger(c, "HandleTopology")

	at, err := timeParam(c, "at")
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if at == nil {
		now := h.now()
		at = &now
	}
	var filter graph.NodeFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, err.Error())
		return
	}

	topo, err := h.snapshots.GetTopologyAt(c.Request.Context(), *at, filter)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if topo == nil {
		notFound(c, "SNAPSHOT_NOT_FOUND", "no snapshots recorded")
		return
	}
	c.JSON(http.StatusOK, topo)
}

// HandleNodeHistory handles GET /v1/graph/nodes/:id/history?limit=.
func (h *Handlers) HandleNodeHistory(c *gin.Context) {
	logger := h.requestLogger(c, "HandleNodeHistory")

	limit, err := intParam(c, "limit", 0)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	id := c.Param("id")
	versions, err := h.snapshots.GetNodeHistory(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, NodeHistoryResponse{NodeID: id, Versions: versions})
}

// HandleEvolution handles GET /v1/graph/evolution?since=&until=.
func (h *Handlers) HandleEvolution(c *gin.Context) {
	logger := h.requestLogger(c, "HandleEvolution")

	since, err := timeParam(c, "since")
	if err != nil {
		writeError(c, logger, err)
		return
	}
	until, err := timeParam(c, "until")
	if err != nil {
		writeError(c, logger, err)
		return
	}

	summary, err := h.snapshots.GetEvolutionSummary(c.Request.Context(), since, until)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// =============================================================================
// Federation
// =============================================================================

// HandleListPeers handles GET /v1/graph/federation/peers.
func (h *Handlers) HandleListPeers(c *gin.Context) {
	c.JSON(http.StatusOK, PeersResponse{
		LocalNamespace: h.federation.LocalNamespace(),
		Peers:          h.federation.ListPeers(),
	})
}

// HandleHealthCheckPeers handles POST /v1/graph/federation/health.
func (h *Handlers) HandleHealthCheckPeers(c *gin.Context) {
	c.JSON(http.StatusOK, HealthCheckResponse{Results: h.federation.HealthCheckAll(c.Request.Context())})
}

// HandleFederatedNodes handles GET /v1/graph/federation/nodes.
//
// Query Parameters:
//
//	provider, resource_type, status, region, account, limit: node filter
//	namespace: repeatable peer namespace restriction
//	include_unhealthy: also query peers whose last probe failed
//	timeout: per-peer deadline, e.g. 2s
func (h *Handlers) HandleFederatedNodes(c *gin.Context) {
	logger := h.requestLogger(c, "HandleFederatedNodes")

	var filter graph.NodeFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, err.Error())
		return
	}
	opts, err := queryOptions(c)
	if err != nil {
		writeError(c, logger, err)
		return
	}

	result, err := h.federation.QueryNodes(c.Request.Context(), filter, opts)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleFederatedNode handles GET /v1/graph/federation/nodes/:id.
func (h *Handlers) HandleFederatedNode(c *gin.Context) {
	logger := h.requestLogger(c, "HandleFederatedNode")

	opts, err := queryOptions(c)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	node, err := h.federation.GetNode(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	if node == nil {
		notFound(c, "NODE_NOT_FOUND", "node not found: "+c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, node)
}

// HandleFederatedEdges handles GET /v1/graph/federation/edges.
func (h *Handlers) HandleFederatedEdges(c *gin.Context) {
	logger := h.requestLogger(c, "HandleFederatedEdges")

	var filter graph.EdgeFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		badRequest(c, err.Error())
		return
	}
	opts, err := queryOptions(c)
	if err != nil {
		writeError(c, logger, err)
		return
	}

	result, err := h.federation.QueryEdgesFederated(c.Request.Context(), filter, opts)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleFederatedNeighbors handles GET /v1/graph/federation/neighbors/:id.
//
// Query Parameters:
//
//	depth: hops, default 1
//	direction: upstream, downstream or both (default)
//	relationship_type, provider, resource_type: repeatable filters
//	namespace, include_unhealthy, timeout: as for federation/nodes
func (h *Handlers) HandleFederatedNeighbors(c *gin.Context) {
	logger := h.requestLogger(c, "HandleFederatedNeighbors")

	qopts, err := queryOptions(c)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	depth, err := intParam(c, "depth", 1)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	dir := graph.Direction(c.DefaultQuery("direction", string(graph.DirectionBoth)))
	switch dir {
	case graph.DirectionUpstream, graph.DirectionDownstream, graph.DirectionBoth:
	default:
		writeError(c, logger, fmt.Errorf("%w: direction %q", ErrInvalidParameter, dir))
		return
	}

	opts := federation.NeighborOptions{
		QueryOptions:      qopts,
		Depth:             depth,
		Direction:         dir,
		RelationshipTypes: typedList[graph.RelationshipType](c.QueryArray("relationship_type")),
		Providers:         typedList[graph.Provider](c.QueryArray("provider")),
		ResourceTypes:     typedList[graph.ResourceType](c.QueryArray("resource_type")),
	}

	result, err := h.federation.GetNeighborsFederated(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleFederatedStats handles GET /v1/graph/federation/stats.
func (h *Handlers) HandleFederatedStats(c *gin.Context) {
	logger := h.requestLogger(c, "HandleFederatedStats")

	stats, err := h.federation.GetStats(c.Request.Context())
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleMerge handles POST /v1/graph/federation/merge.
func (h *Handlers) HandleMerge(c *gin.Context) {
	logger := h.requestLogger(c, "HandleMerge")

	var body MergeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.federation.MergePeerIntoLocal(c.Request.Context(), body.PeerID, body.Strategy, body.Filter)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// =============================================================================
// Parameter helpers
// =============================================================================

func timeParam(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC 3339: %v", ErrInvalidParameter, name, err)
	}
	return &t, nil
}

func intParam(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidParameter, name)
	}
	return n, nil
}

func queryOptions(c *gin.Context) (federation.QueryOptions, error) {
	opts := federation.QueryOptions{
		Namespaces:       c.QueryArray("namespace"),
		IncludeUnhealthy: c.Query("include_unhealthy") == "true",
	}
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return opts, fmt.Errorf("%w: timeout must be a positive duration", ErrInvalidParameter)
		}
		opts.Timeout = d
	}
	return opts, nil
}

func typedList[T ~string](raw []string) []T {
	if len(raw) == 0 {
		return nil
	}
	out := make([]T, len(raw))
	for i, s := range raw {
		out[i] = T(s)
	}
	return out
}
