// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// =============================================================================
// Configuration
// =============================================================================

// GovernorConfig controls how intercepted changes are decided.
type GovernorConfig struct {
	// AutoApproveThreshold is the highest score that may auto-approve.
	AutoApproveThreshold int

	// BlockThreshold is informational for callers: scores above it are
	// practically always held for review.
	BlockThreshold int

	// AllowAgentAutoApprove lets agent-initiated changes auto-approve.
	AllowAgentAutoApprove bool

	// OPAEngine is an optional external policy evaluator.
	OPAEngine PolicyEvaluator

	// OPAFailMode decides how evaluator errors are treated.
	OPAFailMode FailMode

	// MaxBlastDepth bounds the blast-radius traversal.
	MaxBlastDepth int

	// OffHours is the business-hours range used by the risk scorer.
	OffHours OffHours
}

// DefaultGovernorConfig returns the production defaults.
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		AutoApproveThreshold: 30,
		BlockThreshold:       70,
		OPAFailMode:          FailOpen,
		MaxBlastDepth:        5,
		OffHours:             DefaultOffHours(),
	}
}

// GovernorOption configures a Governor.
type GovernorOption func(*Governor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) GovernorOption {
	return func(g *Governor) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) GovernorOption {
	return func(g *Governor) {
		if now != nil {
			g.now = now
		}
	}
}

// WithIDGenerator overrides request ID generation.
func WithIDGenerator(newID func() string) GovernorOption {
	return func(g *Governor) {
		if newID != nil {
			g.newID = newID
		}
	}
}

// =============================================================================
// Types
// =============================================================================

// InterceptInput describes a proposed change.
type InterceptInput struct {
	Initiator        string              `json:"initiator" binding:"required"`
	InitiatorType    graph.InitiatorType `json:"initiator_type" binding:"required,oneof=human agent system"`
	TargetResourceID string              `json:"target_resource_id" binding:"required"`
	ResourceType     graph.ResourceType  `json:"resource_type"`
	Provider         graph.Provider      `json:"provider"`
	Action           graph.ChangeAction  `json:"action" binding:"required,oneof=create update delete scale reconfigure"`
	Description      string              `json:"description"`

	// Environment overrides the environment read from the target's tags.
	Environment string `json:"environment,omitempty"`

	// Tags are merged over the target's tags for policy checks. Used for
	// create actions where the node does not exist yet.
	Tags map[string]string `json:"tags,omitempty"`

	Metadata map[string]graph.Value `json:"metadata,omitempty"`
}

// ApprovalCallback is notified of every request that needs review.
type ApprovalCallback func(ctx context.Context, req graph.ChangeRequest) error

// GovernanceSummary aggregates the audit trail over a period.
//
// ByInitiator is keyed by initiator type (human, agent, system), not by
// the initiator's identity.
type GovernanceSummary struct {
	TotalRequests        int            `json:"total_requests"`
	ByStatus             map[string]int `json:"by_status"`
	ByInitiator          map[string]int `json:"by_initiator"`
	ByRiskLevel          map[string]int `json:"by_risk_level"`
	AvgRiskScore         float64        `json:"avg_risk_score"`
	PolicyViolationCount int            `json:"policy_violation_count"`

	// OPAViolationCount is set only when a policy evaluator is configured.
	OPAViolationCount *int `json:"opa_violation_count,omitempty"`
}

// =============================================================================
// Governor
// =============================================================================

// Governor intercepts proposed infrastructure changes, scores them, and
// decides whether they auto-approve or wait for a human.
//
// # Description
//
// Every intercepted change is persisted through the storage change log
// and forms the audit trail. Pending requests are resolved exactly once by
// ApproveChange or RejectChange.
//
// # Thread Safety
//
// Safe for concurrent use. The pending-to-resolved transition is serialized
// so two callers can never both resolve the same request.
type Governor struct {
	storage graph.Storage
	cfg     GovernorConfig
	scorer  *RiskScorer
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	resolveMu sync.Mutex

	callbacksMu sync.RWMutex
	callbacks   []ApprovalCallback
	notifyWG    sync.WaitGroup
}

// NewGovernor creates a governor over storage.
//
// # Inputs
//
//   - storage: Graph storage providing topology and the change log.
//   - cfg: Decision configuration. Zero MaxBlastDepth and empty
//     OPAFailMode fall back to defaults.
//   - opts: Optional logger, clock, ID generator.
//
// # Outputs
//
//   - *Governor: Ready for use.
func NewGovernor(storage graph.Storage, cfg GovernorConfig, opts ...GovernorOption) *Governor {
	defaults := DefaultGovernorConfig()
	if cfg.MaxBlastDepth <= 0 {
		cfg.MaxBlastDepth = defaults.MaxBlastDepth
	}
	if cfg.OPAFailMode == "" {
		cfg.OPAFailMode = defaults.OPAFailMode
	}
	if cfg.OffHours == (OffHours{}) {
		cfg.OffHours = defaults.OffHours
	}

	g := &Governor{
		storage: storage,
		cfg:     cfg,
		scorer:  NewRiskScorer(cfg.OffHours),
		logger:  slog.Default(),
		now:     time.Now,
		newID:   func() string { return "cr-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Config returns the effective configuration.
func (g *Governor) Config() GovernorConfig {
	return g.cfg
}

// OnApprovalRequired registers fn to be called for every pending request.
//
// Callbacks run in their own goroutine. Errors and panics are logged and
// never reach the InterceptChange caller.
func (g *Governor) OnApprovalRequired(fn ApprovalCallback) {
	if fn == nil {
		return
	}
	g.callbacksMu.Lock()
	defer g.callbacksMu.Unlock()
	g.callbacks = append(g.callbacks, fn)
}

// WaitForNotifications blocks until in-flight approval callbacks return.
func (g *Governor) WaitForNotifications() {
	g.notifyWG.Wait()
}

// InterceptChange scores, checks and records a proposed change.
//
// # Description
//
// Risk inputs are derived from storage: the blast radius is every node that
// transitively depends on the target, cost at risk is the target's cost plus
// the blast radius cost. A missing target scores as an isolated, free
// resource. Any policy violation forces review; otherwise human changes
// (and agent changes when allowed) at or below AutoApproveThreshold are
// auto-approved.
//
// # Inputs
//
//   - ctx: Context for storage and evaluator calls.
//   - input: The proposed change.
//
// # Outputs
//
//   - *graph.ChangeRequest: The persisted audit record.
//   - error: ErrInvalidChange, or a storage failure.
func (g *Governor) InterceptChange(ctx context.Context, input InterceptInput) (*graph.ChangeRequest, error) {
	if input.TargetResourceID == "" {
		return nil, fmt.Errorf("%w: target resource id is required", ErrInvalidChange)
	}
	if _, ok := actionPoints[input.Action]; !ok {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidChange, input.Action)
	}

	ctx, span := startInterceptSpan(ctx, input.TargetResourceID, input.Action)
	defer span.End()

	now := g.now()

	target, err := g.storage.GetNode(ctx, input.TargetResourceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "get target")
		return nil, fmt.Errorf("get target node: %w", err)
	}

	impact, err := g.computeImpact(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compute impact")
		return nil, fmt.Errorf("compute blast radius: %w", err)
	}

	resourceType := input.ResourceType
	provider := input.Provider
	if target != nil {
		if resourceType == "" {
			resourceType = target.ResourceType
		}
		if provider == "" {
			provider = target.Provider
		}
	}

	tags := mergedTags(target, input.Tags)
	env := input.Environment
	if env == "" {
		env = environmentFromTags(tags)
	}
	isGPU := isGPUAIWorkload(resourceType, target, tags)

	hour := now.Hour()
	risk := g.scorer.Score(RiskInput{
		BlastRadiusSize: impact.blastRadius,
		CostAtRisk:      impact.costAtRisk,
		DependentCount:  impact.dependents,
		Environment:     env,
		IsGPUAIWorkload: isGPU,
		Action:          input.Action,
		HourOfDay:       &hour,
	})

	violations := staticPolicyChecks(isGPU, tags)
	metadata := cloneValues(input.Metadata)

	if g.cfg.OPAEngine != nil {
		opaViolations := g.evaluatePolicy(ctx, input, resourceType, provider, risk, now, metadata)
		violations = append(violations, opaViolations...)
	}

	req := &graph.ChangeRequest{
		ID:               g.newID(),
		Initiator:        input.Initiator,
		InitiatorType:    input.InitiatorType,
		TargetResourceID: input.TargetResourceID,
		ResourceType:     resourceType,
		Provider:         provider,
		Action:           input.Action,
		Description:      input.Description,
		Risk:             risk,
		PolicyViolations: violations,
		Status:           graph.ChangePending,
		CreatedAt:        now,
		Metadata:         metadata,
	}
	if req.PolicyViolations == nil {
		req.PolicyViolations = []string{}
	}

	if g.canAutoApprove(input.InitiatorType, risk.Score, len(violations)) {
		req.Status = graph.ChangeAutoApproved
		resolvedAt := now
		req.ResolvedAt = &resolvedAt
		req.ResolvedBy = graph.Ptr("system")
	}

	if err := g.storage.AppendChange(ctx, *req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append change")
		return nil, fmt.Errorf("record change request: %w", err)
	}

	setInterceptSpanResult(span, req)
	recordChangeMetrics(ctx, req)

	g.logger.Info("change intercepted",
		slog.String("change_id", req.ID),
		slog.String("target", req.TargetResourceID),
		slog.String("action", string(req.Action)),
		slog.String("initiator", req.Initiator),
		slog.Int("risk_score", req.Risk.Score),
		slog.String("risk_level", string(req.Risk.Level)),
		slog.Int("violations", len(req.PolicyViolations)),
		slog.String("status", string(req.Status)),
	)

	if req.Status == graph.ChangePending {
		g.notifyApprovalRequired(ctx, req.Clone())
	}
	return req, nil
}

// ApproveChange resolves a pending request as approved.
//
// Returns (nil, nil) when the request is no longer pending, and
// ErrChangeNotFound when no such request exists.
func (g *Governor) ApproveChange(ctx context.Context, id, resolver, reason string) (*graph.ChangeRequest, error) {
	return g.resolve(ctx, id, graph.ChangeApproved, resolver, reason)
}

// RejectChange resolves a pending request as rejected.
//
// Returns (nil, nil) when the request is no longer pending, and
// ErrChangeNotFound when no such request exists.
func (g *Governor) RejectChange(ctx context.Context, id, resolver, reason string) (*graph.ChangeRequest, error) {
	return g.resolve(ctx, id, graph.ChangeRejected, resolver, reason)
}

// GetAuditTrail returns matching requests, newest first.
func (g *Governor) GetAuditTrail(ctx context.Context, filter graph.ChangeFilter) ([]graph.ChangeRequest, error) {
	changes, err := g.storage.GetChanges(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("get audit trail: %w", err)
	}
	return changes, nil
}

// GetPendingRequests returns every request still waiting for review.
func (g *Governor) GetPendingRequests(ctx context.Context) ([]graph.ChangeRequest, error) {
	return g.GetAuditTrail(ctx, graph.ChangeFilter{Status: graph.ChangePending})
}

// GetSummary aggregates requests created within [since, until]. Nil bounds
// are open.
func (g *Governor) GetSummary(ctx context.Context, since, until *time.Time) (*GovernanceSummary, error) {
	changes, err := g.storage.GetChanges(ctx, graph.ChangeFilter{Since: since, Until: until})
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}

	summary := &GovernanceSummary{
		TotalRequests: len(changes),
		ByStatus:      make(map[string]int),
		ByInitiator:   make(map[string]int),
		ByRiskLevel:   make(map[string]int),
	}

	opaCount := 0
	scoreTotal := 0
	for _, c := range changes {
		summary.ByStatus[string(c.Status)]++
		summary.ByInitiator[string(c.InitiatorType)]++
		summary.ByRiskLevel[string(c.Risk.Level)]++
		scoreTotal += c.Risk.Score
		if len(c.PolicyViolations) > 0 {
			summary.PolicyViolationCount++
		}
		for _, v := range c.PolicyViolations {
			if strings.HasPrefix(v, "[OPA/") {
				opaCount++
				break
			}
		}
	}
	if len(changes) > 0 {
		summary.AvgRiskScore = float64(scoreTotal) / float64(len(changes))
	}
	if g.cfg.OPAEngine != nil {
		summary.OPAViolationCount = &opaCount
	}
	return summary, nil
}

// =============================================================================
// Internals
// =============================================================================

func (g *Governor) canAutoApprove(initiator graph.InitiatorType, score, violations int) bool {
	if violations > 0 {
		return false
	}
	switch initiator {
	case graph.InitiatorHuman:
	case graph.InitiatorAgent:
		if !g.cfg.AllowAgentAutoApprove {
			return false
		}
	default:
		return false
	}
	return score <= g.cfg.AutoApproveThreshold
}

func (g *Governor) resolve(ctx context.Context, id string, status graph.ChangeStatus, resolver, reason string) (*graph.ChangeRequest, error) {
	g.resolveMu.Lock()
	defer g.resolveMu.Unlock()

	req, err := g.storage.GetChange(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get change %s: %w", id, err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", ErrChangeNotFound, id)
	}
	if req.Status != graph.ChangePending {
		g.logger.Debug("change already resolved",
			slog.String("change_id", id),
			slog.String("status", string(req.Status)),
		)
		return nil, nil
	}

	resolvedAt := g.now()
	req.Status = status
	req.ResolvedAt = &resolvedAt
	req.ResolvedBy = graph.Ptr(resolver)
	if reason != "" {
		req.Reason = graph.Ptr(reason)
	}

	if err := g.storage.UpdateChange(ctx, *req); err != nil {
		return nil, fmt.Errorf("update change %s: %w", id, err)
	}
	recordChangeMetrics(ctx, req)

	g.logger.Info("change resolved",
		slog.String("change_id", id),
		slog.String("status", string(status)),
		slog.String("resolved_by", resolver),
	)
	return req, nil
}

func (g *Governor) notifyApprovalRequired(ctx context.Context, req graph.ChangeRequest) {
	g.callbacksMu.RLock()
	callbacks := append([]ApprovalCallback(nil), g.callbacks...)
	g.callbacksMu.RUnlock()

	notifyCtx := context.WithoutCancel(ctx)
	for i, cb := range callbacks {
		g.notifyWG.Add(1)
		go func(idx int, cb ApprovalCallback) {
			defer g.notifyWG.Done()
			defer func() {
				if r := recover(); r != nil {
					g.logger.Error("approval callback panicked",
						slog.String("change_id", req.ID),
						slog.Int("callback", idx),
						slog.Any("panic", r),
					)
				}
			}()
			if err := cb(notifyCtx, req.Clone()); err != nil {
				g.logger.Warn("approval callback failed",
					slog.String("change_id", req.ID),
					slog.Int("callback", idx),
					slog.String("error", err.Error()),
				)
			}
		}(i, cb)
	}
}

// evaluatePolicy consults the configured evaluator and records its outcome
// in metadata. Returned violations are already prefixed.
func (g *Governor) evaluatePolicy(
	ctx context.Context,
	input InterceptInput,
	resourceType graph.ResourceType,
	provider graph.Provider,
	risk graph.RiskAssessment,
	now time.Time,
	metadata map[string]graph.Value,
) []string {
	start := time.Now()
	result, err := g.cfg.OPAEngine.Evaluate(ctx, PolicyInput{
		Initiator:     input.Initiator,
		InitiatorType: input.InitiatorType,
		Action:        input.Action,
		ResourceType:  resourceType,
		Provider:      provider,
		RiskScore:     risk.Score,
		RiskLevel:     risk.Level,
		Description:   input.Description,
		Timestamp:     now,
	})
	elapsed := time.Since(start)

	if err == nil && result == nil {
		err = errors.New("policy evaluator returned no result")
	}
	if err == nil && result.Error != "" {
		err = errors.New(result.Error)
	}

	metadata["opaEvaluated"] = graph.Bool(true)
	metadata["opaFailMode"] = graph.String(string(g.cfg.OPAFailMode))

	if err != nil {
		recordPolicyEvaluation(ctx, elapsed.Seconds(), "error")
		metadata["opaError"] = graph.String(err.Error())
		metadata["opaDurationMs"] = graph.Number(float64(elapsed.Milliseconds()))
		metadata["opaViolationCount"] = graph.Number(0)

		g.logger.Warn("policy evaluation failed",
			slog.String("target", input.TargetResourceID),
			slog.String("fail_mode", string(g.cfg.OPAFailMode)),
			slog.String("error", err.Error()),
		)
		if g.cfg.OPAFailMode == FailClosed {
			return []string{"[OPA/error] " + err.Error()}
		}
		return nil
	}

	outcome := "allow"
	if len(result.Violations) > 0 {
		outcome = "deny"
	}
	recordPolicyEvaluation(ctx, elapsed.Seconds(), outcome)

	duration := result.DurationMs
	if duration == 0 {
		duration = elapsed.Milliseconds()
	}
	metadata["opaDurationMs"] = graph.Number(float64(duration))
	metadata["opaViolationCount"] = graph.Number(float64(len(result.Violations)))

	violations := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		violations = append(violations, formatOPAViolation(v))
	}
	return violations
}

// impact is the topology-derived portion of a risk input.
type impact struct {
	blastRadius int
	dependents  int
	costAtRisk  float64
}

// computeImpact walks the nodes affected by a change to target, breadth
// first, up to MaxBlastDepth hops.
func (g *Governor) computeImpact(ctx context.Context, target *graph.Node) (impact, error) {
	if target == nil {
		return impact{}, nil
	}

	result := impact{costAtRisk: target.Cost()}
	visited := map[string]bool{target.ID: true}
	frontier := []string{target.ID}

	for depth := 1; depth <= g.cfg.MaxBlastDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			edges, err := g.storage.GetEdgesForNode(ctx, id, graph.DirectionBoth)
			if err != nil {
				return impact{}, err
			}
			for _, e := range edges {
				affected, ok := affectedBy(e, id)
				if !ok || visited[affected] {
					continue
				}
				visited[affected] = true
				next = append(next, affected)
				if depth == 1 {
					result.dependents++
				}

				n, err := g.storage.GetNode(ctx, affected)
				if err != nil {
					return impact{}, err
				}
				if n != nil {
					result.costAtRisk += n.Cost()
				}
			}
		}
		result.blastRadius += len(next)
		frontier = next
	}
	return result, nil
}

// affectedBy returns the node impacted when id changes, following e.
//
// For containment the child is affected; for every other relationship the
// source depends on the target, so the source is affected.
func affectedBy(e graph.Edge, id string) (string, bool) {
	if e.RelationshipType == graph.RelContains {
		if e.SourceNodeID == id {
			return e.TargetNodeID, true
		}
		return "", false
	}
	if e.TargetNodeID == id {
		return e.SourceNodeID, true
	}
	return "", false
}

var environmentTagKeys = []string{"environment", "env", "Environment", "Env", "stage"}

func environmentFromTags(tags map[string]string) string {
	for _, k := range environmentTagKeys {
		if v, ok := tags[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

func isGPUAIWorkload(rt graph.ResourceType, target *graph.Node, tags map[string]string) bool {
	if rt == graph.ResourceMLEndpoint || rt == graph.ResourceGPUInstance {
		return true
	}
	if target != nil {
		if v, ok := target.Metadata["isGpuInstance"]; ok && v.IsTrue() {
			return true
		}
		if v, ok := target.Metadata["aiWorkload"]; ok && v.IsTrue() {
			return true
		}
	}
	switch strings.ToLower(tags["workload"]) {
	case "ai", "gpu", "ml":
		return true
	}
	return false
}

func mergedTags(target *graph.Node, extra map[string]string) map[string]string {
	out := make(map[string]string)
	if target != nil {
		for k, v := range target.Tags {
			out[k] = v
		}
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func cloneValues(in map[string]graph.Value) map[string]graph.Value {
	out := make(map[string]graph.Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
