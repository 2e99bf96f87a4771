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
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// FailMode decides how evaluator errors affect a change.
type FailMode string

const (
	// FailOpen ignores evaluator errors; the change proceeds as if the
	// evaluator returned no violations.
	FailOpen FailMode = "open"

	// FailClosed turns an evaluator error into a blocking violation.
	FailClosed FailMode = "closed"
)

// PolicyInput is the document sent to a PolicyEvaluator.
type PolicyInput struct {
	Initiator     string              `json:"initiator"`
	InitiatorType graph.InitiatorType `json:"initiator_type"`
	Action        graph.ChangeAction  `json:"action"`
	ResourceType  graph.ResourceType  `json:"resource_type"`
	Provider      graph.Provider      `json:"provider"`
	RiskScore     int                 `json:"risk_score"`
	RiskLevel     graph.RiskLevel     `json:"risk_level"`
	Description   string              `json:"description"`
	Timestamp     time.Time           `json:"timestamp"`
}

// PolicyViolation is one deny decision returned by an evaluator.
type PolicyViolation struct {
	RuleID   string `json:"rule_id" yaml:"rule_id"`
	Message  string `json:"message" yaml:"message"`
	Severity string `json:"severity" yaml:"severity"`
	Action   string `json:"action" yaml:"action"`
	Package  string `json:"package" yaml:"package"`
}

// PolicyResult is an evaluator's answer.
//
// A non-empty Error is treated the same as a returned error.
type PolicyResult struct {
	OK         bool              `json:"ok"`
	Violations []PolicyViolation `json:"violations"`
	DurationMs int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
}

// PolicyEvaluator is an OPA-style external policy engine.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input PolicyInput) (*PolicyResult, error)
}

// costAllocationTags are the tag keys accepted as cost attribution.
var costAllocationTags = []string{"CostCenter", "cost-center", "costCenter", "Project", "project", "Team", "team"}

// staticPolicyChecks runs the built-in checks that need no evaluator.
func staticPolicyChecks(isGPU bool, tags map[string]string) []string {
	var violations []string
	if isGPU && !hasAnyTag(tags, costAllocationTags) {
		violations = append(violations, "GPU/AI resource missing cost-allocation tag (CostCenter, Project or Team)")
	}
	return violations
}

func hasAnyTag(tags map[string]string, keys []string) bool {
	for _, k := range keys {
		if v, ok := tags[k]; ok && v != "" {
			return true
		}
	}
	return false
}

// formatOPAViolation renders an evaluator violation for PolicyViolations.
func formatOPAViolation(v PolicyViolation) string {
	return fmt.Sprintf("[OPA/%s] %s", v.RuleID, v.Message)
}
