// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy evaluates change requests against declarative deny rules.
//
// RuleEvaluator satisfies governance.PolicyEvaluator, so the governor treats
// it exactly like an external OPA engine: violations come back prefixed with
// the rule ID and block auto-approval. Rules are YAML; a default set is
// compiled into the binary and can be replaced by a file at startup.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/governance"
)

// RuleEvaluator is a governance.PolicyEvaluator backed by a RuleFile.
//
// # Thread Safety
//
// Safe for concurrent use; the rule set is immutable after construction.
type RuleEvaluator struct {
	rules  *RuleFile
	logger *slog.Logger
}

var _ governance.PolicyEvaluator = (*RuleEvaluator)(nil)

// NewRuleEvaluator builds an evaluator from rule file bytes.
func NewRuleEvaluator(data []byte, logger *slog.Logger) (*RuleEvaluator, error) {
	rules, err := ParseRules(data)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("policy rules loaded",
		slog.String("package", rules.Package),
		slog.Int("rules", len(rules.Rules)),
	)
	return &RuleEvaluator{rules: rules, logger: logger}, nil
}

// NewDefaultEvaluator builds an evaluator from the embedded default rules.
func NewDefaultEvaluator(logger *slog.Logger) (*RuleEvaluator, error) {
	return NewRuleEvaluator(DefaultRules, logger)
}

// LoadFile builds an evaluator from the file at path, or from the embedded
// defaults when path is empty.
func LoadFile(path string, logger *slog.Logger) (*RuleEvaluator, error) {
	if path == "" {
		return NewDefaultEvaluator(logger)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return NewRuleEvaluator(data, logger)
}

// Rules returns the active rules in evaluation order.
func (e *RuleEvaluator) Rules() []Rule {
	return slices.Clone(e.rules.Rules)
}

// Evaluate implements governance.PolicyEvaluator. Every enabled rule whose
// conditions all hold produces one violation.
func (e *RuleEvaluator) Evaluate(ctx context.Context, input governance.PolicyInput) (*governance.PolicyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	violations := make([]governance.PolicyViolation, 0)
	for _, r := range e.rules.Rules {
		if !r.Match.matches(input) {
			continue
		}
		violations = append(violations, governance.PolicyViolation{
			RuleID:   r.ID,
			Message:  render(r.message(), input),
			Severity: string(r.Severity),
			Action:   "deny",
			Package:  e.rules.Package,
		})
	}

	return &governance.PolicyResult{
		OK:         len(violations) == 0,
		Violations: violations,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

func (r Rule) message() string {
	if r.Message != "" {
		return r.Message
	}
	if r.Description != "" {
		return r.Description
	}
	return r.ID
}

func (m Match) matches(in governance.PolicyInput) bool {
	if len(m.InitiatorTypes) > 0 && !slices.Contains(m.InitiatorTypes, in.InitiatorType) {
		return false
	}
	if len(m.Actions) > 0 && !slices.Contains(m.Actions, in.Action) {
		return false
	}
	if len(m.Providers) > 0 && !slices.Contains(m.Providers, in.Provider) {
		return false
	}
	if m.resourceTypeRe != nil && !m.resourceTypeRe.MatchString(string(in.ResourceType)) {
		return false
	}
	if m.initiatorRe != nil && !m.initiatorRe.MatchString(in.Initiator) {
		return false
	}
	if in.RiskScore < m.MinRiskScore {
		return false
	}
	if m.MinRiskLevel != "" && levelRank(in.RiskLevel) < levelRank(m.MinRiskLevel) {
		return false
	}
	return true
}

// render substitutes ${field} placeholders in a rule message.
func render(msg string, in governance.PolicyInput) string {
	return strings.NewReplacer(
		"${initiator}", in.Initiator,
		"${initiator_type}", string(in.InitiatorType),
		"${action}", string(in.Action),
		"${resource_type}", string(in.ResourceType),
		"${provider}", string(in.Provider),
		"${risk_score}", strconv.Itoa(in.RiskScore),
		"${risk_level}", string(in.RiskLevel),
	).Replace(msg)
}
