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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// Package-level tracer and meter for governance operations.
var (
	tracer = otel.Tracer("infragraph.governance")
	meter  = otel.Meter("infragraph.governance")
)

var (
	changeRequestsTotal     metric.Int64Counter
	riskScoreHistogram      metric.Int64Histogram
	policyEvaluationsTotal  metric.Int64Counter
	policyEvaluationLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		changeRequestsTotal, err = meter.Int64Counter(
			"governance_change_requests_total",
			metric.WithDescription("Change requests by resulting status"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		riskScoreHistogram, err = meter.Int64Histogram(
			"governance_risk_score",
			metric.WithDescription("Distribution of change risk scores"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		policyEvaluationsTotal, err = meter.Int64Counter(
			"governance_policy_evaluations_total",
			metric.WithDescription("Policy evaluator calls by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		policyEvaluationLatency, err = meter.Float64Histogram(
			"governance_policy_evaluation_duration_seconds",
			metric.WithDescription("Duration of policy evaluator calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startInterceptSpan(ctx context.Context, targetID string, action graph.ChangeAction) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Governor.InterceptChange",
		trace.WithAttributes(
			attribute.String("governance.target_id", targetID),
			attribute.String("governance.action", string(action)),
		),
	)
}

func setInterceptSpanResult(span trace.Span, req *graph.ChangeRequest) {
	span.SetAttributes(
		attribute.String("governance.change_id", req.ID),
		attribute.String("governance.status", string(req.Status)),
		attribute.Int("governance.risk_score", req.Risk.Score),
		attribute.Int("governance.violations", len(req.PolicyViolations)),
	)
}

func recordChangeMetrics(ctx context.Context, req *graph.ChangeRequest) {
	if err := initMetrics(); err != nil {
		return
	}
	changeRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(req.Status)),
		attribute.String("initiator_type", string(req.InitiatorType)),
	))
	riskScoreHistogram.Record(ctx, int64(req.Risk.Score), metric.WithAttributes(
		attribute.String("risk_level", string(req.Risk.Level)),
	))
}

func recordPolicyEvaluation(ctx context.Context, seconds float64, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	policyEvaluationsTotal.Add(ctx, 1, attrs)
	policyEvaluationLatency.Record(ctx, seconds, attrs)
}
