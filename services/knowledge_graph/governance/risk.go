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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// =============================================================================
// Score Bands and Weights
// =============================================================================

// Level thresholds. A score at or below ThresholdLow is low; at or above
// ThresholdCritical is critical.
const (
	ThresholdLow      = 20
	ThresholdHigh     = 50
	ThresholdCritical = 75
)

const (
	maxBlastRadiusPoints = 25
	maxDependentPoints   = 15
	gpuWorkloadPoints    = 10
	offHoursPoints       = 5
)

// environmentPoints maps normalized environment names to their contribution.
// Unknown environments contribute nothing, so production is always at least
// as risky as any other environment.
var environmentPoints = map[string]int{
	"production": 15,
	"staging":    7,
}

// actionPoints orders actions by destructiveness.
var actionPoints = map[graph.ChangeAction]int{
	graph.ActionDelete:      15,
	graph.ActionReconfigure: 8,
	graph.ActionScale:       6,
	graph.ActionUpdate:      5,
	graph.ActionCreate:      2,
}

var actionFactors = map[graph.ChangeAction]string{
	graph.ActionDelete:      "Destructive delete action",
	graph.ActionReconfigure: "Reconfiguration action",
	graph.ActionScale:       "Scaling action",
	graph.ActionUpdate:      "Update action",
	graph.ActionCreate:      "Create action",
}

// =============================================================================
// Types
// =============================================================================

// RiskInput carries the attributes a risk score is computed from.
type RiskInput struct {
	BlastRadiusSize int                `json:"blast_radius_size"`
	CostAtRisk      float64            `json:"cost_at_risk"`
	DependentCount  int                `json:"dependent_count"`
	Environment     string             `json:"environment"`
	IsGPUAIWorkload bool               `json:"is_gpu_ai_workload"`
	Action          graph.ChangeAction `json:"action"`

	// HourOfDay is 0-23. Nil skips the off-hours factor.
	HourOfDay *int `json:"hour_of_day,omitempty"`
}

// OffHours is the hour range considered outside business hours: a change
// is off-hours when hour < Start or hour >= End.
type OffHours struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// DefaultOffHours treats 22:00-05:59 as off-hours.
func DefaultOffHours() OffHours {
	return OffHours{Start: 6, End: 22}
}

// Contains reports whether hour falls outside business hours.
func (o OffHours) Contains(hour int) bool {
	return hour < o.Start || hour >= o.End
}

// RiskScorer computes additive, clamped risk scores.
//
// # Description
//
// Every factor is a non-decreasing function of its input, so raising blast
// radius, cost or dependents never lowers the score; production scores at
// least as high as any other environment; delete at least as high as
// update; off-hours at least as high as business hours.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type RiskScorer struct {
	offHours OffHours
}

// NewRiskScorer creates a scorer using the given off-hours range.
func NewRiskScorer(offHours OffHours) *RiskScorer {
	return &RiskScorer{offHours: offHours}
}

// WithOffHours returns a scorer treating hours before start or from end
// onwards as off-hours.
func (r *RiskScorer) WithOffHours(start, end int) *RiskScorer {
	return &RiskScorer{offHours: OffHours{Start: start, End: end}}
}

// CalculateRiskScore scores input with the default off-hours range.
func CalculateRiskScore(input RiskInput) graph.RiskAssessment {
	return NewRiskScorer(DefaultOffHours()).Score(input)
}

// Score computes the risk assessment for input.
//
// # Inputs
//
//   - input: Change attributes. Negative counts are treated as zero.
//
// # Outputs
//
//   - graph.RiskAssessment: Score in [0,100], its level, and the triggered
//     factors in a fixed order.
func (r *RiskScorer) Score(input RiskInput) graph.RiskAssessment {
	score := 0
	factors := make([]string, 0, 7)

	if input.BlastRadiusSize > 0 {
		score += min(2*input.BlastRadiusSize, maxBlastRadiusPoints)
		factors = append(factors, fmt.Sprintf("Blast radius: %d resources", input.BlastRadiusSize))
	}

	if pts := costPoints(input.CostAtRisk); pts > 0 {
		score += pts
		factors = append(factors, fmt.Sprintf("Cost at risk: $%.2f/mo", input.CostAtRisk))
	}

	if input.DependentCount > 0 {
		score += min(2*input.DependentCount, maxDependentPoints)
		factors = append(factors, fmt.Sprintf("%d dependent resources", input.DependentCount))
	}

	env := NormalizeEnvironment(input.Environment)
	if pts := environmentPoints[env]; pts > 0 {
		score += pts
		factors = append(factors, strings.ToUpper(env[:1])+env[1:]+" environment")
	}

	if input.IsGPUAIWorkload {
		score += gpuWorkloadPoints
		factors = append(factors, "GPU/AI workload")
	}

	if pts, ok := actionPoints[input.Action]; ok {
		score += pts
		factors = append(factors, actionFactors[input.Action])
	}

	if input.HourOfDay != nil && r.offHours.Contains(*input.HourOfDay) {
		score += offHoursPoints
		factors = append(factors, "Off-hours change (elevated risk)")
	}

	score = max(0, min(score, 100))
	return graph.RiskAssessment{
		Score:   score,
		Level:   LevelForScore(score),
		Factors: factors,
	}
}

// LevelForScore maps a score to its band.
func LevelForScore(score int) graph.RiskLevel {
	switch {
	case score >= ThresholdCritical:
		return graph.RiskCritical
	case score >= ThresholdHigh:
		return graph.RiskHigh
	case score > ThresholdLow:
		return graph.RiskMedium
	default:
		return graph.RiskLow
	}
}

// NormalizeEnvironment folds common spellings onto canonical names
// ("prod" -> "production", "stage" -> "staging", "dev" -> "development").
func NormalizeEnvironment(env string) string {
	switch e := strings.ToLower(strings.TrimSpace(env)); e {
	case "prod", "prd", "production", "live":
		return "production"
	case "stage", "stg", "staging", "preprod", "pre-prod":
		return "staging"
	case "dev", "development":
		return "development"
	case "test", "testing", "qa":
		return "test"
	default:
		return e
	}
}

// costPoints is a step function over monthly cost at risk.
func costPoints(cost float64) int {
	switch {
	case cost >= 10000:
		return 20
	case cost >= 1000:
		return 15
	case cost >= 100:
		return 8
	case cost > 0:
		return 3
	default:
		return 0
	}
}
