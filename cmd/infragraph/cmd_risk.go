// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/governance"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// errRiskAboveThreshold makes the command exit non-zero for CI gating.
var errRiskAboveThreshold = errors.New("risk above threshold")

var riskLevelOrder = map[graph.RiskLevel]int{
	graph.RiskLow:      0,
	graph.RiskMedium:   1,
	graph.RiskHigh:     2,
	graph.RiskCritical: 3,
}

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

func newRiskCmd(opts *rootOptions) *cobra.Command {
	var (
		action      string
		env         string
		blastRadius int
		dependents  int
		cost        float64
		gpu         bool
		hour        int
		threshold   string
	)

	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Score a hypothetical change",
		Long: `Score a change from its attributes without touching the graph.

The score uses the same factors and bands as change interception: blast
radius, cost at risk, dependents, environment, GPU workload, action and
off-hours timing. Business hours come from governance.business_hours.

Examples:
  infragraph risk --action delete --env production --blast-radius 12
  infragraph risk --action scale --gpu --cost 4200 --hour 23
  infragraph risk --action update --threshold medium   # CI gate

Exit Codes:
  0 = Risk at or below threshold
  1 = Risk above threshold, or invalid input`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := riskLevelOrder[graph.RiskLevel(threshold)]; threshold != "" && !ok {
				return fmt.Errorf("--threshold must be low, medium, high or critical")
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			input := governance.RiskInput{
				BlastRadiusSize: blastRadius,
				CostAtRisk:      cost,
				DependentCount:  dependents,
				Environment:     env,
				IsGPUAIWorkload: gpu,
				Action:          graph.ChangeAction(action),
			}
			if hour >= 0 {
				if hour > 23 {
					return fmt.Errorf("--hour must be between 0 and 23")
				}
				input.HourOfDay = &hour
			}

			assessment := governance.NewRiskScorer(cfg.Governance.OffHours).Score(input)

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				if err := printJSON(out, assessment); err != nil {
					return err
				}
			} else {
				printAssessment(out, assessment)
			}

			if threshold != "" && riskLevelOrder[assessment.Level] > riskLevelOrder[graph.RiskLevel(threshold)] {
				return fmt.Errorf("%w: %s > %s", errRiskAboveThreshold, assessment.Level, threshold)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&action, "action", "update", "create, update, delete, scale or reconfigure")
	cmd.Flags().StringVar(&env, "env", "", "Target environment, e.g. production")
	cmd.Flags().IntVar(&blastRadius, "blast-radius", 0, "Resources transitively affected")
	cmd.Flags().IntVar(&dependents, "dependents", 0, "Resources directly depending on the target")
	cmd.Flags().Float64Var(&cost, "cost", 0, "Monthly cost at risk in USD")
	cmd.Flags().BoolVar(&gpu, "gpu", false, "Target is a GPU/AI workload")
	cmd.Flags().IntVar(&hour, "hour", -1, "Hour of day 0-23; omit to skip the off-hours factor")
	cmd.Flags().StringVar(&threshold, "threshold", "", "Fail if the level is above: low, medium, high, critical")
	return cmd
}

func printAssessment(w io.Writer, a graph.RiskAssessment) {
	st := newStyler(w)
	fmt.Fprintf(w, "Risk: %d (%s)\n", a.Score, st.risk(a.Level, string(a.Level)))
	for _, f := range a.Factors {
		fmt.Fprintf(w, "  - %s\n", st.muted(f))
	}
}
