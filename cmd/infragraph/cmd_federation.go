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
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/federation"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

func newFederationCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "federation",
		Short: "Inspect the local graph and its configured peers",
	}
	cmd.AddCommand(newFederationStatsCmd(opts), newFederationPeersCmd(opts))
	return cmd
}

func newFederationStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Combined statistics across the local graph and every peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				stats, err := a.federation.GetStats(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return printJSON(out, stats)
				}
				printStats(out, stats)
				return nil
			})
		},
	}
}

func newFederationPeersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "Probe and list configured peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				a.federation.HealthCheckAll(ctx)
				peers := a.federation.ListPeers()
				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return printJSON(out, peers)
				}
				if len(peers) == 0 {
					fmt.Fprintln(out, "No peers configured")
					return nil
				}
				st := newStyler(out)
				for _, p := range peers {
					state := "healthy"
					if !p.Healthy {
						state = "unhealthy"
					}
					fmt.Fprintf(out, "%-16s  %-16s  %s  %s\n", p.ID, p.Namespace, st.health(p.Healthy, fmt.Sprintf("%-9s", state)), p.Name)
				}
				return nil
			})
		},
	}
}

func printStats(w io.Writer, s *federation.FederatedStats) {
	fmt.Fprintf(w, "Nodes: %d  Edges: %d  Changes: %d  Cost: $%.2f/mo\n",
		s.TotalNodes, s.TotalEdges, s.TotalChanges, s.TotalCostMonthly)
	fmt.Fprintf(w, "Peers: %d (%d reachable)\n", s.TotalPeers, s.HealthyPeers)
	st := newStyler(w)
	for _, ns := range s.Namespaces {
		if ns.Stats == nil {
			fmt.Fprintf(w, "  %-16s  %s\n", ns.Namespace, st.health(false, "unreachable: "+ns.Error))
			continue
		}
		fmt.Fprintf(w, "  %-16s  %d nodes, %d edges\n", ns.Namespace, ns.Stats.TotalNodes, ns.Stats.TotalEdges)
	}
	for _, p := range slices.Sorted(maps.Keys(s.NodesByProvider)) {
		fmt.Fprintf(w, "  provider %-10s %d\n", p, s.NodesByProvider[p])
	}
}
