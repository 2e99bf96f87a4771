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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/governance"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

func newChangesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "Inspect and resolve governed change requests",
	}
	cmd.AddCommand(
		newChangesListCmd(opts),
		newChangesResolveCmd(opts, "approve", "Approve a pending change request", func(g *governance.Governor) resolver {
			return g.ApproveChange
		}),
		newChangesResolveCmd(opts, "reject", "Reject a pending change request", func(g *governance.Governor) resolver {
			return g.RejectChange
		}),
	)
	return cmd
}

func newChangesListCmd(opts *rootOptions) *cobra.Command {
	var (
		status    string
		initiator string
		target    string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the audit trail, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				changes, err := a.governor.GetAuditTrail(ctx, graph.ChangeFilter{
					Status:           graph.ChangeStatus(status),
					Initiator:        initiator,
					TargetResourceID: target,
					Limit:            limit,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return printJSON(out, changes)
				}
				printChanges(out, changes)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "pending, approved, rejected or auto-approved")
	cmd.Flags().StringVar(&initiator, "initiator", "", "Only requests from this initiator")
	cmd.Flags().StringVar(&target, "target", "", "Only requests for this resource ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum requests to show, 0 for all")
	return cmd
}

type resolver func(ctx context.Context, id, resolvedBy, reason string) (*graph.ChangeRequest, error)

func newChangesResolveCmd(opts *rootOptions, name, short string, pick func(*governance.Governor) resolver) *cobra.Command {
	var (
		resolvedBy string
		reason     string
	)
	cmd := &cobra.Command{
		Use:   name + " <change-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				req, err := pick(a.governor)(ctx, args[0], resolvedBy, reason)
				if err != nil {
					return err
				}
				if req == nil {
					return fmt.Errorf("change request %s is not pending", args[0])
				}
				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return printJSON(out, req)
				}
				fmt.Fprintf(out, "Change %s %s by %s\n", req.ID, req.Status, resolvedBy)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&resolvedBy, "resolver", "", "Who is resolving the request")
	cmd.Flags().StringVar(&reason, "reason", "", "Optional justification")
	_ = cmd.MarkFlagRequired("resolver")
	return cmd
}

func printChanges(w io.Writer, changes []graph.ChangeRequest) {
	if len(changes) == 0 {
		fmt.Fprintln(w, "No change requests")
		return
	}
	st := newStyler(w)
	fmt.Fprintf(w, "%-36s  %-20s  %-13s  %-11s  %-5s  %-16s  %s\n",
		"ID", "CREATED", "STATUS", "ACTION", "RISK", "INITIATOR", "TARGET")
	for _, c := range changes {
		fmt.Fprintf(w, "%-36s  %-20s  %s  %-11s  %s  %-16s  %s\n",
			c.ID, c.CreatedAt.UTC().Format(time.RFC3339),
			st.status(c.Status, fmt.Sprintf("%-13s", c.Status)),
			c.Action,
			st.risk(c.Risk.Level, fmt.Sprintf("%-5d", c.Risk.Score)),
			c.Initiator, c.TargetResourceID)
		for _, v := range c.PolicyViolations {
			fmt.Fprintf(w, "    ! %s\n", st.render(styleWarning, v))
		}
	}
}
