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

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/temporal"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture, list, diff and prune graph snapshots",
	}
	cmd.AddCommand(
		newSnapshotCreateCmd(opts),
		newSnapshotListCmd(opts),
		newSnapshotDiffCmd(opts),
		newSnapshotPruneCmd(opts),
	)
	return cmd
}

func newSnapshotCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		label    string
		provider string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Capture a manual snapshot of the current graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				var scope *graph.Provider
				if provider != "" {
					p := graph.Provider(provider)
					scope = &p
				}
				snap, err := a.snapshots.CreateSnapshot(ctx, graph.TriggerManual, label, scope)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return printJSON(out, snap)
				}
				fmt.Fprintf(out, "Created snapshot %s (%d nodes, %d edges, $%.2f/mo)\n",
					snap.ID, snap.NodeCount, snap.EdgeCount, snap.TotalCostMonthly)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Free-form label")
	cmd.Flags().StringVar(&provider, "provider", "", "Capture only this provider's nodes")
	return cmd
}

func newSnapshotListCmd(opts *rootOptions) *cobra.Command {
	var (
		limit   int
		trigger string
		since   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				filter := temporal.SnapshotFilter{Limit: limit, Trigger: graph.SnapshotTrigger(trigger)}
				if since > 0 {
					t := time.Now().Add(-since)
					filter.Since = &t
				}
				snaps, err := a.snapshots.ListSnapshots(ctx, filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return printJSON(out, snaps)
				}
				printSnapshots(out, snaps)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum snapshots to show, 0 for all")
	cmd.Flags().StringVar(&trigger, "trigger", "", "Only this trigger: sync, manual, scheduled")
	cmd.Flags().DurationVar(&since, "since", 0, "Only snapshots newer than this, e.g. 24h")
	return cmd
}

func newSnapshotDiffCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <from-id> <to-id>",
		Short: "Show what changed between two snapshots",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				diff, err := a.snapshots.DiffSnapshots(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return printJSON(out, diff)
				}
				printDiff(out, diff)
				return nil
			})
		},
	}
	return cmd
}

func newSnapshotPruneCmd(opts *rootOptions) *cobra.Command {
	var (
		maxSnapshots int
		maxAge       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots beyond the retention policy",
		Long: `Delete snapshots beyond the retention policy. Flags override the
configured temporal.retention values.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				policy := a.cfg.RetentionPolicy()
				if cmd.Flags().Changed("max-snapshots") {
					policy.MaxSnapshots = maxSnapshots
				}
				if cmd.Flags().Changed("max-age") {
					policy.MaxAge = maxAge
				}
				n, err := a.snapshots.PruneSnapshots(ctx, policy)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOutput {
					return printJSON(out, map[string]any{"pruned": n, "retention": policy})
				}
				fmt.Fprintf(out, "Pruned %d snapshot(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxSnapshots, "max-snapshots", 0, "Keep at most this many snapshots, 0 for unlimited")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Delete snapshots older than this, 0 for unlimited")
	return cmd
}

// =============================================================================
// SHARED
// =============================================================================

// withApp loads config, builds the app, runs fn and closes the app.
func withApp(ctx context.Context, opts *rootOptions, fn func(context.Context, *app) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}

func printSnapshots(w io.Writer, snaps []graph.Snapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No snapshots")
		return
	}
	fmt.Fprintf(w, "%-36s  %-20s  %-9s  %6s  %6s  %s\n", "ID", "CREATED", "TRIGGER", "NODES", "EDGES", "LABEL")
	for _, s := range snaps {
		fmt.Fprintf(w, "%-36s  %-20s  %-9s  %6d  %6d  %s\n",
			s.ID, s.CreatedAt.UTC().Format(time.RFC3339), s.Trigger, s.NodeCount, s.EdgeCount, s.Label)
	}
}

func printDiff(w io.Writer, d *temporal.SnapshotDiff) {
	fmt.Fprintf(w, "Diff %s -> %s\n", d.FromSnapshotID, d.ToSnapshotID)
	for _, n := range d.AddedNodes {
		fmt.Fprintf(w, "  + node %s (%s/%s)\n", n.ID, n.Provider, n.ResourceType)
	}
	for _, n := range d.RemovedNodes {
		fmt.Fprintf(w, "  - node %s (%s/%s)\n", n.ID, n.Provider, n.ResourceType)
	}
	for _, c := range d.ChangedNodes {
		fmt.Fprintf(w, "  ~ node %s %v\n", c.NodeID, c.ChangedFields)
	}
	for _, e := range d.AddedEdges {
		fmt.Fprintf(w, "  + edge %s %s -[%s]-> %s\n", e.ID, e.SourceNodeID, e.RelationshipType, e.TargetNodeID)
	}
	for _, e := range d.RemovedEdges {
		fmt.Fprintf(w, "  - edge %s %s -[%s]-> %s\n", e.ID, e.SourceNodeID, e.RelationshipType, e.TargetNodeID)
	}
	fmt.Fprintf(w, "Cost delta: %+.2f/mo\n", d.CostDelta)
}
