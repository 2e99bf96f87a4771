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
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// topologyFile is the document read by the import command.
type topologyFile struct {
	Nodes []graph.Node `yaml:"nodes"`
	Edges []graph.Edge `yaml:"edges"`
}

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

func newImportCmd(opts *rootOptions) *cobra.Command {
	var snapshot bool

	cmd := &cobra.Command{
		Use:   "import <topology.yaml>",
		Short: "Upsert nodes and edges from a YAML topology file",
		Long: `Upsert nodes and edges from a YAML document of the form

  nodes:
    - id: db-1
      provider: aws
      resource_type: database
      tags: {env: production}
  edges:
    - id: e-1
      source_node_id: api-1
      target_node_id: db-1
      relationship_type: depends-on

Nodes are written before edges. With --snapshot a sync-triggered snapshot
is captured afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topo, err := readTopology(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if err := importTopology(ctx, a.storage, topo); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Imported %d nodes and %d edges\n", len(topo.Nodes), len(topo.Edges))
				if !snapshot {
					return nil
				}
				snap, err := a.snapshots.CreateSnapshot(ctx, graph.TriggerSync, "import", nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Created snapshot %s\n", snap.ID)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "Capture a snapshot after importing")
	return cmd
}

func readTopology(path string) (*topologyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology %s: %w", path, err)
	}
	var topo topologyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&topo); err != nil {
		return nil, fmt.Errorf("parse topology %s: %w", path, err)
	}
	return &topo, nil
}

func importTopology(ctx context.Context, s graph.Storage, topo *topologyFile) error {
	for _, n := range topo.Nodes {
		if err := s.UpsertNode(ctx, n); err != nil {
			return fmt.Errorf("import node %s: %w", n.ID, err)
		}
	}
	for _, e := range topo.Edges {
		if err := s.UpsertEdge(ctx, e); err != nil {
			return fmt.Errorf("import edge %s: %w", e.ID, err)
		}
	}
	return nil
}
