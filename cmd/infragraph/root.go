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
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianInfraGraph/pkg/logging"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/config"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	jsonOutput bool
}

// loadConfig reads the configuration and applies flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		level, err := logging.ParseLevel(o.logLevel)
		if err != nil {
			return nil, fmt.Errorf("--log-level: %w", err)
		}
		cfg.Logging.Level = level
	}
	return cfg, nil
}

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "infragraph",
		Short: "Infrastructure knowledge graph: governance, snapshots and federation",
		Long: `infragraph tracks cloud infrastructure as a graph of resources and
dependencies. It scores proposed changes and holds risky ones for review,
captures point-in-time snapshots for diffing and time travel, and queries
several independent graphs as one.

Configuration is read from --config (YAML), then INFRAGRAPH_* environment
variables. Without a file the in-memory store is used.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Override the configured log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false,
		"Output as JSON")

	root.AddCommand(
		newServeCmd(opts),
		newImportCmd(opts),
		newSnapshotCmd(opts),
		newChangesCmd(opts),
		newRiskCmd(opts),
		newFederationCmd(opts),
	)
	return root
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
