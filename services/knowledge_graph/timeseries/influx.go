// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package timeseries exports graph snapshot aggregates to InfluxDB so
// node counts and monthly cost can be charted over time next to other
// infrastructure metrics.
//
// Each stored snapshot becomes one point:
//
//	graph_snapshot,provider=all,trigger=scheduled seq=42i,node_count=310i,edge_count=512i,total_cost_monthly=18250.5 <created_at>
package timeseries

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// DefaultMeasurement is the measurement name used when none is configured.
const DefaultMeasurement = "graph_snapshot"

// DefaultTimeout bounds one export when no timeout is configured.
// Snapshot hooks run inline, so an unreachable server must fail fast.
const DefaultTimeout = 5 * time.Second

// allProviders tags snapshots that were not scoped to a provider.
const allProviders = "all"

// Config locates the InfluxDB bucket. An empty URL disables export.
type Config struct {
	URL         string        `yaml:"url" validate:"omitempty,url"`
	Token       string        `yaml:"token"`
	Org         string        `yaml:"org" validate:"required_with=URL"`
	Bucket      string        `yaml:"bucket" validate:"required_with=URL"`
	Measurement string        `yaml:"measurement"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"` // zero means DefaultTimeout
}

// Enabled reports whether a URL is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// InfluxSink writes snapshot aggregates to one InfluxDB bucket.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client is.
type InfluxSink struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewInfluxSink creates a sink for cfg. No connection is made until the
// first write or Ping.
func NewInfluxSink(cfg Config, logger *slog.Logger) *InfluxSink {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts := influxdb2.DefaultOptions()
	opts.SetHTTPRequestTimeout(uint(max(1, timeout/time.Second)))
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = DefaultMeasurement
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &InfluxSink{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: measurement,
		timeout:     timeout,
		logger:      logger,
	}
}

// Point converts a snapshot header into its InfluxDB point.
func (s *InfluxSink) Point(snap graph.Snapshot) *write.Point {
	provider := allProviders
	if snap.Provider != nil {
		provider = string(*snap.Provider)
	}
	return influxdb2.NewPoint(
		s.measurement,
		map[string]string{
			"trigger":  string(snap.Trigger),
			"provider": provider,
		},
		map[string]interface{}{
			"seq":                int64(snap.Seq),
			"node_count":         int64(snap.NodeCount),
			"edge_count":         int64(snap.EdgeCount),
			"total_cost_monthly": snap.TotalCostMonthly,
		},
		snap.CreatedAt,
	)
}

// Write sends one snapshot point and waits up to the configured timeout
// for the server to accept it.
func (s *InfluxSink) Write(ctx context.Context, snap graph.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.writer.WritePoint(ctx, s.Point(snap)); err != nil {
		return fmt.Errorf("write snapshot %s to influxdb: %w", snap.ID, err)
	}
	return nil
}

// RecordSnapshot is a temporal snapshot hook. Failures are logged and
// never affect the snapshot itself.
func (s *InfluxSink) RecordSnapshot(ctx context.Context, snap graph.Snapshot) {
	if err := s.Write(ctx, snap); err != nil {
		s.logger.Warn("snapshot export failed",
			slog.String("snapshot_id", snap.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("snapshot exported", slog.String("snapshot_id", snap.ID))
}

// Ping checks that the server is reachable.
func (s *InfluxSink) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping influxdb: %w", err)
	}
	if !ok {
		return fmt.Errorf("ping influxdb: server not ready")
	}
	return nil
}

// Close releases the client's idle connections.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
