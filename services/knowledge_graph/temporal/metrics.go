// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package temporal

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

var (
	tracer = otel.Tracer("infragraph.temporal")
	meter  = otel.Meter("infragraph.temporal")
)

var (
	snapshotDuration metric.Float64Histogram
	snapshotsCreated metric.Int64Counter
	snapshotNodes    metric.Int64Histogram
	snapshotsPruned  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		snapshotDuration, err = meter.Float64Histogram(
			"temporal_snapshot_duration_seconds",
			metric.WithDescription("Duration of snapshot capture"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		snapshotsCreated, err = meter.Int64Counter(
			"temporal_snapshots_created_total",
			metric.WithDescription("Snapshots created by trigger"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		snapshotNodes, err = meter.Int64Histogram(
			"temporal_snapshot_nodes",
			metric.WithDescription("Nodes captured per snapshot"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		snapshotsPruned, err = meter.Int64Counter(
			"temporal_snapshots_pruned_total",
			metric.WithDescription("Snapshots removed by retention"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startSnapshotSpan(ctx context.Context, trigger graph.SnapshotTrigger) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Store.CreateSnapshot",
		trace.WithAttributes(attribute.String("temporal.trigger", string(trigger))),
	)
}

func startDiffSpan(ctx context.Context, fromID, toID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Store.DiffSnapshots",
		trace.WithAttributes(
			attribute.String("temporal.from", fromID),
			attribute.String("temporal.to", toID),
		),
	)
}

func recordSnapshotMetrics(ctx context.Context, duration time.Duration, snap *graph.Snapshot, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", string(snap.Trigger)),
		attribute.Bool("success", success),
	)
	snapshotDuration.Record(ctx, duration.Seconds(), attrs)
	if success {
		snapshotsCreated.Add(ctx, 1, attrs)
		snapshotNodes.Record(ctx, int64(snap.NodeCount))
	}
}

func recordPruneMetrics(ctx context.Context, pruned int) {
	if err := initMetrics(); err != nil {
		return
	}
	snapshotsPruned.Add(ctx, int64(pruned))
}
