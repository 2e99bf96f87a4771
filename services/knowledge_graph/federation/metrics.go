// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package federation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("infragraph.federation")

var (
	// peerQueryDuration tracks per-namespace call latency
	peerQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "federation_peer_query_duration_seconds",
		Help:    "Federated storage call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"namespace", "operation"})

	// peerQueryFailures counts failed or timed-out calls
	peerQueryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "federation_peer_query_failures_total",
		Help: "Federated storage calls that failed or timed out",
	}, []string{"namespace", "operation", "reason"})

	// peerHealthy is 1 when the last probe succeeded
	peerHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "federation_peer_healthy",
		Help: "Whether the last health probe of a peer succeeded",
	}, []string{"peer_id", "namespace"})

	// mergeTotal counts merges by strategy and result
	mergeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "federation_merge_total",
		Help: "Peer merges by strategy and result",
	}, []string{"strategy", "result"})
)
