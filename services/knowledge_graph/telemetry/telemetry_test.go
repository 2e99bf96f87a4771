// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("INFRAGRAPH_ENV", "staging")

	cfg := DefaultConfig()
	assert.Equal(t, "infragraph", cfg.ServiceName)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
}

func TestInit(t *testing.T) {
	//nolint:staticcheck
	_, err := Init(nil, Config{})
	assert.ErrorIs(t, err, ErrNilContext)

	shutdown, err := Init(context.Background(), Config{TraceExporter: "none", MetricExporter: "none"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{TraceExporter: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)

	_, err = Init(context.Background(), Config{MetricExporter: "statsd"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_PrometheusHandler(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "test", MetricExporter: "prometheus"})
	require.NoError(t, err)
	defer shutdown(context.Background())

	assert.NotNil(t, MetricsHandler())
}

func recordingSpan(t *testing.T) (*tracetest.SpanRecorder, context.Context, func()) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	return rec, ctx, func() { span.End() }
}

func TestRecordError(t *testing.T) {
	rec, ctx, end := recordingSpan(t)
	span := trace.SpanFromContext(ctx)

	RecordError(span, nil)
	RecordError(nil, errors.New("ignored"))
	RecordError(span, errors.New("peer down"))
	end()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "peer down", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)
}

func TestTraceIDs(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))
	assert.Empty(t, SpanID(context.Background()))

	_, ctx, end := recordingSpan(t)
	defer end()
	assert.Len(t, TraceID(ctx), 32)
	assert.Len(t, SpanID(ctx), 16)
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	assert.Same(t, logger, LoggerWithTrace(context.Background(), logger))

	_, ctx, end := recordingSpan(t)
	defer end()
	LoggerWithTrace(ctx, logger).Info("hello")
	assert.Contains(t, buf.String(), `"trace_id":"`+TraceID(ctx)+`"`)
	assert.Contains(t, buf.String(), `"span_id":"`+SpanID(ctx)+`"`)
}
