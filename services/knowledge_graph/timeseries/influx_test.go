// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package timeseries

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeInflux records write requests and answers with status.
type fakeInflux struct {
	mu     sync.Mutex
	status int
	bodies []string
	query  []string
	auth   []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.bodies = append(f.bodies, string(body))
		f.query = append(f.query, r.URL.RawQuery)
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		status := f.status
		f.mu.Unlock()
		if status >= 400 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"code":"invalid","message":"bucket not found"}`)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func newSink(t *testing.T, status int) (*InfluxSink, *fakeInflux) {
	t.Helper()
	fake := &fakeInflux{status: status}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	sink := NewInfluxSink(Config{
		URL:     srv.URL,
		Token:   "secret-token",
		Org:     "infra",
		Bucket:  "graph",
		Timeout: 2 * time.Second,
	}, quiet)
	t.Cleanup(func() { _ = sink.Close() })
	return sink, fake
}

func testSnapshot() graph.Snapshot {
	aws := graph.ProviderAWS
	return graph.Snapshot{
		ID:               "snap-1",
		Seq:              7,
		CreatedAt:        time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC),
		Trigger:          graph.TriggerManual,
		Provider:         &aws,
		NodeCount:        3,
		EdgeCount:        2,
		TotalCostMonthly: 500.5,
	}
}

func TestNewInfluxSink_DefaultTimeout(t *testing.T) {
	sink := NewInfluxSink(Config{URL: "http://localhost:8086", Org: "o", Bucket: "b"}, quiet)
	defer sink.Close()
	assert.Equal(t, DefaultTimeout, sink.timeout)
}

func TestInfluxSink_WriteGivesUpOnStalledServer(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	sink := NewInfluxSink(Config{URL: srv.URL, Org: "infra", Bucket: "graph"}, quiet)
	t.Cleanup(func() { _ = sink.Close() })
	sink.timeout = 50 * time.Millisecond

	start := time.Now()
	err := sink.Write(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	start = time.Now()
	sink.RecordSnapshot(context.Background(), testSnapshot())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConfig_Enabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{URL: "http://influx:8086"}.Enabled())
}

func TestInfluxSink_Point(t *testing.T) {
	sink := NewInfluxSink(Config{URL: "http://localhost:8086", Org: "o", Bucket: "b"}, quiet)
	defer sink.Close()

	p := sink.Point(testSnapshot())
	assert.Equal(t, DefaultMeasurement, p.Name())

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"trigger": "manual", "provider": "aws"}, tags)

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, int64(7), fields["seq"])
	assert.Equal(t, int64(3), fields["node_count"])
	assert.Equal(t, int64(2), fields["edge_count"])
	assert.InDelta(t, 500.5, fields["total_cost_monthly"], 0.0001)
	assert.Equal(t, testSnapshot().CreatedAt, p.Time())

	unscoped := testSnapshot()
	unscoped.Provider = nil
	for _, tag := range sink.Point(unscoped).TagList() {
		if tag.Key == "provider" {
			assert.Equal(t, "all", tag.Value)
		}
	}
}

func TestInfluxSink_Write(t *testing.T) {
	sink, fake := newSink(t, http.StatusNoContent)

	require.NoError(t, sink.Ping(context.Background()))
	require.NoError(t, sink.Write(context.Background(), testSnapshot()))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.bodies, 1)
	assert.Contains(t, fake.bodies[0], "graph_snapshot,provider=aws,trigger=manual ")
	assert.Contains(t, fake.bodies[0], "node_count=3i")
	assert.Contains(t, fake.bodies[0], "total_cost_monthly=500.5")
	assert.Contains(t, fake.query[0], "org=infra")
	assert.Contains(t, fake.query[0], "bucket=graph")
	assert.Equal(t, "Token secret-token", fake.auth[0])
}

func TestInfluxSink_WriteFailure(t *testing.T) {
	sink, fake := newSink(t, http.StatusNotFound)

	err := sink.Write(context.Background(), testSnapshot())
	assert.ErrorContains(t, err, "write snapshot snap-1 to influxdb")

	// The hook form swallows the failure.
	sink.RecordSnapshot(context.Background(), testSnapshot())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.bodies, 2)
}
