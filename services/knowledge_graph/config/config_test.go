// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInfraGraph/pkg/logging"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/governance"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/timeseries"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "infragraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 30, cfg.Governance.AutoApproveThreshold)
	assert.Equal(t, governance.FailOpen, cfg.Governance.OPAFailMode)
	assert.Equal(t, "local", cfg.Federation.LocalNamespace)
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  rate_limit: 50
  rate_burst: 100
logging:
  level: debug
storage:
  backend: badger
  path: /var/lib/infragraph
  sync_writes: false
  gc_interval: 10m
governance:
  auto_approve_threshold: 20
  allow_agent_auto_approve: true
  opa_fail_mode: closed
  business_hours:
    start: 8
    end: 18
temporal:
  schedule: 30m
  retention:
    max_snapshots: 10
    max_age: 72h
  influx:
    url: http://influx:8086
    org: infra
    bucket: graph
    timeout: 5s
federation:
  local_namespace: us-east
  peers:
    - id: eu
      name: Frankfurt
      namespace: eu-central
      path: /var/lib/infragraph-eu
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.InDelta(t, 50.0, cfg.Server.RateLimit, 0.001)
	assert.Equal(t, 100, cfg.Server.RateBurst)
	assert.Equal(t, logging.LevelDebug, cfg.Logging.Level)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/infragraph", cfg.Storage.Path)
	assert.False(t, cfg.Storage.SyncWrites)
	assert.Equal(t, 10*time.Minute, cfg.Storage.GCInterval)
	assert.Equal(t, 0.5, cfg.Storage.GCDiscardRatio)

	gov := cfg.GovernorConfig()
	assert.Equal(t, 20, gov.AutoApproveThreshold)
	assert.Equal(t, 70, gov.BlockThreshold)
	assert.True(t, gov.AllowAgentAutoApprove)
	assert.Equal(t, governance.FailClosed, gov.OPAFailMode)
	assert.Equal(t, governance.OffHours{Start: 8, End: 18}, gov.OffHours)

	sched := cfg.SchedulerConfig()
	assert.Equal(t, 30*time.Minute, sched.Interval)
	assert.Equal(t, "scheduled", sched.Label)
	assert.Equal(t, 10, sched.Retention.MaxSnapshots)
	assert.Equal(t, 72*time.Hour, sched.Retention.MaxAge)
	assert.True(t, cfg.Temporal.Influx.Enabled())
	assert.Equal(t, "graph", cfg.Temporal.Influx.Bucket)
	assert.Equal(t, 5*time.Second, cfg.Temporal.Influx.Timeout)

	require.Len(t, cfg.Federation.Peers, 1)
	assert.Equal(t, "eu-central", cfg.Federation.Peers[0].Namespace)
	assert.Equal(t, 5*time.Second, cfg.Federation.QueryTimeout)
}

func TestLoad_EmptyPathAndEmptyFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)

	cfg, err = Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "governance:\n  auto_aprove_threshold: 10\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = Load(writeConfig(t, "logging:\n  level: chatty\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"badger without path", func(c *Config) { c.Storage.Backend = BackendBadger; c.Storage.Path = "" }},
		{"threshold above 100", func(c *Config) { c.Governance.AutoApproveThreshold = 101 }},
		{"block below auto approve", func(c *Config) { c.Governance.BlockThreshold = 10 }},
		{"bad fail mode", func(c *Config) { c.Governance.OPAFailMode = "maybe" }},
		{"zero blast depth", func(c *Config) { c.Governance.MaxBlastDepth = 0 }},
		{"inverted business hours", func(c *Config) { c.Governance.OffHours = governance.OffHours{Start: 18, End: 8} }},
		{"negative schedule", func(c *Config) { c.Temporal.Schedule = -time.Minute }},
		{"zero query timeout", func(c *Config) { c.Federation.QueryTimeout = 0 }},
		{"empty namespace", func(c *Config) { c.Federation.LocalNamespace = "" }},
		{"bad trace exporter", func(c *Config) { c.Telemetry.TraceExporter = "zipkin" }},
		{"peer missing path", func(c *Config) {
			c.Federation.Peers = []PeerConfig{{ID: "a", Namespace: "a"}}
		}},
		{"duplicate peer id", func(c *Config) {
			c.Federation.Peers = []PeerConfig{{ID: "a", Namespace: "a", Path: "/a"}, {ID: "a", Namespace: "b", Path: "/b"}}
		}},
		{"peer reuses local namespace", func(c *Config) {
			c.Federation.Peers = []PeerConfig{{ID: "a", Namespace: "local", Path: "/a"}}
		}},
		{"peers share namespace", func(c *Config) {
			c.Federation.Peers = []PeerConfig{{ID: "a", Namespace: "x", Path: "/a"}, {ID: "b", Namespace: "x", Path: "/b"}}
		}},
		{"negative rate limit", func(c *Config) { c.Server.RateLimit = -1 }},
		{"policy watch without file", func(c *Config) { c.Governance.PolicyWatch = true }},
		{"policy watch with rules disabled", func(c *Config) {
			c.Governance.PolicyWatch = true
			c.Governance.PolicyFile = "/etc/rules.yaml"
			c.Governance.PolicyEnabled = false
		}},
		{"influx url not a url", func(c *Config) {
			c.Temporal.Influx = timeseries.Config{URL: "not a url", Org: "o", Bucket: "b"}
		}},
		{"influx without bucket", func(c *Config) {
			c.Temporal.Influx = timeseries.Config{URL: "http://influx:8086", Org: "o"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"INFRAGRAPH_ADDR":              ":7070",
		"INFRAGRAPH_LOG_LEVEL":         "warn",
		"INFRAGRAPH_STORAGE_BACKEND":   "badger",
		"INFRAGRAPH_STORAGE_PATH":      "/tmp/graph",
		"INFRAGRAPH_POLICY_FILE":       "/etc/infragraph/rules.yaml",
		"INFRAGRAPH_OPA_FAIL_MODE":     "closed",
		"INFRAGRAPH_SNAPSHOT_INTERVAL": "15m",
		"INFRAGRAPH_NAMESPACE":         "ap-south",
		"INFRAGRAPH_INFLUX_URL":        "http://influx:8086",
		"INFRAGRAPH_INFLUX_TOKEN":      "t0ken",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, applyEnv(&cfg, lookup))
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, logging.LevelWarn, cfg.Logging.Level)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/graph", cfg.Storage.Path)
	assert.Equal(t, "/etc/infragraph/rules.yaml", cfg.Governance.PolicyFile)
	assert.Equal(t, governance.FailClosed, cfg.Governance.OPAFailMode)
	assert.Equal(t, 15*time.Minute, cfg.Temporal.Schedule)
	assert.Equal(t, "ap-south", cfg.Federation.LocalNamespace)
	assert.Equal(t, "http://influx:8086", cfg.Temporal.Influx.URL)
	assert.Equal(t, "t0ken", cfg.Temporal.Influx.Token)
	cfg.Temporal.Influx.Org = "infra"
	cfg.Temporal.Influx.Bucket = "graph"
	require.NoError(t, cfg.Validate())

	env["INFRAGRAPH_SNAPSHOT_INTERVAL"] = "often"
	assert.Error(t, applyEnv(&cfg, lookup))

	env["INFRAGRAPH_SNAPSHOT_INTERVAL"] = "1h"
	env["INFRAGRAPH_LOG_LEVEL"] = "shout"
	assert.Error(t, applyEnv(&cfg, lookup))
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("INFRAGRAPH_ADDR", ":6060")
	cfg, err := Load(writeConfig(t, "server:\n  addr: \":9000\"\n"))
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.Server.Addr)
}
