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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInfraGraph/pkg/logging"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/config"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/federation"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/governance"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

const testTopology = `
nodes:
  - id: api-1
    name: api
    provider: aws
    resource_type: compute
    status: running
    tags: {env: production}
    cost_monthly: 120
  - id: db-1
    name: orders
    provider: aws
    resource_type: database
    status: running
    tags: {env: production}
    metadata:
      engine: postgres
      replicas: 2
edges:
  - id: e-1
    source_node_id: api-1
    target_node_id: db-1
    relationship_type: depends-on
    confidence: 1
`

// writeConfig creates a Badger-backed configuration with one peer under a
// temporary directory and returns its path.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
logging:
  level: error
storage:
  backend: badger
  path: %s
  sync_writes: false
  gc_interval: 0s
telemetry:
  trace_exporter: none
  metric_exporter: none
temporal:
  retention:
    max_snapshots: 10
federation:
  local_namespace: prod-us
  peers:
    - id: eu
      name: Europe
      namespace: prod-eu
      path: %s
`, filepath.Join(dir, "local"), filepath.Join(dir, "peer-eu"))
	path := filepath.Join(dir, "infragraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTopology(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testTopology), 0o600))
	return path
}

// =============================================================================
// App wiring
// =============================================================================

func TestNewApp_MemoryDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Quiet = true

	a, err := newApp(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.NotNil(t, a.rules, "policy rules are enabled by default")
	assert.Equal(t, federation.DefaultLocalNamespace, a.federation.LocalNamespace())
	assert.Empty(t, a.federation.ListPeers())
	assert.Equal(t, a.rules, a.governor.Config().OPAEngine)
}

func TestNewApp_PolicyDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Quiet = true
	cfg.Governance.PolicyEnabled = false

	a, err := newApp(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Nil(t, a.rules)
	assert.Nil(t, a.governor.Config().OPAEngine)
}

func TestNewApp_BadPolicyFile(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Quiet = true
	cfg.Governance.PolicyFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := newApp(context.Background(), &cfg)
	assert.ErrorContains(t, err, "load policy rules")
}

func TestNewApp_BadgerWithPeer(t *testing.T) {
	cfg, err := config.Load(writeConfig(t))
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)

	peers := a.federation.ListPeers()
	require.Len(t, peers, 1)
	assert.Equal(t, "prod-eu", peers[0].Namespace)
	require.NoError(t, a.Close())

	// The databases are released: a second open succeeds.
	a, err = newApp(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, a.Close())
}

func TestNewApp_InfluxExport(t *testing.T) {
	var (
		mu     sync.Mutex
		writes []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			body, _ := io.ReadAll(r.Body)
			mu.Lock()
			writes = append(writes, string(body))
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Logging.Quiet = true
	cfg.Temporal.Influx.URL = srv.URL
	cfg.Temporal.Influx.Org = "infra"
	cfg.Temporal.Influx.Bucket = "graph"

	a, err := newApp(context.Background(), &cfg)
	require.NoError(t, err)
	require.NotNil(t, a.influx)
	require.NoError(t, a.influx.Ping(context.Background()))

	_, err = a.snapshots.CreateSnapshot(context.Background(), graph.TriggerManual, "", nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, writes, 1)
	assert.True(t, strings.HasPrefix(writes[0], "graph_snapshot,provider=all,trigger=manual "))
}

func TestNewApp_ExportsComponentLogs(t *testing.T) {
	exporter := logging.NewBufferedExporter(100)
	cfg := config.Default()
	cfg.Logging.Quiet = true
	cfg.Logging.Exporter = exporter

	a, err := newApp(context.Background(), &cfg)
	require.NoError(t, err)
	snap, err := a.snapshots.CreateSnapshot(context.Background(), graph.TriggerManual, "", nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	var created *logging.LogEntry
	for _, e := range exporter.Entries() {
		if e.Message == "snapshot created" {
			created = &e
			break
		}
	}
	require.NotNil(t, created, "snapshot log not exported")
	assert.Equal(t, logging.LevelInfo, created.Level)
	assert.Equal(t, "infragraph", created.Service)
	assert.Equal(t, "temporal", created.Attrs["component"])
	assert.Equal(t, snap.ID, created.Attrs["snapshot_id"])
}

func TestNewApp_PolicyReloader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - id: freeze\n    match:\n      actions: [delete]\n"), 0o600))

	cfg := config.Default()
	cfg.Logging.Quiet = true
	cfg.Governance.PolicyFile = path
	cfg.Governance.PolicyWatch = true

	a, err := newApp(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.Len(t, a.rules.Rules(), 1)
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - id: freeze\n  - id: thaw\n    disabled: true\n  - id: audit\n"), 0o600))
	require.NoError(t, a.rules.Reload())
	assert.Len(t, a.rules.Rules(), 2)
}

// =============================================================================
// Commands
// =============================================================================

func TestImportAndSnapshotCommands(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := run(t, "--config", cfgPath, "import", writeTopology(t), "--snapshot")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 nodes and 1 edges")
	assert.Contains(t, out, "Created snapshot")

	_, err = run(t, "--config", cfgPath, "snapshot", "create", "--label", "after")
	require.NoError(t, err)

	out, err = run(t, "--config", cfgPath, "--json", "snapshot", "list")
	require.NoError(t, err)
	var snaps []graph.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snaps))
	require.Len(t, snaps, 2)
	assert.Equal(t, "after", snaps[0].Label)
	assert.Equal(t, graph.TriggerSync, snaps[1].Trigger)
	assert.Equal(t, 2, snaps[0].NodeCount)
	assert.InDelta(t, 120.0, snaps[0].TotalCostMonthly, 0.001)

	out, err = run(t, "--config", cfgPath, "snapshot", "diff", snaps[1].ID, snaps[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Cost delta: +0.00/mo")

	out, err = run(t, "--config", cfgPath, "snapshot", "list", "--trigger", "manual")
	require.NoError(t, err)
	assert.Contains(t, out, "after")
	assert.NotContains(t, out, "import")

	out, err = run(t, "--config", cfgPath, "snapshot", "prune", "--max-snapshots", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 1 snapshot(s)")

	_, err = run(t, "--config", cfgPath, "snapshot", "diff", "nope", snaps[0].ID)
	assert.Error(t, err)
}

func TestImportCommand_RejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes:\n  - id: a\n    colour: red\n"), 0o600))

	_, err := run(t, "--config", writeConfig(t), "import", path)
	assert.ErrorContains(t, err, "parse topology")
}

func TestChangesCommands(t *testing.T) {
	cfgPath := writeConfig(t)
	_, err := run(t, "--config", cfgPath, "import", writeTopology(t))
	require.NoError(t, err)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	req, err := a.governor.InterceptChange(context.Background(), governance.InterceptInput{
		Initiator: "bot-1", InitiatorType: graph.InitiatorAgent, TargetResourceID: "db-1", Action: graph.ActionDelete,
	})
	require.NoError(t, err)
	require.Equal(t, graph.ChangePending, req.Status)
	assert.Contains(t, req.PolicyViolations, "[OPA/agent-delete-stateful] agent bot-1 may not delete database resources")
	require.NoError(t, a.Close())

	out, err := run(t, "--config", cfgPath, "--json", "changes", "list", "--status", "pending")
	require.NoError(t, err)
	var pending []graph.ChangeRequest
	require.NoError(t, json.Unmarshal([]byte(out), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)

	_, err = run(t, "--config", cfgPath, "changes", "approve", req.ID)
	assert.Error(t, err, "resolver is required")

	out, err = run(t, "--config", cfgPath, "changes", "reject", req.ID, "--resolver", "alice", "--reason", "no")
	require.NoError(t, err)
	assert.Contains(t, out, "rejected by alice")

	_, err = run(t, "--config", cfgPath, "changes", "approve", req.ID, "--resolver", "alice")
	assert.ErrorContains(t, err, "not pending")

	_, err = run(t, "--config", cfgPath, "changes", "approve", "missing", "--resolver", "alice")
	assert.ErrorIs(t, err, governance.ErrChangeNotFound)
}

func TestRiskCommand(t *testing.T) {
	out, err := run(t, "--json", "risk", "--action", "delete", "--env", "production", "--blast-radius", "12")
	require.NoError(t, err)
	var assessment graph.RiskAssessment
	require.NoError(t, json.Unmarshal([]byte(out), &assessment))
	assert.Equal(t, 54, assessment.Score)
	assert.Equal(t, graph.RiskHigh, assessment.Level)

	out, err = run(t, "risk", "--action", "create")
	require.NoError(t, err)
	assert.Contains(t, out, "Risk: 2 (low)")

	_, err = run(t, "risk", "--action", "delete", "--env", "production", "--blast-radius", "12", "--threshold", "medium")
	assert.ErrorIs(t, err, errRiskAboveThreshold)

	_, err = run(t, "risk", "--threshold", "extreme")
	assert.Error(t, err)

	_, err = run(t, "risk", "--hour", "24")
	assert.Error(t, err)
}

func TestFederationCommands(t *testing.T) {
	cfgPath := writeConfig(t)
	_, err := run(t, "--config", cfgPath, "import", writeTopology(t))
	require.NoError(t, err)

	out, err := run(t, "--config", cfgPath, "--json", "federation", "stats")
	require.NoError(t, err)
	var stats federation.FederatedStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.TotalNodes)
	assert.Equal(t, 1, stats.TotalPeers)
	assert.Equal(t, 1, stats.HealthyPeers)
	require.Len(t, stats.Namespaces, 2)
	assert.Equal(t, "prod-us", stats.Namespaces[0].Namespace)

	out, err = run(t, "--config", cfgPath, "federation", "peers")
	require.NoError(t, err)
	assert.Contains(t, out, "prod-eu")
	assert.Contains(t, out, "healthy")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Quiet = true
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.Mode = "test"
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, &cfg) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
