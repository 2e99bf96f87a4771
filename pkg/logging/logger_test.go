// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"trace", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_YAML(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte("level: warn\nservice: api\njson: true\n"), &cfg))
	assert.Equal(t, LevelWarn, cfg.Level)
	assert.Equal(t, "api", cfg.Service)
	assert.True(t, cfg.JSON)

	assert.Error(t, yaml.Unmarshal([]byte("level: loud\n"), &cfg))

	out, err := yaml.Marshal(struct {
		Level Level `yaml:"level"`
	}{LevelError})
	require.NoError(t, err)
	assert.Equal(t, "level: error\n", string(out))
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestNew_ExporterReceivesSubsystemRecords(t *testing.T) {
	exp := NewBufferedExporter(0)
	logger := New(Config{Level: LevelInfo, Service: "infragraph", Quiet: true, Exporter: exp})
	defer logger.Close()

	sub := logger.Slog().With(slog.String("component", "governance")).WithGroup("change")
	sub.Debug("dropped")
	sub.Info("change intercepted", slog.String("id", "cr-1"), slog.Int("risk_score", 42))
	logger.Slog().Warn("peer unhealthy", slog.Group("peer", slog.String("namespace", "east")))

	entries := exp.Entries()
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, LevelInfo, first.Level)
	assert.Equal(t, "change intercepted", first.Message)
	assert.Equal(t, "infragraph", first.Service)
	assert.Equal(t, "governance", first.Attrs["component"])
	assert.Equal(t, "cr-1", first.Attrs["change.id"])
	assert.EqualValues(t, 42, first.Attrs["change.risk_score"])
	assert.NotContains(t, first.Attrs, "service")

	second := entries[1]
	assert.Equal(t, LevelWarn, second.Level)
	assert.Equal(t, "east", second.Attrs["peer.namespace"])
}

func TestNew_LogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	logger := New(Config{Level: LevelDebug, LogDir: dir, Service: "svc", Quiet: true})
	logger.Slog().Debug("snapshot created", slog.String("snapshot_id", "snap-1"))
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0].Name(), "svc_"))

	data, err := os.ReadFile(filepath.Join(dir, files[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"snapshot_id":"snap-1"`)
	assert.Contains(t, string(data), `"service":"svc"`)
}

func TestNew_LogDirFailureFallsBack(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Quiet: true})
	defer logger.Close()
	assert.Nil(t, logger.file)
	assert.NotNil(t, logger.Slog())
}

type failingExporter struct {
	BufferedExporter
}

func (f *failingExporter) Flush(context.Context) error { return errors.New("flush failed") }

func TestLogger_CloseReportsExporterError(t *testing.T) {
	logger := New(Config{Quiet: true, Exporter: &failingExporter{}})
	err := logger.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush exporter")
}

func TestMultiHandler(t *testing.T) {
	var info, errs bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&errs, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	logger := slog.New(h).With("k", "v")

	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	logger.Info("one")
	logger.Error("two")

	assert.Contains(t, info.String(), "one")
	assert.Contains(t, info.String(), "two")
	assert.NotContains(t, errs.String(), "one")
	assert.Contains(t, errs.String(), "k=v")
}

func TestBufferedExporter_Limit(t *testing.T) {
	exp := NewBufferedExporter(2)
	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, exp.Export(context.Background(), LogEntry{Message: msg}))
	}
	entries := exp.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Message)
	assert.Equal(t, "c", entries[1].Message)

	entries[0].Message = "mutated"
	assert.Equal(t, "b", exp.Entries()[0].Message)
}

func TestBufferedExporter_Concurrent(t *testing.T) {
	exp := NewBufferedExporter(0)
	logger := New(Config{Quiet: true, Level: LevelInfo, Exporter: exp})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Slog().Info("tick")
		}()
	}
	wg.Wait()
	assert.Len(t, exp.Entries(), 20)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".infragraph"), expandPath("~/.infragraph"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
}
