// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the infragraph service configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// INFRAGRAPH_* environment variables. The result is validated before use.
//
// # Environment Variables
//
//   - INFRAGRAPH_ADDR: server.addr
//   - INFRAGRAPH_LOG_LEVEL: logging.level
//   - INFRAGRAPH_STORAGE_BACKEND: storage.backend
//   - INFRAGRAPH_STORAGE_PATH: storage.path
//   - INFRAGRAPH_POLICY_FILE: governance.policy_file
//   - INFRAGRAPH_OPA_FAIL_MODE: governance.opa_fail_mode
//   - INFRAGRAPH_SNAPSHOT_INTERVAL: temporal.schedule
//   - INFRAGRAPH_NAMESPACE: federation.local_namespace
//   - INFRAGRAPH_INFLUX_URL: temporal.influx.url
//   - INFRAGRAPH_INFLUX_TOKEN: temporal.influx.token
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianInfraGraph/pkg/logging"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/federation"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/governance"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/storage/badger"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/telemetry"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/temporal"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/timeseries"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Storage backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

var validate = validator.New()

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    logging.Config   `yaml:"logging"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
	Storage    StorageConfig    `yaml:"storage"`
	Governance GovernanceConfig `yaml:"governance"`
	Temporal   TemporalConfig   `yaml:"temporal"`
	Federation FederationConfig `yaml:"federation"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	Mode            string        `yaml:"mode" validate:"oneof=debug release test"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimit is requests per second per client IP. Zero disables it.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=0"`
}

// StorageConfig selects the graph store. Badger settings are inlined so
// the file reads storage.path rather than storage.badger.path.
type StorageConfig struct {
	Backend       string `yaml:"backend" validate:"oneof=memory badger"`
	badger.Config `yaml:",inline"`
}

// GovernanceConfig mirrors governance.GovernorConfig plus the policy rules
// file.
type GovernanceConfig struct {
	AutoApproveThreshold  int                 `yaml:"auto_approve_threshold" validate:"gte=0,lte=100"`
	BlockThreshold        int                 `yaml:"block_threshold" validate:"gtefield=AutoApproveThreshold,lte=100"`
	AllowAgentAutoApprove bool                `yaml:"allow_agent_auto_approve"`
	OPAFailMode           governance.FailMode `yaml:"opa_fail_mode" validate:"oneof=open closed"`
	MaxBlastDepth         int                 `yaml:"max_blast_depth" validate:"gte=1,lte=20"`
	OffHours              governance.OffHours `yaml:"business_hours"`

	// PolicyEnabled turns on the YAML rule evaluator.
	PolicyEnabled bool `yaml:"policy_enabled"`

	// PolicyFile replaces the built-in rules. Empty uses the built-in set.
	PolicyFile string `yaml:"policy_file"`

	// PolicyWatch reloads PolicyFile when it changes while serving.
	PolicyWatch bool `yaml:"policy_watch"`
}

// TemporalConfig controls scheduled snapshots and retention.
type TemporalConfig struct {
	// Schedule is the snapshot interval. Zero disables the scheduler.
	Schedule  time.Duration   `yaml:"schedule" validate:"gte=0"`
	Label     string          `yaml:"label"`
	Retention RetentionConfig `yaml:"retention"`

	// Influx exports every snapshot's aggregates. Empty URL disables it.
	Influx timeseries.Config `yaml:"influx"`
}

// RetentionConfig bounds how many snapshots are kept. Zero values mean
// unlimited.
type RetentionConfig struct {
	MaxSnapshots int           `yaml:"max_snapshots" validate:"gte=0"`
	MaxAge       time.Duration `yaml:"max_age" validate:"gte=0"`
}

// FederationConfig lists the peers to register at startup.
type FederationConfig struct {
	LocalNamespace string        `yaml:"local_namespace" validate:"required"`
	QueryTimeout   time.Duration `yaml:"query_timeout" validate:"gt=0"`

	// HealthInterval is the peer health-check period. Zero disables it.
	HealthInterval time.Duration `yaml:"health_interval" validate:"gte=0"`

	Peers []PeerConfig `yaml:"peers" validate:"unique=ID,dive"`
}

// PeerConfig is a peer graph stored in its own Badger directory.
type PeerConfig struct {
	ID        string `yaml:"id" validate:"required"`
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace" validate:"required"`
	Path      string `yaml:"path" validate:"required"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	gov := governance.DefaultGovernorConfig()
	storage := badger.DefaultConfig()
	storage.Path = "./data/infragraph"

	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Mode:            "release",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: logging.Config{
			Level:   logging.LevelInfo,
			Service: "infragraph",
		},
		Telemetry: telemetry.DefaultConfig(),
		Storage: StorageConfig{
			Backend: BackendMemory,
			Config:  storage,
		},
		Governance: GovernanceConfig{
			AutoApproveThreshold:  gov.AutoApproveThreshold,
			BlockThreshold:        gov.BlockThreshold,
			AllowAgentAutoApprove: gov.AllowAgentAutoApprove,
			OPAFailMode:           gov.OPAFailMode,
			MaxBlastDepth:         gov.MaxBlastDepth,
			OffHours:              gov.OffHours,
			PolicyEnabled:         true,
		},
		Temporal: TemporalConfig{
			Schedule: time.Hour,
			Label:    "scheduled",
			Retention: RetentionConfig{
				MaxSnapshots: 168,
				MaxAge:       30 * 24 * time.Hour,
			},
		},
		Federation: FederationConfig{
			LocalNamespace: federation.DefaultLocalNamespace,
			QueryTimeout:   federation.DefaultQueryTimeout,
			HealthInterval: time.Minute,
		},
	}
}

// Load reads the file at path over the defaults, applies the environment
// and validates. An empty path skips the file.
//
// # Outputs
//
//   - *Config: Validated configuration.
//   - error: A read or parse failure, or ErrInvalidConfig.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decode rejects unknown keys so typos surface at startup.
func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays INFRAGRAPH_* variables using lookup.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("INFRAGRAPH_ADDR", &cfg.Server.Addr)
	str("INFRAGRAPH_STORAGE_BACKEND", &cfg.Storage.Backend)
	str("INFRAGRAPH_STORAGE_PATH", &cfg.Storage.Path)
	str("INFRAGRAPH_POLICY_FILE", &cfg.Governance.PolicyFile)
	str("INFRAGRAPH_NAMESPACE", &cfg.Federation.LocalNamespace)
	str("INFRAGRAPH_INFLUX_URL", &cfg.Temporal.Influx.URL)
	str("INFRAGRAPH_INFLUX_TOKEN", &cfg.Temporal.Influx.Token)

	if v, ok := lookup("INFRAGRAPH_OPA_FAIL_MODE"); ok && v != "" {
		cfg.Governance.OPAFailMode = governance.FailMode(v)
	}
	if v, ok := lookup("INFRAGRAPH_LOG_LEVEL"); ok && v != "" {
		level, err := logging.ParseLevel(v)
		if err != nil {
			return fmt.Errorf("INFRAGRAPH_LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}
	if v, ok := lookup("INFRAGRAPH_SNAPSHOT_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("INFRAGRAPH_SNAPSHOT_INTERVAL: %w", err)
		}
		cfg.Temporal.Schedule = d
	}
	return nil
}

// Validate checks struct tags and the cross-field rules tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Storage.Backend == BackendBadger && c.Storage.Path == "" && !c.Storage.InMemory {
		return fmt.Errorf("%w: storage.path is required for the badger backend", ErrInvalidConfig)
	}
	if c.Governance.PolicyWatch && (c.Governance.PolicyFile == "" || !c.Governance.PolicyEnabled) {
		return fmt.Errorf("%w: governance.policy_watch needs policy_enabled and a policy_file", ErrInvalidConfig)
	}
	oh := c.Governance.OffHours
	if oh.Start < 0 || oh.Start > 23 || oh.End < 0 || oh.End > 24 || oh.Start >= oh.End {
		return fmt.Errorf("%w: governance.business_hours must satisfy 0 <= start < end <= 24", ErrInvalidConfig)
	}
	namespaces := map[string]bool{c.Federation.LocalNamespace: true, federation.DefaultLocalNamespace: true}
	for _, p := range c.Federation.Peers {
		if namespaces[p.Namespace] {
			return fmt.Errorf("%w: federation peer %s reuses namespace %q", ErrInvalidConfig, p.ID, p.Namespace)
		}
		namespaces[p.Namespace] = true
	}
	return nil
}

// GovernorConfig converts to the governance package's configuration. The
// policy evaluator is attached by the caller.
func (c *Config) GovernorConfig() governance.GovernorConfig {
	g := c.Governance
	return governance.GovernorConfig{
		AutoApproveThreshold:  g.AutoApproveThreshold,
		BlockThreshold:        g.BlockThreshold,
		AllowAgentAutoApprove: g.AllowAgentAutoApprove,
		OPAFailMode:           g.OPAFailMode,
		MaxBlastDepth:         g.MaxBlastDepth,
		OffHours:              g.OffHours,
	}
}

// SchedulerConfig converts to the temporal scheduler's configuration.
func (c *Config) SchedulerConfig() temporal.SchedulerConfig {
	return temporal.SchedulerConfig{
		Interval:  c.Temporal.Schedule,
		Label:     c.Temporal.Label,
		Retention: c.RetentionPolicy(),
	}
}

// RetentionPolicy returns the configured snapshot retention.
func (c *Config) RetentionPolicy() temporal.RetentionPolicy {
	return temporal.RetentionPolicy{
		MaxSnapshots: c.Temporal.Retention.MaxSnapshots,
		MaxAge:       c.Temporal.Retention.MaxAge,
	}
}
