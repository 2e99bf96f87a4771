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
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianInfraGraph/pkg/logging"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/config"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/federation"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/governance"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/policy"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/storage/badger"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/storage/memory"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/temporal"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/timeseries"
)

// app is the fully wired service: storage, the three subsystems and the
// resources that must be released on exit.
type app struct {
	cfg     *config.Config
	logging *logging.Logger
	logger  *slog.Logger

	storage    graph.Storage
	governor   *governance.Governor
	snapshots  *temporal.Store
	federation *federation.Manager
	rules      *policy.Reloader
	influx     *timeseries.InfluxSink

	closers []func() error
}

// newApp opens storage and peers and builds every subsystem from cfg.
//
// # Outputs
//
//   - *app: Ready for use. Call Close when done.
//   - error: A storage, peer or policy file failure. Everything opened so
//     far is closed before returning.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	lg := logging.New(cfg.Logging)
	a := &app{cfg: cfg, logging: lg, logger: lg.Slog()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var backend temporal.Backend
	a.storage, backend, err = a.openStorage()
	if err != nil {
		return nil, err
	}

	govCfg := cfg.GovernorConfig()
	if cfg.Governance.PolicyEnabled {
		a.rules, err = policy.NewReloader(cfg.Governance.PolicyFile, a.logger.With(slog.String("component", "policy")))
		if err != nil {
			return nil, fmt.Errorf("load policy rules: %w", err)
		}
		govCfg.OPAEngine = a.rules
	}
	a.governor = governance.NewGovernor(a.storage, govCfg,
		governance.WithLogger(a.logger.With(slog.String("component", "governance"))))

	storeOpts := []temporal.Option{
		temporal.WithBackend(backend),
		temporal.WithLogger(a.logger.With(slog.String("component", "temporal"))),
	}
	if cfg.Temporal.Influx.Enabled() {
		a.influx = timeseries.NewInfluxSink(cfg.Temporal.Influx, a.logger.With(slog.String("component", "timeseries")))
		a.closers = append(a.closers, a.influx.Close)
		storeOpts = append(storeOpts, temporal.WithSnapshotHook(a.influx.RecordSnapshot))
	}
	a.snapshots, err = temporal.NewStore(ctx, a.storage, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	a.federation = federation.NewManager(a.storage,
		federation.WithLocalNamespace(cfg.Federation.LocalNamespace),
		federation.WithQueryTimeout(cfg.Federation.QueryTimeout),
		federation.WithLogger(a.logger.With(slog.String("component", "federation"))))
	if err := a.registerPeers(); err != nil {
		return nil, err
	}

	a.logger.Debug("infragraph initialized",
		slog.String("backend", cfg.Storage.Backend),
		slog.String("namespace", cfg.Federation.LocalNamespace),
		slog.Int("peers", len(cfg.Federation.Peers)),
		slog.Bool("policy_rules", a.rules != nil),
		slog.Bool("influx_export", a.influx != nil),
	)
	return a, nil
}

// openStorage returns the graph store and the matching snapshot backend.
func (a *app) openStorage() (graph.Storage, temporal.Backend, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendBadger:
		db, store, err := a.openBadger(a.cfg.Storage.Config)
		if err != nil {
			return nil, nil, err
		}
		return store, badger.NewSnapshotBackend(db, a.logger), nil
	default:
		return memory.New(), temporal.NewMemoryBackend(), nil
	}
}

func (a *app) openBadger(bc badger.Config) (*badger.DB, *badger.Storage, error) {
	bc.Logger = a.logger.With(slog.String("component", "badger"))
	db, err := badger.OpenDB(bc)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, db.Close)

	store, err := badger.NewStorage(db, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open graph storage %s: %w", bc.Path, err)
	}
	return db, store, nil
}

// registerPeers opens each configured peer's Badger directory with the
// local storage settings and registers it.
func (a *app) registerPeers() error {
	for _, p := range a.cfg.Federation.Peers {
		bc := a.cfg.Storage.Config
		bc.Path = p.Path
		bc.InMemory = false
		_, store, err := a.openBadger(bc)
		if err != nil {
			return fmt.Errorf("open peer %s: %w", p.ID, err)
		}
		if _, err := a.federation.RegisterPeer(federation.PeerConfig{
			ID:        p.ID,
			Name:      p.Name,
			Namespace: p.Namespace,
			Storage:   store,
			Metadata:  map[string]graph.Value{"path": graph.String(p.Path)},
		}); err != nil {
			return fmt.Errorf("register peer %s: %w", p.ID, err)
		}
	}
	return nil
}

// Close waits for approval callbacks, then releases storage handles in
// reverse order and the logger.
func (a *app) Close() error {
	if a.governor != nil {
		a.governor.WaitForNotifications()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	errs = append(errs, a.logging.Close())
	return errors.Join(errs...)
}
