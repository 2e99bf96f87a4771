// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger persists the knowledge graph in BadgerDB.
//
// One database holds the live graph (Storage) and, optionally, the snapshot
// history (SnapshotBackend). Both share the DB wrapper below, which owns the
// value log GC loop.
//
// Key layout (values are JSON):
//
//	node:<id>                         graph.Node
//	edge:<id>                         graph.Edge
//	edgeidx:out:<source>\x00<edge>    empty
//	edgeidx:in:<target>\x00<edge>     empty
//	change:<id>                       changeRecord
//	snap:<id>                         graph.Snapshot
//	snapnode:<snap>\x00<node>         graph.Node
//	snapedge:<snap>\x00<edge>         graph.Edge
//
// A NUL byte separates variable components because resource IDs routinely
// contain ':' and '/'.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// maxTxnRetries bounds retries of a read-write transaction that lost a
// conflict to a concurrent writer.
const maxTxnRetries = 3

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string `yaml:"path"`

	// InMemory keeps everything in RAM. Used by tests and ephemeral runs.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites fsyncs every commit.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration `yaml:"gc_interval"`

	// GCDiscardRatio is the garbage fraction that triggers a rewrite.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns production defaults: synchronous writes and a
// five-minute GC interval at a 0.5 discard ratio.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: in-memory, async, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// slogAdapter routes BadgerDB's printf-style logging into slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (l *slogAdapter) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *slogAdapter) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *slogAdapter) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *slogAdapter) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

// GCRunner periodically rewrites the value log.
//
// # Thread Safety
//
// Start and Stop are safe to call concurrently and more than once.
type GCRunner struct {
	db       *dgbadger.DB
	interval time.Duration
	ratio    float64
	logger   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	mu        sync.Mutex
}

// NewGCRunner validates its inputs and returns a runner that is not yet
// started.
//
// # Inputs
//
//   - db: Open database. Must not be nil.
//   - interval: Time between GC attempts. Must be positive.
//   - ratio: Discard ratio in [0, 1].
//   - logger: Optional.
func NewGCRunner(db *dgbadger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	switch {
	case db == nil:
		return nil, errors.New("db must not be nil")
	case interval <= 0:
		return nil, errors.New("gc interval must be positive")
	case ratio < 0 || ratio > 1:
		return nil, errors.New("gc discard ratio must be between 0 and 1")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start launches the GC loop. Later calls are no-ops.
func (r *GCRunner) Start() {
	r.startOnce.Do(func() {
		r.mu.Lock()
		r.started = true
		r.mu.Unlock()
		go r.run()
	})
}

// Stop ends the GC loop and waits for it. Safe before Start.
func (r *GCRunner) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.mu.Lock()
		started := r.started
		r.mu.Unlock()
		if started {
			<-r.doneCh
		}
	})
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.collect()
		}
	}
}

// collect rewrites value log files until BadgerDB reports nothing left
// worth rewriting.
func (r *GCRunner) collect() {
	rewrites := 0
	for {
		err := r.db.RunValueLogGC(r.ratio)
		if err == nil {
			rewrites++
			continue
		}
		if !errors.Is(err, dgbadger.ErrNoRewrite) {
			r.logger.Warn("badger value log gc failed", slog.String("error", err.Error()))
		}
		break
	}
	if rewrites > 0 {
		r.logger.Debug("badger value log gc", slog.Int("rewrites", rewrites))
	}
}

// DB is an open BadgerDB with its GC loop.
type DB struct {
	*dgbadger.DB
	gc        *GCRunner
	path      string
	inMemory  bool
	closeOnce sync.Once
	closeErr  error
}

// OpenDB opens the database described by cfg and starts GC when
// configured.
//
// # Outputs
//
//   - *DB: The database. Call Close when done.
//   - error: Non-nil if Path is missing for a persistent database, the
//     directory cannot be created, or BadgerDB refuses to open.
func OpenDB(cfg Config) (*DB, error) {
	var opts dgbadger.Options
	if cfg.InMemory {
		opts = dgbadger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required for a persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = dgbadger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&slogAdapter{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	raw, err := dgbadger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	db := &DB{DB: raw, path: cfg.Path, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := NewGCRunner(raw, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			raw.Close()
			return nil, fmt.Errorf("create gc runner: %w", err)
		}
		db.gc = runner
		runner.Start()
	}
	return db, nil
}

// OpenInMemory opens a throwaway in-memory database.
func OpenInMemory() (*DB, error) {
	return OpenDB(InMemoryConfig())
}

// Close stops GC and closes the database. Later calls return the first
// result.
func (d *DB) Close() error {
	d.closeOnce.Do(func() {
		if d.gc != nil {
			d.gc.Stop()
		}
		d.closeErr = d.DB.Close()
	})
	return d.closeErr
}

// Path returns the database directory, empty for in-memory databases.
func (d *DB) Path() string {
	return d.path
}

// InMemory reports whether the database lives only in RAM.
func (d *DB) InMemory() bool {
	return d.inMemory
}

// WithTxn runs fn in a read-write transaction and commits when fn succeeds.
// A commit that loses to a concurrent writer is retried with a fresh
// transaction, so fn must be safe to run more than once.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("context cancelled: %w", ctxErr)
		}
		err = d.runTxn(fn)
		if !errors.Is(err, dgbadger.ErrConflict) {
			return err
		}
	}
	return err
}

func (d *DB) runTxn(fn func(txn *dgbadger.Txn) error) error {
	txn := d.DB.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// WithReadTxn runs fn in a read-only transaction.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *dgbadger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}
