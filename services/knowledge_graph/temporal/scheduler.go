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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// SchedulerConfig controls periodic snapshotting.
type SchedulerConfig struct {
	// Interval between scheduled snapshots. Must be positive.
	Interval time.Duration

	// Retention is applied after every scheduled snapshot.
	Retention RetentionPolicy

	// Label is attached to every scheduled snapshot.
	Label string

	// Timeout bounds one snapshot-and-prune cycle. Zero means Interval.
	Timeout time.Duration
}

// Scheduler takes scheduled snapshots and applies retention.
//
// Description:
//
//	Runs CreateSnapshot(scheduled) followed by PruneSnapshots every
//	Interval. Call Start() to begin and Stop() to halt.
//
// Thread Safety: Safe for concurrent use after creation.
type Scheduler struct {
	store  *Store
	cfg    SchedulerConfig
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a snapshot scheduler.
//
// Inputs:
//
//	store - The snapshot store. Must not be nil.
//	cfg - Interval and retention.
//	logger - Optional logger; nil uses slog.Default().
//
// Outputs:
//
//	*Scheduler - Not started until Start() is called.
//	error - ErrSchedulerConfig if inputs are invalid.
func NewScheduler(store *Store, cfg SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store must not be nil", ErrSchedulerConfig)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrSchedulerConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:  store,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start begins periodic snapshotting. Calls after the first, or after
// Stop, are no-ops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	go s.run()
}

// Stop halts the scheduler and waits for an in-flight cycle to finish.
// Safe to call multiple times and before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.doneCh
	}
}

// RunOnce takes one scheduled snapshot and applies retention.
func (s *Scheduler) RunOnce(ctx context.Context) (*graph.Snapshot, int, error) {
	snap, err := s.store.CreateSnapshot(ctx, graph.TriggerScheduled, s.cfg.Label, nil)
	if err != nil {
		return nil, 0, err
	}
	pruned, err := s.store.PruneSnapshots(ctx, s.cfg.Retention)
	if err != nil {
		return snap, pruned, err
	}
	return snap, pruned, nil
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	snap, pruned, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Warn("scheduled snapshot failed", slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("scheduled snapshot completed",
		slog.String("snapshot_id", snap.ID),
		slog.Int("pruned", pruned),
	)
}
