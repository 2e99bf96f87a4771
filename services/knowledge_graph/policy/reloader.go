// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/governance"
)

// ErrNoPolicyFile is returned by Start when the reloader uses the built-in
// rules and there is nothing to watch.
var ErrNoPolicyFile = errors.New("no policy file to watch")

// DefaultReloadDebounce is how long the file must be quiet before a reload.
const DefaultReloadDebounce = 200 * time.Millisecond

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithReloadDebounce overrides DefaultReloadDebounce.
func WithReloadDebounce(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// WithReloadHook is called after every successful reload with the new rule
// count.
func WithReloadHook(fn func(rules int)) ReloaderOption {
	return func(r *Reloader) { r.onReload = fn }
}

// Reloader is a governance.PolicyEvaluator whose rule set can be replaced
// while the service runs.
//
// # Description
//
// The active RuleEvaluator sits behind an atomic pointer. Reload re-reads
// the rules file and swaps it in only if it parses; a broken edit leaves
// the previous rules in force. Start watches the file's directory with
// fsnotify so saves made by editors that write a temp file and rename it
// are picked up too.
//
// # Thread Safety
//
// Safe for concurrent use. Evaluate never blocks on a reload.
type Reloader struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration
	onReload func(rules int)

	current atomic.Pointer[RuleEvaluator]

	startOnce sync.Once
	wg        sync.WaitGroup
}

var _ governance.PolicyEvaluator = (*Reloader)(nil)

// NewReloader loads the rules at path, or the built-in rules when path is
// empty.
//
// # Outputs
//
//   - *Reloader: Serving the loaded rules.
//   - error: The file cannot be read or parsed.
func NewReloader(path string, logger *slog.Logger, opts ...ReloaderOption) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reloader{logger: logger, debounce: DefaultReloadDebounce}
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve policy file %s: %w", path, err)
		}
		r.path = abs
	}
	for _, opt := range opts {
		opt(r)
	}

	eval, err := LoadFile(r.path, logger)
	if err != nil {
		return nil, err
	}
	r.current.Store(eval)
	return r, nil
}

// Path returns the absolute rules file path, empty for the built-in rules.
func (r *Reloader) Path() string {
	return r.path
}

// Rules returns the rules currently in force.
func (r *Reloader) Rules() []Rule {
	return r.current.Load().Rules()
}

// Evaluate implements governance.PolicyEvaluator against the current rules.
func (r *Reloader) Evaluate(ctx context.Context, input governance.PolicyInput) (*governance.PolicyResult, error) {
	return r.current.Load().Evaluate(ctx, input)
}

// Reload re-reads the rules file. On error the previous rules stay active.
func (r *Reloader) Reload() error {
	eval, err := LoadFile(r.path, r.logger)
	if err != nil {
		r.logger.Warn("policy reload failed, keeping previous rules",
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
		return err
	}
	r.current.Store(eval)
	n := len(eval.rules.Rules)
	r.logger.Info("policy rules reloaded",
		slog.String("path", r.path),
		slog.Int("rules", n),
	)
	if r.onReload != nil {
		r.onReload(n)
	}
	return nil
}

// Start begins watching the rules file until ctx is cancelled.
//
// # Description
//
// The watch is registered before Start returns, so a write made after the
// call is never missed. Events are debounced; a burst of writes causes a
// single reload. Calling Start again is a no-op.
//
// # Outputs
//
//   - error: ErrNoPolicyFile when using the built-in rules, or a watcher
//     setup failure.
func (r *Reloader) Start(ctx context.Context) error {
	if r.path == "" {
		return ErrNoPolicyFile
	}

	var err error
	r.startOnce.Do(func() {
		var w *fsnotify.Watcher
		w, err = fsnotify.NewWatcher()
		if err != nil {
			err = fmt.Errorf("create policy watcher: %w", err)
			return
		}
		if err = w.Add(filepath.Dir(r.path)); err != nil {
			_ = w.Close()
			err = fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
			return
		}
		r.wg.Add(1)
		go r.watch(ctx, w)
	})
	return err
}

// Wait blocks until the watch loop started by Start has exited.
func (r *Reloader) Wait() {
	r.wg.Wait()
}

func (r *Reloader) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer r.wg.Done()
	defer w.Close()

	timer := time.NewTimer(r.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != r.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(r.debounce)
		case <-timer.C:
			_ = r.Reload()
		case werr, ok := <-w.Errors:
			if !ok {
				return
			}
			r.logger.Warn("policy watcher error", slog.String("error", werr.Error()))
		}
	}
}
