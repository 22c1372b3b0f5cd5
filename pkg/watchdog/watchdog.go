// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package watchdog supervises task liveness. Supervised tasks kick their
// entry once per loop; an entry that goes stale gets its task killed and
// recreated.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Thermoquad/zenith/pkg/rtos"
)

const (
	// DefaultTimeout is the liveness window for every supervised task.
	DefaultTimeout = 5 * time.Second
	// DefaultPeriod is the supervisor check interval.
	DefaultPeriod = 100 * time.Millisecond
)

// ErrUnknownTask is returned by Kick for unregistered tasks.
var ErrUnknownTask = errors.New("watchdog: unknown task")

// Restarter recreates a task by name.
type Restarter interface {
	Restart(name string) error
}

// Entry is the liveness record of one supervised task.
type Entry struct {
	TaskID    string
	LastAlive uint32
	Timeout   time.Duration
	Restarts  int
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithPeriod sets the supervisor check interval.
func WithPeriod(d time.Duration) Option {
	return func(w *Watchdog) { w.period = d }
}

// WithLogger sets the watchdog logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watchdog) { w.logger = l }
}

// WithFatal sets the handler for failed restarts. The system cannot continue
// after it is called.
func WithFatal(fn func(error)) Option {
	return func(w *Watchdog) { w.fatal = fn }
}

// WithRestartHook is called after each successful restart.
func WithRestartHook(fn func(taskID string)) Option {
	return func(w *Watchdog) { w.onRestart = fn }
}

// Watchdog tracks entries and restarts stale tasks.
type Watchdog struct {
	mu      sync.Mutex
	entries map[string]*Entry

	clock     rtos.TickSource
	restarter Restarter
	period    time.Duration
	logger    *slog.Logger
	fatal     func(error)
	onRestart func(string)
}

// New creates a watchdog that reads time from clock and restarts tasks
// through restarter.
func New(clock rtos.TickSource, restarter Restarter, opts ...Option) *Watchdog {
	w := &Watchdog{
		entries:   make(map[string]*Entry),
		clock:     clock,
		restarter: restarter,
		period:    DefaultPeriod,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return w
}

// Register starts supervising taskID. The entry starts alive at the current
// tick. Registering an existing task resets its entry.
func (w *Watchdog) Register(taskID string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[taskID] = &Entry{
		TaskID:    taskID,
		LastAlive: w.clock.Tick(),
		Timeout:   timeout,
	}
}

// Kick records that taskID completed a loop iteration.
func (w *Watchdog) Kick(taskID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	e.LastAlive = w.clock.Tick()
	return nil
}

// Entries returns a snapshot of all entries ordered by task id.
func (w *Watchdog) Entries() []Entry {
	w.mu.Lock()
	out := make([]Entry, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, *e)
	}
	w.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// Check runs one supervisor pass and returns the tasks it restarted. A
// failed restart calls the fatal handler and returns the error.
func (w *Watchdog) Check() ([]string, error) {
	now := w.clock.Tick()

	w.mu.Lock()
	var stale []string
	for id, e := range w.entries {
		if rtos.Elapsed(e.LastAlive, now) > e.Timeout {
			stale = append(stale, id)
			w.logger.Warn("task unresponsive",
				"task", id, "silent_for", rtos.Elapsed(e.LastAlive, now), "timeout", e.Timeout)
		}
	}
	w.mu.Unlock()
	sort.Strings(stale)

	for _, id := range stale {
		if err := w.restarter.Restart(id); err != nil {
			err = fmt.Errorf("watchdog restart of %s failed: %w", id, err)
			w.logger.Error("task recreation failed", "task", id, "error", err)
			if w.fatal != nil {
				w.fatal(err)
			}
			return nil, err
		}

		w.mu.Lock()
		if e, ok := w.entries[id]; ok {
			e.LastAlive = w.clock.Tick()
			e.Restarts++
		}
		w.mu.Unlock()

		w.logger.Info("task restarted", "task", id)
		if w.onRestart != nil {
			w.onRestart(id)
		}
	}
	return stale, nil
}

// Run checks entries every period until ctx ends or a restart fails.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Check(); err != nil {
				return err
			}
		}
	}
}
