// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtos

import (
	"context"
	"fmt"
	"sync"
)

// Task is one running instance of a TaskSpec.
type Task struct {
	spec       TaskSpec
	generation uint64
	restarts   int
	kernel     *Kernel

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	resume chan struct{} // non-nil while suspended
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.spec.Name
}

// Priority returns the task priority.
func (t *Task) Priority() int {
	return t.spec.Priority
}

// Generation returns the instance number assigned at creation.
func (t *Task) Generation() uint64 {
	return t.generation
}

// Alive reports whether this instance has not been killed.
func (t *Task) Alive() bool {
	return t.ctx.Err() == nil
}

// Kick reports liveness for this instance. Killed instances are ignored.
func (t *Task) Kick() {
	if !t.Alive() || t.kernel.liveness == nil || !t.kernel.current(t) {
		return
	}
	t.kernel.liveness(t.spec.Name)
}

// Suspend blocks the calling task until Resume is called or the task is
// killed. It returns the context error in the latter case.
func (t *Task) Suspend() error {
	t.mu.Lock()
	if t.resume == nil {
		t.resume = make(chan struct{})
	}
	resume := t.resume
	t.mu.Unlock()

	select {
	case <-resume:
	case <-t.ctx.Done():
	}
	return t.ctx.Err()
}

// Resume releases a suspended task. It has no effect otherwise.
func (t *Task) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resume != nil {
		close(t.resume)
		t.resume = nil
	}
}

// Suspended reports whether the task is blocked in Suspend.
func (t *Task) Suspended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resume != nil
}

func (t *Task) info() TaskInfo {
	return TaskInfo{
		Name:       t.spec.Name,
		Priority:   t.spec.Priority,
		StackSize:  t.spec.StackSize,
		Generation: t.generation,
		Restarts:   t.restarts,
		Suspended:  t.Suspended(),
	}
}

func (t *Task) run() {
	defer t.kernel.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			// The task stops kicking; the watchdog recreates it.
			t.kernel.logger.Error("task panicked", "task", t.spec.Name,
				"generation", t.generation, "panic", fmt.Sprint(r))
		}
	}()
	t.spec.Entry(t.ctx, t)
}
