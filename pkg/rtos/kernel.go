// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

var (
	ErrResourceExhausted = errors.New("task resources exhausted")
	ErrTaskExists        = errors.New("task already exists")
	ErrUnknownTask       = errors.New("unknown task")
	ErrHalted            = errors.New("kernel halted")
)

// DefaultMaxTasks is the task table size used when none is configured.
const DefaultMaxTasks = 16

// Status is the kernel run state.
type Status int

const (
	Running Status = iota
	Halted
)

func (s Status) String() string {
	if s == Halted {
		return "HALTED"
	}
	return "RUNNING"
}

// TaskFunc is a task entry point. It must return once ctx is done.
type TaskFunc func(ctx context.Context, t *Task)

// TaskSpec describes a task. The same spec is reused when the task is
// recreated.
type TaskSpec struct {
	Name      string
	Priority  int
	StackSize int
	Entry     TaskFunc
}

// TaskInfo is a snapshot of a task table entry.
type TaskInfo struct {
	Name       string
	Priority   int
	StackSize  int
	Generation uint64
	Restarts   int
	Suspended  bool
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithMaxTasks limits the number of concurrently existing tasks.
func WithMaxTasks(n int) Option {
	return func(k *Kernel) { k.maxTasks = n }
}

// WithLogger sets the kernel logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Kernel) { k.logger = l }
}

// WithLivenessHook sets the function Task.Kick reports to.
func WithLivenessHook(fn func(name string)) Option {
	return func(k *Kernel) { k.liveness = fn }
}

// Kernel owns the task table. Killing a task cancels its context and
// retires its generation; a killed instance can no longer report liveness
// even if its goroutine has not returned yet.
type Kernel struct {
	mu         sync.Mutex
	tasks      map[string]*Task
	generation uint64
	maxTasks   int
	status     Status
	haltReason error

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	logger   *slog.Logger
	liveness func(name string)
}

// NewKernel creates a running kernel with an empty task table.
func NewKernel(opts ...Option) *Kernel {
	ctx, cancel := context.WithCancel(context.Background())
	k := &Kernel{
		tasks:    make(map[string]*Task),
		maxTasks: DefaultMaxTasks,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.logger == nil {
		k.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return k
}

// Spawn creates and starts a task.
func (k *Kernel) Spawn(spec TaskSpec) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.spawnLocked(spec, 0)
}

func (k *Kernel) spawnLocked(spec TaskSpec, restarts int) error {
	if k.status == Halted {
		return ErrHalted
	}
	if spec.Entry == nil {
		return fmt.Errorf("task %q: nil entry point", spec.Name)
	}
	if _, exists := k.tasks[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrTaskExists, spec.Name)
	}
	if len(k.tasks) >= k.maxTasks {
		return fmt.Errorf("%w: cannot create %s (%d/%d tasks)", ErrResourceExhausted, spec.Name, len(k.tasks), k.maxTasks)
	}

	k.generation++
	ctx, cancel := context.WithCancel(k.ctx)
	t := &Task{
		spec:       spec,
		generation: k.generation,
		restarts:   restarts,
		kernel:     k,
		ctx:        ctx,
		cancel:     cancel,
	}
	k.tasks[spec.Name] = t

	k.wg.Add(1)
	go t.run()

	k.logger.Debug("task created", "task", spec.Name, "priority", spec.Priority, "generation", t.generation)
	return nil
}

// Kill terminates a task and removes it from the table.
func (k *Kernel) Kill(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, err := k.killLocked(name)
	return err
}

func (k *Kernel) killLocked(name string) (*Task, error) {
	t, ok := k.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	delete(k.tasks, name)
	t.cancel()
	t.Resume()
	k.logger.Debug("task killed", "task", name, "generation", t.generation)
	return t, nil
}

// Restart kills a task and recreates it with the same spec.
func (k *Kernel) Restart(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	old, err := k.killLocked(name)
	if err != nil {
		return err
	}
	if err := k.spawnLocked(old.spec, old.restarts+1); err != nil {
		return fmt.Errorf("restart %s: %w", name, err)
	}
	return nil
}

// Resume releases a suspended task.
func (k *Kernel) Resume(name string) error {
	k.mu.Lock()
	t, ok := k.tasks[name]
	k.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	t.Resume()
	return nil
}

// Halt stops the kernel permanently. Every task is killed and Done is
// closed. Only the first call has an effect.
func (k *Kernel) Halt(reason error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.status == Halted {
		return
	}
	k.status = Halted
	k.haltReason = reason
	for name := range k.tasks {
		_, _ = k.killLocked(name)
	}
	k.cancel()
	close(k.done)

	if reason != nil {
		k.logger.Error("kernel halted", "reason", reason)
	} else {
		k.logger.Info("kernel halted")
	}
}

// Wait blocks until every task goroutine has returned.
func (k *Kernel) Wait() {
	k.wg.Wait()
}

// Done is closed when the kernel halts.
func (k *Kernel) Done() <-chan struct{} {
	return k.done
}

// Status returns the kernel state and, once halted, the halt reason.
func (k *Kernel) Status() (Status, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status, k.haltReason
}

// Tasks returns the task table ordered by descending priority.
func (k *Kernel) Tasks() []TaskInfo {
	k.mu.Lock()
	infos := make([]TaskInfo, 0, len(k.tasks))
	for _, t := range k.tasks {
		infos = append(infos, t.info())
	}
	k.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Priority != infos[j].Priority {
			return infos[i].Priority > infos[j].Priority
		}
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// current reports whether t is the live instance of its task.
func (k *Kernel) current(t *Task) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	live, ok := k.tasks[t.spec.Name]
	return ok && live == t
}
