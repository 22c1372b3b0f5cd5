// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package fault injects deliberate failures into flight tasks and the
// transport so recovery paths can be exercised.
package fault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// MaxFaults is the number of records the engine holds at once.
	MaxFaults = 8
	// LeakSize is the allocation retained each time MEMORY_LEAK fires.
	LeakSize = 100
	// SpinFactor scales a CPU_OVERLOAD parameter into loop iterations.
	SpinFactor = 10000
)

var (
	ErrCapacityExceeded   = errors.New("fault capacity exceeded")
	ErrInvalidProbability = errors.New("fault probability must be within [0, 1]")
	ErrInvalidKind        = errors.New("invalid fault kind")
)

// Kind identifies what a fault does when it fires.
type Kind int

const (
	None Kind = iota
	TaskDelay
	TaskHang
	MemoryLeak
	TransportDrop
	TransportDelay
	CPUOverload
	ADCSError
)

var kindNames = map[Kind]string{
	None:           "none",
	TaskDelay:      "task_delay",
	TaskHang:       "task_hang",
	MemoryLeak:     "memory_leak",
	TransportDrop:  "transport_drop",
	TransportDelay: "transport_delay",
	CPUOverload:    "cpu_overload",
	ADCSError:      "adcs_error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind parses a kind name such as "task_hang".
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Fault is one registered fault record.
type Fault struct {
	Kind        Kind
	Duration    time.Duration // TASK_DELAY, TRANSPORT_DELAY
	Probability float64
	Param       uint32 // CPU_OVERLOAD load factor
}

func (f Fault) String() string {
	s := fmt.Sprintf("%s p=%.2f", f.Kind, f.Probability)
	if f.Duration > 0 {
		s += fmt.Sprintf(" d=%s", f.Duration)
	}
	if f.Param > 0 {
		s += fmt.Sprintf(" param=%d", f.Param)
	}
	return s
}

// ParseFault parses "kind:probability[:duration[:param]]", for example
// "task_delay:0.1:200ms" or "cpu_overload:0.5:0:20".
func ParseFault(s string) (Fault, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 4 {
		return Fault{}, fmt.Errorf("fault %q: expected kind:probability[:duration[:param]]", s)
	}

	kind, err := ParseKind(parts[0])
	if err != nil {
		return Fault{}, err
	}
	prob, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Fault{}, fmt.Errorf("fault %q: probability: %w", s, err)
	}

	f := Fault{Kind: kind, Probability: prob}
	if len(parts) > 2 && parts[2] != "" && parts[2] != "0" {
		if f.Duration, err = time.ParseDuration(parts[2]); err != nil {
			return Fault{}, fmt.Errorf("fault %q: duration: %w", s, err)
		}
	}
	if len(parts) > 3 {
		param, err := strconv.ParseUint(parts[3], 10, 32)
		if err != nil {
			return Fault{}, fmt.Errorf("fault %q: param: %w", s, err)
		}
		f.Param = uint32(param)
	}
	return f, f.Validate()
}

// Validate checks kind and probability.
func (f Fault) Validate() error {
	if _, ok := kindNames[f.Kind]; !ok {
		return fmt.Errorf("%w: %d", ErrInvalidKind, int(f.Kind))
	}
	if f.Probability < 0 || f.Probability > 1 || f.Probability != f.Probability {
		return fmt.Errorf("%w: %v", ErrInvalidProbability, f.Probability)
	}
	return nil
}

// Sampler returns uniform samples in [0, 1).
type Sampler func() float64

// Suspender is implemented by tasks that can block until resumed.
type Suspender interface {
	Suspend() error
}

// Option configures an Engine.
type Option func(*Engine)

// WithSampler replaces the random source.
func WithSampler(s Sampler) Option {
	return func(e *Engine) { e.sample = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithFiredHook is called with the kind of every fault that fires.
func WithFiredHook(fn func(Kind)) Option {
	return func(e *Engine) { e.onFire = fn }
}

// Engine holds the active fault records.
type Engine struct {
	mu     sync.Mutex
	faults []Fault
	leaked [][]byte

	sample Sampler
	logger *slog.Logger
	onFire func(Kind)
}

// NewEngine creates an engine with no faults registered.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		faults: make([]Fault, 0, MaxFaults),
		sample: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e
}

// Register adds a fault record.
func (e *Engine) Register(f Fault) error {
	if err := f.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.faults) >= MaxFaults {
		return fmt.Errorf("%w: %d records active", ErrCapacityExceeded, len(e.faults))
	}
	e.faults = append(e.faults, f)
	e.logger.Info("fault registered", "fault", f.String())
	return nil
}

// ClearAll removes every record and releases leaked memory.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults = e.faults[:0]
	e.leaked = nil
}

// Active returns a copy of the registered records.
func (e *Engine) Active() []Fault {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Fault(nil), e.faults...)
}

// LeakedBytes returns the memory retained by MEMORY_LEAK faults.
func (e *Engine) LeakedBytes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.leaked) * LeakSize
}

// Evaluate draws a sample for each record of the given kind and fires the
// first one whose sample falls below its probability. Delays and hangs block
// the caller; self is suspended for TASK_HANG (nil blocks until ctx ends).
// Reports whether a fault fired.
func (e *Engine) Evaluate(ctx context.Context, kind Kind, self Suspender) bool {
	if kind == None {
		return false
	}

	e.mu.Lock()
	var candidates []Fault
	for _, f := range e.faults {
		if f.Kind == kind {
			candidates = append(candidates, f)
		}
	}
	e.mu.Unlock()

	for _, f := range candidates {
		if e.sample() < f.Probability {
			e.fire(ctx, f, self)
			return true
		}
	}
	return false
}

func (e *Engine) fire(ctx context.Context, f Fault, self Suspender) {
	e.logger.Debug("fault fired", "fault", f.String())
	if e.onFire != nil {
		e.onFire(f.Kind)
	}

	switch f.Kind {
	case TaskDelay, TransportDelay:
		if f.Duration <= 0 {
			return
		}
		timer := time.NewTimer(f.Duration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}

	case TaskHang:
		if self != nil {
			_ = self.Suspend()
			return
		}
		<-ctx.Done()

	case MemoryLeak:
		e.mu.Lock()
		e.leaked = append(e.leaked, make([]byte, LeakSize))
		e.mu.Unlock()

	case CPUOverload:
		spin(uint64(f.Param) * SpinFactor)

	case TransportDrop, ADCSError:
		// The call site short-circuits.
	}
}

var spinSink atomic.Uint64

func spin(iterations uint64) {
	var acc uint64
	for i := uint64(0); i < iterations; i++ {
		acc = acc*31 + i
	}
	spinSink.Store(acc)
}
