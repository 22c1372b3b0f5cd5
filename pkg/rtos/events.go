// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtos

import (
	"context"
	"sync"
	"time"
)

// EventBits is a set of event flags.
type EventBits uint32

// System event bits
const (
	EventCommandReceived EventBits = 1 << iota
	EventTelemetryReady
	EventADCSUpdated
	EventError
)

// EventGroup is a set of flags tasks can set and wait on.
type EventGroup struct {
	mu      sync.Mutex
	bits    EventBits
	changed chan struct{}
}

// NewEventGroup creates an event group with no bits set.
func NewEventGroup() *EventGroup {
	return &EventGroup{changed: make(chan struct{})}
}

// Set sets bits and wakes waiters.
func (g *EventGroup) Set(bits EventBits) {
	g.mu.Lock()
	g.bits |= bits
	close(g.changed)
	g.changed = make(chan struct{})
	g.mu.Unlock()
}

// Clear clears bits.
func (g *EventGroup) Clear(bits EventBits) {
	g.mu.Lock()
	g.bits &^= bits
	g.mu.Unlock()
}

// Get returns the current bits.
func (g *EventGroup) Get() EventBits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bits
}

// Wait blocks until any bit in mask is set, timeout elapses or ctx ends. It
// returns the matched bits, zero on timeout. With consume set the matched bits
// are cleared before returning.
func (g *EventGroup) Wait(ctx context.Context, mask EventBits, consume bool, timeout time.Duration) EventBits {
	timer, stop := deadline(timeout)
	defer stop()

	for {
		g.mu.Lock()
		matched := g.bits & mask
		if matched != 0 {
			if consume {
				g.bits &^= matched
			}
			g.mu.Unlock()
			return matched
		}
		changed := g.changed
		g.mu.Unlock()

		if timeout == 0 {
			return 0
		}

		select {
		case <-changed:
		case <-timer:
			return 0
		case <-ctx.Done():
			return 0
		}
	}
}
