// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rtos provides the scheduling primitives the flight software is
// built on: a monotonic tick clock, bounded queues with timeouts, a timed
// mutex, an event group and a task kernel that can kill and recreate tasks.
package rtos

import "time"

// TickSource reports monotonic milliseconds since boot. Ticks are 32-bit and
// wrap; compare them with Elapsed.
type TickSource interface {
	Tick() uint32
}

// Clock is a TickSource backed by the runtime monotonic clock.
type Clock struct {
	boot time.Time
}

// NewClock creates a clock whose tick zero is now.
func NewClock() *Clock {
	return &Clock{boot: time.Now()}
}

// Tick returns milliseconds since the clock was created.
func (c *Clock) Tick() uint32 {
	return uint32(time.Since(c.boot).Milliseconds())
}

// Uptime returns the time since the clock was created.
func (c *Clock) Uptime() time.Duration {
	return time.Since(c.boot)
}

// Elapsed returns the time between two ticks, tolerating wraparound.
func Elapsed(from, to uint32) time.Duration {
	return time.Duration(to-from) * time.Millisecond
}
