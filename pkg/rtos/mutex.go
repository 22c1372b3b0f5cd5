// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtos

import "time"

// Mutex is a mutual exclusion lock that supports bounded waits.
type Mutex struct {
	sem chan struct{}
}

// NewMutex creates an unlocked mutex.
func NewMutex() *Mutex {
	return &Mutex{sem: make(chan struct{}, 1)}
}

// Lock blocks until the mutex is held.
func (m *Mutex) Lock() {
	m.sem <- struct{}{}
}

// TryLock acquires the mutex only if it is free.
func (m *Mutex) TryLock() bool {
	select {
	case m.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// LockTimeout waits up to timeout for the mutex and reports whether it was
// acquired.
func (m *Mutex) LockTimeout(timeout time.Duration) bool {
	if m.TryLock() {
		return true
	}
	if timeout == 0 {
		return false
	}

	timer, stop := deadline(timeout)
	defer stop()

	select {
	case m.sem <- struct{}{}:
		return true
	case <-timer:
		return false
	}
}

// Unlock releases the mutex. Unlocking an unlocked mutex panics.
func (m *Mutex) Unlock() {
	select {
	case <-m.sem:
	default:
		panic("rtos: unlock of unlocked mutex")
	}
}
