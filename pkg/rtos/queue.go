// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtos

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Forever blocks without a deadline. A zero timeout never blocks.
const Forever time.Duration = -1

var (
	ErrQueueFull  = errors.New("queue full")
	ErrQueueEmpty = errors.New("queue empty")
)

// Queue is a bounded FIFO with timed send and receive. Items are delivered
// in send order.
type Queue[T any] struct {
	ch chan T
	mu sync.Mutex // serializes SendEvictOldest
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Send enqueues v, waiting up to timeout for space. Returns ErrQueueFull on
// timeout or ctx.Err() if ctx ends first.
func (q *Queue[T]) Send(ctx context.Context, v T, timeout time.Duration) error {
	select {
	case q.ch <- v:
		return nil
	default:
	}
	if timeout == 0 {
		return ErrQueueFull
	}

	timer, stop := deadline(timeout)
	defer stop()

	select {
	case q.ch <- v:
		return nil
	case <-timer:
		return ErrQueueFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive dequeues the oldest item, waiting up to timeout. Returns
// ErrQueueEmpty on timeout or ctx.Err() if ctx ends first.
func (q *Queue[T]) Receive(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	select {
	case v := <-q.ch:
		return v, nil
	default:
	}
	if timeout == 0 {
		return zero, ErrQueueEmpty
	}

	timer, stop := deadline(timeout)
	defer stop()

	select {
	case v := <-q.ch:
		return v, nil
	case <-timer:
		return zero, ErrQueueEmpty
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// SendEvictOldest enqueues v without blocking, discarding the oldest item if
// the queue is full. Reports whether an item was discarded.
func (q *Queue[T]) SendEvictOldest(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	evicted := false
	for {
		select {
		case q.ch <- v:
			return evicted
		default:
		}
		select {
		case <-q.ch:
			evicted = true
		default:
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// deadline returns a channel that fires after timeout, or never for Forever.
func deadline(timeout time.Duration) (<-chan time.Time, func()) {
	if timeout < 0 {
		return nil, func() {}
	}
	t := time.NewTimer(timeout)
	return t.C, func() { t.Stop() }
}
