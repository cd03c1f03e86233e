// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package fence provides the cross-process synchronization primitives used
// by texshare: a 64-bit monotonic frame counter and a single-writer
// sequence lock, both operating on words that live in shared memory.
//
// Neither primitive takes an OS lock. The writer orders its stores with
// sequentially consistent atomics; readers poll with a bounded backoff.
package fence

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"
)

var (
	// ErrTimeout is returned when a wait ends before the counter advances.
	ErrTimeout = errors.New("fence: wait timed out")

	// ErrAborted is returned when the abort check reports the peer gone.
	ErrAborted = errors.New("fence: wait aborted")
)

// Counter is a 64-bit monotonic counter stored in shared memory.
// Exactly one process may call Signal.
type Counter struct {
	p *uint64
}

// NewCounter wraps the word at p.
func NewCounter(p *uint64) Counter { return Counter{p: p} }

// Value returns the last signaled value.
func (c Counter) Value() uint64 { return atomic.LoadUint64(c.p) }

// Signal publishes v. Values that would move the counter backwards are
// ignored and Signal reports false.
func (c Counter) Signal(v uint64) bool {
	if v <= atomic.LoadUint64(c.p) {
		return false
	}
	atomic.StoreUint64(c.p, v)
	return true
}

// Wait blocks until the counter exceeds after, timeout elapses, or abort
// returns true. It returns the observed value on success.
//
// abort is polled at most every b.AbortEvery and may be nil.
func (c Counter) Wait(after uint64, timeout time.Duration, abort func() bool, b Backoff) (uint64, error) {
	if v := c.Value(); v > after {
		return v, nil
	}
	if timeout <= 0 {
		return 0, ErrTimeout
	}

	deadline := time.Now().Add(timeout)
	nextAbort := time.Now().Add(b.AbortEvery)
	w := b.start()
	for {
		w.pause()

		if v := c.Value(); v > after {
			return v, nil
		}
		now := time.Now()
		if abort != nil && !now.Before(nextAbort) {
			if abort() {
				return 0, ErrAborted
			}
			nextAbort = now.Add(b.AbortEvery)
		}
		if !now.Before(deadline) {
			if abort != nil && abort() {
				return 0, ErrAborted
			}
			return 0, ErrTimeout
		}
		w.clamp(deadline.Sub(now))
	}
}

// Backoff controls how a waiter polls.
type Backoff struct {
	// Spins is the number of yield-only iterations before sleeping.
	Spins int

	// Min and Max bound the sleep between polls; the sleep doubles from
	// Min up to Max.
	Min, Max time.Duration

	// AbortEvery is the interval between abort checks.
	AbortEvery time.Duration
}

// DefaultBackoff is tuned for frame-rate polling: sub-millisecond wake-up
// latency without burning a core for long waits.
var DefaultBackoff = Backoff{
	Spins:      64,
	Min:        50 * time.Microsecond,
	Max:        time.Millisecond,
	AbortEvery: 100 * time.Millisecond,
}

type waiter struct {
	b     Backoff
	spins int
	sleep time.Duration
}

func (b Backoff) start() *waiter {
	if b.Min <= 0 {
		b.Min = DefaultBackoff.Min
	}
	if b.Max < b.Min {
		b.Max = b.Min
	}
	return &waiter{b: b, sleep: b.Min}
}

func (w *waiter) pause() {
	if w.spins < w.b.Spins {
		w.spins++
		runtime.Gosched()
		return
	}
	time.Sleep(w.sleep)
	if w.sleep < w.b.Max {
		w.sleep *= 2
		if w.sleep > w.b.Max {
			w.sleep = w.b.Max
		}
	}
}

// clamp keeps the next sleep from overshooting the deadline.
func (w *waiter) clamp(left time.Duration) {
	if w.sleep > left {
		w.sleep = left
	}
	if w.sleep <= 0 {
		w.sleep = time.Microsecond
	}
}
