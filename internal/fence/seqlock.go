// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fence

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"
)

// ErrBusy is returned when a reader cannot obtain a consistent snapshot
// before its deadline.
var ErrBusy = errors.New("fence: writer kept the sequence busy")

// Seqlock is a single-writer sequence lock over a 64-bit word in shared
// memory. The word is odd while a write is in progress; every completed
// write advances it by two, so Seq/2 counts completed writes.
type Seqlock struct {
	p *uint64
}

// NewSeqlock wraps the word at p.
func NewSeqlock(p *uint64) Seqlock { return Seqlock{p: p} }

// Write runs fn between the odd and even stores. Only one process
// may write.
func (s Seqlock) Write(fn func()) {
	atomic.AddUint64(s.p, 1)
	fn()
	atomic.AddUint64(s.p, 1)
}

// Writes returns the number of completed writes.
func (s Seqlock) Writes() uint64 { return atomic.LoadUint64(s.p) / 2 }

// Read runs fn until it observes a stable, even sequence before and after
// the call, or until deadline passes. It returns the number of completed
// writes that fn's snapshot reflects.
//
// fn must tolerate running against data that is concurrently modified;
// its result is only trusted when Read returns nil.
func (s Seqlock) Read(deadline time.Time, fn func()) (uint64, error) {
	for attempt := 0; ; attempt++ {
		before := atomic.LoadUint64(s.p)
		if before&1 == 0 {
			fn()
			if atomic.LoadUint64(s.p) == before {
				return before / 2, nil
			}
		}
		if !time.Now().Before(deadline) {
			return 0, ErrBusy
		}
		if attempt < 16 {
			runtime.Gosched()
		} else {
			time.Sleep(20 * time.Microsecond)
		}
	}
}
