// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package fence

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCounterSignalMonotonic(t *testing.T) {
	var word uint64
	c := NewCounter(&word)

	tests := []struct {
		v    uint64
		ok   bool
		want uint64
	}{
		{1, true, 1},
		{1, false, 1},
		{5, true, 5},
		{3, false, 5},
		{6, true, 6},
	}
	for _, tt := range tests {
		if got := c.Signal(tt.v); got != tt.ok {
			t.Errorf("Signal(%d) = %v, want %v", tt.v, got, tt.ok)
		}
		if got := c.Value(); got != tt.want {
			t.Errorf("Value() after Signal(%d) = %d, want %d", tt.v, got, tt.want)
		}
	}
}

func TestCounterWaitImmediate(t *testing.T) {
	var word uint64 = 3
	c := NewCounter(&word)

	v, err := c.Wait(2, 0, nil, DefaultBackoff)
	if err != nil || v != 3 {
		t.Errorf("Wait(2) = %d, %v; want 3, nil", v, err)
	}
}

func TestCounterWaitTimeout(t *testing.T) {
	var word uint64 = 3
	c := NewCounter(&word)

	start := time.Now()
	_, err := c.Wait(3, 20*time.Millisecond, nil, DefaultBackoff)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Wait() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Wait returned after %v, before the timeout", elapsed)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Wait returned after %v, far past the timeout", elapsed)
	}

	_, err = c.Wait(3, 0, nil, DefaultBackoff)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Wait(timeout=0) error = %v, want ErrTimeout", err)
	}
}

func TestCounterWaitWakesOnSignal(t *testing.T) {
	var word uint64
	c := NewCounter(&word)

	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Signal(1)
	}()

	v, err := c.Wait(0, 2*time.Second, nil, DefaultBackoff)
	if err != nil || v != 1 {
		t.Errorf("Wait() = %d, %v; want 1, nil", v, err)
	}
}

func TestCounterWaitAbort(t *testing.T) {
	var word uint64
	c := NewCounter(&word)

	var calls atomic.Int32
	abort := func() bool { return calls.Add(1) >= 2 }
	b := DefaultBackoff
	b.AbortEvery = time.Millisecond

	_, err := c.Wait(0, 5*time.Second, abort, b)
	if !errors.Is(err, ErrAborted) {
		t.Errorf("Wait() error = %v, want ErrAborted", err)
	}
}

func TestCounterWaitTimeoutChecksAbort(t *testing.T) {
	var word uint64
	c := NewCounter(&word)

	b := DefaultBackoff
	b.AbortEvery = time.Hour

	_, err := c.Wait(0, 5*time.Millisecond, func() bool { return true }, b)
	if !errors.Is(err, ErrAborted) {
		t.Errorf("Wait() error = %v, want ErrAborted at deadline", err)
	}
}

func TestSeqlockReadConsistent(t *testing.T) {
	var seq uint64
	s := NewSeqlock(&seq)
	// Per-word atomics keep the race detector quiet; tearing across
	// words is still possible without the seqlock.
	data := make([]uint32, 1024)
	snapshot := make([]uint32, len(data))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint32(1); ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			s.Write(func() {
				for j := range data {
					atomic.StoreUint32(&data[j], i)
				}
			})
			time.Sleep(10 * time.Microsecond)
		}
	}()

	for n := 0; n < 200; n++ {
		writes, err := s.Read(time.Now().Add(time.Second), func() {
			for j := range snapshot {
				snapshot[j] = atomic.LoadUint32(&data[j])
			}
		})
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if writes == 0 {
			continue
		}
		if snapshot[0] != uint32(writes) {
			t.Fatalf("snapshot value = %d, want %d writes", snapshot[0], writes)
		}
		for j, v := range snapshot {
			if v != snapshot[0] {
				t.Fatalf("torn snapshot at word %d: %d != %d", j, v, snapshot[0])
			}
		}
	}
	close(stop)
	wg.Wait()
}

func TestSeqlockReadBusy(t *testing.T) {
	seq := uint64(1)
	s := NewSeqlock(&seq)

	_, err := s.Read(time.Now().Add(5*time.Millisecond), func() {})
	if !errors.Is(err, ErrBusy) {
		t.Errorf("Read() on odd sequence error = %v, want ErrBusy", err)
	}
}

func TestSeqlockWrites(t *testing.T) {
	var seq uint64
	s := NewSeqlock(&seq)
	for i := 0; i < 3; i++ {
		s.Write(func() {})
	}
	if got := s.Writes(); got != 3 {
		t.Errorf("Writes() = %d, want 3", got)
	}
}
