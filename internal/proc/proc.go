// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package proc answers the one question the sharing protocol trusts:
// does a given process still exist?
//
// A pid alone is not an identity because the kernel recycles pids. Where
// the platform exposes it (Linux, via procfs), the process start time is
// recorded next to the pid and compared on every check, so a recycled pid
// is reported as dead.
package proc

import (
	"os"
	"path/filepath"
	"sync"
)

// Identity names a running process.
type Identity struct {
	// PID is the process id.
	PID int

	// Start is the process start time in clock ticks since boot,
	// or zero when the platform does not report it.
	Start uint64

	// Exe is the base name of the executable.
	Exe string
}

var (
	selfOnce sync.Once
	self     Identity
)

// Self returns the identity of the calling process. The result is cached.
func Self() Identity {
	selfOnce.Do(func() {
		pid := os.Getpid()
		self = Identity{
			PID:   pid,
			Start: StartTime(pid),
			Exe:   Executable(pid),
		}
		if self.Exe == "" {
			if exe, err := os.Executable(); err == nil {
				self.Exe = filepath.Base(exe)
			}
		}
	})
	return self
}

// Alive reports whether the process pid exists and, when start is
// non-zero, whether it is still the same process that started at start.
func Alive(pid int, start uint64) bool {
	if pid <= 0 {
		return false
	}
	if !exists(pid) {
		return false
	}
	if start == 0 {
		return true
	}
	got, ok := stat(pid)
	if !ok {
		// Platform without start times: existence is all we can check.
		return got.unsupported
	}
	return !got.zombie && got.start == start
}

// statResult is the portable subset of per-process status.
type statResult struct {
	start       uint64
	zombie      bool
	unsupported bool
}
