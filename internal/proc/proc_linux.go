// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build linux

package proc

import (
	"path/filepath"

	"github.com/prometheus/procfs"
)

// StartTime returns the start time of pid in clock ticks since boot,
// or zero if it cannot be read.
func StartTime(pid int) uint64 {
	s, ok := stat(pid)
	if !ok {
		return 0
	}
	return s.start
}

// Executable returns the base name of the executable of pid.
func Executable(pid int) string {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return ""
	}
	if exe, err := p.Executable(); err == nil && exe != "" {
		return filepath.Base(exe)
	}
	// Executable needs ptrace access; comm is world readable.
	if comm, err := p.Comm(); err == nil {
		return comm
	}
	return ""
}

func stat(pid int) (statResult, bool) {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return statResult{}, false
	}
	st, err := p.Stat()
	if err != nil {
		return statResult{}, false
	}
	return statResult{
		start:  st.Starttime,
		zombie: st.State == "Z" || st.State == "X",
	}, true
}
