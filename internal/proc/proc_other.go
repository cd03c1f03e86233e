// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !linux

package proc

// StartTime returns zero; start times are only read on Linux.
func StartTime(int) uint64 { return 0 }

// Executable returns an empty name; Self falls back to os.Executable.
func Executable(int) string { return "" }

func stat(int) (statResult, bool) {
	return statResult{unsupported: true}, false
}
