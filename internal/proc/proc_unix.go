// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build unix

package proc

import (
	"errors"

	"golang.org/x/sys/unix"
)

// exists sends signal 0, which performs the permission and existence
// checks without delivering anything. EPERM means the process exists
// but belongs to someone else.
func exists(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
