// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !unix

package shm

// Map returns ErrUnsupported on non-unix platforms.
func Map(MapOptions) (*Region, error) {
	return nil, ErrUnsupported
}

// Remove returns ErrUnsupported on non-unix platforms.
func Remove(string) error {
	return ErrUnsupported
}
