// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build unix

package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// Map opens (and optionally creates) the file described by opts and maps
// it into memory with MAP_SHARED.
func Map(opts MapOptions) (*Region, error) {
	flags := os.O_RDWR
	if opts.ReadOnly {
		flags = os.O_RDONLY
	}
	if opts.Create || opts.Exclusive {
		flags |= os.O_CREATE
	}
	if opts.Exclusive {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(opts.Path, flags, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, opts.Path)
		}
		return nil, fmt.Errorf("shm: open %s: %w", opts.Path, err)
	}

	size, err := prepare(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	prot := unix.PROT_READ
	if !opts.ReadOnly {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("shm: mmap %s (%d bytes): %w", opts.Path, size, err)
	}

	r := &Region{
		path:     opts.Path,
		data:     data,
		readOnly: opts.ReadOnly,
	}
	r.closer = func() error {
		errMap := unix.Munmap(data)
		errFile := f.Close()
		return errors.Join(errMap, errFile)
	}
	return r, nil
}

// prepare grows the file when asked to and returns the length to map.
func prepare(f *os.File, opts MapOptions) (int, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("shm: stat %s: %w", opts.Path, err)
	}
	current := info.Size()

	size := opts.Size
	if size == 0 {
		size = int(current)
	}
	if size <= 0 {
		return 0, fmt.Errorf("%w: %s is empty", ErrTooSmall, opts.Path)
	}

	if current < int64(size) {
		if !(opts.Create || opts.Exclusive) || opts.ReadOnly {
			return 0, fmt.Errorf("%w: %s has %d bytes, need %d", ErrTooSmall, opts.Path, current, size)
		}
		if err := f.Truncate(int64(size)); err != nil {
			return 0, fmt.Errorf("shm: grow %s to %d bytes: %w", opts.Path, size, err)
		}
	}
	return size, nil
}

// Remove deletes the backing file. Existing mappings stay valid until closed.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("shm: remove %s: %w", path, err)
	}
	return nil
}
