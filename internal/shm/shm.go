// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package shm maps files into memory so that several processes can share
// the same bytes without copying through the kernel on every access.
//
// A Region is a view of a file mapped with MAP_SHARED. Regions opened
// read-only are mapped without PROT_WRITE, so a stray write from a reader
// faults instead of corrupting the writer's data.
//
// Word32 and Word64 hand out pointers into the mapping for use with
// sync/atomic. Offsets must be naturally aligned; mappings are page
// aligned, so any offset that is a multiple of the word size qualifies.
package shm

import (
	"errors"
	"fmt"
	"unsafe"
)

var (
	// ErrUnsupported is returned on platforms without shared file mappings.
	ErrUnsupported = errors.New("shm: shared memory not supported on this platform")

	// ErrTooSmall is returned when an existing file is smaller than the
	// requested mapping and Create was not set.
	ErrTooSmall = errors.New("shm: file smaller than requested size")

	// ErrExists is returned by an exclusive create when the file exists.
	ErrExists = errors.New("shm: file already exists")
)

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	// Path is the backing file.
	Path string

	// Size is the number of bytes to map. Zero maps the whole file.
	Size int

	// Create creates the file if missing and grows it to Size.
	// Files are never shrunk.
	Create bool

	// Exclusive fails with ErrExists if the file already exists.
	// Implies Create.
	Exclusive bool

	// ReadOnly maps the region without write access.
	ReadOnly bool
}

// Region represents a memory-mapped shared region.
type Region struct {
	path     string
	data     []byte
	readOnly bool
	closer   func() error
}

// Path returns the backing file path.
func (r *Region) Path() string { return r.path }

// Size returns the mapped length in bytes.
func (r *Region) Size() int { return len(r.data) }

// ReadOnly reports whether the region was mapped without write access.
func (r *Region) ReadOnly() bool { return r.readOnly }

// Bytes returns the mapped memory. The slice is invalid after Close.
func (r *Region) Bytes() []byte { return r.data }

// Word32 returns a pointer to the aligned 32-bit word at off.
func (r *Region) Word32(off int) *uint32 {
	r.checkWord(off, 4)
	return (*uint32)(unsafe.Pointer(&r.data[off]))
}

// Word64 returns a pointer to the aligned 64-bit word at off.
func (r *Region) Word64(off int) *uint64 {
	r.checkWord(off, 8)
	return (*uint64)(unsafe.Pointer(&r.data[off]))
}

func (r *Region) checkWord(off, size int) {
	if off < 0 || off+size > len(r.data) || off%size != 0 {
		panic(fmt.Sprintf("shm: misaligned or out of range word at %d (size %d, region %d)", off, size, len(r.data)))
	}
}

// Close unmaps the region and releases the file. Close is idempotent.
func (r *Region) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer()
	r.closer = nil
	r.data = nil
	return err
}
