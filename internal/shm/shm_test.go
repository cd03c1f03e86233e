// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build unix

package shm

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestMapCreateGrowsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")

	r, err := Map(MapOptions{Path: path, Size: 8192, Create: true})
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	defer r.Close()

	if r.Size() != 8192 {
		t.Errorf("Size() = %d, want 8192", r.Size())
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size() != 8192 {
		t.Errorf("file size = %d, want 8192", info.Size())
	}
}

func TestMapSharesBytesBetweenMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")

	w, err := Map(MapOptions{Path: path, Size: 4096, Create: true})
	if err != nil {
		t.Fatalf("Map(writer) error = %v", err)
	}
	defer w.Close()

	r, err := Map(MapOptions{Path: path, ReadOnly: true})
	if err != nil {
		t.Fatalf("Map(reader) error = %v", err)
	}
	defer r.Close()

	if !r.ReadOnly() {
		t.Error("reader should be read-only")
	}

	copy(w.Bytes()[128:], "hello")
	atomic.StoreUint64(w.Word64(8), 42)

	if got := string(r.Bytes()[128:133]); got != "hello" {
		t.Errorf("reader bytes = %q, want %q", got, "hello")
	}
	if got := atomic.LoadUint64(r.Word64(8)); got != 42 {
		t.Errorf("reader word = %d, want 42", got)
	}
}

func TestMapExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")

	r, err := Map(MapOptions{Path: path, Size: 4096, Exclusive: true})
	if err != nil {
		t.Fatalf("Map() error = %v", err)
	}
	defer r.Close()

	_, err = Map(MapOptions{Path: path, Size: 4096, Exclusive: true})
	if !errors.Is(err, ErrExists) {
		t.Errorf("second exclusive Map() error = %v, want ErrExists", err)
	}
}

func TestMapTooSmall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	if err := os.WriteFile(path, make([]byte, 16), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Map(MapOptions{Path: path, Size: 4096})
	if !errors.Is(err, ErrTooSmall) {
		t.Errorf("Map() error = %v, want ErrTooSmall", err)
	}

	_, err = Map(MapOptions{Path: filepath.Join(t.TempDir(), "empty"), Create: true})
	if !errors.Is(err, ErrTooSmall) {
		t.Errorf("Map(empty) error = %v, want ErrTooSmall", err)
	}
}

func TestWordAlignmentPanics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region")
	r, err := Map(MapOptions{Path: path, Size: 64, Create: true})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	tests := []struct {
		name string
		fn   func()
	}{
		{"misaligned 64", func() { r.Word64(4) }},
		{"misaligned 32", func() { r.Word32(2) }},
		{"out of range", func() { r.Word64(64) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.fn()
		})
	}
}

func TestCloseIdempotent(t *testing.T) {
	r, err := Map(MapOptions{Path: filepath.Join(t.TempDir(), "region"), Size: 64, Create: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRemoveMissing(t *testing.T) {
	if err := Remove(filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Errorf("Remove(missing) error = %v, want nil", err)
	}
}
