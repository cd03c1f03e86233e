// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build unix

package segment

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testHeader() Header {
	h := Header{
		Width:   4,
		Height:  2,
		Format:  1,
		Stride:  16,
		PID:     uint32(os.Getpid()),
		Flavor:  1,
		Start:   42,
		Adapter: 7,
	}
	copy(h.Token[:], "0123456789abcdef")
	return h
}

func TestCreateOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName(os.Getpid(), "tok"))
	h := testHeader()

	w, err := Create(path, h)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer w.Close()

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	if got := r.Header(); got != h {
		t.Errorf("Header() = %+v, want %+v", got, h)
	}
	if got := r.Frame(); got != 0 {
		t.Errorf("Frame() = %d, want 0", got)
	}
	if r.Closed() {
		t.Error("Closed() = true on fresh segment")
	}
	if got := len(r.Pixels()); got != h.PixelBytes() {
		t.Errorf("len(Pixels()) = %d, want %d", got, h.PixelBytes())
	}
}

func TestCreateRejectsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.seg")
	w, err := Create(path, testHeader())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer w.Close()

	if _, err := Create(path, testHeader()); err == nil {
		t.Error("second Create() error = nil, want error")
	}
}

func TestCreateRejectsEmpty(t *testing.T) {
	h := testHeader()
	h.Width = 0
	_, err := Create(filepath.Join(t.TempDir(), "a.seg"), h)
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Create(width=0) error = %v, want ErrInvalid", err)
	}
}

func TestOpenRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.seg")
	if err := os.WriteFile(path, make([]byte, HeaderSize+64), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrInvalid) {
		t.Errorf("Open(zeroed file) error = %v, want ErrInvalid", err)
	}
}

func TestPublishCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.seg")
	h := testHeader()
	w, err := Create(path, h)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer w.Close()
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	dst := make([]byte, h.PixelBytes())
	for i := 1; i <= 3; i++ {
		src := bytes.Repeat([]byte{byte(i)}, h.PixelBytes())
		frame, err := w.Publish(src)
		if err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		if frame != uint64(i) {
			t.Errorf("Publish() frame = %d, want %d", frame, i)
		}
		got, err := r.CopyTo(dst, time.Now().Add(time.Second))
		if err != nil {
			t.Fatalf("CopyTo() error = %v", err)
		}
		if got != uint64(i) {
			t.Errorf("CopyTo() frame = %d, want %d", got, i)
		}
		if !bytes.Equal(dst, src) {
			t.Errorf("frame %d: pixels differ", i)
		}
		if r.Frame() != uint64(i) {
			t.Errorf("Frame() = %d, want %d", r.Frame(), i)
		}
	}
}

func TestPublishShortFrame(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "a.seg"), testHeader())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	defer w.Close()
	if _, err := w.Publish(make([]byte, 3)); err == nil {
		t.Error("Publish(short) error = nil, want error")
	}
	if w.Frame() != 0 {
		t.Errorf("Frame() after failed publish = %d, want 0", w.Frame())
	}
}

func TestCloseMarksAndRemoves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.seg")
	w, err := Create(path, testHeader())
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !r.Closed() {
		t.Error("reader Closed() = false after writer Close")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("segment file still present after Close: %v", err)
	}
	if _, err := w.Publish(make([]byte, testHeader().PixelBytes())); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish after Close error = %v, want ErrClosed", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestIsFileName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{FileName(12, "abc"), true},
		{"catalog", false},
		{"x.seg.tmp", false},
	}
	for _, tt := range tests {
		if got := IsFileName(tt.name); got != tt.want {
			t.Errorf("IsFileName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
