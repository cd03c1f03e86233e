// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build unix

package catalog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/texshare/internal/proc"
)

func openTemp(t *testing.T, slots int) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog"), slots)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func selfEntry(name string) Entry {
	id := proc.Self()
	e := Entry{
		PID:     id.PID,
		Start:   id.Start,
		Flavor:  1,
		Width:   640,
		Height:  480,
		Format:  2,
		Adapter: 9,
		Created: time.Unix(1700000000, 5),
		Name:    name,
		Exe:     id.Exe,
		Segment: fmt.Sprintf("%d-%s.seg", id.PID, name),
	}
	copy(e.Token[:], name)
	return e
}

// deadProcess returns the identity of a process that has exited and been
// reaped.
func deadProcess(t *testing.T) (int, uint64) {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start child: %v", err)
	}
	pid := cmd.Process.Pid
	start := proc.StartTime(pid)
	if err := cmd.Wait(); err != nil {
		t.Fatalf("wait child: %v", err)
	}
	return pid, start
}

func collect(c *Catalog) []Entry {
	var out []Entry
	for e := range c.All() {
		out = append(out, e)
	}
	return out
}

func TestOpenCreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog")
	c, err := Open(path, 8)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := c.Slots(); got != 8 {
		t.Errorf("Slots() = %d, want 8", got)
	}
	defer c.Close()

	// A second opener keeps the existing slot count.
	c2, err := Open(path, 32)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer c2.Close()
	if got := c2.Slots(); got != 8 {
		t.Errorf("reopened Slots() = %d, want 8", got)
	}
}

func TestOpenIncompatible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog")
	hdr := make([]byte, headerSize+SlotSize)
	le := binary.LittleEndian
	le.PutUint32(hdr[offMagic:], Magic)
	le.PutUint32(hdr[offVersion:], Version+1)
	le.PutUint32(hdr[offSlots:], 1)
	le.PutUint32(hdr[offSlotSize:], SlotSize)
	le.PutUint32(hdr[offInit:], 1)
	if err := os.WriteFile(path, hdr, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path, 0); !errors.Is(err, ErrIncompatible) {
		t.Errorf("Open(version+1) error = %v, want ErrIncompatible", err)
	}
}

func TestRegisterGetRemove(t *testing.T) {
	c := openTemp(t, 4)
	e := selfEntry("camera")

	reg, err := c.Register(e)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if reg.Reclaimed != nil {
		t.Errorf("Register() reclaimed %+v from an empty catalog", reg.Reclaimed)
	}

	got, ok := c.Get(reg.Slot)
	if !ok {
		t.Fatalf("Get(%d) found nothing", reg.Slot)
	}
	e.Slot = reg.Slot
	if !got.Created.Equal(e.Created) {
		t.Errorf("Created = %v, want %v", got.Created, e.Created)
	}
	got.Created = e.Created
	if got != e {
		t.Errorf("Get() = %+v, want %+v", got, e)
	}

	var wrong [16]byte
	if err := c.Remove(reg.Slot, e.PID, wrong); !errors.Is(err, ErrNotOwner) {
		t.Errorf("Remove(wrong token) error = %v, want ErrNotOwner", err)
	}
	if err := c.Remove(reg.Slot, e.PID, e.Token); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok := c.Get(reg.Slot); ok {
		t.Error("Get() after Remove found an entry")
	}
	if err := c.Remove(reg.Slot, e.PID, e.Token); !errors.Is(err, ErrNotOwner) {
		t.Errorf("second Remove() error = %v, want ErrNotOwner", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	c := openTemp(t, 4)
	if _, err := c.Register(selfEntry("a")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := c.Register(selfEntry("a")); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Register(same name) error = %v, want ErrDuplicate", err)
	}
	if _, err := c.Register(selfEntry("b")); err != nil {
		t.Errorf("Register(other name) error = %v", err)
	}
	if got := len(collect(c)); got != 2 {
		t.Errorf("All() yielded %d entries, want 2", got)
	}
}

func TestRegisterDistinctKeys(t *testing.T) {
	c := openTemp(t, 16)
	for i := 0; i < 10; i++ {
		if _, err := c.Register(selfEntry(fmt.Sprintf("s%d", i))); err != nil {
			t.Fatalf("Register(s%d) error = %v", i, err)
		}
	}
	seen := map[string]bool{}
	for e := range c.All() {
		key := fmt.Sprintf("%d/%s", e.PID, e.Name)
		if seen[key] {
			t.Errorf("duplicate key %s", key)
		}
		seen[key] = true
	}
	if len(seen) != 10 {
		t.Errorf("got %d keys, want 10", len(seen))
	}
}

func TestRegisterFull(t *testing.T) {
	c := openTemp(t, 2)
	for _, name := range []string{"a", "b"} {
		if _, err := c.Register(selfEntry(name)); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}
	if _, err := c.Register(selfEntry("c")); !errors.Is(err, ErrFull) {
		t.Errorf("Register() on full catalog error = %v, want ErrFull", err)
	}
}

func TestRegisterReclaimsDeadEntry(t *testing.T) {
	c := openTemp(t, 1)
	pid, start := deadProcess(t)

	stale := selfEntry("old")
	stale.PID = pid
	stale.Start = start
	stale.Segment = "stale.seg"
	if _, err := c.Register(stale); err != nil {
		t.Fatalf("Register(stale) error = %v", err)
	}

	reg, err := c.Register(selfEntry("new"))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if reg.Reclaimed == nil {
		t.Fatal("Register() did not report the reclaimed entry")
	}
	if reg.Reclaimed.Segment != "stale.seg" || reg.Reclaimed.PID != pid {
		t.Errorf("Reclaimed = %+v, want pid %d segment stale.seg", reg.Reclaimed, pid)
	}
	got, ok := c.Get(reg.Slot)
	if !ok || got.Name != "new" {
		t.Errorf("Get() = %+v, %v; want the new entry", got, ok)
	}
}

func TestRegisterReclaimsAbandonedClaim(t *testing.T) {
	c := openTemp(t, 1)
	pid, _ := deadProcess(t)
	atomic.StoreUint64(c.owner(0), packOwner(stateBusy, pid))

	reg, err := c.Register(selfEntry("new"))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if reg.Slot != 0 {
		t.Errorf("Slot = %d, want 0", reg.Slot)
	}
}

func TestRegisterSkipsLiveBusySlot(t *testing.T) {
	c := openTemp(t, 1)
	atomic.StoreUint64(c.owner(0), packOwner(stateBusy, os.Getpid()))

	if _, err := c.Register(selfEntry("x")); !errors.Is(err, ErrFull) {
		t.Errorf("Register() error = %v, want ErrFull", err)
	}
}

func TestRegisterInvalid(t *testing.T) {
	c := openTemp(t, 1)
	tests := []struct {
		name string
		e    Entry
	}{
		{"empty name", selfEntry("")},
		{"long name", selfEntry(strings.Repeat("n", MaxName+1))},
		{"no pid", func() Entry { e := selfEntry("x"); e.PID = 0; return e }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Register(tt.e); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("Register() error = %v, want ErrInvalidEntry", err)
			}
		})
	}
}

func TestSharedAcrossMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog")
	writer, err := Open(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close()
	reader, err := Open(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()

	if _, err := writer.Register(selfEntry("shared")); err != nil {
		t.Fatal(err)
	}
	entries := collect(reader)
	if len(entries) != 1 || entries[0].Name != "shared" {
		t.Errorf("reader saw %+v, want one entry named shared", entries)
	}
}

func TestReadNeverTorn(t *testing.T) {
	c := openTemp(t, 2)

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
			e := selfEntry("flip")
			e.Width, e.Height = i, i
			e.Name = fmt.Sprintf("flip-%d", i)
			reg, err := c.Register(e)
			if err != nil {
				t.Errorf("Register() error = %v", err)
				return
			}
			if err := c.Remove(reg.Slot, e.PID, e.Token); err != nil {
				t.Errorf("Remove() error = %v", err)
				return
			}
		}
	}()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		for e := range c.All() {
			if e.Width != e.Height || e.Name != fmt.Sprintf("flip-%d", e.Width) {
				t.Fatalf("torn entry: %+v", e)
			}
		}
	}
	close(stop)
	wg.Wait()
}

func TestPutStringTruncatesOnRuneBoundary(t *testing.T) {
	dst := make([]byte, 4)
	putString(dst, "aé€")
	got := getString(dst)
	if got != "aé" {
		t.Errorf("truncated = %q, want %q", got, "aé")
	}
}
