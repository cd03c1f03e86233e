// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package catalog implements the discovery registry: a fixed array of
// slots in one shared file that every process on the host maps.
//
// Each slot has a single writer, the process that claimed it. Processes
// never lock each other out. A writer claims a slot with compare-and-swap
// on the owner word, fills it while the generation counter is odd and
// publishes it with one atomic store. A reader copies the slot and keeps
// the copy only if the owner word and the generation did not move while it
// copied. A half-written slot is never returned.
//
// The catalog never removes entries on its own. Entries of processes that
// died are returned like any other; callers filter them with a liveness
// check, and Register reclaims them when it runs out of free slots.
//
// File layout (little-endian):
//
//	header (64 bytes)
//	  0   magic     uint32  "TXSC", stored last on creation
//	  4   version   uint32
//	  8   slots     uint32
//	  12  slot size uint32
//	  16  init      uint32  0 until a creator wins the right to initialize
//
//	slot (512 bytes)
//	  0   owner     uint64  state in the low 32 bits, pid in the high 32
//	  8   gen       uint32  odd while the slot is being written
//	  12  flavor    uint32
//	  16  start     uint64  owner start time
//	  24  width     uint32
//	  28  height    uint32
//	  32  format    uint32
//	  40  adapter   uint64
//	  48  created   int64   unix nanoseconds
//	  56  token     [16]byte
//	  72  name      [96]byte  NUL padded
//	  168 exe       [96]byte  NUL padded
//	  264 segment   [128]byte NUL padded
package catalog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gogpu/texshare/internal/proc"
	"github.com/gogpu/texshare/internal/shm"
)

const (
	// Magic identifies a catalog file ("TXSC").
	Magic uint32 = 0x43535854

	// Version is the layout version written by this package.
	Version uint32 = 1

	// SlotSize is the size of one slot in bytes.
	SlotSize = 512

	// DefaultSlots is the slot count of a newly created catalog.
	DefaultSlots = 64

	// MaxSlots bounds the slot count accepted from a catalog header.
	MaxSlots = 1 << 16

	// MaxName is the longest stream name in bytes.
	MaxName = 95

	headerSize = 64

	nameCap    = 96
	exeCap     = 96
	segmentCap = 128
)

const (
	offMagic    = 0
	offVersion  = 4
	offSlots    = 8
	offSlotSize = 12
	offInit     = 16
)

const (
	soOwner   = 0
	soGen     = 8
	soFlavor  = 12
	soStart   = 16
	soWidth   = 24
	soHeight  = 28
	soFormat  = 32
	soAdapter = 40
	soCreated = 48
	soToken   = 56
	soName    = 72
	soExe     = soName + nameCap
	soSegment = soExe + exeCap
	soEnd     = soSegment + segmentCap
)

// Slot states, stored in the low half of the owner word.
const (
	stateFree uint32 = 0
	stateBusy uint32 = 1
	stateLive uint32 = 2
)

var (
	// ErrFull is returned by Register when no slot can be claimed.
	ErrFull = errors.New("catalog: no free slot")

	// ErrIncompatible is returned when the catalog file was written by an
	// incompatible version or never finished initializing.
	ErrIncompatible = errors.New("catalog: incompatible catalog file")

	// ErrDuplicate is returned by Register when the calling process
	// already has a live entry with the same name.
	ErrDuplicate = errors.New("catalog: duplicate entry")

	// ErrNotOwner is returned by Remove when the slot no longer holds
	// the caller's entry.
	ErrNotOwner = errors.New("catalog: slot not owned by caller")

	// ErrInvalidEntry is returned for entries that cannot be stored.
	ErrInvalidEntry = errors.New("catalog: invalid entry")
)

// registerMu serializes registrations of this process. Duplicate names can
// only come from the same pid, so a process-local lock is sufficient.
var registerMu sync.Mutex

// initWait bounds how long Open waits for another process to finish
// initializing a new catalog.
const initWait = time.Second

// Entry is one registration.
type Entry struct {
	Slot    int
	PID     int
	Start   uint64
	Flavor  uint32
	Width   uint32
	Height  uint32
	Format  uint32
	Adapter uint64
	Created time.Time
	Token   [16]byte
	Name    string
	Exe     string
	Segment string
}

// Registration is the result of a successful Register.
type Registration struct {
	// Slot is the claimed slot index.
	Slot int

	// Reclaimed is the entry of a dead process whose slot was reused,
	// or nil. Its segment file is left behind for the caller to remove.
	Reclaimed *Entry
}

// Catalog is a mapped catalog file.
type Catalog struct {
	region *shm.Region
	slots  int
}

// Open maps the catalog at path, creating it with slots slots if it does
// not exist. An existing catalog keeps its own slot count.
func Open(path string, slots int) (*Catalog, error) {
	if slots <= 0 {
		slots = DefaultSlots
	}
	if slots > MaxSlots {
		return nil, fmt.Errorf("catalog: %d slots exceeds limit %d", slots, MaxSlots)
	}

	hdr, err := shm.Map(shm.MapOptions{Path: path, Size: headerSize, Create: true})
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	defer hdr.Close()

	if atomic.CompareAndSwapUint32(hdr.Word32(offInit), 0, 1) {
		return create(path, slots)
	}

	deadline := time.Now().Add(initWait)
	for atomic.LoadUint32(hdr.Word32(offMagic)) != Magic {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s was never initialized", ErrIncompatible, path)
		}
		time.Sleep(time.Millisecond)
	}

	b := hdr.Bytes()
	le := binary.LittleEndian
	if v := le.Uint32(b[offVersion:]); v != Version {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrIncompatible, v, Version)
	}
	if s := le.Uint32(b[offSlotSize:]); s != SlotSize {
		return nil, fmt.Errorf("%w: slot size %d, want %d", ErrIncompatible, s, SlotSize)
	}
	n := int(le.Uint32(b[offSlots:]))
	if n <= 0 || n > MaxSlots {
		return nil, fmt.Errorf("%w: %d slots", ErrIncompatible, n)
	}

	region, err := shm.Map(shm.MapOptions{Path: path, Size: headerSize + n*SlotSize})
	if err != nil {
		return nil, fmt.Errorf("catalog: map: %w", err)
	}
	return &Catalog{region: region, slots: n}, nil
}

func create(path string, slots int) (*Catalog, error) {
	region, err := shm.Map(shm.MapOptions{
		Path:   path,
		Size:   headerSize + slots*SlotSize,
		Create: true,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: create: %w", err)
	}
	b := region.Bytes()
	le := binary.LittleEndian
	le.PutUint32(b[offVersion:], Version)
	le.PutUint32(b[offSlots:], uint32(slots))
	le.PutUint32(b[offSlotSize:], SlotSize)
	atomic.StoreUint32(region.Word32(offMagic), Magic)
	return &Catalog{region: region, slots: slots}, nil
}

// Path returns the catalog file path.
func (c *Catalog) Path() string { return c.region.Path() }

// Slots returns the number of slots.
func (c *Catalog) Slots() int { return c.slots }

// Close unmaps the catalog. Entries stay registered.
func (c *Catalog) Close() error { return c.region.Close() }

func packOwner(state uint32, pid int) uint64 {
	return uint64(uint32(pid))<<32 | uint64(state)
}

func unpackOwner(w uint64) (state uint32, pid int) {
	return uint32(w), int(uint32(w >> 32))
}

func (c *Catalog) base(slot int) int { return headerSize + slot*SlotSize }

func (c *Catalog) owner(slot int) *uint64 { return c.region.Word64(c.base(slot) + soOwner) }

func (c *Catalog) gen(slot int) *uint32 { return c.region.Word32(c.base(slot) + soGen) }

func (c *Catalog) slotBytes(slot int) []byte {
	b := c.base(slot)
	return c.region.Bytes()[b : b+SlotSize]
}

// Register publishes e in a free slot, or in the slot of a dead process
// when none is free. e.PID must be the calling process.
func (c *Catalog) Register(e Entry) (Registration, error) {
	if e.PID <= 0 || e.Name == "" || len(e.Name) > MaxName {
		return Registration{}, fmt.Errorf("%w: pid %d, name %q", ErrInvalidEntry, e.PID, e.Name)
	}
	if len(e.Segment) >= segmentCap {
		return Registration{}, fmt.Errorf("%w: segment name %q too long", ErrInvalidEntry, e.Segment)
	}

	registerMu.Lock()
	defer registerMu.Unlock()

	for have := range c.All() {
		if have.PID == e.PID && have.Start == e.Start && have.Name == e.Name {
			return Registration{}, fmt.Errorf("%w: %q in slot %d", ErrDuplicate, e.Name, have.Slot)
		}
	}

	me := packOwner(stateBusy, e.PID)

	// Free slots first.
	for i := 0; i < c.slots; i++ {
		if atomic.CompareAndSwapUint64(c.owner(i), packOwner(stateFree, 0), me) {
			c.publish(i, e)
			return Registration{Slot: i}, nil
		}
	}

	// Then slots of dead processes.
	for i := 0; i < c.slots; i++ {
		w := atomic.LoadUint64(c.owner(i))
		state, pid := unpackOwner(w)
		switch state {
		case stateLive:
			old, ok := c.read(i)
			if !ok || proc.Alive(old.PID, old.Start) {
				continue
			}
			if !atomic.CompareAndSwapUint64(c.owner(i), w, me) {
				continue
			}
			c.publish(i, e)
			return Registration{Slot: i, Reclaimed: &old}, nil
		case stateBusy:
			// A process died mid-write. Its start time may not have been
			// stored yet, so only the pid can be checked.
			if pid == 0 || proc.Alive(pid, 0) {
				continue
			}
			if !atomic.CompareAndSwapUint64(c.owner(i), w, me) {
				continue
			}
			c.publish(i, e)
			return Registration{Slot: i}, nil
		}
	}
	return Registration{}, fmt.Errorf("%w: all %d slots in use", ErrFull, c.slots)
}

// publish fills a slot the caller owns in the busy state and makes it live.
func (c *Catalog) publish(slot int, e Entry) {
	gen := c.gen(slot)
	b := c.slotBytes(slot)
	le := binary.LittleEndian

	atomic.AddUint32(gen, 1)
	le.PutUint32(b[soFlavor:], e.Flavor)
	le.PutUint64(b[soStart:], e.Start)
	le.PutUint32(b[soWidth:], e.Width)
	le.PutUint32(b[soHeight:], e.Height)
	le.PutUint32(b[soFormat:], e.Format)
	le.PutUint64(b[soAdapter:], e.Adapter)
	le.PutUint64(b[soCreated:], uint64(e.Created.UnixNano()))
	copy(b[soToken:soToken+16], e.Token[:])
	putString(b[soName:soName+nameCap], e.Name)
	putString(b[soExe:soExe+exeCap], e.Exe)
	putString(b[soSegment:soSegment+segmentCap], e.Segment)
	atomic.AddUint32(gen, 1)

	atomic.StoreUint64(c.owner(slot), packOwner(stateLive, e.PID))
}

// Remove tombstones the entry in slot if it still belongs to pid with the
// given token.
func (c *Catalog) Remove(slot, pid int, token [16]byte) error {
	if slot < 0 || slot >= c.slots {
		return fmt.Errorf("%w: slot %d out of range", ErrNotOwner, slot)
	}
	e, ok := c.read(slot)
	if !ok || e.PID != pid || e.Token != token {
		return fmt.Errorf("%w: slot %d", ErrNotOwner, slot)
	}
	if !atomic.CompareAndSwapUint64(c.owner(slot), packOwner(stateLive, pid), packOwner(stateBusy, pid)) {
		return fmt.Errorf("%w: slot %d", ErrNotOwner, slot)
	}

	gen := c.gen(slot)
	atomic.AddUint32(gen, 1)
	b := c.slotBytes(slot)
	clear(b[soFlavor:soEnd])
	atomic.AddUint32(gen, 1)

	atomic.StoreUint64(c.owner(slot), packOwner(stateFree, 0))
	return nil
}

// Get returns a snapshot of slot if it holds a live entry.
func (c *Catalog) Get(slot int) (Entry, bool) {
	if slot < 0 || slot >= c.slots {
		return Entry{}, false
	}
	return c.read(slot)
}

// All returns every published entry, including entries of dead processes.
// Each iteration takes fresh snapshots.
func (c *Catalog) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for i := 0; i < c.slots; i++ {
			e, ok := c.read(i)
			if !ok {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// readAttempts bounds retries against a slot that changes while copied.
const readAttempts = 8

// read copies slot and validates the copy against concurrent writers.
func (c *Catalog) read(slot int) (Entry, bool) {
	ownerWord := c.owner(slot)
	gen := c.gen(slot)
	b := c.slotBytes(slot)
	le := binary.LittleEndian

	for attempt := 0; attempt < readAttempts; attempt++ {
		o1 := atomic.LoadUint64(ownerWord)
		state, pid := unpackOwner(o1)
		if state != stateLive {
			return Entry{}, false
		}
		g1 := atomic.LoadUint32(gen)
		if g1&1 != 0 {
			continue
		}

		var raw [SlotSize]byte
		copy(raw[:], b)

		if atomic.LoadUint32(gen) != g1 || atomic.LoadUint64(ownerWord) != o1 {
			continue
		}

		e := Entry{
			Slot:    slot,
			PID:     pid,
			Flavor:  le.Uint32(raw[soFlavor:]),
			Start:   le.Uint64(raw[soStart:]),
			Width:   le.Uint32(raw[soWidth:]),
			Height:  le.Uint32(raw[soHeight:]),
			Format:  le.Uint32(raw[soFormat:]),
			Adapter: le.Uint64(raw[soAdapter:]),
			Created: time.Unix(0, int64(le.Uint64(raw[soCreated:]))),
			Name:    getString(raw[soName : soName+nameCap]),
			Exe:     getString(raw[soExe : soExe+exeCap]),
			Segment: getString(raw[soSegment : soSegment+segmentCap]),
		}
		copy(e.Token[:], raw[soToken:soToken+16])
		return e, true
	}
	return Entry{}, false
}

// putString stores s NUL padded, truncated on a rune boundary so that at
// least one NUL remains.
func putString(dst []byte, s string) {
	if len(s) >= len(dst) {
		cut := len(dst) - 1
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	n := copy(dst, s)
	clear(dst[n:])
}

func getString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
