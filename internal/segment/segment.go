// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package segment implements the shareable texture resource: one file per
// broadcast stream holding a fixed header, the frame fence and the pixel
// data of the most recently published frame.
//
// File layout (little-endian, offsets in bytes):
//
//	0    magic   uint32  "TXSG", stored last on creation
//	4    version uint32
//	8    width   uint32
//	12   height  uint32
//	16   format  uint32  wire format code
//	20   stride  uint32  bytes per row
//	24   pid     uint32  owning process
//	28   flavor  uint32  producer graphics-API tag
//	32   start   uint64  owner start time
//	40   adapter uint64
//	48   token   [16]byte
//	64   fence   uint64  last signaled frame
//	72   seq     uint64  seqlock over the pixel area
//	80   flags   uint32  bit 0: closed
//	4096 pixels  stride*height bytes
//
// The owner maps the file read-write; importers map it read-only.
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gogpu/texshare/internal/fence"
	"github.com/gogpu/texshare/internal/shm"
)

const (
	// Magic identifies a segment file ("TXSG").
	Magic uint32 = 0x47535854

	// Version is the layout version written by this package.
	Version uint32 = 1

	// HeaderSize is the offset of the pixel area.
	HeaderSize = 4096

	// Suffix is the file name suffix of segment files.
	Suffix = ".seg"
)

const (
	offMagic   = 0
	offVersion = 4
	offWidth   = 8
	offHeight  = 12
	offFormat  = 16
	offStride  = 20
	offPID     = 24
	offFlavor  = 28
	offStart   = 32
	offAdapter = 40
	offToken   = 48
	offFence   = 64
	offSeq     = 72
	offFlags   = 80

	flagClosed uint32 = 1
)

var (
	// ErrInvalid is returned when a file is not a segment of this version.
	ErrInvalid = errors.New("segment: invalid segment")

	// ErrClosed is returned by operations on a closed segment.
	ErrClosed = errors.New("segment: closed")
)

// Header describes the resource held by a segment.
type Header struct {
	Width   uint32
	Height  uint32
	Format  uint32
	Stride  uint32
	PID     uint32
	Flavor  uint32
	Start   uint64
	Adapter uint64
	Token   [16]byte
}

// PixelBytes returns the size of the pixel area.
func (h Header) PixelBytes() int { return int(h.Stride) * int(h.Height) }

// FileName returns the canonical segment file name for an owner and token.
func FileName(pid int, token string) string {
	return fmt.Sprintf("%d-%s%s", pid, token, Suffix)
}

// IsFileName reports whether name looks like a segment file.
func IsFileName(name string) bool {
	return strings.HasSuffix(name, Suffix)
}

func (h Header) validate() error {
	if h.Width == 0 || h.Height == 0 {
		return fmt.Errorf("%w: zero size %dx%d", ErrInvalid, h.Width, h.Height)
	}
	if h.Stride == 0 {
		return fmt.Errorf("%w: zero stride", ErrInvalid)
	}
	return nil
}

func putHeader(b []byte, h Header) {
	le := binary.LittleEndian
	le.PutUint32(b[offVersion:], Version)
	le.PutUint32(b[offWidth:], h.Width)
	le.PutUint32(b[offHeight:], h.Height)
	le.PutUint32(b[offFormat:], h.Format)
	le.PutUint32(b[offStride:], h.Stride)
	le.PutUint32(b[offPID:], h.PID)
	le.PutUint32(b[offFlavor:], h.Flavor)
	le.PutUint64(b[offStart:], h.Start)
	le.PutUint64(b[offAdapter:], h.Adapter)
	copy(b[offToken:offToken+16], h.Token[:])
}

func readHeader(b []byte) Header {
	le := binary.LittleEndian
	h := Header{
		Width:   le.Uint32(b[offWidth:]),
		Height:  le.Uint32(b[offHeight:]),
		Format:  le.Uint32(b[offFormat:]),
		Stride:  le.Uint32(b[offStride:]),
		PID:     le.Uint32(b[offPID:]),
		Flavor:  le.Uint32(b[offFlavor:]),
		Start:   le.Uint64(b[offStart:]),
		Adapter: le.Uint64(b[offAdapter:]),
	}
	copy(h.Token[:], b[offToken:offToken+16])
	return h
}

// Writer is the owner's side of a segment.
type Writer struct {
	region *shm.Region
	header Header
	fence  fence.Counter
	seq    fence.Seqlock
	pixels []byte
	frame  uint64
	closed bool
}

// Create creates a new segment file at path. The file must not exist.
func Create(path string, h Header) (*Writer, error) {
	if err := h.validate(); err != nil {
		return nil, err
	}
	region, err := shm.Map(shm.MapOptions{
		Path:      path,
		Size:      HeaderSize + h.PixelBytes(),
		Exclusive: true,
	})
	if err != nil {
		return nil, fmt.Errorf("segment: create: %w", err)
	}

	b := region.Bytes()
	putHeader(b, h)
	// Magic goes last so a concurrent importer never sees a partial header.
	atomic.StoreUint32(region.Word32(offMagic), Magic)

	return &Writer{
		region: region,
		header: h,
		fence:  fence.NewCounter(region.Word64(offFence)),
		seq:    fence.NewSeqlock(region.Word64(offSeq)),
		pixels: b[HeaderSize : HeaderSize+h.PixelBytes()],
	}, nil
}

// Path returns the segment file path.
func (w *Writer) Path() string { return w.region.Path() }

// Header returns the segment header.
func (w *Writer) Header() Header { return w.header }

// Frame returns the last published frame. It stays valid after Close.
func (w *Writer) Frame() uint64 { return w.frame }

// Publish copies src into the pixel area under the seqlock and then
// signals the next frame on the fence. Consumers that observe the returned
// frame are guaranteed to find the content of src, or of a later frame.
func (w *Writer) Publish(src []byte) (uint64, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if len(src) < len(w.pixels) {
		return 0, fmt.Errorf("segment: short frame: %d bytes, want %d", len(src), len(w.pixels))
	}
	frame := w.frame + 1
	w.seq.Write(func() {
		copy(w.pixels, src)
	})
	w.fence.Signal(frame)
	w.frame = frame
	return frame, nil
}

// Close marks the segment closed, unmaps it and removes the file.
// Importers that still hold a mapping observe the closed flag.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	atomic.StoreUint32(w.region.Word32(offFlags), flagClosed)
	path := w.region.Path()
	return errors.Join(w.region.Close(), shm.Remove(path))
}

// Reader is an importer's read-only view of a segment.
type Reader struct {
	region *shm.Region
	header Header
	fence  fence.Counter
	seq    fence.Seqlock
	flags  *uint32
	pixels []byte
}

// Open maps an existing segment read-only and validates its header.
func Open(path string) (*Reader, error) {
	region, err := shm.Map(shm.MapOptions{Path: path, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("segment: open: %w", err)
	}
	r, err := newReader(region)
	if err != nil {
		_ = region.Close()
		return nil, err
	}
	return r, nil
}

func newReader(region *shm.Region) (*Reader, error) {
	b := region.Bytes()
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d byte file", ErrInvalid, len(b))
	}
	if m := atomic.LoadUint32(region.Word32(offMagic)); m != Magic {
		return nil, fmt.Errorf("%w: magic %#x", ErrInvalid, m)
	}
	if v := binary.LittleEndian.Uint32(b[offVersion:]); v != Version {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrInvalid, v, Version)
	}
	h := readHeader(b)
	if err := h.validate(); err != nil {
		return nil, err
	}
	if len(b) < HeaderSize+h.PixelBytes() {
		return nil, fmt.Errorf("%w: truncated pixel area", ErrInvalid)
	}
	return &Reader{
		region: region,
		header: h,
		fence:  fence.NewCounter(region.Word64(offFence)),
		seq:    fence.NewSeqlock(region.Word64(offSeq)),
		flags:  region.Word32(offFlags),
		pixels: b[HeaderSize : HeaderSize+h.PixelBytes()],
	}, nil
}

// Header returns the segment header.
func (r *Reader) Header() Header { return r.header }

// Frame returns the last signaled frame.
func (r *Reader) Frame() uint64 { return r.fence.Value() }

// Closed reports whether the owner closed the segment.
func (r *Reader) Closed() bool { return atomic.LoadUint32(r.flags)&flagClosed != 0 }

// Pixels returns the live, read-only pixel area. Its content may change
// at any time; use CopyTo for a consistent snapshot.
func (r *Reader) Pixels() []byte { return r.pixels }

// Fence returns the frame counter.
func (r *Reader) Fence() fence.Counter { return r.fence }

// CopyTo copies a consistent snapshot of the pixel area into dst and
// returns the frame the snapshot belongs to.
//
// The snapshot's frame is the number of completed publishes, which equals
// the fence value because every Publish advances both by one step.
func (r *Reader) CopyTo(dst []byte, deadline time.Time) (uint64, error) {
	if len(dst) < len(r.pixels) {
		return 0, fmt.Errorf("segment: short destination: %d bytes, want %d", len(dst), len(r.pixels))
	}
	return r.seq.Read(deadline, func() {
		copy(dst, r.pixels)
	})
}

// Close unmaps the segment.
func (r *Reader) Close() error { return r.region.Close() }
