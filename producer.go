package texshare

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/texshare/backend"
	"github.com/gogpu/texshare/internal/catalog"
	"github.com/gogpu/texshare/internal/segment"
)

// Producer broadcasts a texture as a named stream.
//
// The texture's size and format are fixed for the producer's lifetime. To
// broadcast at another size, close the producer and create a new one.
type Producer struct {
	dev    *Device
	tex    backend.Texture
	desc   StreamDescriptor
	writer *segment.Writer
	slot   int
	token  uuid.UUID

	mu     sync.Mutex
	closed bool
	stats  ProducerStats
}

// ProducerStats counts producer activity.
type ProducerStats struct {
	// Signaled is the number of published frames.
	Signaled uint64

	// FlushFailures is the number of SignalFrame calls that failed to
	// flush the backend.
	FlushFailures uint64

	// LastSignal is the time of the last published frame.
	LastSignal time.Time
}

// CreateProducer registers tex as the stream name of this process.
//
// It fails with ErrNameCollision if this process already broadcasts a
// stream with the same name, and with ErrCatalogFull when every registry
// slot is held by a live process. Registration is never retried.
func (d *Device) CreateProducer(name string, tex backend.Texture) (*Producer, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	if tex == nil {
		return nil, errors.New("texshare: nil texture")
	}
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	code, err := backend.EncodeFormat(tex.Format())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	token := uuid.New()
	handle := segment.FileName(d.self.PID, token.String())
	created := time.Now()
	hdr := segment.Header{
		Width:   uint32(tex.Width()),
		Height:  uint32(tex.Height()),
		Format:  uint32(code),
		Stride:  uint32(tex.Stride()),
		PID:     uint32(d.self.PID),
		Flavor:  uint32(d.backend.Flavor()),
		Start:   d.self.Start,
		Adapter: d.backend.AdapterID(),
		Token:   [16]byte(token),
	}
	writer, err := segment.Create(filepath.Join(d.dir, handle), hdr)
	if err != nil {
		return nil, fmt.Errorf("texshare: create shared texture: %w", err)
	}

	reg, err := d.catalog.Register(catalog.Entry{
		PID:     d.self.PID,
		Start:   d.self.Start,
		Flavor:  hdr.Flavor,
		Width:   hdr.Width,
		Height:  hdr.Height,
		Format:  hdr.Format,
		Adapter: hdr.Adapter,
		Created: created,
		Token:   [16]byte(token),
		Name:    name,
		Exe:     d.self.Exe,
		Segment: handle,
	})
	if err != nil {
		_ = writer.Close()
		switch {
		case errors.Is(err, catalog.ErrDuplicate):
			return nil, fmt.Errorf("%w: %q", ErrNameCollision, name)
		case errors.Is(err, catalog.ErrFull):
			return nil, fmt.Errorf("%w: %w", ErrCatalogFull, err)
		}
		return nil, fmt.Errorf("texshare: register stream: %w", err)
	}
	if old := reg.Reclaimed; old != nil {
		d.log().Warn("texshare: reclaimed stale registration",
			"slot", reg.Slot, "pid", old.PID, "stream", old.Name)
		d.removeSegment(old.Segment)
	}

	p := &Producer{
		dev:    d,
		tex:    tex,
		writer: writer,
		slot:   reg.Slot,
		token:  token,
		desc: StreamDescriptor{
			PID:        d.self.PID,
			Executable: d.self.Exe,
			Name:       name,
			Width:      tex.Width(),
			Height:     tex.Height(),
			Format:     tex.Format(),
			Flavor:     d.backend.Flavor(),
			AdapterID:  hdr.Adapter,
			Token:      token,
			Created:    created,
			Handle:     handle,
			start:      d.self.Start,
		},
	}
	if err := d.track(p, nil); err != nil {
		_ = p.release()
		return nil, err
	}
	d.opts.metrics.ProducerOpened()
	d.log().Info("texshare: producer registered",
		"stream", name, "slot", reg.Slot, "size", fmt.Sprintf("%dx%d", tex.Width(), tex.Height()),
		"format", backend.FormatName(tex.Format()), "flavor", d.backend.Flavor())
	return p, nil
}

// SignalFrame publishes the current content of the texture as the next
// frame. See SignalFrameContext.
func (p *Producer) SignalFrame() error {
	return p.SignalFrameContext(context.Background())
}

// SignalFrameContext waits for the backend to finish all GPU work issued
// so far, copies the texture into the shared resource and then advances
// the frame counter. Consumers that observe the new counter value read
// this frame or a later one, never a partial one.
//
// The flush is bounded by ctx and by WithFlushTimeout.
func (p *Producer) SignalFrameContext(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	start := time.Now()
	fctx, cancel := context.WithTimeout(ctx, p.dev.opts.flushTimeout)
	err := p.dev.backend.Flush(fctx)
	cancel()
	if err != nil {
		p.stats.FlushFailures++
		return fmt.Errorf("texshare: flush before signal: %w", err)
	}

	frame, err := p.writer.Publish(p.tex.Pixels())
	if err != nil {
		return fmt.Errorf("texshare: publish frame: %w", err)
	}
	p.stats.Signaled = frame
	p.stats.LastSignal = time.Now()
	p.dev.opts.metrics.FrameSignaled(p.desc.Name, time.Since(start))
	return nil
}

// Frame returns the last signaled frame. It is zero before the first
// SignalFrame.
func (p *Producer) Frame() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writer.Frame()
}

// Name returns the normalized stream name.
func (p *Producer) Name() string { return p.desc.Name }

// Texture returns the broadcast texture.
func (p *Producer) Texture() backend.Texture { return p.tex }

// Descriptor returns the stream descriptor consumers discover.
func (p *Producer) Descriptor() StreamDescriptor { return p.desc }

// Stats returns a snapshot of the producer counters.
func (p *Producer) Stats() ProducerStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close ends the broadcast: attached consumers observe the stream as
// gone, the registration is removed and the shared resource is deleted.
// The texture is left to the caller.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	frames := p.writer.Frame()
	p.mu.Unlock()

	err := p.release()
	p.dev.untrack(p, nil)
	p.dev.opts.metrics.ProducerClosed()
	p.dev.log().Info("texshare: producer closed", "stream", p.desc.Name, "frames", frames)
	return err
}

func (p *Producer) release() error {
	errRemove := p.dev.catalog.Remove(p.slot, p.desc.PID, [16]byte(p.token))
	if errors.Is(errRemove, catalog.ErrNotOwner) {
		p.dev.log().Warn("texshare: registration already gone", "stream", p.desc.Name, "slot", p.slot)
		errRemove = nil
	}
	return errors.Join(errRemove, p.writer.Close())
}
