package texshare

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/texshare/backend"
	"github.com/gogpu/texshare/internal/fence"
	"github.com/gogpu/texshare/internal/proc"
	"github.com/gogpu/texshare/internal/segment"
)

// Consumer is attached to one producer's stream.
//
// A consumer never reconnects on its own. Once WaitForFrame reports
// ErrStaleConnection, or IsAlive returns false, close it and connect a new
// one.
type Consumer struct {
	dev    *Device
	desc   StreamDescriptor
	reader *segment.Reader
	shared *backend.HostTexture
	mirror backend.Texture

	mu       sync.Mutex
	scratch  []byte
	baseline uint64
	observed uint64
	copied   uint64
	stale    bool
	closed   bool
	stats    ConsumerStats
}

// ConsumerStats counts consumer activity.
type ConsumerStats struct {
	// Observed is the number of successful frame waits.
	Observed uint64

	// Skipped is the number of frames published after the consumer
	// connected that it never observed.
	Skipped uint64

	// Timeouts is the number of frame waits that ended without a frame.
	Timeouts uint64

	// Copies is the number of consistent copies taken by Texture.
	Copies uint64
}

// ConnectToProducer attaches to the first stream registered by pid.
func (d *Device) ConnectToProducer(pid int) (*Consumer, error) {
	desc, ok := d.lookup(pid, "")
	if !ok {
		d.opts.metrics.ConnectFailed("not_found")
		return nil, fmt.Errorf("%w: pid %d", ErrProducerNotFound, pid)
	}
	return d.connect(desc)
}

// ConnectStream attaches to the stream (pid, name).
func (d *Device) ConnectStream(pid int, name string) (*Consumer, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}
	desc, ok := d.lookup(pid, n)
	if !ok {
		d.opts.metrics.ConnectFailed("not_found")
		return nil, fmt.Errorf("%w: %d/%s", ErrProducerNotFound, pid, n)
	}
	return d.connect(desc)
}

// Connect attaches to a discovered stream. If the stream was closed and
// registered again since it was discovered, Connect fails with
// ErrProducerNotFound: the token no longer matches.
func (d *Device) Connect(want StreamDescriptor) (*Consumer, error) {
	n, err := NormalizeName(want.Name)
	if err != nil {
		return nil, err
	}
	desc, ok := d.lookup(want.PID, n)
	if !ok {
		d.opts.metrics.ConnectFailed("not_found")
		return nil, fmt.Errorf("%w: %d/%s", ErrProducerNotFound, want.PID, n)
	}
	if want.Token != uuid.Nil && want.Token != desc.Token {
		d.opts.metrics.ConnectFailed("not_found")
		return nil, fmt.Errorf("%w: %s was registered again", ErrProducerNotFound, desc.Key())
	}
	return d.connect(desc)
}

func (d *Device) connect(desc StreamDescriptor) (*Consumer, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	c, err := d.attach(desc)
	if err != nil {
		reason := "import"
		if errors.Is(err, ErrFormatMismatch) || errors.Is(err, ErrUnsupportedFormat) {
			reason = "incompatible"
		}
		d.opts.metrics.ConnectFailed(reason)
		d.log().Warn("texshare: connect failed", "stream", desc.Key(), "error", err)
		return nil, err
	}
	if err := d.track(nil, c); err != nil {
		c.release()
		return nil, err
	}
	d.opts.metrics.ConsumerOpened()
	d.log().Info("texshare: consumer connected",
		"stream", desc.Key(), "size", fmt.Sprintf("%dx%d", desc.Width, desc.Height),
		"format", backend.FormatName(desc.Format), "frame", c.reader.Frame())
	return c, nil
}

func (d *Device) attach(desc StreamDescriptor) (*Consumer, error) {
	if !d.backend.CanImport(desc.Flavor) {
		return nil, fmt.Errorf("%w: %s backend cannot import %s resources", ErrImportFailed, d.backend.Name(), desc.Flavor)
	}
	if !adapterCompatible(desc.AdapterID, d.backend.AdapterID()) {
		return nil, fmt.Errorf("%w: stream adapter %#x, device adapter %#x", ErrImportFailed, desc.AdapterID, d.backend.AdapterID())
	}
	path, ok := segmentPath(d.dir, desc.Handle)
	if !ok {
		return nil, fmt.Errorf("%w: invalid handle %q", ErrImportFailed, desc.Handle)
	}

	reader, err := segment.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrImportFailed, err)
	}
	if err := validateImport(reader.Header(), desc); err != nil {
		_ = reader.Close()
		return nil, err
	}
	if reader.Closed() {
		_ = reader.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrImportFailed, desc.Key(), ErrStaleConnection)
	}

	texDesc := backend.TextureDescriptor{
		Label:  desc.Key(),
		Width:  desc.Width,
		Height: desc.Height,
		Format: desc.Format,
	}
	shared, err := backend.WrapPixels(texDesc, reader.Pixels(), true)
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("%w: %w", ErrImportFailed, err)
	}
	mirror, err := d.backend.NewTexture(texDesc)
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("%w: allocate mirror: %w", ErrImportFailed, err)
	}

	c := &Consumer{
		dev:    d,
		desc:   desc,
		reader: reader,
		shared: shared,
		mirror: mirror,

		baseline: reader.Frame(),
	}
	if mirror.Stride() != int(reader.Header().Stride) {
		c.scratch = make([]byte, reader.Header().PixelBytes())
	}
	return c, nil
}

// validateImport checks that the segment belongs to the registration.
func validateImport(h segment.Header, desc StreamDescriptor) error {
	switch {
	case int(h.PID) != desc.PID || h.Start != desc.start:
		return fmt.Errorf("%w: %s: segment owned by pid %d", ErrImportFailed, desc.Key(), h.PID)
	case uuid.UUID(h.Token) != desc.Token:
		return fmt.Errorf("%w: %s: segment token does not match registration", ErrImportFailed, desc.Key())
	case int(h.Width) != desc.Width || int(h.Height) != desc.Height:
		return fmt.Errorf("%w: %w: segment %dx%d, registered %dx%d",
			ErrImportFailed, ErrFormatMismatch, h.Width, h.Height, desc.Width, desc.Height)
	}
	format, err := backend.DecodeFormat(backend.FormatCode(h.Format))
	if err != nil {
		return fmt.Errorf("%w: %w: %w", ErrImportFailed, ErrUnsupportedFormat, err)
	}
	if format != desc.Format {
		return fmt.Errorf("%w: %w: segment %s, registered %s",
			ErrImportFailed, ErrFormatMismatch, backend.FormatName(format), backend.FormatName(desc.Format))
	}
	row := desc.Width * backend.BytesPerPixel(format)
	if int(h.Stride) < row {
		return fmt.Errorf("%w: %s: stride %d below row size %d", ErrImportFailed, desc.Key(), h.Stride, row)
	}
	return nil
}

// gone reports whether the producer process died or closed the stream.
func (c *Consumer) gone() bool {
	return c.reader.Closed() || !proc.Alive(c.desc.PID, c.desc.start)
}

// IsAlive reports whether the producer process still exists and has not
// closed the stream. It asks the operating system, never the registry,
// and is cheap enough to call every frame.
func (c *Consumer) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.stale {
		return false
	}
	return !c.gone()
}

// WaitForFrame blocks until the producer signals a frame newer than the
// last one this consumer observed, or until timeout elapses.
//
// It returns true when a new frame is available. On timeout it returns
// false and a nil error, with no other effect. If the producer died or
// closed the stream it returns ErrStaleConnection. Consumers may skip
// frames but never observe them out of order.
func (c *Consumer) WaitForFrame(timeout time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrClosed
	}
	if c.stale {
		return false, fmt.Errorf("%w: %s", ErrStaleConnection, c.desc.Key())
	}

	v, err := c.reader.Fence().Wait(c.observed, timeout, c.gone, fence.DefaultBackoff)
	switch {
	case err == nil:
		prev := c.observed
		if c.stats.Observed == 0 {
			prev = c.baseline
		}
		var skipped uint64
		if v > prev+1 {
			skipped = v - prev - 1
		}
		c.observed = v
		c.stats.Observed++
		c.stats.Skipped += skipped
		c.dev.opts.metrics.FrameObserved(c.desc.Name, skipped)
		return true, nil
	case errors.Is(err, fence.ErrTimeout):
		c.stats.Timeouts++
		c.dev.opts.metrics.WaitTimedOut(c.desc.Name)
		return false, nil
	case errors.Is(err, fence.ErrAborted):
		c.stale = true
		c.dev.log().Info("texshare: producer gone", "stream", c.desc.Key(), "frame", c.observed)
		return false, fmt.Errorf("%w: %s", ErrStaleConnection, c.desc.Key())
	}
	return false, fmt.Errorf("texshare: wait for frame: %w", err)
}

// SharedTexture returns the imported resource itself. It is mapped
// read-only and changes whenever the producer signals; copy it (Texture)
// before multi-pass work.
func (c *Consumer) SharedTexture() backend.Texture { return c.shared }

// Texture copies the latest frame into the consumer's private texture and
// returns it. The copy is consistent: it never mixes two frames. If the
// producer rewrites the frame for longer than WithCopyTimeout, Texture
// returns ErrFrameBusy and the private texture keeps its previous content.
func (c *Consumer) Texture() (backend.Texture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	dst := c.mirror.Pixels()
	if c.scratch != nil {
		dst = c.scratch
	}
	frame, err := c.reader.CopyTo(dst, time.Now().Add(c.dev.opts.copyTimeout))
	if err != nil {
		if errors.Is(err, fence.ErrBusy) {
			return nil, fmt.Errorf("%w: %s", ErrFrameBusy, c.desc.Key())
		}
		return nil, fmt.Errorf("texshare: copy frame: %w", err)
	}
	if c.scratch != nil {
		copyRows(c.mirror.Pixels(), c.mirror.Stride(), c.scratch, int(c.reader.Header().Stride),
			c.desc.Width*backend.BytesPerPixel(c.desc.Format), c.desc.Height)
	}
	c.copied = frame
	c.stats.Copies++
	return c.mirror, nil
}

// TextureFrame returns the frame held by the private texture, zero before
// the first Texture call.
func (c *Consumer) TextureFrame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copied
}

// Frame returns the last observed frame.
func (c *Consumer) Frame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observed
}

// ProducerFrame returns the producer's current frame counter.
func (c *Consumer) ProducerFrame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.observed
	}
	return c.reader.Frame()
}

// PID returns the producer process id.
func (c *Consumer) PID() int { return c.desc.PID }

// Descriptor returns the descriptor of the attached stream.
func (c *Consumer) Descriptor() StreamDescriptor { return c.desc }

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() ConsumerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close detaches from the stream and releases the private texture. The
// texture returned by Texture must not be used afterwards.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	err := c.release()
	c.mu.Unlock()

	c.dev.untrack(nil, c)
	c.dev.opts.metrics.ConsumerClosed()
	return err
}

func (c *Consumer) release() error {
	c.mirror.Destroy()
	c.shared.Destroy()
	return c.reader.Close()
}

// copyRows copies height rows of row bytes between buffers with different
// strides.
func copyRows(dst []byte, dstStride int, src []byte, srcStride, row, height int) {
	for y := 0; y < height; y++ {
		copy(dst[y*dstStride:y*dstStride+row], src[y*srcStride:y*srcStride+row])
	}
}
