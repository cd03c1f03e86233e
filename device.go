package texshare

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/texshare/backend"
	"github.com/gogpu/texshare/internal/catalog"
	"github.com/gogpu/texshare/internal/proc"
	"github.com/gogpu/texshare/internal/shm"
)

// Device is a process's entry point to texture sharing. It binds a
// backend to the registry directory and creates producers, consumers and
// textures.
//
// Device methods are safe for concurrent use. Closing a device closes
// every producer and consumer it created.
type Device struct {
	backend backend.Backend
	opts    options
	dir     string
	catalog *catalog.Catalog
	self    proc.Identity

	mu        sync.Mutex
	producers map[*Producer]struct{}
	consumers map[*Consumer]struct{}
	closed    bool
}

// NewDevice creates a device on b. The registry is created in the
// configured directory if it does not exist yet.
func NewDevice(b backend.Backend, opts ...Option) (*Device, error) {
	if b == nil {
		return nil, fmt.Errorf("texshare: nil backend: %w", backend.ErrBackendNotAvailable)
	}
	o := applyOptions(opts)
	cat, err := openCatalog(&o, true)
	if err != nil {
		return nil, err
	}
	d := &Device{
		backend:   b,
		opts:      o,
		dir:       o.directory(),
		catalog:   cat,
		self:      proc.Self(),
		producers: make(map[*Producer]struct{}),
		consumers: make(map[*Consumer]struct{}),
	}
	o.log().Debug("texshare: device opened",
		"dir", d.dir, "backend", b.Name(), "adapter", b.AdapterID(), "slots", cat.Slots())
	return d, nil
}

// Backend returns the device's backend.
func (d *Device) Backend() backend.Backend { return d.backend }

// Dir returns the registry directory.
func (d *Device) Dir() string { return d.dir }

func (d *Device) log() *slog.Logger { return d.opts.log() }

// CreateTexture allocates a texture on the device's backend and, when data
// is non-nil, fills it with tightly packed pixel rows.
func (d *Device) CreateTexture(width, height int, format gputypes.TextureFormat, data []byte) (backend.Texture, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	tex, err := d.backend.NewTexture(backend.TextureDescriptor{
		Width:  width,
		Height: height,
		Format: format,
	})
	if err != nil {
		if errors.Is(err, backend.ErrUnsupportedFormat) {
			return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("texshare: create texture: %w", err)
	}
	if data != nil {
		if err := backend.Upload(tex, data); err != nil {
			tex.Destroy()
			return nil, fmt.Errorf("texshare: create texture: %w", err)
		}
	}
	return tex, nil
}

// Discover lists streams this device can attach: live registrations whose
// flavor the backend can import and whose adapter matches.
func (d *Device) Discover() ([]StreamDescriptor, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	o := d.opts
	o.adapter = d.backend.AdapterID()
	var out []StreamDescriptor
	for desc := range scanCatalog(d.catalog, &o) {
		if d.backend.CanImport(desc.Flavor) {
			out = append(out, desc)
		}
	}
	return out, nil
}

// lookup finds the live registration of (pid, name). An empty name
// selects the first stream of pid. No process has a pid below one.
func (d *Device) lookup(pid int, name string) (StreamDescriptor, bool) {
	if pid <= 0 {
		return StreamDescriptor{}, false
	}
	o := d.opts
	o.pid = pid
	o.adapter = 0
	for desc := range scanCatalog(d.catalog, &o) {
		if name == "" || desc.Name == name {
			return desc, true
		}
	}
	return StreamDescriptor{}, false
}

// Close closes every producer and consumer created by the device and
// unmaps the registry. The backend is left open.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	producers := make([]*Producer, 0, len(d.producers))
	for p := range d.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(d.consumers))
	for c := range d.consumers {
		consumers = append(consumers, c)
	}
	d.mu.Unlock()

	var errs []error
	for _, c := range consumers {
		errs = append(errs, c.Close())
	}
	for _, p := range producers {
		errs = append(errs, p.Close())
	}
	errs = append(errs, d.catalog.Close())
	return errors.Join(errs...)
}

func (d *Device) checkOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return nil
}

func (d *Device) track(p *Producer, c *Consumer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if p != nil {
		d.producers[p] = struct{}{}
	}
	if c != nil {
		d.consumers[c] = struct{}{}
	}
	return nil
}

func (d *Device) untrack(p *Producer, c *Consumer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p != nil {
		delete(d.producers, p)
	}
	if c != nil {
		delete(d.consumers, c)
	}
}

// removeSegment deletes a segment file left behind by a dead producer.
func (d *Device) removeSegment(name string) {
	path, ok := segmentPath(d.dir, name)
	if !ok {
		return
	}
	if err := shm.Remove(path); err != nil {
		d.log().Warn("texshare: remove stale segment", "path", path, "error", err)
	}
}
