// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package host provides a texshare backend whose textures live in host
// memory. When constructed with a provider whose device can be polled,
// Flush waits for the host application's GPU device to go idle, so frames
// rendered by the host and read back into the texture are complete before
// they are published.
package host

import (
	"context"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/texshare/backend"
)

func init() {
	backend.Register(backend.BackendHost, func() (backend.Backend, error) {
		return New(nil), nil
	})
}

// Option configures a Backend.
type Option func(*Backend)

// WithAdapterID sets the adapter identity reported to peers.
// The default, zero, shares with any adapter.
func WithAdapterID(id uint64) Option {
	return func(b *Backend) { b.adapter = id }
}

// Provider is the part of gpucontext.DeviceProvider the backend needs.
// Every gpucontext.DeviceProvider satisfies it.
type Provider interface {
	Device() gpucontext.Device
	SurfaceFormat() gputypes.TextureFormat
}

// Poller is implemented by devices that can block until submitted work
// has completed, such as the wgpu device behind a gogpu application.
type Poller interface {
	Poll(wait bool)
}

// Backend is the host memory backend.
type Backend struct {
	provider Provider
	adapter  uint64

	mu       sync.Mutex
	textures map[*backend.HostTexture]struct{}
	polling  chan struct{}
	closed   bool
}

// New creates a host backend. provider may be nil, in which case Flush
// returns immediately.
func New(provider Provider, opts ...Option) *Backend {
	b := &Backend{
		provider: provider,
		textures: make(map[*backend.HostTexture]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns "host".
func (b *Backend) Name() string { return backend.BackendHost }

// Flavor returns backend.FlavorHost.
func (b *Backend) Flavor() backend.Flavor { return backend.FlavorHost }

// AdapterID returns the configured adapter identity.
func (b *Backend) AdapterID() uint64 { return b.adapter }

// PreferredFormat returns the host surface format, or BGRA8Unorm without
// a provider.
func (b *Backend) PreferredFormat() gputypes.TextureFormat {
	if b.provider != nil {
		if f := b.provider.SurfaceFormat(); backend.BytesPerPixel(f) != 0 {
			return f
		}
	}
	return gputypes.TextureFormatBGRA8Unorm
}

// NewTexture allocates a host texture.
func (b *Backend) NewTexture(desc backend.TextureDescriptor) (backend.Texture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, backend.ErrClosed
	}
	tex, err := backend.NewHostTexture(desc)
	if err != nil {
		return nil, err
	}
	b.textures[tex] = struct{}{}
	return &texture{HostTexture: tex, owner: b}, nil
}

// Flush waits for the provider's device to finish all submitted work.
// Devices that do not implement Poller have nothing to wait for.
//
// A device poll cannot be interrupted. When ctx ends first, the poll keeps
// running and later flushes wait for it before starting their own, so at
// most one poll is outstanding.
func (b *Backend) Flush(ctx context.Context) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return backend.ErrClosed
	}
	if b.provider == nil {
		return ctx.Err()
	}
	dev, ok := b.provider.Device().(Poller)
	if !ok {
		return ctx.Err()
	}

	for {
		done, fresh := b.startPoll(dev)
		select {
		case <-done:
			if fresh {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// startPoll starts a blocking poll of dev, or returns the one in flight.
// fresh is false when the returned poll began before this call.
func (b *Backend) startPoll(dev Poller) (done <-chan struct{}, fresh bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.polling != nil {
		return b.polling, false
	}
	ch := make(chan struct{})
	b.polling = ch
	go func() {
		dev.Poll(true)
		b.mu.Lock()
		b.polling = nil
		b.mu.Unlock()
		close(ch)
	}()
	return ch, true
}

// CanImport accepts resources shared through host memory.
func (b *Backend) CanImport(f backend.Flavor) bool {
	return f == backend.FlavorHost || f == backend.FlavorWGPU
}

// Close releases all textures.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for tex := range b.textures {
		tex.Destroy()
	}
	clear(b.textures)
	return nil
}

// Textures returns the number of live textures.
func (b *Backend) Textures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.textures)
}

type texture struct {
	*backend.HostTexture
	owner *Backend
}

func (t *texture) Destroy() {
	t.owner.mu.Lock()
	delete(t.owner.textures, t.HostTexture)
	t.owner.mu.Unlock()
	t.HostTexture.Destroy()
}
