// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgpu provides a texshare backend on gogpu/wgpu HAL.
//
// The backend owns a HAL device and queue for the host application to
// render with. Shared textures live in host memory and their pixels are
// authoritative: the host reads its GPU results back into Pixels before
// signaling. Flush submits a marker command buffer and waits until the
// queue has completed it, so every submission issued before Flush,
// readbacks included, has finished when it returns.
package wgpu

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/texshare/backend"
)

// ErrNoAdapter is returned when the instance exposes no adapter.
var ErrNoAdapter = errors.New("wgpu: no GPU adapters found")

// defaultWaitTimeout bounds a flush when the context has no deadline.
const defaultWaitTimeout = 5 * time.Second

// InstanceFactory creates HAL instances. hal.Backend implementations and
// noop.API satisfy it.
type InstanceFactory interface {
	CreateInstance(desc *hal.InstanceDescriptor) (hal.Instance, error)
}

// Option configures a Backend.
type Option func(*options)

type options struct {
	adapterName string
	waitTimeout time.Duration
}

// WithAdapterName selects the adapter with the given name instead of the
// first hardware adapter.
func WithAdapterName(name string) Option {
	return func(o *options) { o.adapterName = name }
}

// WithWaitTimeout bounds the completion wait when Flush is called without
// a context deadline.
func WithWaitTimeout(d time.Duration) Option {
	return func(o *options) { o.waitTimeout = d }
}

// Backend is the wgpu HAL backend.
type Backend struct {
	instance    hal.Instance
	device      hal.Device
	queue       hal.Queue
	adapterName string
	adapterID   uint64
	waitTimeout time.Duration

	mu        sync.Mutex
	submitted uint64
	textures  map[*texture]struct{}
	closed    bool
}

// New creates a backend on an instance created by api.
func New(api InstanceFactory, opts ...Option) (*Backend, error) {
	o := options{waitTimeout: defaultWaitTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	selected := selectAdapter(adapters, o.adapterName)
	if selected == nil {
		instance.Destroy()
		if o.adapterName != "" {
			return nil, fmt.Errorf("%w: no adapter named %q", ErrNoAdapter, o.adapterName)
		}
		return nil, ErrNoAdapter
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	return &Backend{
		instance:    instance,
		device:      openDev.Device,
		queue:       openDev.Queue,
		adapterName: selected.Info.Name,
		adapterID:   AdapterID(selected.Info.Name),
		waitTimeout: o.waitTimeout,
		textures:    make(map[*texture]struct{}),
	}, nil
}

// selectAdapter returns the adapter named name, or the first discrete or
// integrated GPU, or the first adapter.
func selectAdapter(adapters []hal.ExposedAdapter, name string) *hal.ExposedAdapter {
	if len(adapters) == 0 {
		return nil
	}
	if name != "" {
		for i := range adapters {
			if adapters[i].Info.Name == name {
				return &adapters[i]
			}
		}
		return nil
	}
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			return &adapters[i]
		}
	}
	return &adapters[0]
}

// AdapterID derives the adapter identity shared with peers from the
// adapter name. It is never zero.
func AdapterID(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	if id := h.Sum64(); id != 0 {
		return id
	}
	return 1
}

// Name returns "wgpu".
func (b *Backend) Name() string { return backend.BackendWGPU }

// Flavor returns backend.FlavorWGPU.
func (b *Backend) Flavor() backend.Flavor { return backend.FlavorWGPU }

// AdapterID returns the identity of the opened adapter.
func (b *Backend) AdapterID() uint64 { return b.adapterID }

// AdapterName returns the name of the opened adapter.
func (b *Backend) AdapterName() string { return b.adapterName }

// Device returns the HAL device.
func (b *Backend) Device() hal.Device { return b.device }

// Queue returns the HAL queue.
func (b *Backend) Queue() hal.Queue { return b.queue }

// CanImport accepts resources shared through host memory by any backend
// on the same adapter.
func (b *Backend) CanImport(f backend.Flavor) bool {
	return f == backend.FlavorWGPU || f == backend.FlavorHost
}

// NewTexture allocates a host texture owned by the backend.
func (b *Backend) NewTexture(desc backend.TextureDescriptor) (backend.Texture, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, backend.ErrClosed
	}
	staging, err := backend.NewHostTexture(desc)
	if err != nil {
		return nil, err
	}
	tex := &texture{HostTexture: staging, owner: b}
	b.textures[tex] = struct{}{}
	return tex, nil
}

// completionPoller reports the last submission index the GPU finished.
type completionPoller interface {
	PollCompleted() uint64
}

// idleWaiter blocks until the device has no pending work.
type idleWaiter interface {
	WaitIdle() error
}

// pollInterval is the delay between two completion checks in Flush.
const pollInterval = 200 * time.Microsecond

// Flush submits a marker and waits until the queue has completed it.
func (b *Backend) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return backend.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	encoder, err := b.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "texshare_flush",
	})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("texshare_flush"); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer b.device.FreeCommandBuffer(cmdBuf)

	idx, err := b.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	b.submitted = idx

	deadline := time.Now().Add(b.waitTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := b.waitCompleted(ctx, idx, deadline); err != nil {
		return fmt.Errorf("wgpu: wait for submission %d: %w", idx, err)
	}
	return nil
}

// waitCompleted waits until submission idx has completed, polling the
// queue or the device for the completed index. Devices that report
// neither are waited on with WaitIdle, or treated as synchronous.
func (b *Backend) waitCompleted(ctx context.Context, idx uint64, deadline time.Time) error {
	poller, ok := b.queue.(completionPoller)
	if !ok {
		poller, ok = b.device.(completionPoller)
	}
	if !ok {
		if w, ok := b.device.(idleWaiter); ok {
			return w.WaitIdle()
		}
		return nil
	}

	for poller.PollCompleted() < idx {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
		time.Sleep(pollInterval)
	}
	return nil
}

// Submitted returns the submission index of the last Flush.
func (b *Backend) Submitted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submitted
}

// Close destroys all textures, the device and the instance.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for tex := range b.textures {
		tex.release()
	}
	clear(b.textures)
	b.device.Destroy()
	b.instance.Destroy()
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
	defer t.owner.mu.Unlock()
	if _, ok := t.owner.textures[t]; !ok {
		return
	}
	delete(t.owner.textures, t)
	t.release()
}

func (t *texture) release() {
	t.HostTexture.Destroy()
}
