// Package texshare shares GPU textures between independent processes.
//
// # Overview
//
// A producer broadcasts a texture as a named stream. Any number of
// consumers in other processes discover the stream by process id and name,
// attach to the shared resource directly and read frames as the producer
// signals them. There is no broker process: streams are published in a
// registry file that every participant maps, and frames are synchronized
// through a 64-bit fence counter stored next to the pixels.
//
// # Quick Start
//
// Producer:
//
//	b, _ := backend.Default()
//	dev, _ := texshare.NewDevice(b)
//	defer dev.Close()
//
//	tex, _ := dev.CreateTexture(1280, 720, gputypes.TextureFormatBGRA8Unorm, nil)
//	p, _ := dev.CreateProducer("camera", tex)
//	for {
//		render(tex)
//		if err := p.SignalFrame(); err != nil {
//			break
//		}
//	}
//
// Consumer:
//
//	streams, _ := dev.Discover()
//	c, _ := dev.Connect(streams[0])
//	for {
//		ok, err := c.WaitForFrame(100 * time.Millisecond)
//		if errors.Is(err, texshare.ErrStaleConnection) {
//			break
//		}
//		if ok {
//			frame, _ := c.Texture()
//			use(frame)
//		}
//	}
//
// # Frames
//
// SignalFrame first flushes the backend so all GPU work that wrote the
// texture is complete, then copies the texture into the shared resource and
// finally advances the fence counter. A consumer that observes counter n
// reads frame n or a later one, never a partial frame. Consumers may skip
// frames; they never observe them out of order.
//
// # Producer Loss
//
// A producer that exits without Close leaves its registration behind.
// Consumers detect the loss through Consumer.IsAlive, which asks the
// operating system rather than the registry, and WaitForFrame reports
// ErrStaleConnection. The stale slot is reclaimed by a later registration.
//
// Watcher packages this logic as a state machine that searches,
// connects, waits for frames and reconnects after loss.
//
// # Backends
//
// The backend package defines the graphics device abstraction. The host
// backend keeps textures in memory and flushes by polling the device of a
// gpucontext.DeviceProvider. The wgpu backend owns a HAL device and
// flushes by waiting for its queue to complete a submission.
//
// # Logging
//
// texshare logs through log/slog and is silent by default. Use SetLogger or
// WithLogger to enable output.
package texshare
