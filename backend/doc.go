// Package backend defines the device abstraction texshare runs on.
//
// A Backend allocates textures whose pixel memory the host can reach and
// knows how to wait for the GPU to finish writing them. Producers flush the
// backend before publishing a frame; consumers allocate their private
// mirror textures from it.
//
// # Flavors
//
// Every backend reports a Flavor, the graphics-API tag recorded in each
// stream registration. Consumers use CanImport to decide whether a
// producer's resource can be attached on their side.
//
// # Backend Registration
//
// Implementations register a factory from an init function and are
// selected by name:
//
//	import _ "github.com/gogpu/texshare/backend/host"
//
//	b, err := backend.Open("host")
//
// Default returns the best registered backend:
//
//	b, err := backend.Default()
//
// # Available Backends
//
//   - "wgpu": host textures next to a gogpu/wgpu HAL device, flushed by
//     waiting for a queue submission to complete
//   - "host": host memory textures, optionally flushed by polling the
//     device of a gpucontext.DeviceProvider
package backend
