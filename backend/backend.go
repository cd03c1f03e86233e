package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("backend: closed")

	// ErrUnsupportedFormat is returned for pixel formats that cannot be shared.
	ErrUnsupportedFormat = errors.New("backend: unsupported texture format")

	// ErrInvalidSize is returned for textures with a zero or negative size.
	ErrInvalidSize = errors.New("backend: invalid texture size")

	// ErrReadOnly is returned when writing to a read-only texture.
	ErrReadOnly = errors.New("backend: texture is read-only")
)

// Flavor is the graphics-API tag of a stream. Its numeric values are part
// of the registration format and must not change.
type Flavor uint32

// Flavor values.
const (
	FlavorUnknown Flavor = iota
	FlavorHost
	FlavorWGPU
	FlavorD3D11
	FlavorD3D12
	FlavorGL
)

var flavorNames = [...]string{
	FlavorUnknown: "unknown",
	FlavorHost:    "host",
	FlavorWGPU:    "wgpu",
	FlavorD3D11:   "d3d11",
	FlavorD3D12:   "d3d12",
	FlavorGL:      "gl",
}

// String returns the flavor name.
func (f Flavor) String() string {
	if int(f) < len(flavorNames) {
		return flavorNames[f]
	}
	return fmt.Sprintf("flavor(%d)", uint32(f))
}

// ParseFlavor returns the flavor with the given name.
func ParseFlavor(s string) (Flavor, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range flavorNames {
		if name == s {
			return Flavor(i), nil
		}
	}
	return FlavorUnknown, fmt.Errorf("backend: unknown flavor %q", s)
}

// TextureDescriptor describes a texture to allocate.
type TextureDescriptor struct {
	// Label is a debug name.
	Label string

	// Width and Height are the texture size in pixels.
	Width, Height int

	// Format is the pixel format.
	Format gputypes.TextureFormat

	// Usage is the set of GPU usages. Zero selects DefaultUsage.
	Usage gputypes.TextureUsage
}

// DefaultUsage is the usage of shared textures: they are rendered to,
// sampled and copied in both directions.
const DefaultUsage = gputypes.TextureUsageCopySrc |
	gputypes.TextureUsageCopyDst |
	gputypes.TextureUsageTextureBinding |
	gputypes.TextureUsageRenderAttachment

// Validate checks that the descriptor can be allocated and shared.
func (d TextureDescriptor) Validate() error {
	if d.Width <= 0 || d.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, d.Width, d.Height)
	}
	if BytesPerPixel(d.Format) == 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, FormatName(d.Format))
	}
	return nil
}

// Stride returns the row pitch of a tightly packed texture.
func (d TextureDescriptor) Stride() int { return d.Width * BytesPerPixel(d.Format) }

// Texture is a texture whose pixel memory the host can address.
//
// Writes to Pixels become visible to the GPU side of the backend, and to
// consumers once published, after the next Flush.
type Texture interface {
	// Descriptor returns the descriptor the texture was created with.
	Descriptor() TextureDescriptor

	// Width returns the width in pixels.
	Width() int

	// Height returns the height in pixels.
	Height() int

	// Format returns the pixel format.
	Format() gputypes.TextureFormat

	// Stride returns the row pitch in bytes.
	Stride() int

	// Pixels returns the pixel memory, Stride*Height bytes.
	Pixels() []byte

	// ReadOnly reports whether writes to Pixels are forbidden.
	ReadOnly() bool

	// Destroy releases the texture.
	Destroy()
}

// Backend is a device context: it allocates textures and waits for the
// GPU to finish writing them.
type Backend interface {
	// Name returns the backend identifier (e.g., "host", "wgpu").
	Name() string

	// Flavor returns the graphics-API tag of textures this backend shares.
	Flavor() Flavor

	// AdapterID identifies the physical adapter. Zero means the backend can
	// share with any adapter.
	AdapterID() uint64

	// NewTexture allocates a texture.
	NewTexture(desc TextureDescriptor) (Texture, error)

	// Flush blocks until all previously issued GPU work that writes
	// textures of this backend has completed.
	Flush(ctx context.Context) error

	// CanImport reports whether resources shared by a producer of flavor f
	// can be attached on this backend.
	CanImport(f Flavor) bool

	// Close releases all backend resources.
	Close() error
}
