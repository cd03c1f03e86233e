package backend

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// HostTexture is a texture backed by a Go byte slice. Backends without
// host-visible GPU memory use it as the staging copy of their textures.
type HostTexture struct {
	desc     TextureDescriptor
	stride   int
	pix      []byte
	readOnly bool
}

// NewHostTexture allocates a zeroed host texture.
func NewHostTexture(desc TextureDescriptor) (*HostTexture, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if desc.Usage == 0 {
		desc.Usage = DefaultUsage
	}
	stride := desc.Stride()
	return &HostTexture{
		desc:   desc,
		stride: stride,
		pix:    make([]byte, stride*desc.Height),
	}, nil
}

// WrapPixels returns a texture over existing memory. pix must hold at
// least Stride*Height bytes.
func WrapPixels(desc TextureDescriptor, pix []byte, readOnly bool) (*HostTexture, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	stride := desc.Stride()
	if len(pix) < stride*desc.Height {
		return nil, fmt.Errorf("backend: %d bytes for %dx%d %s texture, need %d",
			len(pix), desc.Width, desc.Height, FormatName(desc.Format), stride*desc.Height)
	}
	if desc.Usage == 0 {
		desc.Usage = DefaultUsage
	}
	return &HostTexture{
		desc:     desc,
		stride:   stride,
		pix:      pix[:stride*desc.Height],
		readOnly: readOnly,
	}, nil
}

// Descriptor returns the descriptor the texture was created with.
func (t *HostTexture) Descriptor() TextureDescriptor { return t.desc }

// Width returns the width in pixels.
func (t *HostTexture) Width() int { return t.desc.Width }

// Height returns the height in pixels.
func (t *HostTexture) Height() int { return t.desc.Height }

// Format returns the pixel format.
func (t *HostTexture) Format() gputypes.TextureFormat { return t.desc.Format }

// Stride returns the row pitch in bytes.
func (t *HostTexture) Stride() int { return t.stride }

// Pixels returns the pixel memory.
func (t *HostTexture) Pixels() []byte { return t.pix }

// ReadOnly reports whether writes to Pixels are forbidden.
func (t *HostTexture) ReadOnly() bool { return t.readOnly }

// Destroy drops the reference to the pixel memory.
func (t *HostTexture) Destroy() { t.pix = nil }

// Upload copies data into t row by row. data must be tightly packed.
func Upload(t Texture, data []byte) error {
	if t.ReadOnly() {
		return ErrReadOnly
	}
	row := t.Width() * BytesPerPixel(t.Format())
	if len(data) < row*t.Height() {
		return fmt.Errorf("backend: upload of %d bytes, need %d", len(data), row*t.Height())
	}
	pix := t.Pixels()
	stride := t.Stride()
	if stride == row {
		copy(pix, data[:row*t.Height()])
		return nil
	}
	for y := 0; y < t.Height(); y++ {
		copy(pix[y*stride:y*stride+row], data[y*row:(y+1)*row])
	}
	return nil
}
