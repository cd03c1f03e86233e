package texshare

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/texshare/backend"
)

// CopyTexture copies src into dst. Both textures must have the same size
// and format.
func (d *Device) CopyTexture(src, dst backend.Texture) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := checkWritable(dst); err != nil {
		return err
	}
	if src.Width() != dst.Width() || src.Height() != dst.Height() || src.Format() != dst.Format() {
		return fmt.Errorf("%w: %dx%d %s into %dx%d %s", ErrFormatMismatch,
			src.Width(), src.Height(), backend.FormatName(src.Format()),
			dst.Width(), dst.Height(), backend.FormatName(dst.Format()))
	}
	row := src.Width() * backend.BytesPerPixel(src.Format())
	copyRows(dst.Pixels(), dst.Stride(), src.Pixels(), src.Stride(), row, src.Height())
	return nil
}

// BlitRegion scales src into the rectangle r of dst with bilinear
// filtering. 8-bit color formats convert between BGRA and RGBA channel
// order. Float formats are copied only when size and format match exactly
// and r covers the whole destination.
func (d *Device) BlitRegion(src, dst backend.Texture, r image.Rectangle) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := checkWritable(dst); err != nil {
		return err
	}
	r = r.Intersect(image.Rect(0, 0, dst.Width(), dst.Height()))
	if r.Empty() {
		return nil
	}

	switch {
	case isColor8(src.Format()) && isColor8(dst.Format()):
		s, t := asRGBA(src), asRGBA(dst)
		xdraw.ApproxBiLinear.Scale(t, r, s, s.Bounds(), xdraw.Src, nil)
		if src.Format() != dst.Format() {
			swapRB(t, r)
		}
		return nil
	case src.Format() == gputypes.TextureFormatR8Unorm && dst.Format() == gputypes.TextureFormatR8Unorm:
		s, t := asGray(src), asGray(dst)
		xdraw.ApproxBiLinear.Scale(t, r, s, s.Bounds(), xdraw.Src, nil)
		return nil
	case r == image.Rect(0, 0, dst.Width(), dst.Height()):
		return d.CopyTexture(src, dst)
	}
	return fmt.Errorf("%w: cannot scale %s into %s", ErrFormatMismatch,
		backend.FormatName(src.Format()), backend.FormatName(dst.Format()))
}

func checkWritable(t backend.Texture) error {
	if t.ReadOnly() {
		return fmt.Errorf("texshare: destination: %w", backend.ErrReadOnly)
	}
	return nil
}

func isColor8(f gputypes.TextureFormat) bool {
	return f == gputypes.TextureFormatBGRA8Unorm || f == gputypes.TextureFormatRGBA8Unorm
}

// asRGBA views a 4-channel 8-bit texture as an image without copying. BGRA
// textures appear with red and blue exchanged.
func asRGBA(t backend.Texture) *image.RGBA {
	return &image.RGBA{Pix: t.Pixels(), Stride: t.Stride(), Rect: image.Rect(0, 0, t.Width(), t.Height())}
}

func asGray(t backend.Texture) *image.Gray {
	return &image.Gray{Pix: t.Pixels(), Stride: t.Stride(), Rect: image.Rect(0, 0, t.Width(), t.Height())}
}

func swapRB(img *image.RGBA, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.Pix[img.PixOffset(r.Min.X, y):img.PixOffset(r.Max.X, y)]
		for i := 0; i+3 < len(row); i += 4 {
			row[i], row[i+2] = row[i+2], row[i]
		}
	}
}

// Image converts a texture to an RGBA image for encoding snapshots. Float
// channels are clamped to [0, 1].
func Image(t backend.Texture) (*image.RGBA, error) {
	w, h := t.Width(), t.Height()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	switch t.Format() {
	case gputypes.TextureFormatRGBA8Unorm:
		copyRows(img.Pix, img.Stride, t.Pixels(), t.Stride(), w*4, h)
	case gputypes.TextureFormatBGRA8Unorm:
		copyRows(img.Pix, img.Stride, t.Pixels(), t.Stride(), w*4, h)
		swapRB(img, img.Rect)
	case gputypes.TextureFormatR8Unorm:
		xdraw.Copy(img, image.Point{}, asGray(t), asGray(t).Bounds(), xdraw.Src, nil)
	case gputypes.TextureFormatR32Float, gputypes.TextureFormatRGBA32Float:
		floatToRGBA(img, t)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, backend.FormatName(t.Format()))
	}
	return img, nil
}

func floatToRGBA(img *image.RGBA, t backend.Texture) {
	channels := backend.BytesPerPixel(t.Format()) / 4
	pix := t.Pixels()
	for y := 0; y < t.Height(); y++ {
		for x := 0; x < t.Width(); x++ {
			off := y*t.Stride() + x*channels*4
			o := img.PixOffset(x, y)
			if channels == 1 {
				v := unorm8(float32At(pix, off))
				img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = v, v, v, 0xff
				continue
			}
			for c := 0; c < 4; c++ {
				img.Pix[o+c] = unorm8(float32At(pix, off+c*4))
			}
		}
	}
}

func float32At(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

func unorm8(v float32) uint8 {
	switch {
	case !(v > 0):
		return 0
	case v >= 1:
		return 0xff
	}
	return uint8(v*255 + 0.5)
}
