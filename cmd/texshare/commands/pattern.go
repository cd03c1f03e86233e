package commands

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/texshare/backend"
)

// SMPTE color bars at 75% intensity.
var (
	topBars = []color.RGBA{
		{191, 191, 191, 255}, // white
		{191, 191, 0, 255},   // yellow
		{0, 191, 191, 255},   // cyan
		{0, 191, 0, 255},     // green
		{191, 0, 191, 255},   // magenta
		{191, 0, 0, 255},     // red
		{0, 0, 191, 255},     // blue
	}
	middleBars = []color.RGBA{
		{0, 0, 191, 255},
		{19, 19, 19, 255},
		{191, 0, 191, 255},
		{19, 19, 19, 255},
		{0, 191, 191, 255},
		{19, 19, 19, 255},
		{191, 191, 191, 255},
	}
	// -I, white, +Q, black, then the pluge steps.
	bottomBars = []color.RGBA{
		{0, 33, 76, 255},
		{255, 255, 255, 255},
		{50, 0, 106, 255},
		{19, 19, 19, 255},
		{9, 9, 9, 255},
		{19, 19, 19, 255},
		{29, 29, 29, 255},
		{19, 19, 19, 255},
	}
)

// drawBars renders the SMPTE test pattern with a marker that moves one
// step per frame.
func drawBars(img *image.RGBA, frame uint64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	top, middle := h*2/3, h*3/4

	row := func(bars []color.RGBA, y0, y1 int) {
		for i, c := range bars {
			r := image.Rect(w*i/len(bars), y0, w*(i+1)/len(bars), y1).Add(b.Min)
			xdraw.Draw(img, r, image.NewUniform(c), image.Point{}, xdraw.Src)
		}
	}
	row(topBars, 0, top)
	row(middleBars, top, middle)
	row(bottomBars, middle, h)

	mw := max(w/64, 1)
	x := int(frame*uint64(mw)) % w
	marker := image.Rect(x, middle, min(x+mw, w), h).Add(b.Min)
	xdraw.Draw(img, marker, image.NewUniform(color.White), image.Point{}, xdraw.Src)
}

// writeImage converts img into the texture's pixel format.
func writeImage(tex backend.Texture, img *image.RGBA) error {
	w, h := tex.Width(), tex.Height()
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		return fmt.Errorf("image is %v, texture is %dx%d", img.Bounds().Size(), w, h)
	}
	pix, stride := tex.Pixels(), tex.Stride()
	format := tex.Format()
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		dst := pix[y*stride:]
		for x := 0; x < w; x++ {
			r, g, b, a := src[x*4], src[x*4+1], src[x*4+2], src[x*4+3]
			switch format {
			case gputypes.TextureFormatRGBA8Unorm:
				dst[x*4], dst[x*4+1], dst[x*4+2], dst[x*4+3] = r, g, b, a
			case gputypes.TextureFormatBGRA8Unorm:
				dst[x*4], dst[x*4+1], dst[x*4+2], dst[x*4+3] = b, g, r, a
			case gputypes.TextureFormatR8Unorm:
				dst[x] = luma(r, g, b)
			case gputypes.TextureFormatR32Float:
				putFloat(dst[x*4:], float32(luma(r, g, b))/255)
			case gputypes.TextureFormatRGBA32Float:
				for c, v := range [4]uint8{r, g, b, a} {
					putFloat(dst[x*16+c*4:], float32(v)/255)
				}
			default:
				return fmt.Errorf("unsupported format %s", backend.FormatName(format))
			}
		}
	}
	return nil
}

func luma(r, g, b uint8) uint8 {
	return uint8((299*uint32(r) + 587*uint32(g) + 114*uint32(b) + 500) / 1000)
}

func putFloat(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}
