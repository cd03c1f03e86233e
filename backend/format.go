package backend

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// FormatCode is the stable on-disk code of a shareable pixel format.
type FormatCode uint32

// Format codes. Values are part of the registration format.
const (
	FormatCodeUndefined FormatCode = iota
	FormatCodeBGRA8Unorm
	FormatCodeRGBA8Unorm
	FormatCodeR32Float
	FormatCodeRGBA32Float
	FormatCodeR8Unorm
)

type formatInfo struct {
	format gputypes.TextureFormat
	code   FormatCode
	name   string
	bpp    int
}

var formats = []formatInfo{
	{gputypes.TextureFormatBGRA8Unorm, FormatCodeBGRA8Unorm, "bgra8unorm", 4},
	{gputypes.TextureFormatRGBA8Unorm, FormatCodeRGBA8Unorm, "rgba8unorm", 4},
	{gputypes.TextureFormatR32Float, FormatCodeR32Float, "r32float", 4},
	{gputypes.TextureFormatRGBA32Float, FormatCodeRGBA32Float, "rgba32float", 16},
	{gputypes.TextureFormatR8Unorm, FormatCodeR8Unorm, "r8unorm", 1},
}

func lookupFormat(f gputypes.TextureFormat) (formatInfo, bool) {
	for _, info := range formats {
		if info.format == f {
			return info, true
		}
	}
	return formatInfo{}, false
}

// BytesPerPixel returns the pixel size of a shareable format, or zero if
// the format cannot be shared.
func BytesPerPixel(f gputypes.TextureFormat) int {
	info, _ := lookupFormat(f)
	return info.bpp
}

// EncodeFormat returns the on-disk code of f.
func EncodeFormat(f gputypes.TextureFormat) (FormatCode, error) {
	info, ok := lookupFormat(f)
	if !ok {
		return FormatCodeUndefined, fmt.Errorf("%w: %s", ErrUnsupportedFormat, FormatName(f))
	}
	return info.code, nil
}

// DecodeFormat returns the format with on-disk code c.
func DecodeFormat(c FormatCode) (gputypes.TextureFormat, error) {
	for _, info := range formats {
		if info.code == c {
			return info.format, nil
		}
	}
	return gputypes.TextureFormatUndefined, fmt.Errorf("%w: code %d", ErrUnsupportedFormat, uint32(c))
}

// FormatName returns a short lower-case name of f.
func FormatName(f gputypes.TextureFormat) string {
	if info, ok := lookupFormat(f); ok {
		return info.name
	}
	return fmt.Sprintf("format(%d)", uint32(f))
}

// ParseFormat returns the shareable format with the given name.
func ParseFormat(name string) (gputypes.TextureFormat, error) {
	for _, info := range formats {
		if info.name == name {
			return info.format, nil
		}
	}
	return gputypes.TextureFormatUndefined, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// Formats returns the shareable formats.
func Formats() []gputypes.TextureFormat {
	out := make([]gputypes.TextureFormat, len(formats))
	for i, info := range formats {
		out[i] = info.format
	}
	return out
}
