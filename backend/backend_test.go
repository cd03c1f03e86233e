package backend

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestFlavorString(t *testing.T) {
	tests := []struct {
		f    Flavor
		want string
	}{
		{FlavorHost, "host"},
		{FlavorWGPU, "wgpu"},
		{FlavorD3D11, "d3d11"},
		{Flavor(99), "flavor(99)"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("Flavor(%d).String() = %q, want %q", uint32(tt.f), got, tt.want)
		}
	}
}

func TestParseFlavor(t *testing.T) {
	f, err := ParseFlavor(" D3D12 ")
	if err != nil || f != FlavorD3D12 {
		t.Errorf("ParseFlavor(D3D12) = %v, %v; want d3d12, nil", f, err)
	}
	if _, err := ParseFlavor("metal"); err == nil {
		t.Error("ParseFlavor(metal) error = nil, want error")
	}
}

func TestFormatCodes(t *testing.T) {
	for _, f := range Formats() {
		code, err := EncodeFormat(f)
		if err != nil {
			t.Fatalf("EncodeFormat(%s) error = %v", FormatName(f), err)
		}
		back, err := DecodeFormat(code)
		if err != nil || back != f {
			t.Errorf("DecodeFormat(%d) = %v, %v; want %s", code, back, err, FormatName(f))
		}
	}

	// Codes are persisted; they must never be renumbered.
	if code, _ := EncodeFormat(gputypes.TextureFormatBGRA8Unorm); code != 1 {
		t.Errorf("BGRA8Unorm code = %d, want 1", code)
	}
	if code, _ := EncodeFormat(gputypes.TextureFormatR32Float); code != 3 {
		t.Errorf("R32Float code = %d, want 3", code)
	}

	if _, err := EncodeFormat(gputypes.TextureFormatUndefined); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("EncodeFormat(undefined) error = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := DecodeFormat(FormatCode(200)); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("DecodeFormat(200) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("rgba32float")
	if err != nil || f != gputypes.TextureFormatRGBA32Float {
		t.Errorf("ParseFormat(rgba32float) = %v, %v", f, err)
	}
	if _, err := ParseFormat("nv12"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("ParseFormat(nv12) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestTextureDescriptorValidate(t *testing.T) {
	tests := []struct {
		name string
		desc TextureDescriptor
		want error
	}{
		{"ok", TextureDescriptor{Width: 2, Height: 2, Format: gputypes.TextureFormatBGRA8Unorm}, nil},
		{"zero width", TextureDescriptor{Width: 0, Height: 2, Format: gputypes.TextureFormatBGRA8Unorm}, ErrInvalidSize},
		{"bad format", TextureDescriptor{Width: 2, Height: 2, Format: gputypes.TextureFormatUndefined}, ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHostTexture(t *testing.T) {
	tex, err := NewHostTexture(TextureDescriptor{Width: 3, Height: 2, Format: gputypes.TextureFormatR32Float})
	if err != nil {
		t.Fatalf("NewHostTexture() error = %v", err)
	}
	if tex.Stride() != 12 {
		t.Errorf("Stride() = %d, want 12", tex.Stride())
	}
	if len(tex.Pixels()) != 24 {
		t.Errorf("len(Pixels()) = %d, want 24", len(tex.Pixels()))
	}
	if tex.Descriptor().Usage != DefaultUsage {
		t.Errorf("Usage = %v, want DefaultUsage", tex.Descriptor().Usage)
	}

	data := bytes.Repeat([]byte{7}, 24)
	if err := Upload(tex, data); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if !bytes.Equal(tex.Pixels(), data) {
		t.Error("Pixels() differ from uploaded data")
	}
	if err := Upload(tex, data[:5]); err == nil {
		t.Error("Upload(short) error = nil, want error")
	}
}

func TestWrapPixelsReadOnly(t *testing.T) {
	desc := TextureDescriptor{Width: 1, Height: 1, Format: gputypes.TextureFormatRGBA8Unorm}
	tex, err := WrapPixels(desc, make([]byte, 8), true)
	if err != nil {
		t.Fatalf("WrapPixels() error = %v", err)
	}
	if len(tex.Pixels()) != 4 {
		t.Errorf("len(Pixels()) = %d, want 4", len(tex.Pixels()))
	}
	if err := Upload(tex, make([]byte, 4)); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Upload(read-only) error = %v, want ErrReadOnly", err)
	}
	if _, err := WrapPixels(desc, make([]byte, 2), false); err == nil {
		t.Error("WrapPixels(short) error = nil, want error")
	}
}

type stubBackend struct{ name string }

func (b *stubBackend) Name() string                                      { return b.name }
func (b *stubBackend) Flavor() Flavor                                    { return FlavorHost }
func (b *stubBackend) AdapterID() uint64                                 { return 0 }
func (b *stubBackend) NewTexture(desc TextureDescriptor) (Texture, error) { return NewHostTexture(desc) }
func (b *stubBackend) Flush(context.Context) error                       { return nil }
func (b *stubBackend) CanImport(Flavor) bool                             { return true }
func (b *stubBackend) Close() error                                      { return nil }

func TestRegistry(t *testing.T) {
	const name = "stub-registry-test"
	Register(name, func() (Backend, error) { return &stubBackend{name: name}, nil })
	defer Unregister(name)

	if !IsRegistered(name) {
		t.Fatalf("IsRegistered(%q) = false", name)
	}
	b, err := Open(name)
	if err != nil || b.Name() != name {
		t.Errorf("Open(%q) = %v, %v", name, b, err)
	}
	if _, err := Open("missing-backend"); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Open(missing) error = %v, want ErrBackendNotAvailable", err)
	}

	found := false
	for _, n := range Available() {
		if n == name {
			found = true
		}
	}
	if !found {
		t.Errorf("Available() = %v, missing %q", Available(), name)
	}

	if _, err := Default(); err != nil {
		t.Errorf("Default() error = %v", err)
	}
}

func TestDefaultSkipsFailingFactory(t *testing.T) {
	const bad, good = "zz-failing", "zz-working"
	Register(bad, func() (Backend, error) { return nil, errors.New("no device") })
	Register(good, func() (Backend, error) { return &stubBackend{name: good}, nil })
	defer Unregister(bad)
	defer Unregister(good)

	b, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}
	if b.Name() == bad {
		t.Error("Default() returned the failing backend")
	}
}
