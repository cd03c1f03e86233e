//go:build unix

package commands

import (
	"bytes"
	"image"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/texshare"
	"github.com/gogpu/texshare/backend/host"
)

func connectTestStream(t *testing.T, dev *texshare.Device, name string, format gputypes.TextureFormat, px []byte) *texshare.Consumer {
	t.Helper()
	tex, err := dev.CreateTexture(4, 4, format, bytes.Repeat(px, 16))
	if err != nil {
		t.Fatalf("CreateTexture(%s) error = %v", name, err)
	}
	p, err := dev.CreateProducer(name, tex)
	if err != nil {
		t.Fatalf("CreateProducer(%s) error = %v", name, err)
	}
	if err := p.SignalFrame(); err != nil {
		t.Fatalf("SignalFrame(%s) error = %v", name, err)
	}
	c, err := dev.Connect(p.Descriptor())
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", name, err)
	}
	return c
}

func TestMuxSkipsUnblittableInput(t *testing.T) {
	dir := t.TempDir()
	dev, err := texshare.NewDevice(host.New(nil), texshare.WithDir(dir))
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	defer dev.Close()

	depth := connectTestStream(t, dev, "depth", gputypes.TextureFormatR32Float, []byte{0, 0, 0x80, 0x3f})
	color := connectTestStream(t, dev, "color", gputypes.TextureFormatBGRA8Unorm, []byte{10, 20, 30, 255})

	out, err := dev.CreateTexture(8, 4, gputypes.TextureFormatBGRA8Unorm, bytes.Repeat([]byte{1, 1, 1, 1}, 32))
	if err != nil {
		t.Fatalf("CreateTexture(out) error = %v", err)
	}
	var log bytes.Buffer
	m := &muxer{dev: dev, out: out, log: &log}
	left, right := tile(out, 0, 2), tile(out, 1, 2)

	for i := 0; i < 2; i++ {
		if err := m.handle(texshare.Event{State: texshare.Connected, Previous: texshare.Connected, Frame: true, Consumer: depth},
			muxInput{name: "depth"}, left); err != nil {
			t.Fatalf("handle(depth) error = %v, want nil", err)
		}
	}
	if err := m.handle(texshare.Event{State: texshare.Connected, Previous: texshare.Connected, Frame: true, Consumer: color},
		muxInput{name: "color"}, right); err != nil {
		t.Fatalf("handle(color) error = %v", err)
	}

	if got := strings.Count(log.String(), "input depth:"); got != 1 {
		t.Errorf("log reports depth %d times, want once:\n%s", got, log.String())
	}
	img := &image.RGBA{Pix: out.Pixels(), Stride: out.Stride(), Rect: image.Rect(0, 0, 8, 4)}
	checks := []struct {
		at   image.Point
		want []byte
	}{
		{image.Pt(0, 0), []byte{0, 0, 0, 255}},
		{image.Pt(3, 3), []byte{0, 0, 0, 255}},
		{image.Pt(4, 0), []byte{10, 20, 30, 255}},
		{image.Pt(7, 3), []byte{10, 20, 30, 255}},
	}
	for _, c := range checks {
		o := img.PixOffset(c.at.X, c.at.Y)
		if got := img.Pix[o : o+4]; !bytes.Equal(got, c.want) {
			t.Errorf("pixel %v = %v, want %v", c.at, got, c.want)
		}
	}
}
