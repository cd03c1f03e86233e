package texshare

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"

	"github.com/gogpu/texshare/backend"
	"github.com/gogpu/texshare/internal/catalog"
)

// StreamDescriptor describes one broadcast stream as found in the registry.
// It is a snapshot: the stream may have ended by the time it is used.
type StreamDescriptor struct {
	// PID is the producer process.
	PID int

	// Executable is the base name of the producer's executable.
	Executable string

	// Name is the stream name, unique per process.
	Name string

	// Width and Height are the texture size in pixels.
	Width, Height int

	// Format is the pixel format.
	Format gputypes.TextureFormat

	// Flavor is the producer's graphics-API tag.
	Flavor backend.Flavor

	// AdapterID identifies the producer's adapter. Zero shares with any.
	AdapterID uint64

	// Token identifies the producer instance. A stream that is closed and
	// registered again under the same name gets a new token.
	Token uuid.UUID

	// Created is the registration time.
	Created time.Time

	// Handle is the name of the shared resource in the registry directory.
	Handle string

	start uint64
}

// Key returns the stream identity "pid/name".
func (d StreamDescriptor) Key() string {
	return fmt.Sprintf("%d/%s", d.PID, d.Name)
}

// String returns a one-line summary.
func (d StreamDescriptor) String() string {
	return fmt.Sprintf("%s (%s) %dx%d %s %s", d.Key(), d.Executable, d.Width, d.Height,
		backend.FormatName(d.Format), d.Flavor)
}

// describe converts a registry entry. Entries with unknown formats are
// rejected.
func describe(e catalog.Entry) (StreamDescriptor, error) {
	format, err := backend.DecodeFormat(backend.FormatCode(e.Format))
	if err != nil {
		return StreamDescriptor{}, fmt.Errorf("%w: stream %d/%s: %w", ErrUnsupportedFormat, e.PID, e.Name, err)
	}
	return StreamDescriptor{
		PID:        e.PID,
		Executable: e.Exe,
		Name:       e.Name,
		Width:      int(e.Width),
		Height:     int(e.Height),
		Format:     format,
		Flavor:     backend.Flavor(e.Flavor),
		AdapterID:  e.Adapter,
		Token:      uuid.UUID(e.Token),
		Created:    e.Created,
		Handle:     e.Segment,
		start:      e.Start,
	}, nil
}

// adapterCompatible reports whether streams from adapter a can be
// attached by a device on adapter b.
func adapterCompatible(a, b uint64) bool {
	return a == 0 || b == 0 || a == b
}
