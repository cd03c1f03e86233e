package texshare

import "errors"

// Sentinel errors. Operations wrap them with context; use errors.Is to
// test for them.
var (
	// ErrNameCollision is returned when the calling process already
	// broadcasts a stream with the same name.
	ErrNameCollision = errors.New("texshare: stream name already registered by this process")

	// ErrProducerNotFound is returned when no live registration matches.
	ErrProducerNotFound = errors.New("texshare: producer not found")

	// ErrImportFailed is returned when a producer's resource cannot be
	// attached: the segment is missing or invalid, its owner does not
	// match the registration, or the resource is incompatible with the
	// consumer's backend.
	ErrImportFailed = errors.New("texshare: failed to import shared texture")

	// ErrWaitTimeout is reported by a Watcher that gave up on a producer
	// after too many consecutive frame waits timed out. WaitForFrame itself
	// reports timeouts as (false, nil).
	ErrWaitTimeout = errors.New("texshare: timed out waiting for frames")

	// ErrStaleConnection is returned when the producer died or closed
	// its stream. The consumer must be closed and a new one connected.
	ErrStaleConnection = errors.New("texshare: producer is gone")

	// ErrClosed is returned by operations on a closed device, producer
	// or consumer.
	ErrClosed = errors.New("texshare: closed")

	// ErrInvalidName is returned for stream names that are empty, too
	// long or not valid UTF-8.
	ErrInvalidName = errors.New("texshare: invalid stream name")

	// ErrUnsupportedFormat is returned for pixel formats that cannot be
	// shared.
	ErrUnsupportedFormat = errors.New("texshare: unsupported pixel format")

	// ErrFormatMismatch is returned when two textures differ in size or
	// format where an exact match is required.
	ErrFormatMismatch = errors.New("texshare: texture size or format mismatch")

	// ErrCatalogFull is returned when every registry slot is in use by a
	// live process.
	ErrCatalogFull = errors.New("texshare: registry is full")

	// ErrCatalogIncompatible is returned when the registry file was
	// written by an incompatible version.
	ErrCatalogIncompatible = errors.New("texshare: incompatible registry")

	// ErrFrameBusy is returned when a consistent copy of the shared
	// texture could not be taken before the copy timeout.
	ErrFrameBusy = errors.New("texshare: producer kept the frame busy")
)
