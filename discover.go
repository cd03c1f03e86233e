package texshare

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/gogpu/texshare/internal/catalog"
	"github.com/gogpu/texshare/internal/proc"
)

// Discover lists the streams currently registered by live processes.
// The result is a hint: a stream may end right after it is listed.
//
// Discover never creates the registry; with no registry it returns an
// empty list.
func Discover(opts ...Option) ([]StreamDescriptor, error) {
	o := applyOptions(opts)
	cat, err := openCatalog(&o, false)
	if err != nil || cat == nil {
		return nil, err
	}
	defer cat.Close()

	var out []StreamDescriptor
	for d := range scanCatalog(cat, &o) {
		out = append(out, d)
	}
	return out, nil
}

// Scan returns a lazy sequence over the streams registered by live
// processes. Each range over the sequence reads the registry again.
// Errors opening the registry end the sequence and are logged.
func Scan(opts ...Option) iter.Seq[StreamDescriptor] {
	o := applyOptions(opts)
	return func(yield func(StreamDescriptor) bool) {
		cat, err := openCatalog(&o, false)
		if err != nil {
			o.log().Warn("texshare: scan failed", "dir", o.directory(), "error", err)
			return
		}
		if cat == nil {
			return
		}
		defer cat.Close()
		for d := range scanCatalog(cat, &o) {
			if !yield(d) {
				return
			}
		}
	}
}

// scanCatalog yields live, decodable entries that pass the filters in o.
func scanCatalog(cat *catalog.Catalog, o *options) iter.Seq[StreamDescriptor] {
	return func(yield func(StreamDescriptor) bool) {
		for e := range cat.All() {
			if o.pid != 0 && e.PID != o.pid {
				continue
			}
			if !adapterCompatible(e.Adapter, o.adapter) {
				continue
			}
			if !proc.Alive(e.PID, e.Start) {
				o.log().Debug("texshare: skipping stale registration",
					"pid", e.PID, "stream", e.Name, "slot", e.Slot)
				continue
			}
			d, err := describe(e)
			if err != nil {
				o.log().Warn("texshare: skipping registration", "error", err)
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

// openCatalog opens the registry in o's directory. With create false a
// missing registry yields (nil, nil).
func openCatalog(o *options, create bool) (*catalog.Catalog, error) {
	dir := o.directory()
	path := filepath.Join(dir, catalogFile)
	if create {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("texshare: create registry directory: %w", err)
		}
	} else if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	cat, err := catalog.Open(path, o.slots)
	if err != nil {
		if errors.Is(err, catalog.ErrIncompatible) {
			return nil, fmt.Errorf("%w: %w", ErrCatalogIncompatible, err)
		}
		return nil, fmt.Errorf("texshare: open registry: %w", err)
	}
	return cat, nil
}
