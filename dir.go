package texshare

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirEnv overrides the default registry directory.
const DirEnv = "TEXSHARE_DIR"

// catalogFile is the registry file name inside the directory.
const catalogFile = "catalog"

// DefaultDir returns the registry directory used when WithDir is not
// given: $TEXSHARE_DIR, else $XDG_RUNTIME_DIR/texshare, else a per-user
// directory under os.TempDir.
func DefaultDir() string {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "texshare")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("texshare-%d", os.Getuid()))
}

// segmentPath returns the path of a segment named in a registration. Names
// that would escape dir are rejected.
func segmentPath(dir, name string) (string, bool) {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." || name == catalogFile {
		return "", false
	}
	return filepath.Join(dir, name), true
}
