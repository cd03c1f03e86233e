package texshare

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/gogpu/texshare/internal/catalog"
)

// MaxNameLen is the longest stream name in bytes, after normalization.
const MaxNameLen = catalog.MaxName

// NormalizeName returns the canonical form of a stream name. Names are
// compared after NFC normalization, so visually identical names typed on
// different systems address the same stream.
func NormalizeName(name string) (string, error) {
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidName)
	}
	n := norm.NFC.String(name)
	switch {
	case n == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	case len(n) > MaxNameLen:
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrInvalidName, len(n), MaxNameLen)
	case strings.ContainsRune(n, 0):
		return "", fmt.Errorf("%w: contains NUL", ErrInvalidName)
	}
	return n, nil
}
