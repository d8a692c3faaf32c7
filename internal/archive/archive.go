// Package archive reads and writes the portable box archive: a zip holding a
// cards.json manifest and a data/ directory of media files referenced from
// card configs with the "@data/" token.
package archive

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

const (
	// ManifestName is the file name of the manifest.
	ManifestName = "cards.json"

	// DataDir is the directory holding media files, next to the manifest.
	DataDir = "data"

	// DataPrefix marks a config value as a reference to a file in DataDir.
	DataPrefix = "@data/"

	// Version is the only manifest version understood.
	Version = "1.0"

	// macOSMetadataDir is added by the macOS archiver and carries no content.
	macOSMetadataDir = "__MACOSX"
)

// ErrInvalidArchive is returned for archives that cannot be read as a box
// archive: bad zip data, unsafe entry names, a missing or malformed manifest
// or an unsupported version.
var ErrInvalidArchive = errors.New("invalid archive")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArchive, fmt.Sprintf(format, args...))
}

// DataRef returns the config value referencing name in DataDir.
func DataRef(name string) string {
	return DataPrefix + name
}

// ParseDataRef reports whether value references a file in DataDir and
// returns the file name. Surrounding whitespace is ignored.
func ParseDataRef(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, DataPrefix) {
		return "", false
	}
	return strings.TrimPrefix(value, DataPrefix), true
}

// UniqueName returns name, or name with a numeric suffix before its
// extension, so that it is not in taken. The result is added to taken.
func UniqueName(taken map[string]bool, name string) string {
	candidate := name
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; taken[candidate]; i++ {
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
	taken[candidate] = true
	return candidate
}
