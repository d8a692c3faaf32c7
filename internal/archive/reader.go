package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// maxEntries bounds the number of entries accepted in one archive.
const maxEntries = 10000

// Bundle is an extracted archive.
type Bundle struct {
	// Root is the directory holding the manifest.
	Root string

	Manifest *Manifest
}

// Open extracts the zip at zipPath into dest, locates the manifest and
// decodes it. Extraction stops once more than maxBytes of uncompressed data
// has been written; maxBytes <= 0 disables the bound.
func Open(ctx context.Context, zipPath, dest string, maxBytes int64) (*Bundle, error) {
	if err := Extract(ctx, zipPath, dest, maxBytes); err != nil {
		return nil, err
	}
	root, err := LocateRoot(dest)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(root, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	m, err := DecodeManifest(f)
	if err != nil {
		return nil, err
	}
	return &Bundle{Root: root, Manifest: m}, nil
}

// OpenData opens a media file referenced by name. Names containing path
// separators are refused with os.ErrNotExist.
func (b *Bundle) OpenData(name string) (*os.File, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("data file %q: %w", name, os.ErrNotExist)
	}
	return os.Open(filepath.Join(b.Root, DataDir, name))
}

// Extract unpacks the zip at zipPath into dest. Entries whose names are
// absolute, contain parent references or are symbolic links make the whole
// archive invalid.
func Extract(ctx context.Context, zipPath, dest string, maxBytes int64) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return invalid("not a zip file: %v", err)
	}
	defer func() { _ = zr.Close() }()

	if len(zr.File) > maxEntries {
		return invalid("too many entries (%d)", len(zr.File))
	}

	var written int64
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		name, err := entryName(f.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(name))

		mode := f.Mode()
		switch {
		case mode&os.ModeSymlink != 0:
			return invalid("entry %q is a symbolic link", f.Name)
		case f.FileInfo().IsDir():
			if err := os.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("failed to create %s: %w", name, err)
			}
			continue
		}

		remaining := int64(-1)
		if maxBytes > 0 {
			remaining = maxBytes - written
		}
		n, err := extractFile(f, target, remaining)
		written += n
		if err != nil {
			return err
		}
	}
	return nil
}

// entryName validates and cleans a zip entry name. It returns "" for
// entries that resolve to the archive root.
func entryName(raw string) (string, error) {
	if strings.Contains(raw, `\`) {
		return "", invalid("entry %q uses backslash separators", raw)
	}
	if strings.HasPrefix(raw, "/") || filepath.IsAbs(raw) {
		return "", invalid("entry %q has an absolute path", raw)
	}
	for _, part := range strings.Split(raw, "/") {
		if part == ".." {
			return "", invalid("entry %q escapes the archive", raw)
		}
	}
	name := path.Clean(raw)
	if name == "." {
		return "", nil
	}
	return name, nil
}

// extractFile copies one entry to target. A negative limit disables the
// size bound.
func extractFile(f *zip.File, target string, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, invalid("cannot read entry %q: %v", f.Name, err)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", f.Name, err)
	}

	var src io.Reader = rc
	if limit >= 0 {
		src = io.LimitReader(rc, limit+1)
	}
	n, copyErr := io.Copy(out, src)
	closeErr := out.Close()

	switch {
	case copyErr != nil:
		if errors.Is(copyErr, zip.ErrChecksum) || errors.Is(copyErr, zip.ErrFormat) {
			return n, invalid("corrupt entry %q: %v", f.Name, copyErr)
		}
		return n, fmt.Errorf("failed to extract %s: %w", f.Name, copyErr)
	case limit >= 0 && n > limit:
		return n, invalid("archive exceeds the uncompressed size limit")
	case closeErr != nil:
		return n, fmt.Errorf("failed to write %s: %w", f.Name, closeErr)
	}
	return n, nil
}

// LocateRoot finds the directory containing the manifest: dir itself, or
// the only top-level folder once macOS metadata is ignored.
func LocateRoot(dir string) (string, error) {
	if fileExists(filepath.Join(dir, ManifestName)) {
		return dir, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read extracted archive: %w", err)
	}
	var candidates []os.DirEntry
	for _, entry := range entries {
		if entry.Name() == macOSMetadataDir {
			continue
		}
		candidates = append(candidates, entry)
	}

	if len(candidates) == 1 && candidates[0].IsDir() {
		root := filepath.Join(dir, candidates[0].Name())
		if fileExists(filepath.Join(root, ManifestName)) {
			return root, nil
		}
	}
	return "", invalid("%s not found in archive", ManifestName)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
