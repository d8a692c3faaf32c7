package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
)

// Build writes a zip archive to w holding m as the manifest and every
// regular file of dataDir under data/. An empty dataDir writes no media.
func Build(ctx context.Context, w io.Writer, m *Manifest, dataDir string) error {
	zw := zip.NewWriter(w)
	now := time.Now()

	mw, err := zw.CreateHeader(&zip.FileHeader{Name: ManifestName, Method: zip.Deflate, Modified: now})
	if err != nil {
		return fmt.Errorf("failed to add manifest: %w", err)
	}
	if err := m.Encode(mw); err != nil {
		return err
	}

	if _, err := zw.CreateHeader(&zip.FileHeader{Name: DataDir + "/", Modified: now}); err != nil {
		return fmt.Errorf("failed to add data directory: %w", err)
	}

	if dataDir != "" {
		entries, err := os.ReadDir(dataDir)
		if err != nil {
			return fmt.Errorf("failed to read data directory: %w", err)
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !entry.Type().IsRegular() {
				continue
			}
			if err := addFile(zw, filepath.Join(dataDir, entry.Name()), DataDir+"/"+entry.Name()); err != nil {
				return err
			}
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to build header for %s: %w", name, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
