// Package media defines object storage for card media and export archives,
// and the fetcher used to download remote media.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("media object not found")

// Storage is durable object storage addressed by slash-separated keys.
type Storage interface {
	// Put stores the contents of r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, contentType string) error

	// Open returns a reader for the object at key.
	// Returns ErrNotFound if the object does not exist.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// SignedURL returns a URL granting read access to key for ttl.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Fetcher downloads remote media.
type Fetcher interface {
	// Fetch writes the body found at rawURL to w and returns the byte count.
	Fetch(ctx context.Context, rawURL string, w io.Writer) (int64, error)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename reduces name to a safe single path segment.
// It returns "file" when nothing usable remains.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeName.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	if len(name) > 128 {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = name[:128-len(ext)] + ext
	}
	return name
}

// ExportKey is the object key of an export archive.
func ExportKey(userID, boxID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("exports/%s/%s-%d.zip", userID, boxID, at.UnixMilli())
}

// UploadKey is the object key for a media file uploaded on behalf of userID.
// The random prefix keeps files with the same name apart.
func UploadKey(userID uuid.UUID, filename string) string {
	return fmt.Sprintf("media/%s/%s-%s", userID, uuid.New(), SanitizeFilename(filename))
}

// ValidKey reports whether key is a relative, slash-separated path without
// parent references.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

// ContentType guesses a content type from a filename extension.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
