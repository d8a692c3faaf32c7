// Package gcs stores media objects in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/phrazzld/leitbox/internal/media"
)

// maxV4TTL is the longest lifetime a V4 signature may carry.
const maxV4TTL = 7 * 24 * time.Hour

// Storage implements media.Storage on a GCS bucket.
type Storage struct {
	bucket *storage.BucketHandle
	name   string
	logger *slog.Logger
}

// Ensure Storage implements media.Storage interface
var _ media.Storage = (*Storage)(nil)

// New creates a Storage for bucket using client. Signing uses the
// credentials the client was created with.
func New(client *storage.Client, bucket string, logger *slog.Logger) (*Storage, error) {
	if client == nil {
		return nil, errors.New("storage client cannot be nil")
	}
	if bucket == "" {
		return nil, errors.New("bucket name cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		bucket: client.Bucket(bucket),
		name:   bucket,
		logger: logger.With(slog.String("component", "gcs_media_storage"), slog.String("bucket", bucket)),
	}, nil
}

// Put implements media.Storage.Put.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	if !media.ValidKey(key) {
		return fmt.Errorf("invalid media key %q", key)
	}
	w := s.bucket.Object(key).NewWriter(ctx)
	if contentType == "" {
		contentType = media.ContentType(key)
	}
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize upload of %s: %w", key, err)
	}
	s.logger.Debug("uploaded media object", slog.String("key", key))
	return nil
}

// Open implements media.Storage.Open.
func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, media.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return rc, nil
}

// Delete implements media.Storage.Delete.
func (s *Storage) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// SignedURL implements media.Storage.SignedURL.
func (s *Storage) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.bucket.SignedURL(key, SignedURLOptions(ttl, time.Now()))
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for %s: %w", key, err)
	}
	return u, nil
}

// SignedURLOptions picks the signing scheme for ttl. Lifetimes beyond the
// V4 limit fall back to V2 signatures.
func SignedURLOptions(ttl time.Duration, now time.Time) *storage.SignedURLOptions {
	scheme := storage.SigningSchemeV4
	if ttl > maxV4TTL {
		scheme = storage.SigningSchemeV2
	}
	return &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: now.Add(ttl),
		Scheme:  scheme,
	}
}
