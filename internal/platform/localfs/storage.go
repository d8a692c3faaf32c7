// Package localfs stores media objects on the local filesystem and hands out
// signed URLs that are verified by its HTTP handler.
package localfs

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phrazzld/leitbox/internal/media"
	"golang.org/x/crypto/hkdf"
)

const (
	tokenParam = "token"
	keyInfo    = "leitbox media url signing"
)

// ErrInvalidKey is returned for keys that would escape the storage root.
var ErrInvalidKey = errors.New("invalid media key")

// Storage implements media.Storage on a directory tree.
type Storage struct {
	root    string
	baseURL string
	signKey []byte
	logger  *slog.Logger
	timeFn  func() time.Time
}

// Ensure Storage implements media.Storage interface
var _ media.Storage = (*Storage)(nil)

// New creates a Storage rooted at dir. Signed URLs are rooted at baseURL and
// signed with a key derived from secret.
func New(dir, baseURL string, secret []byte, logger *slog.Logger) (*Storage, error) {
	if dir == "" {
		return nil, errors.New("storage directory cannot be empty")
	}
	if len(secret) == 0 {
		return nil, errors.New("signing secret cannot be empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	signKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), signKey); err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}

	return &Storage{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		signKey: signKey,
		logger:  logger.With(slog.String("component", "local_media_storage")),
		timeFn:  time.Now,
	}, nil
}

func (s *Storage) path(key string) (string, error) {
	if !media.ValidKey(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put implements media.Storage.Put. The object is written to a temporary
// file first and renamed into place.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create object: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("failed to store object: %w", err)
	}

	s.logger.Debug("stored media object", slog.String("key", key))
	return nil
}

// Open implements media.Storage.Open.
func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, media.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

// Delete implements media.Storage.Delete.
func (s *Storage) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// SignedURL implements media.Storage.SignedURL.
func (s *Storage) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if !media.ValidKey(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	now := s.timeFn()
	claims := jwt.RegisteredClaims{
		Subject:   key,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign media URL: %w", err)
	}

	escaped := make([]string, 0, strings.Count(key, "/")+1)
	for _, part := range strings.Split(key, "/") {
		escaped = append(escaped, url.PathEscape(part))
	}
	return s.baseURL + "/" + strings.Join(escaped, "/") + "?" + tokenParam + "=" + url.QueryEscape(token), nil
}

// verify checks that token grants access to key.
func (s *Storage) verify(key, token string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.signKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.timeFn),
		jwt.WithSubject(key),
		jwt.WithExpirationRequired(),
	)
	return err
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
