// Package httpfetch downloads remote media over HTTP.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/phrazzld/leitbox/internal/media"
)

var (
	// ErrUnsupportedURL is returned for URLs that are not http or https.
	ErrUnsupportedURL = errors.New("unsupported media URL")

	// ErrTooLarge is returned when a body exceeds the configured limit.
	ErrTooLarge = errors.New("media download exceeds size limit")

	// ErrBadStatus is returned for non-2xx responses.
	ErrBadStatus = errors.New("media download failed")
)

// Fetcher implements media.Fetcher with a pooled HTTP client.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// Ensure Fetcher implements media.Fetcher interface
var _ media.Fetcher = (*Fetcher)(nil)

// New creates a Fetcher. Each request is bounded by timeout and each body by
// maxBytes; a maxBytes of zero disables the size bound.
func New(timeout time.Duration, maxBytes int64, logger *slog.Logger) *Fetcher {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:   client,
		maxBytes: maxBytes,
		logger:   logger.With(slog.String("component", "media_fetcher")),
	}
}

// NewWithClient creates a Fetcher on an existing client.
func NewWithClient(client *http.Client, maxBytes int64, logger *slog.Logger) *Fetcher {
	f := New(0, maxBytes, logger)
	f.client = client
	return f
}

// Fetch implements media.Fetcher.Fetch.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", u.Redacted(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: %s returned %d", ErrBadStatus, u.Redacted(), resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		if resp.ContentLength > f.maxBytes {
			return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
		}
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("failed to read %s: %w", u.Redacted(), err)
	}
	if f.maxBytes > 0 && n > f.maxBytes {
		return n, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}

	f.logger.DebugContext(ctx, "downloaded media",
		slog.String("host", u.Host),
		slog.Int64("bytes", n))
	return n, nil
}
