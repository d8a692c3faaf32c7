package httpfetch_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/leitbox/internal/platform/httpfetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/audio.mp3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ID3 audio bytes"))
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, r *http.Request) {
		// Chunked so the size is only known while reading.
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	f := httpfetch.NewWithClient(srv.Client(), 1024, nil)

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		n, err := f.Fetch(context.Background(), srv.URL+"/audio.mp3", &buf)
		require.NoError(t, err)
		assert.Equal(t, int64(len("ID3 audio bytes")), n)
		assert.Equal(t, "ID3 audio bytes", buf.String())
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		_, err := f.Fetch(context.Background(), srv.URL+"/missing", &bytes.Buffer{})
		assert.ErrorIs(t, err, httpfetch.ErrBadStatus)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		t.Parallel()
		for _, u := range []string{"ftp://example.com/a.mp3", "data/a.mp3", "file:///etc/passwd", "::"} {
			_, err := f.Fetch(context.Background(), u, &bytes.Buffer{})
			assert.ErrorIs(t, err, httpfetch.ErrUnsupportedURL, u)
		}
	})
}

func TestFetchSizeLimit(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	f := httpfetch.NewWithClient(srv.Client(), 16, nil)

	_, err := f.Fetch(context.Background(), srv.URL+"/big", &bytes.Buffer{})
	assert.ErrorIs(t, err, httpfetch.ErrTooLarge)

	unbounded := httpfetch.NewWithClient(srv.Client(), 0, nil)
	n, err := unbounded.Fetch(context.Background(), srv.URL+"/big", &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, int64(64), n)
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	f := httpfetch.New(50*time.Millisecond, 0, nil)

	_, err := f.Fetch(context.Background(), srv.URL+"/slow", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestFetchCancelled(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	f := httpfetch.NewWithClient(srv.Client(), 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, srv.URL+"/audio.mp3", &bytes.Buffer{})
	assert.ErrorIs(t, err, context.Canceled)
}
