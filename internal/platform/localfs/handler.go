package localfs

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/phrazzld/leitbox/internal/media"
)

// Handler serves stored objects below prefix to requests carrying a valid
// signed token.
func (s *Storage) Handler(prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")
		if err := s.verify(key, r.URL.Query().Get(tokenParam)); err != nil {
			s.logger.Debug("rejected media request",
				slog.String("key", key),
				slog.String("error", err.Error()))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		rc, err := s.Open(r.Context(), key)
		if err != nil {
			if errors.Is(err, media.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			s.logger.Error("failed to open media object",
				slog.String("key", key),
				slog.String("error", err.Error()))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		f := rc.(*os.File)
		defer func() { _ = f.Close() }()

		modTime := time.Time{}
		if info, err := f.Stat(); err == nil {
			modTime = info.ModTime()
		}
		w.Header().Set("Content-Type", media.ContentType(key))
		http.ServeContent(w, r, path.Base(key), modTime, f)
	})
}
