package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/archive"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/media"
	"github.com/phrazzld/leitbox/internal/platform/logger"
	"github.com/phrazzld/leitbox/internal/redact"
	"github.com/phrazzld/leitbox/internal/store"
	"go.uber.org/multierr"
)

// ExportResult describes a stored export archive.
type ExportResult struct {
	Key            string    `json:"key"`
	URL            string    `json:"url"`
	ExpiresAt      time.Time `json:"expires_at"`
	Cards          int       `json:"cards"`
	MediaLocalized int       `json:"media_localized"`
	MediaFailed    int       `json:"media_failed"`
}

// Export packs every card of the box into an archive, stores it and returns
// a signed download link. Remote media is downloaded into the archive;
// media that cannot be downloaded keeps its original URL.
func (s *Service) Export(ctx context.Context, userID, boxID uuid.UUID) (result *ExportResult, err error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("user_id", userID.String()),
		slog.String("box_id", boxID.String()))

	if _, err := s.ownedBox(ctx, "export", userID, boxID); err != nil {
		return nil, err
	}

	cards, err := s.cards.QueryInBox(ctx, boxID, userID, store.CardFilter{})
	if err != nil {
		return nil, NewServiceError("export", "failed to load cards", err)
	}

	staging, err := os.MkdirTemp(s.opts.StagingDir, "export-*")
	if err != nil {
		return nil, NewServiceError("export", "failed to create staging directory", err)
	}
	defer func() {
		err = multierr.Append(err, os.RemoveAll(staging))
	}()

	dataDir := filepath.Join(staging, archive.DataDir)
	if err := os.Mkdir(dataDir, 0o750); err != nil {
		return nil, NewServiceError("export", "failed to create staging directory", err)
	}

	result = &ExportResult{Cards: len(cards)}
	manifest := archive.NewManifest()
	taken := make(map[string]bool)

	for _, card := range cards {
		cfg, err := domain.RewriteMedia(card.Config, func(field, value string) string {
			if !isRemote(value) {
				return value
			}
			name, err := s.localize(ctx, value, dataDir, taken)
			if err != nil {
				log.WarnContext(ctx, "failed to download media, keeping original URL",
					slog.String("card_id", card.ID.String()),
					slog.String("field", field),
					slog.String("error", redact.Error(err)))
				result.MediaFailed++
				return value
			}
			result.MediaLocalized++
			return archive.DataRef(name)
		})
		if err != nil {
			return nil, NewServiceError("export", "failed to rewrite card media", err)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := domain.MarshalCardConfig(cfg)
		if err != nil {
			return nil, NewServiceError("export", "failed to encode card", err)
		}
		manifest.Add(raw)
	}

	zipPath := filepath.Join(staging, "box.zip")
	if err := writeArchive(ctx, zipPath, manifest, dataDir); err != nil {
		return nil, NewServiceError("export", "failed to build archive", err)
	}

	now := s.now()
	key := media.ExportKey(userID, boxID, now)
	if err := s.upload(ctx, key, zipPath, "application/zip"); err != nil {
		return nil, NewServiceError("export", "failed to store archive", err)
	}

	signed, err := s.storage.SignedURL(ctx, key, s.opts.ExportURLTTL)
	if err != nil {
		return nil, NewServiceError("export", "failed to sign download URL", err)
	}

	result.Key = key
	result.URL = signed
	result.ExpiresAt = now.Add(s.opts.ExportURLTTL).UTC()

	log.InfoContext(ctx, "box exported",
		slog.String("key", key),
		slog.Int("cards", result.Cards),
		slog.Int("media_localized", result.MediaLocalized),
		slog.Int("media_failed", result.MediaFailed))
	return result, nil
}

// localize downloads rawURL into dataDir and returns the file name used.
func (s *Service) localize(ctx context.Context, rawURL, dataDir string, taken map[string]bool) (string, error) {
	name := archive.UniqueName(taken, mediaFilename(rawURL, s.now()))

	f, err := os.Create(filepath.Join(dataDir, name))
	if err != nil {
		delete(taken, name)
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}

	_, fetchErr := s.fetcher.Fetch(ctx, rawURL, f)
	closeErr := f.Close()
	if err := multierr.Combine(fetchErr, closeErr); err != nil {
		delete(taken, name)
		_ = os.Remove(f.Name())
		return "", err
	}
	return name, nil
}

func writeArchive(ctx context.Context, zipPath string, m *archive.Manifest, dataDir string) (err error) {
	f, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	return archive.Build(ctx, f, m, dataDir)
}

func (s *Service) upload(ctx context.Context, key, src, contentType string) (err error) {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	return s.storage.Put(ctx, key, f, contentType)
}

// isRemote reports whether value is an absolute http(s) URL.
func isRemote(value string) bool {
	lower := strings.ToLower(strings.TrimSpace(value))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// mediaFilename derives a safe file name from the basename of the URL path.
func mediaFilename(rawURL string, now time.Time) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err == nil {
		if base := path.Base(u.Path); base != "/" && base != "." && base != "" {
			if unescaped, err := url.PathUnescape(base); err == nil {
				base = unescaped
			}
			return media.SanitizeFilename(base)
		}
	}
	return strconv.FormatInt(now.UnixMilli(), 10)
}
