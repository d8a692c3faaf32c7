package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/archive"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/events"
	"github.com/phrazzld/leitbox/internal/media"
	"github.com/phrazzld/leitbox/internal/platform/logger"
	"github.com/phrazzld/leitbox/internal/redact"
	"github.com/phrazzld/leitbox/internal/store"
	"go.uber.org/multierr"
)

// Import creates a new box named boxName from the archive read from r.
// The whole manifest is validated before anything is written; media
// referenced with "@data/" is uploaded and replaced by durable links, and
// media that is missing or fails to upload becomes an empty string. The box
// and its cards are created in one transaction with fresh scheduling state.
func (s *Service) Import(ctx context.Context, r io.Reader, boxName string, userID uuid.UUID) (boxID uuid.UUID, err error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("user_id", userID.String()))

	box, err := domain.NewBox(userID, boxName, 0)
	if err != nil {
		return uuid.Nil, NewServiceError("import", "invalid box", err)
	}

	staging, err := os.MkdirTemp(s.opts.StagingDir, "import-*")
	if err != nil {
		return uuid.Nil, NewServiceError("import", "failed to create staging directory", err)
	}
	defer func() {
		err = multierr.Append(err, os.RemoveAll(staging))
	}()

	zipPath := filepath.Join(staging, "upload.zip")
	if err := s.stageUpload(r, zipPath); err != nil {
		return uuid.Nil, NewServiceError("import", "failed to receive archive", err)
	}

	bundle, err := archive.Open(ctx, zipPath, filepath.Join(staging, "content"), s.opts.MaxArchiveBytes)
	if err != nil {
		return uuid.Nil, NewServiceError("import", "failed to read archive", err)
	}

	configs, err := decodeCards(bundle.Manifest)
	if err != nil {
		return uuid.Nil, NewServiceError("import", "invalid archive content", err)
	}

	uploader := &mediaUploader{
		svc:    s,
		bundle: bundle,
		userID: userID,
		urls:   make(map[string]string),
		log:    log,
	}

	now := s.now()
	cards := make([]*domain.Card, 0, len(configs))
	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			uploader.rollback(context.WithoutCancel(ctx))
			return uuid.Nil, err
		}
		resolved, err := domain.RewriteMedia(cfg, func(field, value string) string {
			name, ok := archive.ParseDataRef(value)
			if !ok {
				return value
			}
			return uploader.resolve(ctx, field, name)
		})
		if err != nil {
			uploader.rollback(context.WithoutCancel(ctx))
			return uuid.Nil, NewServiceError("import", "failed to rewrite card media", err)
		}
		card, err := domain.NewCard(userID, box.ID, resolved, now)
		if err != nil {
			uploader.rollback(context.WithoutCancel(ctx))
			return uuid.Nil, NewServiceError("import", "invalid card", err)
		}
		cards = append(cards, card)
	}

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.boxes.WithTx(tx).Create(ctx, box); err != nil {
			return err
		}
		if len(cards) == 0 {
			return nil
		}
		return s.cards.WithTx(tx).CreateMultiple(ctx, cards)
	})
	if err != nil {
		uploader.rollback(context.WithoutCancel(ctx))
		return uuid.Nil, NewServiceError("import", "failed to save box", err)
	}

	if err := s.emitter.EmitEvent(ctx, events.NewBoxChanged(events.ReasonBoxImported, box.ID, userID)); err != nil {
		log.WarnContext(ctx, "failed to emit import event", slog.String("error", redact.Error(err)))
	}

	log.InfoContext(ctx, "box imported",
		slog.String("box_id", box.ID.String()),
		slog.Int("cards", len(cards)),
		slog.Int("media_uploaded", len(uploader.keys)),
		slog.Int("media_missing", uploader.missing))
	return box.ID, nil
}

// stageUpload copies the archive stream to dst, refusing streams larger
// than the configured bound.
func (s *Service) stageUpload(r io.Reader, dst string) (err error) {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	src := r
	if s.opts.MaxArchiveBytes > 0 {
		src = io.LimitReader(r, s.opts.MaxArchiveBytes+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return err
	}
	if s.opts.MaxArchiveBytes > 0 && n > s.opts.MaxArchiveBytes {
		return fmt.Errorf("%w: archive exceeds %d bytes", archive.ErrInvalidArchive, s.opts.MaxArchiveBytes)
	}
	return nil
}

// decodeCards parses and validates every card of the manifest. Errors name
// the card index and the JSON field, for example "cards[3].config.front".
func decodeCards(m *archive.Manifest) ([]domain.CardConfig, error) {
	configs := make([]domain.CardConfig, 0, len(m.Cards))
	for i, card := range m.Cards {
		prefix := fmt.Sprintf("cards[%d].config", i)
		if len(card.Config) == 0 || string(card.Config) == "null" {
			return nil, fmt.Errorf("%w: %w", archive.ErrInvalidArchive,
				domain.NewValidationError(prefix, "is required"))
		}

		cfg, err := domain.UnmarshalCardConfig(card.Config)
		if err == nil {
			err = domain.ValidateConfig(cfg)
		}
		if err != nil {
			return nil, cardError(prefix, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func cardError(prefix string, err error) error {
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("%w: %s: %w", archive.ErrInvalidArchive, prefix, err)
	}
	prefixed := verr.WithPrefix(prefix)
	if errors.Is(err, domain.ErrUnknownCardKind) {
		return fmt.Errorf("%w: %w (%w)", archive.ErrInvalidArchive, prefixed, domain.ErrUnknownCardKind)
	}
	return fmt.Errorf("%w: %w", archive.ErrInvalidArchive, prefixed)
}

// mediaUploader uploads archive media on first reference and remembers the
// resulting links so a file shared by several cards is stored once.
type mediaUploader struct {
	svc     *Service
	bundle  *archive.Bundle
	userID  uuid.UUID
	urls    map[string]string
	keys    []string
	missing int
	log     *slog.Logger
}

func (u *mediaUploader) resolve(ctx context.Context, field, name string) string {
	if link, ok := u.urls[name]; ok {
		return link
	}
	link, err := u.upload(ctx, name)
	if err != nil {
		u.missing++
		u.log.WarnContext(ctx, "archive media unavailable, clearing reference",
			slog.String("field", field),
			slog.String("file", name),
			slog.String("error", redact.Error(err)))
		link = ""
	}
	u.urls[name] = link
	return link
}

func (u *mediaUploader) upload(ctx context.Context, name string) (link string, err error) {
	f, err := u.bundle.OpenData(name)
	if err != nil {
		return "", err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	key := media.UploadKey(u.userID, name)
	if err := u.svc.storage.Put(ctx, key, f, media.ContentType(name)); err != nil {
		return "", err
	}
	u.keys = append(u.keys, key)

	return u.svc.storage.SignedURL(ctx, key, u.svc.opts.MediaURLTTL)
}

// rollback deletes every uploaded object. Failures are logged only.
func (u *mediaUploader) rollback(ctx context.Context) {
	for _, key := range u.keys {
		if err := u.svc.storage.Delete(ctx, key); err != nil {
			u.log.WarnContext(ctx, "failed to delete uploaded media",
				slog.String("key", key),
				slog.String("error", redact.Error(err)))
		}
	}
	u.keys = nil
}
