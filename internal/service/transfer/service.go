// Package transfer moves boxes in and out of the portable archive format.
//
// Export packs a box's card configurations and their remote media into a zip
// archive stored in media storage. Import validates an archive completely,
// uploads its media and creates a new box with fresh scheduling state in one
// transaction.
package transfer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/config"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/events"
	"github.com/phrazzld/leitbox/internal/media"
	"github.com/phrazzld/leitbox/internal/store"
)

// ServiceError is a custom error type for transfer service errors.
type ServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transfer %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("transfer %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(operation, message string, err error) *ServiceError {
	return &ServiceError{Operation: operation, Message: message, Err: err}
}

// Options bounds the export and import pipelines.
type Options struct {
	// StagingDir is the parent of the temporary directories; empty uses the
	// system temporary directory.
	StagingDir string

	// MaxArchiveBytes bounds both the uploaded archive and its extracted content.
	MaxArchiveBytes int64

	// ExportURLTTL is the lifetime of export download links.
	ExportURLTTL time.Duration

	// MediaURLTTL is the lifetime of links to imported media stored in card configs.
	MediaURLTTL time.Duration
}

// OptionsFromConfig builds Options from application configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		StagingDir:      cfg.Archive.StagingDir,
		MaxArchiveBytes: cfg.Archive.MaxBytes,
		ExportURLTTL:    cfg.Storage.ExportURLTTL,
		MediaURLTTL:     cfg.Storage.MediaURLTTL,
	}
}

// Service implements the Export Engine and the Import Engine.
type Service struct {
	db      *sql.DB
	boxes   store.BoxStore
	cards   store.CardStore
	storage media.Storage
	fetcher media.Fetcher
	emitter events.EventEmitter
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a transfer Service.
// It returns an error if any of the required dependencies are nil.
func NewService(
	db *sql.DB,
	boxes store.BoxStore,
	cards store.CardStore,
	storage media.Storage,
	fetcher media.Fetcher,
	emitter events.EventEmitter,
	opts Options,
	logger *slog.Logger,
) (*Service, error) {
	switch {
	case db == nil:
		return nil, domain.NewValidationError("db", "cannot be nil")
	case boxes == nil:
		return nil, domain.NewValidationError("boxes", "cannot be nil")
	case cards == nil:
		return nil, domain.NewValidationError("cards", "cannot be nil")
	case storage == nil:
		return nil, domain.NewValidationError("storage", "cannot be nil")
	case fetcher == nil:
		return nil, domain.NewValidationError("fetcher", "cannot be nil")
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ExportURLTTL <= 0 {
		opts.ExportURLTTL = 15 * time.Minute
	}
	if opts.MediaURLTTL <= 0 {
		opts.MediaURLTTL = 10 * 365 * 24 * time.Hour
	}

	return &Service{
		db:      db,
		boxes:   boxes,
		cards:   cards,
		storage: storage,
		fetcher: fetcher,
		emitter: emitter,
		opts:    opts,
		logger:  logger.With(slog.String("component", "transfer_service")),
		now:     time.Now,
	}, nil
}

// ownedBox loads a box and checks that userID owns it.
func (s *Service) ownedBox(ctx context.Context, op string, userID, boxID uuid.UUID) (*domain.Box, error) {
	box, err := s.boxes.GetByID(ctx, boxID)
	if err != nil {
		if errors.Is(err, store.ErrBoxNotFound) {
			return nil, NewServiceError(op, "box not found", err)
		}
		return nil, NewServiceError(op, "failed to load box", err)
	}
	if !box.IsOwnedBy(userID) {
		return nil, NewServiceError(op, "box belongs to another user", domain.ErrPermissionDenied)
	}
	return box, nil
}
