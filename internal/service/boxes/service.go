// Package boxes manages boxes: creation, settings, rebalancing of the new
// card backlog and atomic deletion.
package boxes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/domain/leitner"
	"github.com/phrazzld/leitbox/internal/events"
	"github.com/phrazzld/leitbox/internal/platform/logger"
	"github.com/phrazzld/leitbox/internal/redact"
	"github.com/phrazzld/leitbox/internal/store"
)

// ServiceError is a custom error type for box service errors.
type ServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("box service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("box service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(operation, message string, err error) *ServiceError {
	return &ServiceError{Operation: operation, Message: message, Err: err}
}

// Settings is a partial update of a box. Nil fields are left unchanged.
type Settings struct {
	Name              *string `json:"name,omitempty"`
	DailyNewCardLimit *int    `json:"daily_new_card_limit,omitempty"`
}

// Service provides box operations scoped to the calling user.
type Service struct {
	db        *sql.DB
	boxes     store.BoxStore
	cards     store.CardStore
	scheduler leitner.Scheduler
	emitter   events.EventEmitter
	retry     store.RetryPolicy
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a box Service.
// It returns an error if any of the required dependencies are nil.
func NewService(
	db *sql.DB,
	boxes store.BoxStore,
	cards store.CardStore,
	scheduler leitner.Scheduler,
	emitter events.EventEmitter,
	logger *slog.Logger,
) (*Service, error) {
	switch {
	case db == nil:
		return nil, domain.NewValidationError("db", "cannot be nil")
	case boxes == nil:
		return nil, domain.NewValidationError("boxes", "cannot be nil")
	case cards == nil:
		return nil, domain.NewValidationError("cards", "cannot be nil")
	case scheduler == nil:
		return nil, domain.NewValidationError("scheduler", "cannot be nil")
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:        db,
		boxes:     boxes,
		cards:     cards,
		scheduler: scheduler,
		emitter:   emitter,
		retry:     store.DefaultRetryPolicy,
		logger:    logger.With(slog.String("component", "box_service")),
		now:       time.Now,
	}, nil
}

// WithRetryPolicy sets the policy used for transactional operations.
func (s *Service) WithRetryPolicy(p store.RetryPolicy) *Service {
	s.retry = p
	return s
}

// Create creates a box for userID.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, name string, dailyNewCardLimit int) (*domain.Box, error) {
	box, err := domain.NewBox(userID, name, dailyNewCardLimit)
	if err != nil {
		return nil, NewServiceError("create", "invalid box", err)
	}
	if err := s.boxes.Create(ctx, box); err != nil {
		return nil, NewServiceError("create", "failed to save box", err)
	}
	s.emit(ctx, events.ReasonBoxCreated, box)
	return box, nil
}

// Get returns the box if userID owns it.
func (s *Service) Get(ctx context.Context, userID, boxID uuid.UUID) (*domain.Box, error) {
	return s.owned(ctx, s.boxes, "get", userID, boxID)
}

// List returns the user's boxes.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*domain.Box, error) {
	boxes, err := s.boxes.ListByUser(ctx, userID)
	if err != nil {
		return nil, NewServiceError("list", "failed to list boxes", err)
	}
	return boxes, nil
}

// UpdateSettings applies settings to the box. When the daily new card limit
// changes the new card backlog is rebalanced in the same transaction.
func (s *Service) UpdateSettings(ctx context.Context, userID, boxID uuid.UUID, settings Settings) (*domain.Box, error) {
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("box_id", boxID.String()))

	var (
		updated      *domain.Box
		moved        int
		limitChanged bool
	)
	err := store.RetryInTransaction(ctx, s.db, s.retry, func(ctx context.Context, tx *sql.Tx) error {
		box, err := s.owned(ctx, s.boxes.WithTx(tx), "update", userID, boxID)
		if err != nil {
			return err
		}

		limitChanged = false
		if settings.Name != nil {
			box.Name = strings.TrimSpace(*settings.Name)
		}
		if settings.DailyNewCardLimit != nil && *settings.DailyNewCardLimit != box.DailyNewCardLimit {
			box.DailyNewCardLimit = *settings.DailyNewCardLimit
			limitChanged = true
		}
		if err := box.Validate(); err != nil {
			return NewServiceError("update", "invalid settings", err)
		}

		if err := s.boxes.WithTx(tx).Update(ctx, box); err != nil {
			return NewServiceError("update", "failed to save box", err)
		}

		moved = 0
		if limitChanged {
			if moved, err = s.rebalance(ctx, tx, box); err != nil {
				return err
			}
		}
		updated = box
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.InfoContext(ctx, "box settings updated",
		slog.Bool("limit_changed", limitChanged),
		slog.Int("cards_rescheduled", moved))
	s.emit(ctx, events.ReasonBoxUpdated, updated)
	return updated, nil
}

// Rebalance spreads the box's new cards over the coming days according to
// its daily limit and returns how many cards were rescheduled.
func (s *Service) Rebalance(ctx context.Context, userID, boxID uuid.UUID) (int, error) {
	var (
		box   *domain.Box
		moved int
	)
	err := store.RetryInTransaction(ctx, s.db, s.retry, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if box, err = s.owned(ctx, s.boxes.WithTx(tx), "rebalance", userID, boxID); err != nil {
			return err
		}
		moved, err = s.rebalance(ctx, tx, box)
		return err
	})
	if err != nil {
		return 0, err
	}
	if moved > 0 {
		s.emit(ctx, events.ReasonBoxRebalanced, box)
	}
	return moved, nil
}

// rebalance reschedules the level-0 cards of box as one batch.
func (s *Service) rebalance(ctx context.Context, tx *sql.Tx, box *domain.Box) (int, error) {
	cards := s.cards.WithTx(tx)
	pending, err := cards.QueryInBox(ctx, box.ID, box.UserID, store.Unstarted())
	if err != nil {
		return 0, NewServiceError("rebalance", "failed to load new cards", err)
	}

	placements := s.scheduler.Rebalance(pending, box.DailyNewCardLimit, s.now())
	if len(placements) == 0 {
		return 0, nil
	}

	updates := make([]store.CardUpdate, len(placements))
	for i, p := range placements {
		updates[i] = store.ScheduleUpdate(p.CardID, p.NextReviewTime)
	}
	if err := cards.BatchUpdate(ctx, updates); err != nil {
		return 0, NewServiceError("rebalance", "failed to reschedule cards", err)
	}
	return len(updates), nil
}

// Delete removes the box and all of its cards atomically.
func (s *Service) Delete(ctx context.Context, userID, boxID uuid.UUID) error {
	var box *domain.Box
	err := store.RetryInTransaction(ctx, s.db, s.retry, func(ctx context.Context, tx *sql.Tx) error {
		boxes := s.boxes.WithTx(tx)
		var err error
		if box, err = s.owned(ctx, boxes, "delete", userID, boxID); err != nil {
			return err
		}
		if err := boxes.DeleteWithCards(ctx, boxID); err != nil {
			return NewServiceError("delete", "failed to delete box", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, events.ReasonBoxDeleted, box)
	return nil
}

// owned loads a box through boxes and checks that userID owns it.
func (s *Service) owned(ctx context.Context, boxes store.BoxStore, op string, userID, boxID uuid.UUID) (*domain.Box, error) {
	box, err := boxes.GetByID(ctx, boxID)
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

func (s *Service) emit(ctx context.Context, reason events.Reason, box *domain.Box) {
	if err := s.emitter.EmitEvent(ctx, events.NewBoxChanged(reason, box.ID, box.UserID)); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).WarnContext(ctx, "failed to emit box event",
			slog.String("reason", string(reason)),
			slog.String("error", redact.Error(err)))
	}
}
