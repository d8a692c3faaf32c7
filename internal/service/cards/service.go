// Package cards manages the cards of a box. Configurations are checked for
// completeness before they are stored.
package cards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/events"
	"github.com/phrazzld/leitbox/internal/platform/logger"
	"github.com/phrazzld/leitbox/internal/redact"
	"github.com/phrazzld/leitbox/internal/store"
)

// ErrUnknownFilter is returned for list filters other than the supported ones.
var ErrUnknownFilter = errors.New("unknown card filter")

// ServiceError is a custom error type for card service errors.
type ServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("card service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("card service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(operation, message string, err error) *ServiceError {
	return &ServiceError{Operation: operation, Message: message, Err: err}
}

// Filter selects which cards of a box are listed.
type Filter string

// Supported filters
const (
	FilterAll Filter = ""
	FilterDue Filter = "due"
	FilterNew Filter = "new"
)

// ParseFilter validates a filter name.
func ParseFilter(name string) (Filter, error) {
	switch f := Filter(name); f {
	case FilterAll, FilterDue, FilterNew:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFilter, name)
	}
}

// Service provides card operations scoped to the calling user.
type Service struct {
	boxes   store.BoxStore
	cards   store.CardStore
	emitter events.EventEmitter
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a card Service.
// It returns an error if any of the required dependencies are nil.
func NewService(boxes store.BoxStore, cards store.CardStore, emitter events.EventEmitter, logger *slog.Logger) (*Service, error) {
	if boxes == nil {
		return nil, domain.NewValidationError("boxes", "cannot be nil")
	}
	if cards == nil {
		return nil, domain.NewValidationError("cards", "cannot be nil")
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		boxes:   boxes,
		cards:   cards,
		emitter: emitter,
		logger:  logger.With(slog.String("component", "card_service")),
		now:     time.Now,
	}, nil
}

// Create adds a card to a box. The configuration must be complete.
func (s *Service) Create(ctx context.Context, userID, boxID uuid.UUID, cfg domain.CardConfig) (*domain.Card, error) {
	if _, err := s.ownedBox(ctx, "create", userID, boxID); err != nil {
		return nil, err
	}
	if err := domain.ValidateConfig(cfg); err != nil {
		return nil, NewServiceError("create", "incomplete card", err)
	}

	card, err := domain.NewCard(userID, boxID, cfg, s.now())
	if err != nil {
		return nil, NewServiceError("create", "invalid card", err)
	}
	if err := s.cards.Create(ctx, card); err != nil {
		return nil, NewServiceError("create", "failed to save card", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).DebugContext(ctx, "card created",
		slog.String("card_id", card.ID.String()),
		slog.String("kind", string(cfg.Kind())))
	s.emit(ctx, boxID, userID)
	return card, nil
}

// Get returns a card owned by userID.
func (s *Service) Get(ctx context.Context, userID, cardID uuid.UUID) (*domain.Card, error) {
	return s.ownedCard(ctx, "get", userID, cardID)
}

// List returns the cards of a box matching filter, ordered by next review time.
func (s *Service) List(ctx context.Context, userID, boxID uuid.UUID, filter Filter) ([]*domain.Card, error) {
	if _, err := s.ownedBox(ctx, "list", userID, boxID); err != nil {
		return nil, err
	}

	var f store.CardFilter
	switch filter {
	case FilterAll:
	case FilterDue:
		f = store.DueNow(s.now())
	case FilterNew:
		f = store.Unstarted()
	default:
		return nil, NewServiceError("list", "invalid filter", fmt.Errorf("%w: %q", ErrUnknownFilter, filter))
	}

	cards, err := s.cards.QueryInBox(ctx, boxID, userID, f)
	if err != nil {
		return nil, NewServiceError("list", "failed to query cards", err)
	}
	return cards, nil
}

// UpdateConfig replaces the configuration of a card. Scheduling state is
// kept. The new configuration must be complete.
func (s *Service) UpdateConfig(ctx context.Context, userID, cardID uuid.UUID, cfg domain.CardConfig) (*domain.Card, error) {
	card, err := s.ownedCard(ctx, "update", userID, cardID)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateConfig(cfg); err != nil {
		return nil, NewServiceError("update", "incomplete card", err)
	}
	if err := s.cards.UpdateConfig(ctx, cardID, cfg); err != nil {
		return nil, NewServiceError("update", "failed to save card", err)
	}

	card.Config = cfg
	card.UpdatedAt = s.now().UTC()
	s.emit(ctx, card.BoxID, userID)
	return card, nil
}

// Delete removes a single card.
func (s *Service) Delete(ctx context.Context, userID, cardID uuid.UUID) error {
	card, err := s.ownedCard(ctx, "delete", userID, cardID)
	if err != nil {
		return err
	}
	if err := s.cards.Delete(ctx, cardID); err != nil {
		return NewServiceError("delete", "failed to delete card", err)
	}
	s.emit(ctx, card.BoxID, userID)
	return nil
}

// BatchDelete removes the listed cards of a box atomically and returns how
// many were removed. Cards that are not in the box are ignored.
func (s *Service) BatchDelete(ctx context.Context, userID, boxID uuid.UUID, ids []uuid.UUID) (int, error) {
	if _, err := s.ownedBox(ctx, "batch_delete", userID, boxID); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	inBox, err := s.cards.QueryInBox(ctx, boxID, userID, store.CardFilter{})
	if err != nil {
		return 0, NewServiceError("batch_delete", "failed to query cards", err)
	}
	member := make(map[uuid.UUID]bool, len(inBox))
	for _, c := range inBox {
		member[c.ID] = true
	}
	selected := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if member[id] {
			selected = append(selected, id)
		}
	}
	if len(selected) == 0 {
		return 0, nil
	}

	n, err := s.cards.BatchDelete(ctx, userID, selected)
	if err != nil {
		return 0, NewServiceError("batch_delete", "failed to delete cards", err)
	}
	s.emit(ctx, boxID, userID)
	return n, nil
}

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

func (s *Service) ownedCard(ctx context.Context, op string, userID, cardID uuid.UUID) (*domain.Card, error) {
	card, err := s.cards.GetByID(ctx, cardID)
	if err != nil {
		if errors.Is(err, store.ErrCardNotFound) {
			return nil, NewServiceError(op, "card not found", err)
		}
		return nil, NewServiceError(op, "failed to load card", err)
	}
	if card.UserID != userID {
		return nil, NewServiceError(op, "card belongs to another user", domain.ErrPermissionDenied)
	}
	return card, nil
}

func (s *Service) emit(ctx context.Context, boxID, userID uuid.UUID) {
	if err := s.emitter.EmitEvent(ctx, events.NewBoxChanged(events.ReasonCardsChanged, boxID, userID)); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).WarnContext(ctx, "failed to emit card event",
			slog.String("error", redact.Error(err)))
	}
}
