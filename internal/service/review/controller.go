// Package review runs review sessions over the due cards of a box and applies
// the Leitner outcome of every answer.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/domain"
	"github.com/phrazzld/leitbox/internal/domain/leitner"
	"github.com/phrazzld/leitbox/internal/events"
	"github.com/phrazzld/leitbox/internal/platform/logger"
	"github.com/phrazzld/leitbox/internal/redact"
	"github.com/phrazzld/leitbox/internal/store"
)

// Common errors
var (
	// ErrSessionFinished is returned when an outcome is submitted after the
	// last card of a session.
	ErrSessionFinished = errors.New("review session finished")

	// ErrOutcomeNotPersisted is returned when the store rejected an outcome.
	// The session has still moved on to the next card.
	ErrOutcomeNotPersisted = errors.New("review outcome not persisted")
)

// ServiceError is a custom error type for review errors.
type ServiceError struct {
	Operation string
	Message   string
	Err       error
}

// Error implements the error interface for ServiceError.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("review %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("review %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewServiceError creates a new ServiceError.
func NewServiceError(operation, message string, err error) *ServiceError {
	return &ServiceError{Operation: operation, Message: message, Err: err}
}

// Outcome is the result of one answered card.
type Outcome struct {
	CardID         uuid.UUID `json:"card_id"`
	Correct        bool      `json:"correct"`
	Level          int       `json:"level"`
	NextReviewTime time.Time `json:"next_review_time"`
	Persisted      bool      `json:"persisted"`
	Session        View      `json:"session"`
}

type outcomeJSON struct {
	CardID         uuid.UUID  `json:"card_id"`
	Correct        bool       `json:"correct"`
	Level          int        `json:"level"`
	NextReviewTime *time.Time `json:"next_review_time"`
	Retired        bool       `json:"retired"`
	Persisted      bool       `json:"persisted"`
	Session        View       `json:"session"`
}

// MarshalJSON encodes the outcome. A card promoted to the top level has a
// null next_review_time and retired set.
func (o Outcome) MarshalJSON() ([]byte, error) {
	next, retired := domain.EncodeReviewTime(o.NextReviewTime)
	return json.Marshal(outcomeJSON{
		CardID:         o.CardID,
		Correct:        o.Correct,
		Level:          o.Level,
		NextReviewTime: next,
		Retired:        retired,
		Persisted:      o.Persisted,
		Session:        o.Session,
	})
}

// UnmarshalJSON decodes an outcome produced by MarshalJSON.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var aux outcomeJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*o = Outcome{
		CardID:         aux.CardID,
		Correct:        aux.Correct,
		Level:          aux.Level,
		NextReviewTime: domain.DecodeReviewTime(aux.NextReviewTime, aux.Retired),
		Persisted:      aux.Persisted,
		Session:        aux.Session,
	}
	return nil
}

// Controller starts review sessions and applies their outcomes.
type Controller struct {
	boxes     store.BoxStore
	cards     store.CardStore
	scheduler leitner.Scheduler
	registry  *Registry
	emitter   events.EventEmitter
	logger    *slog.Logger
	now       func() time.Time
}

// NewController creates a Controller.
// It returns an error if any of the required dependencies are nil.
func NewController(
	boxes store.BoxStore,
	cards store.CardStore,
	scheduler leitner.Scheduler,
	registry *Registry,
	emitter events.EventEmitter,
	logger *slog.Logger,
) (*Controller, error) {
	if boxes == nil {
		return nil, domain.NewValidationError("boxes", "cannot be nil")
	}
	if cards == nil {
		return nil, domain.NewValidationError("cards", "cannot be nil")
	}
	if scheduler == nil {
		return nil, domain.NewValidationError("scheduler", "cannot be nil")
	}
	if registry == nil {
		return nil, domain.NewValidationError("registry", "cannot be nil")
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		boxes:     boxes,
		cards:     cards,
		scheduler: scheduler,
		registry:  registry,
		emitter:   emitter,
		logger:    logger.With(slog.String("component", "review_controller")),
		now:       time.Now,
	}, nil
}

// Start opens a session over the cards of boxID that are due now, earliest
// due first. A box with nothing due yields a finished session.
func (c *Controller) Start(ctx context.Context, userID, boxID uuid.UUID) (View, error) {
	box, err := c.boxes.GetByID(ctx, boxID)
	if err != nil {
		if errors.Is(err, store.ErrBoxNotFound) {
			return View{}, NewServiceError("start", "box not found", err)
		}
		return View{}, NewServiceError("start", "failed to load box", err)
	}
	if !box.IsOwnedBy(userID) {
		return View{}, NewServiceError("start", "box belongs to another user", domain.ErrPermissionDenied)
	}

	now := c.now()
	due, err := c.cards.QueryInBox(ctx, boxID, userID, store.DueNow(now))
	if err != nil {
		return View{}, NewServiceError("start", "failed to query due cards", err)
	}

	s := newSession(userID, boxID, due, now)
	c.registry.put(s)

	logger.FromContextOrDefault(ctx, c.logger).InfoContext(ctx, "review session started",
		slog.String("session_id", s.ID.String()),
		slog.String("box_id", boxID.String()),
		slog.Int("due", len(due)))
	return s.View(), nil
}

// Get returns the current state of a session.
func (c *Controller) Get(_ context.Context, userID, sessionID uuid.UUID) (View, error) {
	s, err := c.registry.Get(sessionID, userID)
	if err != nil {
		return View{}, err
	}
	return s.View(), nil
}

// Answer grades ans against the presented card and applies the outcome.
// An answer that cannot be graded leaves the session where it is.
//
// When the store rejects the outcome the returned Outcome is still valid,
// with Persisted false, and the error wraps ErrOutcomeNotPersisted.
func (c *Controller) Answer(ctx context.Context, userID, sessionID uuid.UUID, ans domain.Answer) (*Outcome, error) {
	return c.apply(ctx, "answer", userID, sessionID, func(card *domain.Card) (bool, error) {
		return domain.CheckAnswer(card.Config, ans)
	})
}

// Grade applies an explicit outcome to the presented card. It behaves like
// Answer otherwise.
func (c *Controller) Grade(ctx context.Context, userID, sessionID uuid.UUID, correct bool) (*Outcome, error) {
	return c.apply(ctx, "grade", userID, sessionID, func(*domain.Card) (bool, error) {
		return correct, nil
	})
}

// End discards a session.
func (c *Controller) End(_ context.Context, userID, sessionID uuid.UUID) error {
	return c.registry.Remove(sessionID, userID)
}

func (c *Controller) apply(
	ctx context.Context,
	op string,
	userID, sessionID uuid.UUID,
	grade func(*domain.Card) (bool, error),
) (*Outcome, error) {
	log := logger.FromContextOrDefault(ctx, c.logger)

	s, err := c.registry.Get(sessionID, userID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	card := s.current()
	if card == nil {
		return nil, ErrSessionFinished
	}

	correct, err := grade(card)
	if err != nil {
		return nil, NewServiceError(op, "answer cannot be graded", err)
	}

	now := c.now()
	var t leitner.Transition
	if correct {
		t, err = c.scheduler.Advance(card, now)
	} else {
		t, err = c.scheduler.Reset(card, now)
	}
	if err != nil {
		return nil, NewServiceError(op, "failed to schedule card", err)
	}

	var persistErr error
	if t.Changed {
		update := store.OutcomeUpdate(card.ID, t.Level, t.Finished, t.NextReviewTime)
		persistErr = c.cards.BatchUpdate(ctx, []store.CardUpdate{update})
	}

	// The session moves on whether or not the write succeeded.
	s.next(correct, now)
	out := &Outcome{
		CardID:         card.ID,
		Correct:        correct,
		Level:          t.Level,
		NextReviewTime: t.NextReviewTime,
		Persisted:      persistErr == nil,
		Session:        s.view(),
	}

	if persistErr != nil {
		log.WarnContext(ctx, "failed to persist review outcome",
			slog.String("session_id", s.ID.String()),
			slog.String("card_id", card.ID.String()),
			slog.String("error", redact.Error(persistErr)))
		return out, NewServiceError(op, "outcome not saved", fmt.Errorf("%w: %w", ErrOutcomeNotPersisted, persistErr))
	}

	if t.Changed {
		if err := c.emitter.EmitEvent(ctx, events.NewBoxChanged(events.ReasonCardReviewed, s.BoxID, userID)); err != nil {
			log.WarnContext(ctx, "failed to emit review event", slog.String("error", redact.Error(err)))
		}
	}

	log.DebugContext(ctx, "review outcome applied",
		slog.String("session_id", s.ID.String()),
		slog.String("card_id", card.ID.String()),
		slog.Bool("correct", correct),
		slog.Int("level", t.Level))
	return out, nil
}
