package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/domain"
)

// CardFilter narrows a box query. Nil fields do not filter.
type CardFilter struct {
	// DueAt keeps cards whose next review time is at or before the instant.
	DueAt *time.Time

	// Level keeps cards at exactly this level.
	Level *int
}

// DueNow returns a filter for cards due at now.
func DueNow(now time.Time) CardFilter {
	return CardFilter{DueAt: &now}
}

// Unstarted returns a filter for level-0 cards.
func Unstarted() CardFilter {
	level := domain.MinLevel
	return CardFilter{Level: &level}
}

// CardUpdate changes the scheduling state of one card. Nil fields are left
// unchanged.
type CardUpdate struct {
	CardID         uuid.UUID
	Level          *int
	Finished       *bool
	NextReviewTime *time.Time
}

// CardStore defines the interface for card data persistence.
type CardStore interface {
	// Create saves a single card.
	Create(ctx context.Context, card *domain.Card) error

	// CreateMultiple saves several cards. It is atomic: when the store wraps
	// a *sql.DB a transaction is opened, otherwise the insert joins the
	// caller's transaction.
	CreateMultiple(ctx context.Context, cards []*domain.Card) error

	// GetByID retrieves a card by its ID.
	// Returns ErrCardNotFound if the card does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Card, error)

	// QueryInBox returns the user's cards in a box matching filter, ordered
	// ascending by next review time with creation order breaking ties.
	QueryInBox(ctx context.Context, boxID, userID uuid.UUID, filter CardFilter) ([]*domain.Card, error)

	// UpdateConfig replaces a card's configuration.
	// Returns ErrCardNotFound if the card does not exist.
	UpdateConfig(ctx context.Context, id uuid.UUID, cfg domain.CardConfig) error

	// BatchUpdate applies every update atomically.
	// Returns ErrCardNotFound, and changes nothing, if any card is missing.
	BatchUpdate(ctx context.Context, updates []CardUpdate) error

	// Delete removes a single card.
	// Returns ErrCardNotFound if the card does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// BatchDelete removes the user's cards with the given IDs atomically.
	// IDs that do not exist or belong to another user are ignored.
	// It returns the number of removed cards.
	BatchDelete(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error)

	// WithTx returns a CardStore that runs every call inside tx.
	WithTx(tx *sql.Tx) CardStore
}

// OutcomeUpdate converts a scheduling state into a CardUpdate.
func OutcomeUpdate(cardID uuid.UUID, level int, finished bool, next time.Time) CardUpdate {
	return CardUpdate{
		CardID:         cardID,
		Level:          &level,
		Finished:       &finished,
		NextReviewTime: &next,
	}
}

// ScheduleUpdate builds a CardUpdate that only moves the next review time.
func ScheduleUpdate(cardID uuid.UUID, next time.Time) CardUpdate {
	return CardUpdate{CardID: cardID, NextReviewTime: &next}
}
