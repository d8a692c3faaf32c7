package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Reason describes what changed in a box.
type Reason string

// Change reasons
const (
	ReasonBoxCreated    Reason = "box_created"
	ReasonBoxUpdated    Reason = "box_updated"
	ReasonBoxRebalanced Reason = "box_rebalanced"
	ReasonBoxDeleted    Reason = "box_deleted"
	ReasonBoxImported   Reason = "box_imported"
	ReasonCardsChanged  Reason = "cards_changed"
	ReasonCardReviewed  Reason = "card_reviewed"
)

// BoxChanged is emitted after a change to a box or its cards has been
// committed.
type BoxChanged struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	BoxID  uuid.UUID `json:"box_id"`
	UserID uuid.UUID `json:"user_id"`
	Reason Reason    `json:"reason"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// NewBoxChanged creates a BoxChanged event for the given box.
func NewBoxChanged(reason Reason, boxID, userID uuid.UUID) *BoxChanged {
	return &BoxChanged{
		ID:        uuid.New(),
		BoxID:     boxID,
		UserID:    userID,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *BoxChanged) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *BoxChanged) error
}

// NopEmitter discards every event.
type NopEmitter struct{}

// EmitEvent implements EventEmitter.
func (NopEmitter) EmitEvent(context.Context, *BoxChanged) error { return nil }
