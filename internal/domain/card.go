package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Level bounds. A card starts at MinLevel and can never be promoted past MaxLevel.
const (
	MinLevel = 0
	MaxLevel = 7
)

// Card-specific validation errors
var (
	// ErrCardIDEmpty is returned when a card ID is empty or nil.
	ErrCardIDEmpty = errors.New("card ID cannot be empty")

	// ErrCardUserIDEmpty is returned when a card's user ID is empty or nil.
	ErrCardUserIDEmpty = errors.New("card user ID cannot be empty")

	// ErrCardBoxIDEmpty is returned when a card's box ID is empty or nil.
	ErrCardBoxIDEmpty = errors.New("card box ID cannot be empty")

	// ErrCardConfigEmpty is returned when a card has no configuration.
	ErrCardConfigEmpty = errors.New("card config cannot be empty")

	// ErrCardLevelInvalid is returned when a card's level is outside [0,7].
	ErrCardLevelInvalid = errors.New("card level must be between 0 and 7")
)

// Card is a single flashcard inside a box. Level and NextReviewTime are
// driven by the leitner scheduler; Finished is true once the card has been
// promoted at least once since its last reset.
type Card struct {
	ID             uuid.UUID  `json:"id"`
	BoxID          uuid.UUID  `json:"box_id"`
	UserID         uuid.UUID  `json:"user_id"`
	Config         CardConfig `json:"config"`
	Level          int        `json:"level"`
	Finished       bool       `json:"finished"`
	NextReviewTime time.Time  `json:"next_review_time"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewCard creates a level-0 card that is due at now.
func NewCard(userID, boxID uuid.UUID, cfg CardConfig, now time.Time) (*Card, error) {
	now = now.UTC()
	card := &Card{
		ID:             uuid.New(),
		BoxID:          boxID,
		UserID:         userID,
		Config:         cfg,
		Level:          MinLevel,
		Finished:       false,
		NextReviewTime: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := card.Validate(); err != nil {
		return nil, err
	}
	return card, nil
}

// Validate checks if the Card has valid data. It does not check that the
// configuration is complete; see ValidateConfig.
func (c *Card) Validate() error {
	if c.ID == uuid.Nil {
		return ErrCardIDEmpty
	}
	if c.UserID == uuid.Nil {
		return ErrCardUserIDEmpty
	}
	if c.BoxID == uuid.Nil {
		return ErrCardBoxIDEmpty
	}
	if c.Config == nil {
		return ErrCardConfigEmpty
	}
	if !IsKnownKind(c.Config.Kind()) {
		return fmt.Errorf("%w %q", ErrUnknownCardKind, c.Config.Kind())
	}
	if c.Level < MinLevel || c.Level > MaxLevel {
		return ErrCardLevelInvalid
	}
	return nil
}

// IsDue reports whether the card should be presented at now.
func (c *Card) IsDue(now time.Time) bool {
	return !c.NextReviewTime.After(now)
}

// RetiredReviewTime is what a review time beyond year 9999 decodes to.
// Top-level cards are scheduled that far ahead, past what RFC 3339 can
// represent, so such times are encoded as null with "retired": true.
var RetiredReviewTime = time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)

// IsRetiredReviewTime reports whether t is too far ahead to encode as RFC 3339.
func IsRetiredReviewTime(t time.Time) bool {
	return t.UTC().Year() > 9999
}

// EncodeReviewTime returns the JSON form of t: nil and retired for times
// past year 9999, t itself otherwise.
func EncodeReviewTime(t time.Time) (next *time.Time, retired bool) {
	if IsRetiredReviewTime(t) {
		return nil, true
	}
	return &t, false
}

// DecodeReviewTime reverses EncodeReviewTime.
func DecodeReviewTime(next *time.Time, retired bool) time.Time {
	if next != nil {
		return *next
	}
	if retired {
		return RetiredReviewTime
	}
	return time.Time{}
}

type cardJSON struct {
	ID             uuid.UUID       `json:"id"`
	BoxID          uuid.UUID       `json:"box_id"`
	UserID         uuid.UUID       `json:"user_id"`
	Config         json.RawMessage `json:"config"`
	Level          int             `json:"level"`
	Finished       bool            `json:"finished"`
	NextReviewTime *time.Time      `json:"next_review_time"`
	Retired        bool            `json:"retired"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// MarshalJSON encodes the card with its configuration's type discriminator.
func (c Card) MarshalJSON() ([]byte, error) {
	var cfg json.RawMessage = []byte("null")
	if c.Config != nil {
		raw, err := MarshalCardConfig(c.Config)
		if err != nil {
			return nil, err
		}
		cfg = raw
	}
	next, retired := EncodeReviewTime(c.NextReviewTime)
	return json.Marshal(cardJSON{
		ID:             c.ID,
		BoxID:          c.BoxID,
		UserID:         c.UserID,
		Config:         cfg,
		Level:          c.Level,
		Finished:       c.Finished,
		NextReviewTime: next,
		Retired:        retired,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	})
}

// UnmarshalJSON decodes a card produced by MarshalJSON.
func (c *Card) UnmarshalJSON(data []byte) error {
	var aux cardJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	var cfg CardConfig
	if len(aux.Config) > 0 && string(aux.Config) != "null" {
		decoded, err := UnmarshalCardConfig(aux.Config)
		if err != nil {
			return err
		}
		cfg = decoded
	}
	*c = Card{
		ID:             aux.ID,
		BoxID:          aux.BoxID,
		UserID:         aux.UserID,
		Config:         cfg,
		Level:          aux.Level,
		Finished:       aux.Finished,
		NextReviewTime: DecodeReviewTime(aux.NextReviewTime, aux.Retired),
		CreatedAt:      aux.CreatedAt,
		UpdatedAt:      aux.UpdatedAt,
	}
	return nil
}
