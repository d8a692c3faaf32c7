package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxBoxNameLength is the maximum number of characters in a box name.
const MaxBoxNameLength = 200

// Box-specific validation errors
var (
	// ErrBoxIDEmpty is returned when a box ID is empty or nil.
	ErrBoxIDEmpty = errors.New("box ID cannot be empty")

	// ErrBoxUserIDEmpty is returned when a box's user ID is empty or nil.
	ErrBoxUserIDEmpty = errors.New("box user ID cannot be empty")

	// ErrBoxNameInvalid is returned when a box name is blank or too long.
	ErrBoxNameInvalid = errors.New("box name must be between 1 and 200 characters")

	// ErrBoxLimitNegative is returned when the daily new card limit is below zero.
	ErrBoxLimitNegative = errors.New("daily new card limit cannot be negative")
)

// Box is a named collection of cards owned by a single user.
// DailyNewCardLimit caps how many level-0 cards become due per calendar day;
// zero means unlimited.
type Box struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	Name              string    `json:"name"`
	DailyNewCardLimit int       `json:"daily_new_card_limit"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewBox creates a Box owned by userID. The name is trimmed before validation.
func NewBox(userID uuid.UUID, name string, dailyNewCardLimit int) (*Box, error) {
	now := time.Now().UTC()
	box := &Box{
		ID:                uuid.New(),
		UserID:            userID,
		Name:              strings.TrimSpace(name),
		DailyNewCardLimit: dailyNewCardLimit,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := box.Validate(); err != nil {
		return nil, err
	}
	return box, nil
}

// Validate checks if the Box has valid data.
func (b *Box) Validate() error {
	if b.ID == uuid.Nil {
		return ErrBoxIDEmpty
	}
	if b.UserID == uuid.Nil {
		return ErrBoxUserIDEmpty
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(b.Name)); n == 0 || n > MaxBoxNameLength {
		return ErrBoxNameInvalid
	}
	if b.DailyNewCardLimit < 0 {
		return ErrBoxLimitNegative
	}
	return nil
}

// IsOwnedBy reports whether the box belongs to userID.
func (b *Box) IsOwnedBy(userID uuid.UUID) bool {
	return b.UserID == userID
}
