package leitner

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/domain"
)

// Common errors
var (
	ErrNilCard         = errors.New("card cannot be nil")
	ErrNilParams       = errors.New("params cannot be nil")
	ErrLevelOutOfRange = errors.New("card level out of range")
)

// Transition is the scheduling state of a card after an outcome.
// Changed is false when the outcome leaves the card untouched, in which
// case nothing needs to be persisted.
type Transition struct {
	CardID         uuid.UUID
	Level          int
	Finished       bool
	NextReviewTime time.Time
	Changed        bool
}

// Placement assigns a new review time to an unstarted card.
type Placement struct {
	CardID         uuid.UUID
	NextReviewTime time.Time
}

// Scheduler defines the review schedule operations.
type Scheduler interface {
	// Advance promotes a correctly answered card one level. A card already
	// at the top level is left unchanged.
	Advance(card *domain.Card, now time.Time) (Transition, error)

	// Reset demotes an incorrectly answered card to level 0, due immediately.
	Reset(card *domain.Card, now time.Time) (Transition, error)

	// Rebalance spreads level-0 cards over consecutive days so that at most
	// dailyLimit of them become due per day. The most recently scheduled
	// cards come first. A limit of zero or less yields no placements.
	Rebalance(cards []*domain.Card, dailyLimit int, now time.Time) []Placement
}

// defaultScheduler is the standard implementation of the Scheduler interface
type defaultScheduler struct {
	params *Params
}

// NewDefaultScheduler creates a scheduler with the fixed interval table in
// the local time zone.
func NewDefaultScheduler() Scheduler {
	return &defaultScheduler{params: NewDefaultParams()}
}

// NewSchedulerWithParams creates a scheduler with custom parameters.
// A nil Location falls back to time.Local.
func NewSchedulerWithParams(params *Params) (Scheduler, error) {
	if params == nil {
		return nil, ErrNilParams
	}
	p := *params
	if p.Location == nil {
		p.Location = time.Local
	}
	return &defaultScheduler{params: &p}, nil
}

var _ Scheduler = (*defaultScheduler)(nil)

func (s *defaultScheduler) Advance(card *domain.Card, now time.Time) (Transition, error) {
	if card == nil {
		return Transition{}, ErrNilCard
	}
	if card.Level < domain.MinLevel || card.Level > domain.MaxLevel {
		return Transition{}, ErrLevelOutOfRange
	}

	if card.Level == domain.MaxLevel {
		return Transition{
			CardID:         card.ID,
			Level:          card.Level,
			Finished:       card.Finished,
			NextReviewTime: card.NextReviewTime,
			Changed:        false,
		}, nil
	}

	level := card.Level + 1
	return Transition{
		CardID:         card.ID,
		Level:          level,
		Finished:       true,
		NextReviewTime: addHours(now, s.params.IntervalHours[level]),
		Changed:        true,
	}, nil
}

func (s *defaultScheduler) Reset(card *domain.Card, now time.Time) (Transition, error) {
	if card == nil {
		return Transition{}, ErrNilCard
	}
	return Transition{
		CardID:         card.ID,
		Level:          domain.MinLevel,
		Finished:       false,
		NextReviewTime: now.UTC(),
		Changed:        true,
	}, nil
}

func (s *defaultScheduler) Rebalance(cards []*domain.Card, dailyLimit int, now time.Time) []Placement {
	if dailyLimit <= 0 {
		return nil
	}

	pending := make([]*domain.Card, 0, len(cards))
	for _, c := range cards {
		if c != nil && c.Level == domain.MinLevel {
			pending = append(pending, c)
		}
	}

	// Stable so that cards sharing a review time keep store order.
	slices.SortStableFunc(pending, func(a, b *domain.Card) int {
		return b.NextReviewTime.Compare(a.NextReviewTime)
	})

	year, month, day := now.In(s.params.Location).Date()
	placements := make([]Placement, 0, len(pending))
	for i, c := range pending {
		offset := i / dailyLimit
		due := time.Date(year, month, day+offset, newCardHour, newCardMinute, newCardSecond, 0, s.params.Location)
		placements = append(placements, Placement{CardID: c.ID, NextReviewTime: due.UTC()})
	}
	return placements
}
