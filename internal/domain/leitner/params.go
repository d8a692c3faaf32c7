package leitner

import (
	"time"

	"github.com/phrazzld/leitbox/internal/domain"
)

// DefaultIntervalHours maps a level to the hours until the card is due again
// after being promoted into that level. Level 7 is effectively "retired".
var DefaultIntervalHours = [domain.MaxLevel + 1]int64{
	0: 0,
	1: 4,
	2: 24,
	3: 48,
	4: 96,
	5: 192,
	6: 384,
	7: 1_000_000_000,
}

// Rebalanced cards become due at this time of day.
const (
	newCardHour   = 0
	newCardMinute = 0
	newCardSecond = 1
)

// Params defines the configurable parts of the schedule.
type Params struct {
	// IntervalHours is the review interval per level.
	IntervalHours [domain.MaxLevel + 1]int64

	// Location determines calendar day boundaries when rebalancing.
	Location *time.Location
}

// NewDefaultParams returns the fixed interval table in the local time zone.
func NewDefaultParams() *Params {
	return &Params{
		IntervalHours: DefaultIntervalHours,
		Location:      time.Local,
	}
}

// addHours advances t by hours. Durations beyond what time.Duration can hold
// are applied as whole days first.
func addHours(t time.Time, hours int64) time.Time {
	t = t.UTC()
	days := hours / 24
	rem := hours % 24
	return t.AddDate(0, 0, int(days)).Add(time.Duration(rem) * time.Hour)
}
