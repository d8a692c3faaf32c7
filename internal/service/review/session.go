package review

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/leitbox/internal/domain"
)

// State is the position of a session in its lifecycle.
type State string

// Session states
const (
	StatePresenting State = "presenting"
	StateFinished   State = "finished"
)

// Session is one pass over the cards of a box that were due when it started.
// The queue is a snapshot and is never re-queried, so a card reset to "due
// now" during the session is not shown again.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	BoxID     uuid.UUID
	StartedAt time.Time

	mu        sync.Mutex
	queue     []*domain.Card
	pos       int
	correct   int
	incorrect int

	// touched is the unix nano time of the last activity. It is read
	// without mu so that expiry checks never wait on an outcome write.
	touched atomic.Int64
}

func newSession(userID, boxID uuid.UUID, queue []*domain.Card, now time.Time) *Session {
	s := &Session{
		ID:        uuid.New(),
		UserID:    userID,
		BoxID:     boxID,
		StartedAt: now,
		queue:     queue,
	}
	s.touch(now)
	return s
}

// View is a read-only snapshot of a session.
type View struct {
	ID        uuid.UUID    `json:"id"`
	BoxID     uuid.UUID    `json:"box_id"`
	State     State        `json:"state"`
	Current   *domain.Card `json:"current,omitempty"`
	Position  int          `json:"position"`
	Total     int          `json:"total"`
	Remaining int          `json:"remaining"`
	Correct   int          `json:"correct"`
	Incorrect int          `json:"incorrect"`
	StartedAt time.Time    `json:"started_at"`
}

// view must be called with mu held.
func (s *Session) view() View {
	v := View{
		ID:        s.ID,
		BoxID:     s.BoxID,
		State:     StateFinished,
		Position:  s.pos,
		Total:     len(s.queue),
		Remaining: len(s.queue) - s.pos,
		Correct:   s.correct,
		Incorrect: s.incorrect,
		StartedAt: s.StartedAt,
	}
	if s.pos < len(s.queue) {
		card := *s.queue[s.pos]
		v.State = StatePresenting
		v.Current = &card
	}
	return v
}

// View returns the current state of the session.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

// current must be called with mu held.
func (s *Session) current() *domain.Card {
	if s.pos >= len(s.queue) {
		return nil
	}
	return s.queue[s.pos]
}

// next records the outcome of the current card and moves on.
// It must be called with mu held.
func (s *Session) next(correct bool, now time.Time) {
	if correct {
		s.correct++
	} else {
		s.incorrect++
	}
	s.pos++
	s.touch(now)
}

func (s *Session) touch(now time.Time) {
	s.touched.Store(now.UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.touched.Load())
}
