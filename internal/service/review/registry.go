package review

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown, expired or foreign sessions.
var ErrSessionNotFound = errors.New("review session not found")

// DefaultSessionTTL is how long an untouched session is kept.
const DefaultSessionTTL = 2 * time.Hour

// Registry holds the live review sessions of all users in memory.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewRegistry creates a Registry that drops sessions idle for longer than ttl.
// A non-positive ttl uses DefaultSessionTTL.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (r *Registry) put(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Get returns the session with id if it belongs to userID and has not expired.
func (r *Registry) Get(id, userID uuid.UUID) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok || s.UserID != userID {
		return nil, ErrSessionNotFound
	}
	if r.now().Sub(s.idleSince()) > r.ttl {
		r.remove(id)
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove drops the session with id if it belongs to userID.
func (r *Registry) Remove(id, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.UserID != userID {
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *Registry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Len returns the number of sessions held, expired or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Prune drops expired sessions and returns how many were removed.
func (r *Registry) Prune() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.RLock()
	candidates := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.RUnlock()

	var expired []uuid.UUID
	for _, s := range candidates {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s.ID)
		}
	}
	if len(expired) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for _, id := range expired {
		// A session touched since the scan is kept.
		if s, ok := r.sessions[id]; ok && s.idleSince().Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}

// RunJanitor prunes expired sessions every interval until ctx is done.
func (r *Registry) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Prune()
		}
	}
}
