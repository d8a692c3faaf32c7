package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps task records in process memory.
type MemoryStore struct {
	mutex   sync.RWMutex
	records map[uuid.UUID]Record
	timeFn  func() time.Time
}

// Ensure MemoryStore implements Store interface
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[uuid.UUID]Record),
		timeFn:  time.Now,
	}
}

// Save implements Store.Save
func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, rec.ID)
	}
	now := s.timeFn().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.ID] = rec
	return nil
}

// Get implements Store.Get
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrTaskNotFound
	}
	return rec, nil
}

// UpdateStatus implements Store.UpdateStatus. A finished record is never
// moved again.
func (s *MemoryStore) UpdateStatus(_ context.Context, id uuid.UUID, status Status, errMsg string, result any) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrTaskNotFound
	}
	if rec.Status.Finished() {
		return fmt.Errorf("%w: %s is %s", ErrTaskFinished, id, rec.Status)
	}
	rec.Status = status
	rec.Error = errMsg
	rec.Result = result
	rec.UpdatedAt = s.timeFn().UTC()
	s.records[id] = rec
	return nil
}

// DeleteFinishedBefore implements Store.DeleteFinishedBefore
func (s *MemoryStore) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	removed := 0
	for id, rec := range s.records {
		if rec.Status.Finished() && rec.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
