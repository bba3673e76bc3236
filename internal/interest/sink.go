package interest

import (
	"sync"

	"github.com/google/uuid"

	"github.com/udisondev/gridsim/internal/model"
)

// RecordingSink keeps the latest ranking of every observer.
type RecordingSink struct {
	mu     sync.RWMutex
	latest map[uuid.UUID][]Update
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{
		latest: make(map[uuid.UUID][]Update),
	}
}

// Deliver replaces the stored ranking of o.
func (s *RecordingSink) Deliver(o *model.Presence, updates []Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[o.ID()] = updates
}

// Latest returns the last ranking delivered for the observer.
// IMPORTANT: Returned slice is shared, DO NOT modify.
func (s *RecordingSink) Latest(observerID uuid.UUID) ([]Update, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	updates, ok := s.latest[observerID]
	return updates, ok
}

// Observers returns the number of observers with a stored ranking.
func (s *RecordingSink) Observers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.latest)
}
