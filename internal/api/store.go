package api

import (
	"sync"

	"github.com/google/uuid"

	"github.com/samcharles93/kprof/internal/profiler"
)

const defaultStoreCapacity = 256

// SessionStore keeps the most recent profiling reports by id. The oldest
// report is evicted once capacity is reached.
type SessionStore struct {
	mu       sync.Mutex
	capacity int
	order    []uuid.UUID
	reports  map[uuid.UUID]*profiler.Report
}

func NewSessionStore(capacity int) *SessionStore {
	if capacity <= 0 {
		capacity = defaultStoreCapacity
	}
	return &SessionStore{
		capacity: capacity,
		reports:  make(map[uuid.UUID]*profiler.Report),
	}
}

func (s *SessionStore) Put(rep *profiler.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[rep.ID]; !ok {
		s.order = append(s.order, rep.ID)
	}
	s.reports[rep.ID] = rep
	for len(s.order) > s.capacity {
		delete(s.reports, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *SessionStore) Get(id uuid.UUID) (*profiler.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.reports[id]
	return rep, ok
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}
