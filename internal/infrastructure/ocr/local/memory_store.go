package local

import (
	"context"
	"sync"
	"time"
)

// MemoryJobStore keeps job state in process. Entries older than ttl are
// dropped on write.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]JobState
	ttl  time.Duration
}

func NewMemoryJobStore(ttl time.Duration) *MemoryJobStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryJobStore{jobs: make(map[string]JobState), ttl: ttl}
}

func (s *MemoryJobStore) Put(_ context.Context, job JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-s.ttl)
	for id, j := range s.jobs {
		if j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (JobState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}
