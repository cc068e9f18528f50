package jobstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/framelens/personcrop/internal/models"
)

// MemoryStore is an in-process Store used for tests and local runs. It
// gives the same guarded-transition semantics as the Postgres store.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job

	// now is swappable so tests can age jobs without sleeping.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
		now:  time.Now,
	}
}

// SetClock replaces the store's time source. Test helper.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// touch advances updated_at monotonically even under a coarse clock.
func (s *MemoryStore) touch(job *models.Job) {
	t := s.now()
	if t.Before(job.UpdatedAt) {
		t = job.UpdatedAt
	}
	job.UpdatedAt = t
}

func (s *MemoryStore) Create(_ context.Context, id, inputURI string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return nil, fmt.Errorf("job %s already exists", id)
	}
	t := s.now()
	job := &models.Job{
		ID:        id,
		InputURI:  inputURI,
		Status:    models.StatusQueued,
		CreatedAt: t,
		UpdatedAt: t,
	}
	s.jobs[id] = job
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) TryAcquire(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != models.StatusQueued {
		return false, nil
	}
	job.Status = models.StatusProcessing
	s.touch(job)
	return true, nil
}

func (s *MemoryStore) MarkDone(_ context.Context, id, outputURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != models.StatusProcessing {
		return nil
	}
	job.Status = models.StatusDone
	job.OutputURI = outputURI
	s.touch(job)
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != models.StatusProcessing {
		return nil
	}
	job.Status = models.StatusFailed
	job.Error = errMsg
	s.touch(job)
	return nil
}

func (s *MemoryStore) SweepStale(_ context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-olderThan)
	marked := 0
	for _, job := range s.jobs {
		if job.Status == models.StatusProcessing && job.UpdatedAt.Before(cutoff) {
			job.Status = models.StatusFailed
			job.Error = fmt.Sprintf("stalled: no update in %s", olderThan)
			s.touch(job)
			marked++
		}
	}
	return marked, nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-retention)
	deleted := 0
	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Close() error { return nil }
