package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bizharvest/bizharvest/internal/scrape"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu       sync.RWMutex
	jobs     map[string]scrape.Job
	entities map[string][]scrape.NormalizedEntity
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:     make(map[string]scrape.Job),
		entities: make(map[string][]scrape.NormalizedEntity),
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job scrape.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and progress counters for a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status scrape.JobStatus,
	errText string,
	progress scrape.Progress,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = status
	job.ErrorText = errText
	job.Progress = progress
	now := time.Now().UTC()
	if status == scrape.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if isTerminal(status) && job.Finished == nil {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// SaveEntities replaces the stored entity set for a job.
func (s *JobStore) SaveEntities(_ context.Context, jobID string, entities []scrape.NormalizedEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return errors.New("job not found")
	}
	out := make([]scrape.NormalizedEntity, len(entities))
	copy(out, entities)
	s.entities[jobID] = out
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, errors.New("job not found")
	}
	return job, nil
}

// ListEntities returns the stored entity set for a job.
func (s *JobStore) ListEntities(_ context.Context, jobID string) ([]scrape.NormalizedEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, errors.New("job not found")
	}
	entities := s.entities[jobID]
	out := make([]scrape.NormalizedEntity, len(entities))
	copy(out, entities)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status scrape.JobStatus) bool {
	switch status {
	case scrape.JobStatusSucceeded, scrape.JobStatusFailed, scrape.JobStatusCanceled:
		return true
	default:
		return false
	}
}
