// Package memory provides in-memory store implementations for tests and
// single-node deployments. The page store deliberately reports bulk
// operations as unsupported so callers exercise their per-row fallback.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sitechat/ingest/internal/pipeline"
)

// JobStore implements pipeline.JobStore with a mutex-guarded map.
type JobStore struct {
	mu    sync.RWMutex
	clock pipeline.Clock
	jobs  map[uuid.UUID]pipeline.CrawlJob
}

// NewJobStore constructs a JobStore reading time from clock.
func NewJobStore(clock pipeline.Clock) *JobStore {
	return &JobStore{
		clock: clock,
		jobs:  make(map[uuid.UUID]pipeline.CrawlJob),
	}
}

// CreateJob stores a new job row.
func (s *JobStore) CreateJob(_ context.Context, job pipeline.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID uuid.UUID) (pipeline.CrawlJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.CrawlJob{}, pipeline.ErrNotFound
	}
	return job, nil
}

// UpdateJobStatus transitions the job, stamping completed_at on terminal
// states and refusing transitions out of a terminal state.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID uuid.UUID, status pipeline.JobStatus, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.ErrNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s missing or already terminal: %w", jobID, pipeline.ErrNotFound)
	}
	job.Status = status
	job.ErrorMessage = errText
	if status.Terminal() {
		now := s.clock.Now()
		job.CompletedAt = &now
	}
	s.jobs[jobID] = job
	return nil
}

// SetPagesTotal records the enumerated page count.
func (s *JobStore) SetPagesTotal(_ context.Context, jobID uuid.UUID, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.ErrNotFound
	}
	job.PagesTotal = &total
	s.jobs[jobID] = job
	return nil
}

// AddPagesScraped increments the progress counter.
func (s *JobStore) AddPagesScraped(_ context.Context, jobID uuid.UUID, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return pipeline.ErrNotFound
	}
	job.PagesScraped += delta
	s.jobs[jobID] = job
	return nil
}
