package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sitechat/ingest/internal/pipeline"
)

// JobStore implements pipeline.JobStore on Postgres.
type JobStore struct {
	db    querier
	clock pipeline.Clock
}

// NewJobStore builds a JobStore over the shared pool.
func NewJobStore(db querier, clock pipeline.Clock) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	return &JobStore{db: db, clock: clock}, nil
}

// CreateJob inserts the pending job row.
func (s *JobStore) CreateJob(ctx context.Context, job pipeline.CrawlJob) error {
	const query = `
INSERT INTO crawl_jobs (id, domain, status, pages_total, pages_scraped, started_at, completed_at, error_message)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := s.db.Exec(ctx, query,
		job.ID, job.Domain, job.Status, job.PagesTotal, job.PagesScraped,
		job.StartedAt, job.CompletedAt, nullableText(job.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads one job row; pipeline.ErrNotFound when absent.
func (s *JobStore) GetJob(ctx context.Context, jobID uuid.UUID) (pipeline.CrawlJob, error) {
	const query = `
SELECT id, domain, status, pages_total, pages_scraped, started_at, completed_at, error_message
FROM crawl_jobs WHERE id = $1`
	var (
		job     pipeline.CrawlJob
		errText *string
	)
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.Domain, &job.Status, &job.PagesTotal,
		&job.PagesScraped, &job.StartedAt, &job.CompletedAt, &errText,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.CrawlJob{}, pipeline.ErrNotFound
		}
		return pipeline.CrawlJob{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if errText != nil {
		job.ErrorMessage = *errText
	}
	return job, nil
}

// UpdateJobStatus transitions the job. Terminal states are stamped with
// completed_at exactly once; the WHERE clause refuses transitions out of a
// terminal state so a slow writer can never resurrect a finished job.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status pipeline.JobStatus, errText string) error {
	const query = `
UPDATE crawl_jobs
SET status = $2,
    error_message = $3,
    completed_at = CASE WHEN $4 THEN $5 ELSE completed_at END
WHERE id = $1
  AND status NOT IN ('completed','failed','cancelled')`
	tag, err := s.db.Exec(ctx, query,
		jobID, status, nullableText(errText), status.Terminal(), s.clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("update job %s status: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s missing or already terminal: %w", jobID, pipeline.ErrNotFound)
	}
	return nil
}

// SetPagesTotal records the enumerated page count once enumeration finishes.
func (s *JobStore) SetPagesTotal(ctx context.Context, jobID uuid.UUID, total int) error {
	tag, err := s.db.Exec(ctx, `UPDATE crawl_jobs SET pages_total = $2 WHERE id = $1`, jobID, total)
	if err != nil {
		return fmt.Errorf("set pages total for %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// AddPagesScraped increments the progress counter.
func (s *JobStore) AddPagesScraped(ctx context.Context, jobID uuid.UUID, delta int) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE crawl_jobs SET pages_scraped = pages_scraped + $2 WHERE id = $1`, jobID, delta)
	if err != nil {
		return fmt.Errorf("add pages scraped for %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
