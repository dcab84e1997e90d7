package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sitechat/ingest/internal/pipeline"
)

// PageErrorStore implements pipeline.PageErrorStore on Postgres. Rows are
// appended by the progress store sink and read by the control API; the
// pipeline itself never consults them.
type PageErrorStore struct {
	db querier
}

// NewPageErrorStore builds a PageErrorStore over the shared pool.
func NewPageErrorStore(db querier) (*PageErrorStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &PageErrorStore{db: db}, nil
}

// RecordPageError appends one error-log row.
func (s *PageErrorStore) RecordPageError(ctx context.Context, pageError pipeline.PageError) error {
	const query = `
INSERT INTO page_errors (id, job_id, url, stage, message, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := s.db.Exec(ctx, query,
		pageError.ID, pageError.JobID, pageError.URL,
		pageError.Stage, pageError.Message, pageError.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("record page error for %s: %w", pageError.URL, err)
	}
	return nil
}

// ListPageErrors returns the error log for one job, oldest first.
func (s *PageErrorStore) ListPageErrors(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]pipeline.PageError, error) {
	const query = `
SELECT id, job_id, url, stage, message, occurred_at
FROM page_errors
WHERE job_id = $1
ORDER BY occurred_at
LIMIT $2 OFFSET $3`
	rows, err := s.db.Query(ctx, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list page errors for %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []pipeline.PageError
	for rows.Next() {
		var pe pipeline.PageError
		if err := rows.Scan(&pe.ID, &pe.JobID, &pe.URL, &pe.Stage, &pe.Message, &pe.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan page error row: %w", err)
		}
		out = append(out, pe)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page errors: %w", err)
	}
	return out, nil
}
