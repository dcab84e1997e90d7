package postgres

import (
	"context"
	"fmt"
)

// EnsureSchema creates the pgvector extension and the pipeline tables if they
// do not exist. dimensions fixes the vector column width and must match the
// embedding provider configuration.
func EnsureSchema(ctx context.Context, db querier, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("vector dimensions must be > 0, got %d", dimensions)
	}
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS crawl_jobs (
			id            UUID PRIMARY KEY,
			domain        TEXT NOT NULL,
			status        TEXT NOT NULL,
			pages_total   INTEGER,
			pages_scraped INTEGER NOT NULL DEFAULT 0,
			started_at    TIMESTAMPTZ NOT NULL,
			completed_at  TIMESTAMPTZ,
			error_message TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crawl_jobs_domain ON crawl_jobs (domain, started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS pages (
			id                  UUID PRIMARY KEY,
			domain_id           TEXT NOT NULL,
			url                 TEXT NOT NULL,
			content             TEXT NOT NULL DEFAULT '',
			content_hash        TEXT NOT NULL DEFAULT '',
			title               TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL DEFAULT 'active',
			last_scraped_at     TIMESTAMPTZ,
			last_seen_in_job_id UUID,
			UNIQUE (domain_id, url)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_domain_status ON pages (domain_id, status)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
			id          UUID PRIMARY KEY,
			page_id     UUID NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
			chunk_index INTEGER NOT NULL,
			vector      vector(%d) NOT NULL,
			metadata    JSONB NOT NULL DEFAULT '{}'
		)`, dimensions),
		`CREATE INDEX IF NOT EXISTS idx_embeddings_page ON embeddings (page_id, chunk_index)`,
		`CREATE TABLE IF NOT EXISTS page_errors (
			id          UUID PRIMARY KEY,
			job_id      UUID NOT NULL,
			url         TEXT NOT NULL,
			stage       TEXT NOT NULL,
			message     TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_page_errors_job ON page_errors (job_id, occurred_at)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
