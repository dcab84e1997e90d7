package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/sitechat/ingest/internal/pipeline"
)

const upsertPageSQL = `
INSERT INTO pages (
	id, domain_id, url, content, content_hash, title, status,
	last_scraped_at, last_seen_in_job_id
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (domain_id, url) DO UPDATE SET
	content = EXCLUDED.content,
	content_hash = EXCLUDED.content_hash,
	title = EXCLUDED.title,
	status = EXCLUDED.status,
	last_scraped_at = EXCLUDED.last_scraped_at,
	last_seen_in_job_id = EXCLUDED.last_seen_in_job_id
RETURNING id`

var embeddingColumns = []string{"id", "page_id", "chunk_index", "vector", "metadata"}

// PageStore implements pipeline.PageStore on Postgres. All page and embedding
// writes in the system flow through this type.
type PageStore struct {
	db    querier
	idGen pipeline.IDGenerator
}

// NewPageStore builds a PageStore over the shared pool.
func NewPageStore(db querier, idGen pipeline.IDGenerator) (*PageStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if idGen == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	return &PageStore{db: db, idGen: idGen}, nil
}

// UpsertPage inserts or updates the row keyed by (domain_id, url) and returns
// the stable page ID. The insert ID is only used when no row exists yet.
func (s *PageStore) UpsertPage(ctx context.Context, page pipeline.Page) (uuid.UUID, error) {
	id := page.ID
	if id == uuid.Nil {
		fresh, err := s.idGen.NewID()
		if err != nil {
			return uuid.Nil, fmt.Errorf("new page id: %w", err)
		}
		id = fresh
	}
	var stored uuid.UUID
	err := s.db.QueryRow(ctx, upsertPageSQL,
		id, page.DomainID, page.URL, page.Content, page.ContentHash,
		page.Title, page.Status, page.LastScrapedAt, page.LastSeenInJobID,
	).Scan(&stored)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert page %s: %w", page.URL, err)
	}
	return stored, nil
}

// GetPageByURL loads one page row; pipeline.ErrNotFound when absent. The
// orchestrator reads the persisted content_hash through this call for its
// skip decision, never from an in-process cache.
func (s *PageStore) GetPageByURL(ctx context.Context, domainID, url string) (pipeline.Page, error) {
	const query = `
SELECT id, domain_id, url, content, content_hash, title, status,
       last_scraped_at, last_seen_in_job_id
FROM pages WHERE domain_id = $1 AND url = $2`
	var p pipeline.Page
	err := s.db.QueryRow(ctx, query, domainID, url).Scan(
		&p.ID, &p.DomainID, &p.URL, &p.Content, &p.ContentHash,
		&p.Title, &p.Status, &p.LastScrapedAt, &p.LastSeenInJobID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pipeline.Page{}, pipeline.ErrNotFound
		}
		return pipeline.Page{}, fmt.Errorf("get page %s: %w", url, err)
	}
	return p, nil
}

// ReplaceEmbeddings deletes the page's embedding rows and inserts the new set
// inside one transaction. Any failure rolls the whole operation back, leaving
// the prior rows intact; the pipeline never inserts new embeddings alongside
// un-deleted old ones.
func (s *PageStore) ReplaceEmbeddings(ctx context.Context, pageID uuid.UUID, embeddings []pipeline.Embedding) error {
	for i, e := range embeddings {
		if e.PageID != pageID {
			return fmt.Errorf("%w: embedding %d belongs to page %s, replacing %s",
				pipeline.ErrIntegrity, i, e.PageID, pageID)
		}
	}
	rows, err := embeddingRows(embeddings)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace embeddings: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM embeddings WHERE page_id = $1`, pageID); err != nil {
		return fmt.Errorf("delete embeddings for page %s: %w", pageID, err)
	}
	if len(rows) > 0 {
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"embeddings"}, embeddingColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("insert embeddings for page %s: %w", pageID, err)
		}
		if copied != int64(len(rows)) {
			return fmt.Errorf("%w: copied %d of %d embeddings", pipeline.ErrIntegrity, copied, len(rows))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace embeddings: %w", err)
	}
	return nil
}

// BulkUpsertPages upserts pages in a single batch round trip, returning ids
// in input order.
func (s *PageStore) BulkUpsertPages(ctx context.Context, pages []pipeline.Page) ([]uuid.UUID, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	batch := &pgx.Batch{}
	for _, page := range pages {
		id := page.ID
		if id == uuid.Nil {
			fresh, err := s.idGen.NewID()
			if err != nil {
				return nil, fmt.Errorf("new page id: %w", err)
			}
			id = fresh
		}
		batch.Queue(upsertPageSQL,
			id, page.DomainID, page.URL, page.Content, page.ContentHash,
			page.Title, page.Status, page.LastScrapedAt, page.LastSeenInJobID,
		)
	}
	results := s.db.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()

	ids := make([]uuid.UUID, 0, len(pages))
	for i := range pages {
		var id uuid.UUID
		if err := results.QueryRow().Scan(&id); err != nil {
			return nil, fmt.Errorf("bulk upsert page %d (%s): %w", i, pages[i].URL, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// BulkInsertEmbeddings appends embedding rows via COPY. It does not replace
// existing rows; callers needing the atomic swap use ReplaceEmbeddings.
func (s *PageStore) BulkInsertEmbeddings(ctx context.Context, embeddings []pipeline.Embedding) (int64, error) {
	if len(embeddings) == 0 {
		return 0, nil
	}
	rows, err := embeddingRows(embeddings)
	if err != nil {
		return 0, err
	}
	copied, err := s.db.CopyFrom(ctx, pgx.Identifier{"embeddings"}, embeddingColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("bulk insert embeddings: %w", err)
	}
	return copied, nil
}

// MarkPagesDeleted flips active pages the given job never saw to deleted and
// removes their embeddings, both inside one transaction. Returns the number
// of pages marked.
func (s *PageStore) MarkPagesDeleted(ctx context.Context, domainID string, jobID uuid.UUID) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin reconciliation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const deleteEmbeddings = `
DELETE FROM embeddings USING pages
WHERE embeddings.page_id = pages.id
  AND pages.domain_id = $1
  AND pages.status = 'active'
  AND (pages.last_seen_in_job_id IS NULL OR pages.last_seen_in_job_id <> $2)`
	if _, err := tx.Exec(ctx, deleteEmbeddings, domainID, jobID); err != nil {
		return 0, fmt.Errorf("delete reconciled embeddings: %w", err)
	}

	const markDeleted = `
UPDATE pages SET status = 'deleted'
WHERE domain_id = $1
  AND status = 'active'
  AND (last_seen_in_job_id IS NULL OR last_seen_in_job_id <> $2)`
	tag, err := tx.Exec(ctx, markDeleted, domainID, jobID)
	if err != nil {
		return 0, fmt.Errorf("mark pages deleted: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit reconciliation: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkPageFailed records a failed processing pass without touching stored
// content, hash, or embeddings. A row is created if the URL was never stored.
func (s *PageStore) MarkPageFailed(ctx context.Context, domainID, url string, jobID uuid.UUID) error {
	id, err := s.idGen.NewID()
	if err != nil {
		return fmt.Errorf("new page id: %w", err)
	}
	const query = `
INSERT INTO pages (id, domain_id, url, status, last_seen_in_job_id)
VALUES ($1, $2, $3, 'failed', $4)
ON CONFLICT (domain_id, url) DO UPDATE SET
	status = 'failed',
	last_seen_in_job_id = EXCLUDED.last_seen_in_job_id`
	if _, err := s.db.Exec(ctx, query, id, domainID, url, jobID); err != nil {
		return fmt.Errorf("mark page failed %s: %w", url, err)
	}
	return nil
}

func embeddingRows(embeddings []pipeline.Embedding) ([][]any, error) {
	rows := make([][]any, 0, len(embeddings))
	for i, e := range embeddings {
		if e.ID == uuid.Nil {
			return nil, fmt.Errorf("%w: embedding %d has no id", pipeline.ErrIntegrity, i)
		}
		meta, err := json.Marshal(metadataOrEmpty(e.Metadata))
		if err != nil {
			return nil, fmt.Errorf("marshal embedding metadata: %w", err)
		}
		rows = append(rows, []any{
			e.ID, e.PageID, e.ChunkIndex, pgvector.NewVector(e.Vector), meta,
		})
	}
	return rows, nil
}

func metadataOrEmpty(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
