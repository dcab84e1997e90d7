package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobStore persists crawl job lifecycle and progress counters.
type JobStore interface {
	CreateJob(ctx context.Context, job CrawlJob) error
	GetJob(ctx context.Context, jobID uuid.UUID) (CrawlJob, error)
	// UpdateJobStatus transitions the job; stores stamp completed_at when the
	// status is terminal and refuse transitions out of a terminal state.
	UpdateJobStatus(ctx context.Context, jobID uuid.UUID, status JobStatus, errText string) error
	SetPagesTotal(ctx context.Context, jobID uuid.UUID, total int) error
	AddPagesScraped(ctx context.Context, jobID uuid.UUID, delta int) error
}

// PageStore is the only component allowed to write pages and embeddings.
type PageStore interface {
	// UpsertPage inserts or updates by (domain_id, url) and returns the
	// stable page ID.
	UpsertPage(ctx context.Context, page Page) (uuid.UUID, error)
	// GetPageByURL returns ErrNotFound when no row exists; it serves the
	// content-hash skip check.
	GetPageByURL(ctx context.Context, domainID, url string) (Page, error)
	// ReplaceEmbeddings deletes the page's embeddings and inserts the new set
	// in one transaction. Readers never observe a partial or empty window.
	ReplaceEmbeddings(ctx context.Context, pageID uuid.UUID, embeddings []Embedding) error
	// BulkUpsertPages and BulkInsertEmbeddings are throughput optimizations.
	// Implementations may return ErrBulkUnsupported; callers then fall back
	// to the per-row calls.
	BulkUpsertPages(ctx context.Context, pages []Page) ([]uuid.UUID, error)
	BulkInsertEmbeddings(ctx context.Context, embeddings []Embedding) (int64, error)
	// MarkPagesDeleted flips active pages not seen by jobID to deleted and
	// removes their embeddings. Runs once per completed crawl.
	MarkPagesDeleted(ctx context.Context, domainID string, jobID uuid.UUID) (int64, error)
	// MarkPageFailed records a failed pass for the URL without touching the
	// stored content, hash, or embeddings.
	MarkPageFailed(ctx context.Context, domainID, url string, jobID uuid.UUID) error
}

// DomainLocker is the advisory TTL lock keyed by domain.
type DomainLocker interface {
	// Acquire sets the lock only if absent; false means another job holds it.
	Acquire(ctx context.Context, domain string, jobID uuid.UUID, ttl time.Duration) (bool, error)
	// Release clears the lock only while jobID still owns it.
	Release(ctx context.Context, domain string, jobID uuid.UUID) error
	// Renew extends the TTL while jobID still owns the lock.
	Renew(ctx context.Context, domain string, jobID uuid.UUID, ttl time.Duration) (bool, error)
}

// Embedder turns chunk texts into vectors, batched provider-side.
// On success len(vectors) == len(texts), order preserved; anything else is an
// integrity error, never partial success.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor derives text, title, and links from a fetched body.
type Extractor interface {
	Extract(body []byte, baseURL string) (Document, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Chunker splits extracted text into the canonical chunk sequence.
// Identical input always yields the identical sequence.
type Chunker interface {
	Split(text string) []Chunk
}

// Hasher digests normalized page text for change detection.
type Hasher interface {
	Hash(text string) (string, error)
}

// Policy throttles outbound requests per host.
type Policy interface {
	Wait(ctx context.Context, rawURL string) error
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes crawl lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PageErrorStore appends to and reads the per-page error log.
type PageErrorStore interface {
	RecordPageError(ctx context.Context, pageError PageError) error
	ListPageErrors(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]PageError, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}
