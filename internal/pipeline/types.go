// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in crawl_jobs.status.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// CrawlJob represents one crawl attempt for one domain. A job is created
// pending at lock acquisition, runs once, and ends in exactly one terminal
// state; rows are never mutated after that.
type CrawlJob struct {
	ID           uuid.UUID  `json:"id"`
	Domain       string     `json:"domain"`
	Status       JobStatus  `json:"status"`
	PagesTotal   *int       `json:"pages_total,omitempty"`
	PagesScraped int        `json:"pages_scraped"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// CrawlRequest captures the knobs a caller may set when starting a crawl.
type CrawlRequest struct {
	Domain        string `json:"domain"`
	ForceRescrape bool   `json:"force_rescrape"`
	MaxPages      int    `json:"max_pages"`
}

// PageStatus represents the lifecycle state of a stored page.
type PageStatus string

// Page status values persisted in pages.status.
const (
	// PageStatusActive marks a page whose content and embeddings are current.
	PageStatusActive PageStatus = "active"
	// PageStatusFailed marks a page whose last processing pass did not
	// complete; prior content and embeddings, if any, are still intact.
	PageStatusFailed PageStatus = "failed"
	// PageStatusDeleted is set only by end-of-crawl reconciliation.
	PageStatusDeleted PageStatus = "deleted"
)

// Page is one URL's latest known state. At most one row exists per
// (DomainID, URL).
type Page struct {
	ID              uuid.UUID  `json:"id"`
	DomainID        string     `json:"domain_id"`
	URL             string     `json:"url"`
	Content         string     `json:"content"`
	ContentHash     string     `json:"content_hash"`
	Title           string     `json:"title"`
	Status          PageStatus `json:"status"`
	LastScrapedAt   *time.Time `json:"last_scraped_at,omitempty"`
	LastSeenInJobID *uuid.UUID `json:"last_seen_in_job_id,omitempty"`
}

// Chunk is a bounded slice of a page's extracted text. Chunks are produced
// fresh on every processing pass and never persisted standalone.
type Chunk struct {
	Index int
	Text  string
	// Start and End are rune offsets into the source text.
	Start int
	End   int
}

// Embedding is the vector representation of one chunk of one page.
type Embedding struct {
	ID         uuid.UUID      `json:"id"`
	PageID     uuid.UUID      `json:"page_id"`
	ChunkIndex int            `json:"chunk_index"`
	Vector     []float32      `json:"vector"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Document is the extractor's view of a fetched page.
type Document struct {
	Title string
	Text  string
	// Links holds absolutized link targets found in the document.
	Links []string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID       uuid.UUID
	URL         string
	Depth       int
	UseHeadless bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	// URL is the final URL after redirects.
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Gone reports whether the response says the page no longer exists. Gone
// pages are not deleted inline; reconciliation handles them at crawl end.
func (r FetchResponse) Gone() bool {
	return r.StatusCode == http.StatusNotFound || r.StatusCode == http.StatusGone
}

// PageError is one entry of the per-page error log. Page errors never abort
// a crawl; they are recorded and the crawl moves on.
type PageError struct {
	ID         uuid.UUID `json:"id"`
	JobID      uuid.UUID `json:"job_id"`
	URL        string    `json:"url"`
	Stage      string    `json:"stage"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Stages recorded in page_errors.stage.
const (
	StageFetch = "fetch"
	StageEmbed = "embed"
	StageStore = "store"
)

// CrawlEvent is the payload published when a job reaches a terminal state.
type CrawlEvent struct {
	JobID        uuid.UUID `json:"job_id"`
	Domain       string    `json:"domain"`
	Status       JobStatus `json:"status"`
	PagesTotal   int       `json:"pages_total"`
	PagesScraped int       `json:"pages_scraped"`
	PagesFailed  int       `json:"pages_failed"`
	PagesDeleted int64     `json:"pages_deleted"`
	DurationMs   int64     `json:"duration_ms"`
}
