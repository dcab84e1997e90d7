// Package orchestrator drives one crawl job through its full lifecycle: lock
// acquisition, breadth-first enumeration, bounded page workers, end-of-crawl
// reconciliation, and terminal state reporting.
package orchestrator

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sitechat/ingest/internal/metrics"
	"github.com/sitechat/ingest/internal/pipeline"
	"github.com/sitechat/ingest/internal/progress"
)

// Config holds the crawl-shaping knobs for an Orchestrator.
type Config struct {
	Workers         int
	MaxDepth        int
	MaxPages        int
	LockTTL         time.Duration
	SnapshotPrefix  string
	EventTopic      string
	HeadlessEnabled bool
}

// Deps collects the collaborators the orchestrator drives. Blobs, Publisher,
// Headless, Detector, and Progress are optional.
type Deps struct {
	Jobs      pipeline.JobStore
	Pages     pipeline.PageStore
	Locker    pipeline.DomainLocker
	Fetcher   pipeline.Fetcher
	Headless  pipeline.Fetcher
	Detector  pipeline.HeadlessDetector
	Extractor pipeline.Extractor
	Chunker   pipeline.Chunker
	Hasher    pipeline.Hasher
	Embedder  pipeline.Embedder
	Policy    pipeline.Policy
	Blobs     pipeline.BlobStore
	Publisher pipeline.Publisher
	Progress  progress.Emitter
	Clock     pipeline.Clock
	IDs       pipeline.IDGenerator
	Retry     *pipeline.ExponentialRetryPolicy
	Logger    *zap.Logger
}

// Orchestrator executes crawl jobs. A single Orchestrator serves many jobs;
// all per-job state lives on the stack of Run.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	sem    *semaphore.Weighted
	logger *zap.Logger
}

// New builds an Orchestrator, applying defaults for missing knobs.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "snapshots"
	}
	if deps.Retry == nil {
		deps.Retry = pipeline.NewExponentialRetryPolicy(0, 0, 0)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		logger: logger,
	}
}

// crawlSummary aggregates per-job counters for the terminal event.
type crawlSummary struct {
	attempted int
	failed    int
	truncated bool
}

// Run executes the job to a terminal state. The domain lock for job.ID must
// already be held; Run takes ownership of renewal and release. The returned
// error is the job-fatal cause, nil for a completed crawl.
func (o *Orchestrator) Run(ctx context.Context, job pipeline.CrawlJob, req pipeline.CrawlRequest) error {
	start := o.deps.Clock.Now()
	log := o.logger.With(zap.String("job_id", job.ID.String()), zap.String("domain", job.Domain))

	o.emit(progress.Event{JobID: progress.UUIDToBytes(job.ID), TS: start, Stage: progress.StageJobStart, Domain: job.Domain})

	stopRenewal := o.startRenewal(ctx, job, log)
	defer stopRenewal()
	defer o.releaseLock(job, log)

	if err := o.deps.Jobs.UpdateJobStatus(ctx, job.ID, pipeline.JobStatusRunning, ""); err != nil {
		return o.finishFailed(ctx, job, start, fmt.Errorf("mark job running: %w", err), log)
	}

	summary, err := o.crawl(ctx, job, req, log)
	if err != nil {
		return o.finishFailed(ctx, job, start, err, log)
	}

	var deleted int64
	if summary.truncated {
		log.Info("skipping reconciliation: enumeration was truncated by max_pages")
	} else {
		deleted, err = o.deps.Pages.MarkPagesDeleted(ctx, job.Domain, job.ID)
		if err != nil {
			return o.finishFailed(ctx, job, start, fmt.Errorf("reconcile pages: %w", err), log)
		}
		o.emit(progress.Event{
			JobID: progress.UUIDToBytes(job.ID), TS: o.deps.Clock.Now(),
			Stage: progress.StageJobReconcile, Domain: job.Domain, Deleted: deleted,
		})
	}

	termCtx, cancel := terminalContext()
	defer cancel()
	if err := o.deps.Jobs.SetPagesTotal(termCtx, job.ID, summary.attempted); err != nil {
		log.Warn("set pages_total failed", zap.Error(err))
	}
	if err := o.deps.Jobs.UpdateJobStatus(termCtx, job.ID, pipeline.JobStatusCompleted, ""); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}

	dur := o.deps.Clock.Now().Sub(start)
	o.emit(progress.Event{
		JobID: progress.UUIDToBytes(job.ID), TS: o.deps.Clock.Now(),
		Stage: progress.StageJobDone, Domain: job.Domain, Dur: dur,
	})
	o.publishTerminal(termCtx, job, pipeline.JobStatusCompleted, summary, deleted, dur, log)
	log.Info("crawl completed",
		zap.Int("pages_attempted", summary.attempted),
		zap.Int("pages_failed", summary.failed),
		zap.Int64("pages_deleted", deleted),
		zap.Duration("duration", dur))
	return nil
}

// finishFailed records the terminal failure (or cancellation) state. It uses
// a fresh context so a cancelled job still gets its row updated.
func (o *Orchestrator) finishFailed(ctx context.Context, job pipeline.CrawlJob, start time.Time, cause error, log *zap.Logger) error {
	status := pipeline.JobStatusFailed
	msg := cause.Error()
	if ctx.Err() != nil || errors.Is(cause, context.Canceled) {
		status = pipeline.JobStatusCancelled
		msg = "cancelled"
	}

	termCtx, cancel := terminalContext()
	defer cancel()
	if err := o.deps.Jobs.UpdateJobStatus(termCtx, job.ID, status, msg); err != nil {
		log.Error("record terminal job state failed", zap.Error(err))
	}

	dur := o.deps.Clock.Now().Sub(start)
	o.emit(progress.Event{
		JobID: progress.UUIDToBytes(job.ID), TS: o.deps.Clock.Now(),
		Stage: progress.StageJobError, Domain: job.Domain, Dur: dur, Note: msg,
	})
	o.publishTerminal(termCtx, job, status, crawlSummary{}, 0, dur, log)
	log.Warn("crawl did not complete", zap.String("status", string(status)), zap.Error(cause))
	return cause
}

// crawl runs breadth-first enumeration with bounded page workers. It returns
// a job-fatal error only; page failures are recorded and skipped past.
func (o *Orchestrator) crawl(ctx context.Context, job pipeline.CrawlJob, req pipeline.CrawlRequest, log *zap.Logger) (crawlSummary, error) {
	maxPages := o.cfg.MaxPages
	if req.MaxPages > 0 {
		maxPages = req.MaxPages
	}

	root := "https://" + job.Domain + "/"
	frontier := []string{root}
	visited := map[string]struct{}{root: {}}

	var summary crawlSummary
	var failedPages atomic.Int64

	for depth := 0; depth <= o.cfg.MaxDepth && len(frontier) > 0; depth++ {
		if maxPages > 0 && summary.attempted+len(frontier) > maxPages {
			frontier = frontier[:maxPages-summary.attempted]
			summary.truncated = true
		}
		if len(frontier) == 0 {
			break
		}

		var mu sync.Mutex
		var discovered []string
		var refreshes []pipeline.Page

		g, gctx := errgroup.WithContext(ctx)
		for _, pageURL := range frontier {
			pageURL := pageURL
			g.Go(func() error {
				if err := o.sem.Acquire(gctx, 1); err != nil {
					return fmt.Errorf("acquire worker slot: %w", err)
				}
				defer o.sem.Release(1)

				out, err := o.processPage(gctx, job, req, pageURL, depth, &failedPages, log)
				if err != nil {
					return err
				}
				mu.Lock()
				discovered = append(discovered, out.links...)
				if out.refresh != nil {
					refreshes = append(refreshes, *out.refresh)
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return summary, err
		}
		summary.attempted += len(frontier)

		o.refreshUnchangedPages(ctx, refreshes, log)

		frontier = frontier[:0]
		for _, link := range discovered {
			if _, seen := visited[link]; seen {
				continue
			}
			visited[link] = struct{}{}
			frontier = append(frontier, link)
		}
	}

	if maxPages > 0 && summary.attempted >= maxPages && len(frontier) > 0 {
		summary.truncated = true
	}
	summary.failed = int(failedPages.Load())
	return summary, nil
}

// pageResult is what one page worker hands back to the level loop.
type pageResult struct {
	links []string
	// refresh carries an unchanged page whose last_seen_in_job_id must be
	// stamped so reconciliation does not false-delete it.
	refresh *pipeline.Page
}

// processPage runs the strict per-page sequence. A non-nil error is job-fatal
// (auth rejection or cancellation); everything page-fatal is recorded here
// and swallowed.
func (o *Orchestrator) processPage(
	ctx context.Context,
	job pipeline.CrawlJob,
	req pipeline.CrawlRequest,
	pageURL string,
	depth int,
	failedPages *atomic.Int64,
	log *zap.Logger,
) (pageResult, error) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if err := o.deps.Policy.Wait(ctx, pageURL); err != nil {
		return pageResult{}, fmt.Errorf("politeness wait: %w", err)
	}

	resp, err := o.fetchWithRetry(ctx, pipeline.FetchRequest{JobID: job.ID, URL: pageURL, Depth: depth})
	if err != nil {
		if ctx.Err() != nil {
			return pageResult{}, fmt.Errorf("fetch %s: %w", pageURL, ctx.Err())
		}
		o.pageFailed(ctx, job, pageURL, pipeline.StageFetch, err, failedPages, log)
		return pageResult{}, nil
	}
	o.emit(progress.Event{
		JobID: progress.UUIDToBytes(job.ID), TS: o.deps.Clock.Now(),
		Stage: progress.StagePageFetch, Domain: job.Domain, URL: pageURL,
		Bytes: int64(len(resp.Body)), Dur: resp.Duration,
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
	})

	if resp.Gone() {
		// Leave the row untouched; reconciliation deletes it at crawl end
		// because its last_seen_in_job_id stays stale.
		log.Debug("page gone", zap.String("url", pageURL), zap.Int("status", resp.StatusCode))
		return pageResult{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		o.pageFailed(ctx, job, pageURL, pipeline.StageFetch,
			fmt.Errorf("unexpected HTTP status %d", resp.StatusCode), failedPages, log)
		return pageResult{}, nil
	}

	resp = o.maybePromote(ctx, job, pageURL, depth, resp, log)

	doc, err := o.deps.Extractor.Extract(resp.Body, resp.URL)
	if err != nil {
		o.pageFailed(ctx, job, pageURL, pipeline.StageFetch, fmt.Errorf("extract: %w", err), failedPages, log)
		return pageResult{}, nil
	}
	links := o.sameDomainLinks(job.Domain, doc.Links)

	hash, err := o.deps.Hasher.Hash(doc.Text)
	if err != nil {
		o.pageFailed(ctx, job, pageURL, pipeline.StageStore, fmt.Errorf("hash: %w", err), failedPages, log)
		return pageResult{links: links}, nil
	}

	o.archiveSnapshot(ctx, job, pageURL, resp, log)

	existing, err := o.deps.Pages.GetPageByURL(ctx, job.Domain, pageURL)
	switch {
	// Only an active row may be skipped: a failed page can carry the new
	// hash from an upsert whose embedding replace never committed, so its
	// stored vectors cannot be trusted until a full reprocess succeeds.
	case err == nil && !req.ForceRescrape &&
		existing.Status == pipeline.PageStatusActive && existing.ContentHash == hash:
		refresh := existing
		refresh.LastSeenInJobID = &job.ID
		o.emit(progress.Event{
			JobID: progress.UUIDToBytes(job.ID), TS: o.deps.Clock.Now(),
			Stage: progress.StagePageSkip, Domain: job.Domain, URL: pageURL,
		})
		return pageResult{links: links, refresh: &refresh}, nil
	case err != nil && !errors.Is(err, pipeline.ErrNotFound):
		o.pageFailed(ctx, job, pageURL, pipeline.StageStore, fmt.Errorf("lookup page: %w", err), failedPages, log)
		return pageResult{links: links}, nil
	}

	chunks := o.deps.Chunker.Split(doc.Text)
	vectors, err := o.embedChunks(ctx, chunks)
	if err != nil {
		if errors.Is(err, pipeline.ErrProviderAuth) {
			return pageResult{}, fmt.Errorf("embed %s: %w", pageURL, err)
		}
		if ctx.Err() != nil {
			return pageResult{}, fmt.Errorf("embed %s: %w", pageURL, ctx.Err())
		}
		o.pageFailed(ctx, job, pageURL, pipeline.StageEmbed, err, failedPages, log)
		return pageResult{links: links}, nil
	}

	now := o.deps.Clock.Now()
	pageID, err := o.deps.Pages.UpsertPage(ctx, pipeline.Page{
		DomainID:        job.Domain,
		URL:             pageURL,
		Content:         doc.Text,
		ContentHash:     hash,
		Title:           doc.Title,
		Status:          pipeline.PageStatusActive,
		LastScrapedAt:   &now,
		LastSeenInJobID: &job.ID,
	})
	if err != nil {
		o.pageFailed(ctx, job, pageURL, pipeline.StageStore, fmt.Errorf("upsert page: %w", err), failedPages, log)
		return pageResult{links: links}, nil
	}

	embeddings, err := o.buildEmbeddings(pageID, pageURL, chunks, vectors)
	if err != nil {
		o.pageFailed(ctx, job, pageURL, pipeline.StageStore, err, failedPages, log)
		return pageResult{links: links}, nil
	}
	if err := o.deps.Pages.ReplaceEmbeddings(ctx, pageID, embeddings); err != nil {
		if markErr := o.deps.Pages.MarkPageFailed(ctx, job.Domain, pageURL, job.ID); markErr != nil {
			log.Warn("mark page failed errored", zap.String("url", pageURL), zap.Error(markErr))
		}
		o.pageFailed(ctx, job, pageURL, pipeline.StageStore, fmt.Errorf("replace embeddings: %w", err), failedPages, log)
		return pageResult{links: links}, nil
	}

	if err := o.deps.Jobs.AddPagesScraped(ctx, job.ID, 1); err != nil {
		log.Warn("increment pages_scraped failed", zap.Error(err))
	}
	o.emit(progress.Event{
		JobID: progress.UUIDToBytes(job.ID), TS: o.deps.Clock.Now(),
		Stage: progress.StagePageDone, Domain: job.Domain, URL: pageURL,
		Chunks: int64(len(embeddings)),
	})
	return pageResult{links: links}, nil
}

// embedChunks returns one vector per chunk, or nil slices for empty input.
func (o *Orchestrator) embedChunks(ctx context.Context, chunks []pipeline.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := o.deps.Embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: %d chunks but %d vectors", pipeline.ErrIntegrity, len(chunks), len(vectors))
	}
	return vectors, nil
}

func (o *Orchestrator) buildEmbeddings(pageID uuid.UUID, pageURL string, chunks []pipeline.Chunk, vectors [][]float32) ([]pipeline.Embedding, error) {
	embeddings := make([]pipeline.Embedding, len(chunks))
	for i, c := range chunks {
		id, err := o.deps.IDs.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate embedding id: %w", err)
		}
		embeddings[i] = pipeline.Embedding{
			ID:         id,
			PageID:     pageID,
			ChunkIndex: c.Index,
			Vector:     vectors[i],
			Metadata: map[string]any{
				"url":         pageURL,
				"chunk_start": c.Start,
				"chunk_end":   c.End,
			},
		}
	}
	return embeddings, nil
}

// fetchWithRetry retries transient fetch failures per the retry policy.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, req pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	var lastErr error
	for attempt := 0; attempt < o.deps.Retry.MaxAttempts(); attempt++ {
		resp, err := o.deps.Fetcher.Fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !o.deps.Retry.ShouldRetry(err, attempt+1) {
			break
		}
		if err := sleepWithContext(ctx, o.deps.Retry.Backoff(attempt)); err != nil {
			return pipeline.FetchResponse{}, err
		}
	}
	return pipeline.FetchResponse{}, lastErr
}

// maybePromote reruns the fetch through the headless browser when the probe
// body looks like a JavaScript shell. Promotion failures fall back to the
// probe response.
func (o *Orchestrator) maybePromote(ctx context.Context, job pipeline.CrawlJob, pageURL string, depth int, resp pipeline.FetchResponse, log *zap.Logger) pipeline.FetchResponse {
	if !o.cfg.HeadlessEnabled || o.deps.Headless == nil || o.deps.Detector == nil {
		return resp
	}
	if !o.deps.Detector.ShouldPromote(resp) {
		return resp
	}
	metrics.ObserveHeadlessPromotion(job.Domain)
	rendered, err := o.deps.Headless.Fetch(ctx, pipeline.FetchRequest{
		JobID: job.ID, URL: pageURL, Depth: depth, UseHeadless: true,
	})
	if err != nil {
		log.Warn("headless promotion failed, using probe body", zap.String("url", pageURL), zap.Error(err))
		return resp
	}
	return rendered
}

// refreshUnchangedPages stamps last_seen_in_job_id for skipped pages, using
// the bulk path when the store supports it.
func (o *Orchestrator) refreshUnchangedPages(ctx context.Context, refreshes []pipeline.Page, log *zap.Logger) {
	if len(refreshes) == 0 {
		return
	}
	_, err := o.deps.Pages.BulkUpsertPages(ctx, refreshes)
	if err == nil {
		return
	}
	if !errors.Is(err, pipeline.ErrBulkUnsupported) {
		log.Warn("bulk refresh failed, falling back to per-row", zap.Error(err))
	}
	for _, page := range refreshes {
		if _, err := o.deps.Pages.UpsertPage(ctx, page); err != nil {
			log.Warn("refresh unchanged page failed", zap.String("url", page.URL), zap.Error(err))
		}
	}
}

// pageFailed records a page-fatal error and moves on.
func (o *Orchestrator) pageFailed(ctx context.Context, job pipeline.CrawlJob, pageURL, stage string, cause error, failedPages *atomic.Int64, log *zap.Logger) {
	failedPages.Add(1)
	if err := o.deps.Pages.MarkPageFailed(ctx, job.Domain, pageURL, job.ID); err != nil {
		log.Warn("mark page failed errored", zap.String("url", pageURL), zap.Error(err))
	}
	o.emit(progress.Event{
		JobID: progress.UUIDToBytes(job.ID), TS: o.deps.Clock.Now(),
		Stage: progress.StagePageError, Domain: job.Domain, URL: pageURL,
		PipelineStage: stage, Note: cause.Error(),
	})
	log.Warn("page failed", zap.String("url", pageURL), zap.String("stage", stage), zap.Error(cause))
}

// archiveSnapshot writes the raw body to the blob store, best effort. Objects
// are keyed by URL so a page's snapshot is overwritten in place as the
// content changes.
func (o *Orchestrator) archiveSnapshot(ctx context.Context, job pipeline.CrawlJob, pageURL string, resp pipeline.FetchResponse, log *zap.Logger) {
	if o.deps.Blobs == nil || len(resp.Body) == 0 {
		return
	}
	sum := sha1.Sum([]byte(pageURL))
	path := fmt.Sprintf("%s/%s/%s.html", o.cfg.SnapshotPrefix, job.Domain, hex.EncodeToString(sum[:])[:16])
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = "text/html"
	}
	if _, err := o.deps.Blobs.PutObject(ctx, path, contentType, resp.Body); err != nil {
		log.Warn("snapshot archive failed", zap.String("url", resp.URL), zap.Error(err))
	}
}

// sameDomainLinks normalizes extracted links and keeps those on the crawl
// domain. The extractor already absolutized and normalized; this re-checks
// the host and drops anything else.
func (o *Orchestrator) sameDomainLinks(domain string, links []string) []string {
	out := make([]string, 0, len(links))
	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil {
			continue
		}
		if !strings.EqualFold(u.Hostname(), domain) {
			continue
		}
		normalized, err := pipeline.NormalizeURL(link)
		if err != nil {
			continue
		}
		out = append(out, normalized)
	}
	return out
}

// startRenewal keeps the domain lock alive at TTL/3 and doubles as the job
// heartbeat. The returned stop function is idempotent.
func (o *Orchestrator) startRenewal(ctx context.Context, job pipeline.CrawlJob, log *zap.Logger) func() {
	interval := o.cfg.LockTTL / 3
	done := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := o.deps.Locker.Renew(ctx, job.Domain, job.ID, o.cfg.LockTTL)
				switch {
				case err != nil:
					metrics.ObserveLockRenewal("error")
					log.Warn("lock renewal errored", zap.Error(err))
				case !ok:
					metrics.ObserveLockRenewal("lost")
					log.Warn("lock renewal lost ownership")
				default:
					metrics.ObserveLockRenewal("success")
				}
				o.emit(progress.Event{
					JobID: progress.UUIDToBytes(job.ID), TS: o.deps.Clock.Now(),
					Stage: progress.StageJobHB, Domain: job.Domain,
				})
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// releaseLock frees the domain lock on every exit path, even after
// cancellation.
func (o *Orchestrator) releaseLock(job pipeline.CrawlJob, log *zap.Logger) {
	ctx, cancel := terminalContext()
	defer cancel()
	if err := o.deps.Locker.Release(ctx, job.Domain, job.ID); err != nil {
		log.Warn("lock release failed", zap.Error(err))
	}
}

func (o *Orchestrator) publishTerminal(ctx context.Context, job pipeline.CrawlJob, status pipeline.JobStatus, summary crawlSummary, deleted int64, dur time.Duration, log *zap.Logger) {
	if o.deps.Publisher == nil {
		return
	}
	current, err := o.deps.Jobs.GetJob(ctx, job.ID)
	if err != nil {
		current = job
	}
	event := pipeline.CrawlEvent{
		JobID:        job.ID,
		Domain:       job.Domain,
		Status:       status,
		PagesTotal:   summary.attempted,
		PagesScraped: current.PagesScraped,
		PagesFailed:  summary.failed,
		PagesDeleted: deleted,
		DurationMs:   dur.Milliseconds(),
	}
	if _, err := o.deps.Publisher.Publish(ctx, o.cfg.EventTopic, event); err != nil {
		log.Warn("publish crawl event failed", zap.Error(err))
	}
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.deps.Progress == nil {
		return
	}
	o.deps.Progress.Emit(evt)
}

// terminalContext is used for writes that must land even when the job's own
// context is already cancelled.
func terminalContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
