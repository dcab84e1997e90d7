package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitechat/ingest/internal/pipeline"
)

// Runner owns the registry of live crawl jobs. It acquires the domain lock
// up front so callers get an immediate conflict answer, then hands the job to
// an orchestrator goroutine.
type Runner struct {
	orch    *Orchestrator
	jobs    pipeline.JobStore
	locker  pipeline.DomainLocker
	clock   pipeline.Clock
	ids     pipeline.IDGenerator
	lockTTL time.Duration
	maxJobs int
	logger  *zap.Logger

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewRunner builds a Runner around an Orchestrator. maxJobs <= 0 means 8.
func NewRunner(orch *Orchestrator, maxJobs int) *Runner {
	if maxJobs <= 0 {
		maxJobs = 8
	}
	return &Runner{
		orch:    orch,
		jobs:    orch.deps.Jobs,
		locker:  orch.deps.Locker,
		clock:   orch.deps.Clock,
		ids:     orch.deps.IDs,
		lockTTL: orch.cfg.LockTTL,
		maxJobs: maxJobs,
		logger:  orch.logger,
		active:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// StartCrawl validates the domain, enforces the active-job cap, acquires the
// domain lock, creates the pending job row, and spawns the orchestrator. It
// returns the job ID immediately; the crawl runs in the background.
//
// Fails closed: lock contention returns ErrLockHeld (the job row is recorded
// failed), the job cap returns ErrTooManyJobs, and a bad domain returns
// ErrInvalidDomain. Nothing blocks or queues.
func (r *Runner) StartCrawl(ctx context.Context, req pipeline.CrawlRequest) (uuid.UUID, error) {
	domain, err := pipeline.NormalizeDomain(req.Domain)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", pipeline.ErrInvalidDomain, err)
	}
	req.Domain = domain

	jobID, err := r.ids.NewID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate job id: %w", err)
	}
	job := pipeline.CrawlJob{
		ID:        jobID,
		Domain:    domain,
		Status:    pipeline.JobStatusPending,
		StartedAt: r.clock.Now(),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return uuid.Nil, fmt.Errorf("runner is shutting down")
	}
	if len(r.active) >= r.maxJobs {
		r.mu.Unlock()
		return uuid.Nil, pipeline.ErrTooManyJobs
	}
	// Reserve the slot before the lock round-trip so a burst of StartCrawl
	// calls cannot overshoot the cap.
	r.active[jobID] = nil
	r.mu.Unlock()

	if err := r.jobs.CreateJob(ctx, job); err != nil {
		r.unregister(jobID)
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}

	acquired, err := r.locker.Acquire(ctx, domain, jobID, r.lockTTL)
	if err != nil {
		r.failPending(ctx, jobID, fmt.Sprintf("acquire domain lock: %v", err))
		r.unregister(jobID)
		return uuid.Nil, fmt.Errorf("acquire domain lock: %w", err)
	}
	if !acquired {
		r.failPending(ctx, jobID, pipeline.ErrLockHeld.Error())
		r.unregister(jobID)
		return jobID, pipeline.ErrLockHeld
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.active[jobID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.unregister(jobID)
		defer cancel()
		if err := r.orch.Run(jobCtx, job, req); err != nil {
			r.logger.Debug("crawl terminated with error",
				zap.String("job_id", jobID.String()), zap.Error(err))
		}
	}()
	return jobID, nil
}

// GetJobStatus returns the job row; unknown IDs yield ErrNotFound.
func (r *Runner) GetJobStatus(ctx context.Context, jobID uuid.UUID) (pipeline.CrawlJob, error) {
	return r.jobs.GetJob(ctx, jobID)
}

// CancelCrawl cancels a running job's context. In-flight pages stop at the
// next checkpoint and the job terminates with status cancelled. Cancelling a
// job that already finished is a no-op; an unknown ID returns ErrNotFound.
func (r *Runner) CancelCrawl(ctx context.Context, jobID uuid.UUID) error {
	r.mu.Lock()
	cancel, running := r.active[jobID]
	r.mu.Unlock()

	if running && cancel != nil {
		cancel()
		return nil
	}
	if _, err := r.jobs.GetJob(ctx, jobID); err != nil {
		return err
	}
	return nil
}

// ActiveJobs reports how many jobs currently hold a registry slot.
func (r *Runner) ActiveJobs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Shutdown cancels every running job and waits for their orchestrators to
// finish their terminal writes, or for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for _, cancel := range r.active {
		if cancel != nil {
			cancel()
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("runner shutdown wait: %w", ctx.Err())
	}
}

func (r *Runner) unregister(jobID uuid.UUID) {
	r.mu.Lock()
	delete(r.active, jobID)
	r.mu.Unlock()
}

func (r *Runner) failPending(ctx context.Context, jobID uuid.UUID, msg string) {
	if err := r.jobs.UpdateJobStatus(ctx, jobID, pipeline.JobStatusFailed, msg); err != nil {
		r.logger.Warn("record pending job failure", zap.String("job_id", jobID.String()), zap.Error(err))
	}
}
