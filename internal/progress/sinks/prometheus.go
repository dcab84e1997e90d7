package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sitechat/ingest/internal/progress"
)

// PrometheusSink exports crawl pipeline metrics. It owns the collectors for
// job lifecycle, per-domain page outcomes, and reconciliation deletions.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	pageFetches   *prometheus.CounterVec
	pageOutcomes  *prometheus.CounterVec
	pageErrors    *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	chunksStored  *prometheus.CounterVec
	pagesDeleted  *prometheus.CounterVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_jobs_started_total",
			Help: "Total crawl jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_jobs_completed_total",
			Help: "Total crawl jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_jobs_running",
			Help: "Current number of running crawl jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_job_runtime_seconds",
			Help:    "Wall time per completed crawl job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		pageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_page_fetches_total",
			Help: "Page fetch completions partitioned by domain and status class.",
		}, []string{"domain", "status_class"}),
		pageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_pages_processed_total",
			Help: "Pages processed partitioned by domain and outcome (done, skipped).",
		}, []string{"domain", "outcome"}),
		pageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_page_errors_total",
			Help: "Page failures partitioned by domain and pipeline stage.",
		}, []string{"domain", "pipeline_stage"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_fetch_bytes_total",
			Help: "Bytes downloaded per domain.",
		}, []string{"domain"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by domain and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"domain", "status_class"}),
		chunksStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_chunks_stored_total",
			Help: "Embedded chunks stored per domain.",
		}, []string{"domain"}),
		pagesDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_pages_deleted_total",
			Help: "Pages marked deleted by reconciliation, per domain.",
		}, []string{"domain"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.pageFetches,
		s.pageOutcomes,
		s.pageErrors,
		s.fetchBytes,
		s.fetchDuration,
		s.chunksStored,
		s.pagesDeleted,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart, progress.StageJobDone, progress.StageJobError:
		s.handleJobEvent(evt)
	case progress.StagePageFetch:
		s.handlePageFetch(evt)
	case progress.StagePageDone:
		s.pageOutcomes.WithLabelValues(domainLabel(evt), "done").Inc()
		if evt.Chunks > 0 {
			s.chunksStored.WithLabelValues(domainLabel(evt)).Add(float64(evt.Chunks))
		}
	case progress.StagePageSkip:
		s.pageOutcomes.WithLabelValues(domainLabel(evt), "skipped").Inc()
	case progress.StagePageError:
		stage := evt.PipelineStage
		if stage == "" {
			stage = "unknown"
		}
		s.pageErrors.WithLabelValues(domainLabel(evt), stage).Inc()
	case progress.StageJobReconcile:
		if evt.Deleted > 0 {
			s.pagesDeleted.WithLabelValues(domainLabel(evt)).Add(float64(evt.Deleted))
		}
	}
}

func (s *PrometheusSink) handleJobEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.jobsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageJobError:
		s.jobsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageJobStart && s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handlePageFetch(evt progress.Event) {
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.pageFetches.WithLabelValues(domainLabel(evt), statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(domainLabel(evt)).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(domainLabel(evt), statusClass).Observe(evt.Dur.Seconds())
	}
}

func domainLabel(evt progress.Event) string {
	if evt.Domain == "" {
		return "unknown"
	}
	return evt.Domain
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[[16]byte]struct{})}
}

func (t *jobTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
