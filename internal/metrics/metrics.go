// Package metrics exposes Prometheus collectors for the ingest service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	embeddingRequestsTotal   *prometheus.CounterVec
	embeddingBatchSize       prometheus.Histogram
	embeddingDurationSeconds prometheus.Histogram

	rateLimitDelaysSeconds *prometheus.HistogramVec
	headlessPromotions     *prometheus.CounterVec
	probeTLSTimeoutsTotal  prometheus.Counter
	activeWorkers          prometheus.Gauge
	lockRenewalsTotal      *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		embeddingRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_embedding_requests_total",
				Help: "Total embedding provider calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		embeddingBatchSize = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_embedding_batch_size",
				Help:    "Number of chunks per embedding provider call.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
		)

		embeddingDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_embedding_duration_seconds",
				Help:    "Latency of embedding provider calls.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations per domain.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		headlessPromotions = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_headless_promotions_total",
				Help: "Fetches promoted to the headless browser, labeled by domain.",
			},
			[]string{"domain"},
		)

		probeTLSTimeoutsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_probe_tls_handshake_timeouts_total",
				Help: "Total TLS handshake timeouts encountered while probing robots.txt.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_active_workers",
				Help: "Number of page workers currently processing.",
			},
		)

		lockRenewalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_lock_renewals_total",
				Help: "Domain lock renewal attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// SanitizeDomain extracts a lowercase hostname from a URL or bare domain.
// It returns "unknown" if the input cannot be parsed.
func SanitizeDomain(raw string) string {
	if !strings.HasPrefix(raw, "http") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveEmbeddingRequest records one embedding provider call.
func ObserveEmbeddingRequest(outcome string, batchSize int, duration time.Duration) {
	embeddingRequestsTotal.WithLabelValues(outcome).Inc()
	if batchSize > 0 {
		embeddingBatchSize.Observe(float64(batchSize))
	}
	embeddingDurationSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(SanitizeDomain(domain)).Observe(duration.Seconds())
}

// ObserveHeadlessPromotion counts a fetch promoted to the headless browser.
func ObserveHeadlessPromotion(domain string) {
	headlessPromotions.WithLabelValues(SanitizeDomain(domain)).Inc()
}

// ObserveProbeTLSHandshakeTimeout increments the robots probe timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	probeTLSTimeoutsTotal.Inc()
}

// ObserveLockRenewal counts a lock renewal attempt.
func ObserveLockRenewal(outcome string) {
	lockRenewalsTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}
