// Package api hosts the HTTP control surface for the ingest service.
// Notable routes:
//   - POST /v1/crawls to start a crawl for a domain.
//   - GET /v1/crawls/{jobID} and POST /v1/crawls/{jobID}/cancel.
//   - GET /v1/crawls/{jobID}/errors for the per-page error log.
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
