// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces the crawl orchestrator uses to report milestones. Events
// are batched on a background goroutine and fanned out to pluggable sinks
// such as Prometheus collectors, structured logs, or the page-error store.
package progress
