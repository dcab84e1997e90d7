// Package sinks implements concrete progress consumers such as Prometheus
// collectors, structured logging, and the page-error store. Each sink
// satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks
