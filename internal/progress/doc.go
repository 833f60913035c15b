// Package progress provides the event primitives, the non-blocking Hub and the
// Emitter interface the crawl engine uses to report a run. Events are batched
// on a background goroutine and fanned out to sinks such as the zap log sink
// and Prometheus collectors.
package progress
