// Package progress provides the event primitives, the non-blocking hub, and
// the emitter interface that board orchestrators and fetchers use to report
// archiver progress. Events are batched on a background goroutine and fanned
// out to pluggable sinks such as Prometheus metrics or the structured log.
package progress
