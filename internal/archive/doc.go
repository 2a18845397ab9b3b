// Package archive holds the thread archiver's data model and per-thread state
// machine: raw post records, normalized posts, the polling lifecycle of a
// thread, and the interfaces the orchestrator uses to reach the network, the
// rich-text extractor, and the persistence sink.
package archive
