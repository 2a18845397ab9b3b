// Package board runs the per-board archive loop: discover threads from the
// board index, poll every active thread on a bounded pool, persist and evict
// the threads that closed, report, and pace the next cycle.
//
// The working set is only mutated between dispatch phases, so it needs no
// lock; each Thread is owned by a single pool task while it is polled.
package board
