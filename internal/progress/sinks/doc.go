// Package sinks implements progress consumers: Prometheus collectors for the
// /metrics endpoint and a debug-level structured log stream.
package sinks
