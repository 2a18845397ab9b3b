// Package system provides the wall clock used by board orchestrators.
package system

import "time"

// Clock implements archive.Clock with time.Now. Returned times keep their
// monotonic reading so backoff elapsed checks survive wall clock jumps.
type Clock struct{}

// New creates a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current local time.
func (Clock) Now() time.Time {
	return time.Now()
}
