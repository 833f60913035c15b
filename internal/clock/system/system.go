// Package system provides the wall clock used by archive runs.
package system

import "time"

// Clock implements archive.Clock. Timestamps are UTC so ledger rows and
// notifications agree regardless of the host zone.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
