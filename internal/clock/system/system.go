// Package system provides the wall clock used for event timestamps and
// backup archive names.
package system

import "time"

// StampLayout names backup archives; it sorts lexically by time.
const StampLayout = "20060102T150405.000000000Z"

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Stamp formats t with StampLayout.
func Stamp(t time.Time) string {
	return t.UTC().Format(StampLayout)
}

// Fixed is a clock frozen at a single instant.
type Fixed time.Time

// Now returns the frozen instant.
func (f Fixed) Now() time.Time {
	return time.Time(f)
}
