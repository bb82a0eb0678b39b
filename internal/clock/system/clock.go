// Package system provides a real clock implementation.
package system

import "time"

// Clock implements scholarship.Clock using time.Now in a fixed location.
// Application windows are calendar dates of the board's time zone, so "today"
// must be read there rather than in UTC.
type Clock struct {
	loc *time.Location
}

// New creates a new Clock. A nil location means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c Clock) Now() time.Time {
	if c.loc == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.loc)
}
