// Package system provides the wall clock used outside of tests.
package system

import "time"

// Clock reads time.Now in a fixed location.
type Clock struct {
	loc *time.Location
}

// New returns a Clock reporting times in loc. A nil loc means UTC.
func New(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.UTC
	}
	return &Clock{loc: loc}
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// After waits for d to elapse and then sends the current time.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Location returns the configured location.
func (c *Clock) Location() *time.Location {
	return c.loc
}
