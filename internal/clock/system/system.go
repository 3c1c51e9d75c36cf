// Package system provides the wall-clock implementation of rescue.Clock.
package system

import "time"

// Clock reads the real system clock.
type Clock struct{}

// New returns a system Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (c *Clock) Now() time.Time {
	return time.Now().UTC()
}
