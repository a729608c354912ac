// Package system is the wall-clock implementation of dataqual.Clock.
// Everything else in the client takes the clock as a dependency so tests
// can pin time.
package system

import "time"

// Clock reads the system time in UTC.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

func (Clock) Now() time.Time {
	return time.Now().UTC()
}
