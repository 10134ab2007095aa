package worker

import "time"

// Clock abstracts the current time so tests can drive the lease
// protocol deterministically instead of sleeping against wall-clock
// thresholds.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}
