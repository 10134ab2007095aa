package store

import (
	"math/rand"
	"time"
)

// LeasePolicy bundles the tunables that govern lease eligibility and
// retry scheduling. Both store implementations apply the same policy so
// that any worker observes identical queue behavior.
type LeasePolicy struct {
	// StaleThreshold is the maximum heartbeat silence before a lease is
	// considered abandoned and the task becomes eligible again.
	StaleThreshold time.Duration

	// BackoffBase is the delay before the first retry of a transient
	// failure. Each subsequent retry doubles it.
	BackoffBase time.Duration

	// BackoffCap bounds the retry delay.
	BackoffCap time.Duration
}

// DefaultLeasePolicy returns a LeasePolicy with reasonable defaults.
func DefaultLeasePolicy() LeasePolicy {
	return LeasePolicy{
		StaleThreshold: 2 * time.Minute,
		BackoffBase:    3 * time.Second,
		BackoffCap:     5 * time.Minute,
	}
}

// BackoffDelay returns the retry delay after the given completed
// attempt count: base * 2^(attempt-1), capped, with up to 25% jitter so
// that requeued tasks do not thunder back in lockstep.
func (p LeasePolicy) BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.BackoffCap {
			delay = p.BackoffCap
			break
		}
	}
	if delay > p.BackoffCap {
		delay = p.BackoffCap
	}

	if delay > 0 {
		jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
		delay += jitter
		if delay > p.BackoffCap {
			delay = p.BackoffCap
		}
	}

	return delay
}

// StaleBefore returns the heartbeat cutoff for the given instant: any
// running task whose heartbeat is older than this is considered
// abandoned.
func (p LeasePolicy) StaleBefore(now time.Time) time.Time {
	return now.Add(-p.StaleThreshold)
}
