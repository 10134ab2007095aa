package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayGrowsExponentially(t *testing.T) {
	t.Parallel()

	p := LeasePolicy{
		StaleThreshold: 2 * time.Minute,
		BackoffBase:    3 * time.Second,
		BackoffCap:     5 * time.Minute,
	}

	// Each delay is base * 2^(attempt-1) plus at most 25% jitter.
	for attempt := 1; attempt <= 6; attempt++ {
		floor := p.BackoffBase << (attempt - 1)
		if floor > p.BackoffCap {
			floor = p.BackoffCap
		}

		for i := 0; i < 50; i++ {
			d := p.BackoffDelay(attempt)
			assert.GreaterOrEqual(t, d, floor, "attempt %d", attempt)
			assert.LessOrEqual(t, d, floor+floor/4, "attempt %d", attempt)
			assert.LessOrEqual(t, d, p.BackoffCap, "attempt %d", attempt)
		}
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	t.Parallel()

	p := LeasePolicy{
		BackoffBase: 3 * time.Second,
		BackoffCap:  5 * time.Minute,
	}

	// Far past the doubling range the delay pins to the cap.
	for i := 0; i < 50; i++ {
		assert.Equal(t, p.BackoffCap, p.BackoffDelay(30))
	}
}

func TestBackoffDelayTreatsLowAttemptsAsFirst(t *testing.T) {
	t.Parallel()

	p := DefaultLeasePolicy()

	d := p.BackoffDelay(0)
	assert.GreaterOrEqual(t, d, p.BackoffBase)
	assert.LessOrEqual(t, d, p.BackoffBase+p.BackoffBase/4)
}

func TestStaleBefore(t *testing.T) {
	t.Parallel()

	p := LeasePolicy{StaleThreshold: 2 * time.Minute}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(-2*time.Minute), p.StaleBefore(now))
}
