package fetcher

import (
	"context"
	"time"

	"github.com/phrazzld/crate-api/internal/domain"
)

// retryFetcher wraps another Fetcher with in-process retries for
// transient failures. This smooths over short provider blips within one
// task attempt; it is deliberately separate from the queue-level retry,
// which requeues the whole task with a visible backoff window.
type retryFetcher struct {
	next  Fetcher
	tries int
	delay time.Duration

	// sleep waits between attempts. Tests swap it out to observe the
	// backoff schedule without real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// WithRetry decorates f so that transient failures are retried up to
// tries times in total, sleeping delay (doubling each time) between
// attempts. Permanent failures and context cancellation pass through
// immediately.
func WithRetry(f Fetcher, tries int, delay time.Duration) Fetcher {
	if tries < 1 {
		tries = 1
	}
	return &retryFetcher{next: f, tries: tries, delay: delay, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fetch implements Fetcher.
func (r *retryFetcher) Fetch(ctx context.Context, payload domain.DownloadPayload, report ProgressFunc) (*domain.DownloadResult, error) {
	delay := r.delay
	var lastErr error

	for attempt := 0; attempt < r.tries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, delay); err != nil {
				return nil, Transient("fetch abandoned", err)
			}
			delay *= 2
		}

		result, err := r.next.Fetch(ctx, payload, report)
		if err == nil {
			return result, nil
		}
		if IsPermanent(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}
