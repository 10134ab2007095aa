// Package fetcher defines the capability the download workers invoke to
// perform the actual content retrieval. The queue core depends only on
// this interface; provider-specific implementations live under
// internal/platform.
package fetcher

import (
	"context"

	"github.com/phrazzld/crate-api/internal/domain"
)

// ProgressFunc receives advisory item-level progress while a multi-item
// fetch is running. Implementations may call it from the fetching
// goroutine at any time; a nil ProgressFunc disables reporting.
type ProgressFunc func(domain.Progress)

// Fetcher retrieves the content described by a task payload and returns
// the produced artifacts. Fetch may block for a long, variable duration;
// it must honor context cancellation so an abandoned lease can be let
// go. Failures are reported as TransientError or PermanentError so the
// caller can decide whether retrying is worthwhile.
type Fetcher interface {
	Fetch(ctx context.Context, payload domain.DownloadPayload, report ProgressFunc) (*domain.DownloadResult, error)
}

// FetcherFunc adapts a plain function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, payload domain.DownloadPayload, report ProgressFunc) (*domain.DownloadResult, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, payload domain.DownloadPayload, report ProgressFunc) (*domain.DownloadResult, error) {
	return f(ctx, payload, report)
}
