// Package service provides the application-level operations over the
// download queue: submitting, inspecting, cancelling, and retrying
// tasks.
package service

import "errors"

// Common service errors - sentinel errors used across service implementations.
// Callers check for these with errors.Is(); the API layer maps them to
// HTTP status codes.
var (
	// ErrTaskNotFound indicates the referenced task does not exist.
	// API layer should map this to HTTP 404 Not Found.
	ErrTaskNotFound = errors.New("download task not found")

	// ErrNotCancellable indicates the task has left the pending state and
	// can no longer be cancelled.
	// API layer should map this to HTTP 409 Conflict.
	ErrNotCancellable = errors.New("task is no longer pending and cannot be cancelled")

	// ErrNotRetryable indicates the task is not in the failed state, the
	// only state a retry applies to.
	// API layer should map this to HTTP 409 Conflict.
	ErrNotRetryable = errors.New("task is not failed and cannot be retried")
)
