package fetcher

import (
	"errors"
	"fmt"
)

// TransientError marks a fetch failure that is worth retrying, such as
// a network timeout or a provider rate limit.
type TransientError struct {
	Reason string
	Err    error
}

// Error implements the error interface for TransientError.
func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient fetch failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transient fetch failure: %s", e.Reason)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a fetch failure that no amount of retrying will
// fix, such as an unknown catalog entity or a malformed reference.
type PermanentError struct {
	Reason string
	Err    error
}

// Error implements the error interface for PermanentError.
func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent fetch failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent fetch failure: %s", e.Reason)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable fetch failure.
func Transient(reason string, err error) error {
	return &TransientError{Reason: reason, Err: err}
}

// Permanent wraps err as a non-retryable fetch failure.
func Permanent(reason string, err error) error {
	return &PermanentError{Reason: reason, Err: err}
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// IsTransient reports whether err should be treated as retryable.
// Unclassified errors count as transient: failing a task terminally on
// an unknown error would discard work that a retry might finish.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}
