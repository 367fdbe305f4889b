// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Aggregator errors.
	ErrAuthenticationFailed = errors.New("aggregator authentication failed")
	ErrRateLimitExceeded    = errors.New("aggregator rate limit exceeded")
	ErrUpstreamUnavailable  = errors.New("aggregator unavailable")
	ErrUpstreamRejected     = errors.New("aggregator rejected request")

	// Sync errors.
	// ErrLockContended means another sync already holds the connection lock.
	// It is an expected concurrency outcome, not a failure.
	ErrLockContended = errors.New("sync lock contended")
	// ErrRequiresUserAction means the end user must re-authenticate the
	// connection. It is a business state surfaced to the user, never retried.
	ErrRequiresUserAction = errors.New("connection requires user action")
	ErrQuotaExceeded      = errors.New("usage quota exceeded")

	// Vault errors.
	ErrDecryptionFailed = errors.New("decryption failed")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}

// IsTerminalForSync reports whether an error ends the current sync attempt
// without being a system failure worth retrying.
func IsTerminalForSync(err error) bool {
	return errors.Is(err, ErrRequiresUserAction) || errors.Is(err, ErrUpstreamRejected)
}
