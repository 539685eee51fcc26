// Package apperr defines the error taxonomy shared by every layer.
//
// Remote failures are classified once, by the backoff executor; callers above
// it only ever see success or one of these errors.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrRateLimited    = errors.New("rate limited by row store")
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrConflict       = errors.New("row changed concurrently")
	ErrQuotaExceeded  = errors.New("generation quota exceeded")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("invalid credentials")
	ErrMisconfigured  = errors.New("component misconfigured")
	ErrPermissionDeny = errors.New("insufficient permissions")
)

// RateLimitError is a transient quota failure. Backends return it to tag an
// error for retry; the executor returns it again once the budget is spent.
type RateLimitError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RateLimitError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s: rate limited after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// RateLimited tags err as a rate-limit failure.
func RateLimited(err error) error {
	return &RateLimitError{Err: err}
}

// NotFoundError reports a missing account, job or table.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(kind, key string) error {
	return &NotFoundError{Kind: kind, Key: key}
}

// ValidationError rejects malformed input before any remote call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConfigurationError is fatal at the affected component's startup.
type ConfigurationError struct {
	Component string
	Setting   string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Setting, e.Err)
	}
	return fmt.Sprintf("%s: %s is required", e.Component, e.Setting)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrMisconfigured }

// AuthError hides which check failed; Reason is for logs only.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "invalid credentials or inactive account" }

func (e *AuthError) Is(target error) bool { return target == ErrUnauthorized }

// IsRateLimited reports whether err is, or wraps, a rate-limit failure.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
