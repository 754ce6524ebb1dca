package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies provider failures into a small set of categories
// suitable for retry and quota decisions.
type ErrorKind string

const (
	// KindAuth indicates authentication/authorization failures, including a
	// disconnected sender account.
	KindAuth ErrorKind = "auth"

	// KindInvalidRequest indicates the request is invalid and retrying without
	// changing it will not succeed.
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindRateLimited indicates the provider is throttling requests.
	KindRateLimited ErrorKind = "rate_limited"

	// KindQuota indicates the provider rejected the action because a daily or
	// weekly allowance is exhausted. RetryAfter carries the provider's hint
	// for when the allowance resets.
	KindQuota ErrorKind = "quota"

	// KindNotFound indicates the target profile, post or invitation does not
	// exist on the provider side.
	KindNotFound ErrorKind = "not_found"

	// KindUnavailable indicates a transient provider failure (5xx, network
	// issues) where a retry may succeed.
	KindUnavailable ErrorKind = "unavailable"

	// KindUnknown indicates an unclassified provider failure.
	KindUnknown ErrorKind = "unknown"
)

// Error describes a failure returned by the social provider. It crosses
// package boundaries so activities can surface stable, structured information
// to workflows.
type Error struct {
	provider   string
	operation  string
	http       int
	kind       ErrorKind
	code       string
	message    string
	retryAfter time.Duration
	cause      error
}

// NewError constructs an Error. provider and kind are required. cause may be
// nil but is recommended to preserve the original error chain.
func NewError(provider, operation string, httpStatus int, kind ErrorKind, code, message string, cause error) *Error {
	if provider == "" {
		panic("provider: provider name is required")
	}
	if kind == "" {
		panic("provider: error kind is required")
	}
	return &Error{
		provider:  provider,
		operation: operation,
		http:      httpStatus,
		kind:      kind,
		code:      code,
		message:   message,
		cause:     cause,
	}
}

// WithRetryAfter attaches the provider's reset hint, meaningful for KindQuota
// and KindRateLimited.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.retryAfter = d
	return e
}

// Provider returns the provider identifier (for example, "unipile").
func (e *Error) Provider() string { return e.provider }

// Operation returns the provider operation name when known.
func (e *Error) Operation() string { return e.operation }

// HTTPStatus returns the provider HTTP status code when available, otherwise 0.
func (e *Error) HTTPStatus() int { return e.http }

// Kind returns the coarse-grained classification.
func (e *Error) Kind() ErrorKind { return e.kind }

// Code returns the provider-specific error code when available.
func (e *Error) Code() string { return e.code }

// Message returns the provider error message when available.
func (e *Error) Message() string { return e.message }

// RetryAfter returns the provider's reset hint, zero when none was given.
func (e *Error) RetryAfter() time.Duration { return e.retryAfter }

// Retryable reports whether retrying the call may succeed without changing
// the request. Quota exhaustion is deliberately not retryable here: it is
// handled by the caller sleeping until the allowance resets, not by the
// activity retry policy.
func (e *Error) Retryable() bool {
	return e.kind == KindUnavailable || e.kind == KindRateLimited
}

func (e *Error) Error() string {
	op := e.operation
	if op == "" {
		op = "request"
	}
	status := ""
	if e.http > 0 {
		status = fmt.Sprintf("%d ", e.http)
	}
	code := ""
	if e.code != "" {
		code = e.code + ": "
	}
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	return fmt.Sprintf("%s %s %s(%s): %s", e.provider, e.kind, status, op, code+msg)
}

// Unwrap returns the underlying error to preserve the original chain.
func (e *Error) Unwrap() error { return e.cause }

// AsError returns the first Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
