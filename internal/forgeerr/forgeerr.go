// Package forgeerr implements the error kind/code taxonomy every
// caller-visible failure is classified into: RPC responses, job retry
// policy, and workflow compensation all switch on Kind, never on the
// underlying error's concrete type.
package forgeerr

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy rows; it drives retry/propagation policy,
// never formatting.
type Kind string

const (
	KindConfig            Kind = "config"
	KindDatabase          Kind = "database"
	KindValidation        Kind = "validation"
	KindInvalidArgument   Kind = "invalid_argument"
	KindNotFound          Kind = "not_found"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindTimeout           Kind = "timeout"
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
	KindFunction          Kind = "function"
	KindInternal          Kind = "internal"
)

// code is the stable, caller-visible string per RPC error code (spec §6).
func (k Kind) code() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindForbidden:
		return "FORBIDDEN"
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindTimeout:
		return "TIMEOUT"
	case KindRateLimitExceeded:
		return "RATE_LIMITED"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus is the status code an RPC handler maps this kind to.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return 404
	case KindUnauthorized:
		return 401
	case KindForbidden:
		return 403
	case KindValidation, KindInvalidArgument:
		return 400
	case KindTimeout:
		return 504
	case KindRateLimitExceeded:
		return 429
	default:
		return 500
	}
}

// Error wraps an underlying cause with a Kind and a stable Code, plus an
// optional JSON-shaped Details payload surfaced to callers.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs an Error of the given kind. message is the human string
// surfaced to the caller; it should never leak internal detail for
// KindInternal.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Code: kind.code(), Message: message}
}

// Wrap attaches kind/message to an underlying cause, preserving it for
// errors.Is/As and logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Code: kind.code(), Message: message, cause: cause}
}

// WithDetails returns a copy of e carrying the given details payload.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// RetryAfterError carries the retry_after seconds a RATE_LIMITED response
// must surface.
type RetryAfterError struct {
	*Error
	RetryAfterSeconds float64
	Limit             float64
	Remaining         float64
}

// NewRateLimited builds the RATE_LIMITED error shape spec §4.9 requires.
func NewRateLimited(retryAfter, limit, remaining float64) *RetryAfterError {
	return &RetryAfterError{
		Error:             New(KindRateLimitExceeded, "rate limit exceeded"),
		RetryAfterSeconds: retryAfter,
		Limit:             limit,
		Remaining:         remaining,
	}
}

// KindOf classifies err into a Kind, defaulting to KindInternal for
// anything not produced by this package — errors escaping a user handler
// without an explicit classification are opaque 500s by design.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err (or something it wraps) is a forgeerr.Error of
// the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
