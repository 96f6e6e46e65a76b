// Package apperrors defines the error taxonomy shared across the service.
// Every failure that crosses a component boundary is represented as an
// *Error carrying a Kind, so that callers (the retry classifier, the HTTP
// error mapper, the stream serializer) dispatch on the kind rather than on
// concrete error types.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for retry and response-mapping decisions.
type Kind int

const (
	// KindUnknown covers errors that could not be classified, including
	// non-error panics coerced through Coerce.
	KindUnknown Kind = iota

	// KindValidation marks malformed caller input. Never retried.
	KindValidation

	// KindRateLimit marks a quota denial. Carries RetryAfter. Never retried.
	KindRateLimit

	// KindTimeout marks an operation that exceeded its deadline.
	// Retryable by default.
	KindTimeout

	// KindUpstream marks a failure reported by the token source or the
	// provider API. Retryable by default when transient.
	KindUpstream

	// KindParse marks accumulated output that failed structural validation.
	// Deliberately never retried: retrying would re-run an expensive
	// generation for a failure retries cannot address on their own.
	KindParse
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindUpstream:
		return "upstream"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Code returns the stable wire code used in error events and responses.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindRateLimit:
		return "RATE_LIMIT_EXCEEDED"
	case KindTimeout:
		return "TIMEOUT"
	case KindUpstream:
		return "UPSTREAM_ERROR"
	case KindParse:
		return "PARSE_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Error is the tagged error variant used throughout the service.
type Error struct {
	Kind    Kind
	Message string

	// Details carries optional caller-safe context (e.g. the provider's
	// status text). It may be surfaced in error events.
	Details string

	// RetryAfter is set for KindRateLimit denials.
	RetryAfter time.Duration

	// Transient distinguishes retryable upstream failures (5xx, resets)
	// from permanent ones (4xx rejections). Meaningful for KindUpstream.
	Transient bool

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// Validation creates a validation-kind error for malformed caller input.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// RateLimit creates a rate-limit denial carrying the wait hint.
func RateLimit(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimit, Message: message, RetryAfter: retryAfter}
}

// Timeout creates a timeout-kind error.
func Timeout(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message, Transient: true}
}

// Upstream wraps a transient provider failure.
func Upstream(message string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Transient: true, cause: cause}
}

// UpstreamFatal wraps a permanent provider failure (e.g. a 4xx rejection)
// that the default classifier must not retry.
func UpstreamFatal(message string, cause error) *Error {
	return &Error{Kind: KindUpstream, Message: message, Transient: false, cause: cause}
}

// Parse wraps a structural-validation failure of accumulated output.
func Parse(message string, cause error) *Error {
	return &Error{Kind: KindParse, Message: message, cause: cause}
}

// Unknown wraps an unclassified failure.
func Unknown(message string, cause error) *Error {
	return &Error{Kind: KindUnknown, Message: message, cause: cause}
}

// KindOf extracts the kind from an error chain. Errors outside the
// taxonomy report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether any error in the chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Coerce normalizes an arbitrary error into an *Error. Values already in
// the taxonomy pass through unchanged; anything else becomes KindUnknown
// so no failure is ever propagated raw to a caller-facing surface.
func Coerce(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnknown, Message: "unexpected error", Details: err.Error(), cause: err}
}

// CoerceValue normalizes a recovered panic value into an *Error.
func CoerceValue(v any) *Error {
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return Coerce(err)
	}
	return &Error{Kind: KindUnknown, Message: "unexpected error", Details: fmt.Sprint(v)}
}
