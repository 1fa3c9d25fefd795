package exchange

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies adapter failures so the scheduler can pick a policy
// without inspecting venue-specific detail.
type Kind int

const (
	// Transient covers timeouts, 5xx responses and socket resets; safe to
	// retry with backoff.
	Transient Kind = iota
	// RateLimited means the venue returned 429; honor RetryAfter.
	RateLimited
	// InvalidRequest is a caller bug (bad symbol, bad window); do not retry.
	InvalidRequest
	// SchemaMismatch means the payload did not decode into the documented
	// shape; do not retry, the adapter needs attention.
	SchemaMismatch
	// AuthRequired means the endpoint needs credentials that were absent or
	// rejected.
	AuthRequired
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case InvalidRequest:
		return "invalid_request"
	case SchemaMismatch:
		return "schema_mismatch"
	case AuthRequired:
		return "auth_required"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by every adapter call.
type Error struct {
	Kind       Kind
	Exchange   string
	Status     int // HTTP status when applicable, else 0
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Exchange, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Exchange, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a classification.
func NewError(exchange string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Exchange: exchange, Err: err}
}

// ClassifyStatus maps an HTTP response status onto an error kind, following
// the venue conventions shared by all supported exchanges.
func ClassifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return AuthRequired
	case status >= 500:
		return Transient
	default:
		return InvalidRequest
	}
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsRetryable reports whether the caller should retry after a delay.
func IsRetryable(err error) bool {
	return IsKind(err, Transient) || IsKind(err, RateLimited)
}

// RetryAfter returns the venue-requested delay, or 0 when none applies.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
