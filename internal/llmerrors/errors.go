// Package llmerrors classifies LLM provider failures into a small typed
// taxonomy so the dispatcher and retry policy can decide, without string
// matching, whether a given failure is worth retrying.
package llmerrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind categorizes a provider failure.
type Kind int8

const (
	// KindRateLimit is a 429 / quota-exceeded response. Retryable.
	KindRateLimit Kind = iota
	// KindTimeout is a request that exceeded its deadline. Retryable.
	KindTimeout
	// KindTransport is a connection-level failure: reset, EOF, DNS, 5xx. Retryable.
	KindTransport
	// KindBadRequest is a malformed or rejected request: 400/401/403/404,
	// a prompt that violates provider policy, or a model refusing the
	// requested response format. Not retryable as-is — the dispatcher may
	// still retry after rewriting the request (e.g. dropping JSON mode).
	KindBadRequest
	// KindEmpty is an HTTP 200 with no usable content. Not retryable.
	KindEmpty
)

// Retryable reports whether a failure of this kind is worth an automatic
// retry, independent of any particular *Error value.
func (k Kind) Retryable() bool {
	return k != KindBadRequest && k != KindEmpty
}

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindBadRequest:
		return "bad_request"
	case KindEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// RetryConfig defines exponential backoff for one error kind.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfigs gives each kind a retry budget matching the
// original profile-builder's provider manager: rate limits get the
// longest budget since providers routinely impose cooldowns, bad
// requests get none since rewriting the request is the dispatcher's job,
// not the retry policy's, and empty responses get none either.
var DefaultRetryConfigs = map[Kind]RetryConfig{
	KindRateLimit:  {MaxAttempts: 6, BaseDelay: time.Second, MaxDelay: 60 * time.Second},
	KindTimeout:    {MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
	KindTransport:  {MaxAttempts: 4, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second},
	KindBadRequest: {MaxAttempts: 0},
	KindEmpty:      {MaxAttempts: 0},
}

// Error is a classified LLM failure.
type Error struct {
	Err        error
	Message    string
	Provider   string
	Model      string
	Kind       Kind
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("llm error [%s/%s] (%s): %s", e.Provider, e.Model, e.Kind, e.Message)
	}
	return fmt.Sprintf("llm error [%s/%s] (%s): %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether this kind of failure should be retried by
// the retry policy at all. RateLimit, Timeout, and Transport are; a
// dispatcher-level structured-output fallback is a separate mechanism
// from this retry, applying specifically to KindBadRequest responses
// caused by response-format rejection.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindBadRequest, KindEmpty:
		return false
	default:
		return true
	}
}

// RetryConfig returns the backoff configuration for this error's kind.
func (e *Error) RetryConfig() RetryConfig {
	if cfg, ok := DefaultRetryConfigs[e.Kind]; ok {
		return cfg
	}
	return DefaultRetryConfigs[KindTransport]
}

// New builds a classified error.
func New(kind Kind, provider, model, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Model: model, Message: message}
}

// Wrap builds a classified error around an underlying cause.
func Wrap(kind Kind, provider, model string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Model: model, Err: cause}
}

// WithStatus attaches an HTTP status code to a classified error.
func (e *Error) WithStatus(code int) *Error {
	e.StatusCode = code
	return e
}

// KindOf returns the Kind of err, or KindTransport if err isn't a
// classified *Error — unclassified failures are treated as transport
// errors so they still get retried rather than silently dropped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransport
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
