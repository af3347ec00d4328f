// Package retry implements exponential backoff for provider calls,
// delegating the retry/no-retry decision to the classified error kind
// from internal/llmerrors.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"companyprofiler/internal/llmerrors"
)

// Classifier decides whether an error should be retried.
type Classifier func(error) bool

// DefaultClassifier retries everything except context cancellation and
// errors explicitly classified as non-retryable.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable()
	}
	return true
}

// Policy drives exponential backoff: the delay before retry n (1-indexed)
// is base * 2^(n-1), capped at max and randomized by up to +/-10% to avoid synchronized
// retries across workers hitting the same provider.
type Policy struct {
	Classifier Classifier
	Base       time.Duration
	Max        time.Duration
	Attempts   int
}

// NewPolicy builds a Policy from an llmerrors.RetryConfig, matched to the
// error kind that will be retried under it.
func NewPolicy(cfg llmerrors.RetryConfig, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	return &Policy{
		Classifier: classifier,
		Base:       cfg.BaseDelay,
		Max:        cfg.MaxDelay,
		Attempts:   cfg.MaxAttempts,
	}
}

// Delay returns the backoff delay before retry attempt n (1-indexed:
// attempt 1 is the first retry after the initial call).
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.Base <= 0 {
		return 0
	}
	d := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	jitter := 1 + (rand.Float64()*0.2 - 0.1) //nolint:gosec // timing jitter, not security sensitive
	return time.Duration(d * jitter)
}

// ShouldRetry reports whether err warrants another attempt.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}

// Do runs fn up to p.Attempts+1 times (the initial call plus retries),
// sleeping Delay(attempt) between tries, stopping early if ctx is done
// or the classifier rejects the error.
func Do(ctx context.Context, p *Policy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay(attempt)):
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.ShouldRetry(err) {
			return err
		}
	}
	return lastErr
}
