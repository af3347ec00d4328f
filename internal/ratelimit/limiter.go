// Package ratelimit implements dual RPM/TPM token-bucket rate limiting
// per provider, with lazy refill: instead of a background ticker, each
// Acquire call computes elapsed time since the last refill and tops the
// buckets up proportionally before checking availability. No reservation
// is held across a failed acquire — a caller that times out leaves no
// trace in the bucket state.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config is one provider's rate limit budget.
type Config struct {
	RPM int // requests per minute
	TPM int // tokens per minute
}

// Stats reports current bucket state for monitoring.
type Stats struct {
	Provider        string
	AvailableRPM    float64
	AvailableTPM    float64
	RPMCapacity     float64
	TPMCapacity     float64
	RateLimitWaits  int64
	TimeoutsHit     int64
}

// Limiter is a dual token-bucket limiter for one provider.
type Limiter struct {
	mu sync.Mutex

	provider string

	rpmCapacity float64
	tpmCapacity float64

	availableRPM float64
	availableTPM float64

	lastRefill time.Time

	rateLimitWaits int64
	timeoutsHit    int64
}

// New creates a limiter for a provider, both buckets starting full.
func New(provider string, cfg Config) *Limiter {
	now := time.Now()
	return &Limiter{
		provider:     provider,
		rpmCapacity:  float64(cfg.RPM),
		tpmCapacity:  float64(cfg.TPM),
		availableRPM: float64(cfg.RPM),
		availableTPM: float64(cfg.TPM),
		lastRefill:   now,
	}
}

// refill tops up both buckets based on elapsed wall-clock time since the
// last refill. Must be called with mu held.
func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.lastRefill = now

	l.availableRPM += (l.rpmCapacity / 60.0) * elapsed
	if l.availableRPM > l.rpmCapacity {
		l.availableRPM = l.rpmCapacity
	}
	l.availableTPM += (l.tpmCapacity / 60.0) * elapsed
	if l.availableTPM > l.tpmCapacity {
		l.availableTPM = l.tpmCapacity
	}
}

const pollInterval = 100 * time.Millisecond

// Acquire blocks until one request slot and `tokens` worth of TPM budget
// are both available, ctx is cancelled, or the deadline passes — whichever
// comes first. It never holds a partial reservation: both buckets are
// checked and debited atomically, or neither is touched.
func (l *Limiter) Acquire(ctx context.Context, tokens int, deadline time.Duration) error {
	start := time.Now()
	firstWait := true

	for {
		l.mu.Lock()
		l.refill()

		hasRequest := l.availableRPM >= 1
		hasTokens := l.availableTPM >= float64(tokens)

		if hasRequest && hasTokens {
			l.availableRPM--
			l.availableTPM -= float64(tokens)
			l.mu.Unlock()
			return nil
		}

		if firstWait {
			l.rateLimitWaits++
			firstWait = false
		}
		l.mu.Unlock()

		if time.Since(start) >= deadline {
			l.mu.Lock()
			l.timeoutsHit++
			l.mu.Unlock()
			return fmt.Errorf("ratelimit: %s acquisition timed out after %v (need %d tokens)",
				l.provider, deadline.Round(time.Millisecond), tokens)
		}

		select {
		case <-ctx.Done():
			return ctx.Err() //nolint:wrapcheck // context error propagated as-is
		case <-time.After(pollInterval):
		}
	}
}

// GetStats returns a snapshot of bucket state.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return Stats{
		Provider:       l.provider,
		AvailableRPM:   l.availableRPM,
		AvailableTPM:   l.availableTPM,
		RPMCapacity:    l.rpmCapacity,
		TPMCapacity:    l.tpmCapacity,
		RateLimitWaits: l.rateLimitWaits,
		TimeoutsHit:    l.timeoutsHit,
	}
}

// Map manages one Limiter per provider.
type Map struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewMap builds a Map from a provider-name -> Config set.
func NewMap(configs map[string]Config) *Map {
	m := &Map{limiters: make(map[string]*Limiter, len(configs))}
	for provider, cfg := range configs {
		m.limiters[provider] = New(provider, cfg)
	}
	return m
}

// Get returns the limiter for a provider, or an error if unconfigured.
func (m *Map) Get(provider string) (*Limiter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.limiters[provider]
	if !ok {
		return nil, fmt.Errorf("ratelimit: no limiter configured for provider %q", provider)
	}
	return l, nil
}

// AllStats returns a snapshot for every configured provider.
func (m *Map) AllStats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.limiters))
	for name, l := range m.limiters {
		out[name] = l.GetStats()
	}
	return out
}
