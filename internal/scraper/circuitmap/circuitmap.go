// Package circuitmap holds the scraper's process-wide per-domain
// circuit breaker state in a TTL-evicting cache, so a domain scraped
// once months ago doesn't pin a breaker entry in memory forever.
package circuitmap

import (
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	"companyprofiler/internal/circuit"
)

// Map is a process-wide registry of per-domain circuit breakers.
// Entries expire ttl after they were written to the cache. A breaker is
// written once, when Get creates it, and Record calls do not touch the
// cache, so an entry is evicted ttl after its domain's first use whether
// or not the domain is still active; the next request for that domain
// gets a brand-new Closed breaker.
type Map struct {
	mu     sync.Mutex
	cache  *otter.Cache[string, *circuit.Breaker]
	config circuit.Config
}

// New creates a Map. ttl is how long a domain's breaker entry survives
// after Get creates it.
func New(cfg circuit.Config, ttl time.Duration) (*Map, error) {
	c, err := otter.New[string, *circuit.Breaker](&otter.Options[string, *circuit.Breaker]{
		MaximumSize:      50_000,
		ExpiryCalculator: otter.ExpiryWriting[string, *circuit.Breaker](ttl),
	})
	if err != nil {
		return nil, err
	}
	return &Map{cache: c, config: cfg}, nil
}

// Get returns the breaker for host, creating one in the Closed state on
// first use. Guarded by a mutex so two concurrent first-touches of the
// same host can't race to create two distinct breakers.
func (m *Map) Get(host string) *circuit.Breaker {
	if b, ok := m.cache.GetIfPresent(host); ok {
		return b
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.cache.GetIfPresent(host); ok {
		return b
	}
	b := circuit.New(m.config)
	m.cache.Set(host, b)
	return b
}

