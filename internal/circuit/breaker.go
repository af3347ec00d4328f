// Package circuit implements a per-domain circuit breaker for the
// scraper. Unlike a classic three-state breaker, this one only ever
// transitions Open -> Closed on a cooldown timer: a lone success while
// Open never reopens the gate early, since one subpage succeeding under
// heavy proxy rotation says very little about the domain as a whole.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State is the breaker's current state.
type State int

const (
	Closed State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "OPEN"
	}
	return "CLOSED"
}

// Config configures failure threshold and cooldown.
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
}

// DefaultConfig matches the scraper's documented defaults: five
// consecutive failures opens the circuit, a two minute cooldown before
// traffic is allowed again.
var DefaultConfig = Config{
	FailureThreshold: 5,
	Cooldown:         2 * time.Minute,
}

// Error is returned by callers that check Allow() themselves and want a
// typed value to wrap into their own error chain.
type Error struct {
	Domain string
	State  State
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker for %s is %s", e.Domain, e.State)
}

// Breaker is a single domain's circuit breaker.
type Breaker struct {
	mu              sync.Mutex
	config          Config
	state           State
	consecutiveFail int
	openedAt        time.Time
}

// New creates a breaker in the Closed state.
func New(config Config) *Breaker {
	return &Breaker{config: config, state: Closed}
}

// Allow reports whether a request should proceed. Closed always allows;
// Open allows only once the cooldown has elapsed, at which point it
// closes the circuit optimistically with its failure count reset to
// zero, so it reopens only after FailureThreshold further consecutive
// failures.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Closed {
		return true
	}
	if time.Since(b.openedAt) >= b.config.Cooldown {
		b.state = Closed
		b.consecutiveFail = 0
		return true
	}
	return false
}

// Record reports the outcome of a request that Allow permitted.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.consecutiveFail = 0
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.config.FailureThreshold {
		b.state = Open
		b.openedAt = time.Now()
	}
}

// CurrentState returns the breaker's state, for metrics/logging.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
