package dispatch

import "context"

// highGate implements the priority gate between HIGH (discovery) and
// NORMAL (profile reduction) calls: a NORMAL caller blocks until no HIGH
// call is in flight, so discovery work always pre-empts profile work at
// the dispatcher. HIGH calls never wait on this gate.
type highGate struct {
	mu      chan struct{} // 1-buffered, acts as a mutex
	count   int
	drained chan struct{} // closed whenever count == 0
}

func newHighGate() *highGate {
	g := &highGate{
		mu:      make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
	close(g.drained) // count starts at 0: already drained
	return g
}

func (g *highGate) lock()   { g.mu <- struct{}{} }
func (g *highGate) unlock() { <-g.mu }

// enter blocks a NORMAL caller until HIGH-in-flight reaches zero, and
// registers a HIGH caller's presence. The returned func must be called
// exactly once when the caller's work is done.
func (g *highGate) enter(ctx context.Context, priority Priority) func() {
	if priority == PriorityHigh {
		g.lock()
		g.count++
		if g.count == 1 {
			g.drained = make(chan struct{})
		}
		g.unlock()
		return func() {
			g.lock()
			g.count--
			if g.count == 0 {
				close(g.drained)
			}
			g.unlock()
		}
	}

	for {
		g.lock()
		ch := g.drained
		count := g.count
		g.unlock()
		if count == 0 {
			return func() {}
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return func() {}
		}
	}
}
