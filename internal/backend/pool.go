package backend

import (
	"math/rand/v2"
	"sync/atomic"
)

// Pool is an ordered list of backends that can be replaced wholesale during
// a config reload. Selection never takes a lock: the list is published
// through an atomic pointer and the round-robin cursor is a shared atomic
// counter, so concurrent callers fan out across backends even under
// contention.
type Pool struct {
	backends atomic.Pointer[[]*Backend]
	cursor   atomic.Uint64
}

// NewPool creates a pool over the given backends.
func NewPool(backends []*Backend) *Pool {
	p := &Pool{}
	p.backends.Store(&backends)
	return p
}

// Filter narrows selection beyond the health flag; a backend is eligible
// only when the filter accepts it. A nil Filter accepts every backend.
type Filter func(*Backend) bool

func eligible(b *Backend, accept Filter) bool {
	return b.IsHealthy() && (accept == nil || accept(b))
}

// NextHealthy returns the next eligible backend in round-robin order, or
// nil when the pool is empty or nothing is eligible. At most len(pool)
// candidates are tried, so a fully ineligible pool returns nil instead of
// spinning.
func (p *Pool) NextHealthy(accept Filter) *Backend {
	backends := *p.backends.Load()
	n := len(backends)
	if n == 0 {
		return nil
	}

	for i := 0; i < n; i++ {
		idx := int((p.cursor.Add(1) - 1) % uint64(n))
		if b := backends[idx]; eligible(b, accept) {
			return b
		}
	}

	return nil
}

// LeastConnections returns the eligible backend with the fewest in-flight
// requests, ties broken by list order. Returns nil when none are eligible.
func (p *Pool) LeastConnections(accept Filter) *Backend {
	backends := *p.backends.Load()

	var best *Backend
	var bestConns int64
	for _, b := range backends {
		if !eligible(b, accept) {
			continue
		}
		conns := b.ActiveConnections()
		if best == nil || conns < bestConns {
			best = b
			bestConns = conns
		}
	}

	return best
}

// Random returns a uniformly random eligible backend, or nil when none are
// eligible.
func (p *Pool) Random(accept Filter) *Backend {
	backends := *p.backends.Load()

	candidates := make([]*Backend, 0, len(backends))
	for _, b := range backends {
		if eligible(b, accept) {
			candidates = append(candidates, b)
		}
	}

	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.IntN(len(candidates))]
}

// Update replaces the backend list atomically. Callers holding references
// to old backends keep operating on them safely; the records themselves are
// never mutated out from under a holder.
func (p *Pool) Update(backends []*Backend) {
	p.backends.Store(&backends)
}

// Snapshot returns the current backend list. The returned slice is the live
// immutable snapshot; callers must not modify it.
func (p *Pool) Snapshot() []*Backend {
	return *p.backends.Load()
}

// Len returns the current backend count.
func (p *Pool) Len() int {
	return len(*p.backends.Load())
}
