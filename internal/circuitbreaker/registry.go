package circuitbreaker

import (
	"sync"
	"time"
)

// Registry hands out one Breaker per backend authority. Breakers survive
// config reloads so a flapping backend does not get a clean slate just
// because a route changed.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*Breaker
	threshold int
	timeout   time.Duration
}

func NewRegistry(threshold int, timeout time.Duration) *Registry {
	return &Registry{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		timeout:   timeout,
	}
}

// Get returns the breaker for a backend authority, creating it on first use.
func (r *Registry) Get(authority string) *Breaker {
	r.mutex.RLock()
	b, exists := r.breakers[authority]
	r.mutex.RUnlock()

	if exists {
		return b
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Another goroutine may have created it in the window.
	if b, exists = r.breakers[authority]; exists {
		return b
	}

	b = New(r.threshold, r.timeout)
	r.breakers[authority] = b
	return b
}

// Reset drops every breaker.
func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers = make(map[string]*Breaker)
}

// Stats returns the current state per backend authority.
func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for authority, b := range r.breakers {
		stats[authority] = b.State()
	}
	return stats
}
