package strategy

import (
	"github.com/apexproxy/apex/internal/backend"
)

type roundRobin struct{}

// Select advances the pool's shared cursor; concurrent callers spread out
// across the backends even when they race.
func (roundRobin) Select(pool *backend.Pool, accept backend.Filter) *backend.Backend {
	return pool.NextHealthy(accept)
}

func NewRoundRobin() Strategy {
	return roundRobin{}
}
