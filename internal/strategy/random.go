package strategy

import (
	"github.com/apexproxy/apex/internal/backend"
)

type random struct{}

func (random) Select(pool *backend.Pool, accept backend.Filter) *backend.Backend {
	return pool.Random(accept)
}

func NewRandom() Strategy {
	return random{}
}
