package strategy

import (
	"github.com/apexproxy/apex/internal/backend"
)

type leastConnections struct{}

func (leastConnections) Select(pool *backend.Pool, accept backend.Filter) *backend.Backend {
	return pool.LeastConnections(accept)
}

func NewLeastConnections() Strategy {
	return leastConnections{}
}
