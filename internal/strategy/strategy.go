package strategy

import (
	"log/slog"

	"github.com/apexproxy/apex/config"
	"github.com/apexproxy/apex/internal/backend"
)

// Strategy selects a backend from a pool. The accept filter narrows
// eligibility beyond the health flag (nil accepts all). Implementations
// return nil when no eligible backend exists; they never block.
type Strategy interface {
	Select(pool *backend.Pool, accept backend.Filter) *backend.Backend
}

// ForName maps a configured load_balancing value to a Strategy. Unknown
// values fall back to round-robin with a warning.
func ForName(name string, logger *slog.Logger) Strategy {
	switch name {
	case config.StrategyRoundRobin:
		return NewRoundRobin()
	case config.StrategyLeastConnections:
		return NewLeastConnections()
	case config.StrategyRandom:
		return NewRandom()
	default:
		logger.Warn("Unknown strategy, defaulting to round_robin", slog.String("requested", name))
		return NewRoundRobin()
	}
}
