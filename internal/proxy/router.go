package proxy

import (
	"net"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/apexproxy/apex/internal/backend"
	"github.com/apexproxy/apex/internal/strategy"
)

// Route binds a host pattern and path prefix to a backend pool and a load
// balancing strategy. Routes are immutable after construction.
type Route struct {
	name        string
	host        string
	pathPrefix  string
	stripPrefix bool
	pool        *backend.Pool
	strategy    strategy.Strategy
}

func NewRoute(
	name, host, pathPrefix string,
	stripPrefix bool,
	pool *backend.Pool,
	strat strategy.Strategy,
) *Route {
	return &Route{
		name:        name,
		host:        host,
		pathPrefix:  pathPrefix,
		stripPrefix: stripPrefix,
		pool:        pool,
		strategy:    strat,
	}
}

func (r *Route) Name() string        { return r.name }
func (r *Route) Pool() *backend.Pool { return r.pool }

// Select picks an eligible backend for this route, or nil when none is
// available. The accept filter narrows eligibility beyond health (nil
// accepts all).
func (r *Route) Select(accept backend.Filter) *backend.Backend {
	return r.strategy.Select(r.pool, accept)
}

// OutboundPath rewrites the request path when the route strips its prefix.
// A fully stripped path becomes "/".
func (r *Route) OutboundPath(path string) string {
	if !r.stripPrefix {
		return path
	}

	stripped := strings.TrimPrefix(path, r.pathPrefix)
	if stripped == "" || stripped[0] != '/' {
		stripped = "/" + stripped
	}
	return stripped
}

func (r *Route) matchesHost(host string) bool {
	if r.host == "*" {
		return true
	}

	// Clients send host:port; patterns are bare hostnames.
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.EqualFold(r.host, host)
}

func (r *Route) matchesPath(path string) bool {
	if !strings.HasPrefix(path, r.pathPrefix) {
		return false
	}

	// "/api" must not match "/apiary".
	if len(path) > len(r.pathPrefix) &&
		!strings.HasSuffix(r.pathPrefix, "/") &&
		path[len(r.pathPrefix)] != '/' {
		return false
	}
	return true
}

// Router holds the active route table behind an atomic pointer. Lookups are
// wait-free; Update swaps the whole table.
type Router struct {
	routes atomic.Pointer[[]*Route]
}

func NewRouter() *Router {
	r := &Router{}
	empty := []*Route{}
	r.routes.Store(&empty)
	return r
}

// Update replaces the route table. Routes are ordered by specificity: exact
// hosts before the "*" wildcard, longer path prefixes first, configuration
// order as the tiebreak.
func (r *Router) Update(routes []*Route) {
	sorted := make([]*Route, len(routes))
	copy(sorted, routes)

	sort.SliceStable(sorted, func(i, j int) bool {
		if (sorted[i].host == "*") != (sorted[j].host == "*") {
			return sorted[i].host != "*"
		}
		return len(sorted[i].pathPrefix) > len(sorted[j].pathPrefix)
	})

	r.routes.Store(&sorted)
}

// Find returns the first route matching the request's host and path, or
// ErrRouteNotFound.
func (r *Router) Find(host, path string) (*Route, error) {
	for _, route := range *r.routes.Load() {
		if route.matchesHost(host) && route.matchesPath(path) {
			return route, nil
		}
	}
	return nil, ErrRouteNotFound
}

// Routes returns the active table in match order.
func (r *Router) Routes() []*Route {
	return *r.routes.Load()
}
