package backend

import (
	"net/url"
	"sync/atomic"
)

// DefaultHealthCheckPath is probed when a backend has no health_check path
// configured.
const DefaultHealthCheckPath = "/health"

// Backend represents a single upstream server. All mutable state is atomic;
// a *Backend is shared freely across goroutines and is never mutated in
// place beyond its counters and health flag.
type Backend struct {
	url       *url.URL
	authority string
	weight    int

	healthCheckPath string

	healthy           atomic.Bool
	activeConnections atomic.Int64
	totalRequests     atomic.Uint64
}

// New creates a Backend for the given URL. The authority (host:port) is
// precomputed once so the hot path never formats strings. Backends start
// healthy.
func New(u *url.URL, weight int) *Backend {
	authority := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			authority = u.Host + ":443"
		default:
			authority = u.Host + ":80"
		}
	}

	b := &Backend{
		url:             u,
		authority:       authority,
		weight:          weight,
		healthCheckPath: DefaultHealthCheckPath,
	}
	b.healthy.Store(true)
	return b
}

// URL returns the configured backend URL.
func (b *Backend) URL() *url.URL {
	return b.url
}

// Authority returns the precomputed host:port used to dial the backend.
func (b *Backend) Authority() string {
	return b.authority
}

// Weight returns the configured selection weight.
func (b *Backend) Weight() int {
	return b.weight
}

// HealthCheckPath returns the probe path, DefaultHealthCheckPath unless
// configured otherwise.
func (b *Backend) HealthCheckPath() string {
	return b.healthCheckPath
}

// SetHealthCheckPath configures the probe path. Called at construction time
// only; not safe for concurrent use afterwards.
func (b *Backend) SetHealthCheckPath(path string) {
	b.healthCheckPath = path
}

// IsHealthy reports whether the backend is currently eligible for selection.
func (b *Backend) IsHealthy() bool {
	return b.healthy.Load()
}

// SetHealthy updates the health flag. Returns true if the status changed.
// The flag is owned by an external health checker; the proxy core only
// consumes it.
func (b *Backend) SetHealthy(healthy bool) (changed bool) {
	return b.healthy.Swap(healthy) != healthy
}

// IncConnections records the start of a forwarded request.
func (b *Backend) IncConnections() {
	b.activeConnections.Add(1)
}

// DecConnections records the end of a forwarded request. Paired with
// IncConnections on every path, including errors and timeouts.
func (b *Backend) DecConnections() {
	b.activeConnections.Add(-1)
}

// ActiveConnections returns the in-flight request count.
func (b *Backend) ActiveConnections() int64 {
	return b.activeConnections.Load()
}

// IncRequests increments the total request counter.
func (b *Backend) IncRequests() {
	b.totalRequests.Add(1)
}

// TotalRequests returns the total number of requests forwarded.
func (b *Backend) TotalRequests() uint64 {
	return b.totalRequests.Load()
}
