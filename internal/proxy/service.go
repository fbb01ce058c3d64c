package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/apexproxy/apex/config"
	"github.com/apexproxy/apex/internal/backend"
	"github.com/apexproxy/apex/internal/circuitbreaker"
	"github.com/apexproxy/apex/internal/metrics"
	"github.com/apexproxy/apex/internal/ratelimiter"
	"github.com/apexproxy/apex/internal/strategy"
	"github.com/apexproxy/apex/internal/upstream"
)

const (
	breakerThreshold = 5
	breakerTimeout   = 10 * time.Second
)

// Hop-by-hop headers are meaningful only for a single transport link and
// must not be forwarded upstream.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// state is the swappable part of the service: everything derived from one
// configuration snapshot. ServeHTTP loads it once and uses that snapshot for
// the whole request.
type state struct {
	forwarders map[string]upstream.Forwarder
	protocol   string
	maxConns   int
	timeout    time.Duration
	accessLog  bool
	limiter    *ratelimiter.Limiter
	rps        float64
	burst      int
}

// Service is the proxy's http.Handler. It matches routes, selects backends,
// and forwards requests through protocol-specific upstream connections.
type Service struct {
	logger    *slog.Logger
	collector *metrics.Collector
	breakers  *circuitbreaker.Registry
	router    *Router
	state     atomic.Pointer[state]
}

func NewService(logger *slog.Logger, collector *metrics.Collector) *Service {
	return &Service{
		logger:    logger,
		collector: collector,
		breakers:  circuitbreaker.NewRegistry(breakerThreshold, breakerTimeout),
		router:    NewRouter(),
	}
}

// Apply derives a new route table and forwarder set from cfg and swaps them
// in. Forwarders for authorities that survive the reload are reused; the
// rest are closed after the swap. In-flight requests keep the snapshot they
// loaded at entry.
func (s *Service) Apply(cfg *config.Config) error {
	old := s.state.Load()

	routes := make([]*Route, 0, len(cfg.Routes))
	forwarders := make(map[string]upstream.Forwarder)

	// Forwarders survive a reload only when the settings they were built
	// with are unchanged; a new protocol or pool size forces a rebuild.
	canReuse := old != nil &&
		old.protocol == cfg.Server.BackendProtocol &&
		old.maxConns == cfg.Server.MaxConnectionsPerBackend

	for _, rc := range cfg.Routes {
		backends := make([]*backend.Backend, 0, len(rc.Backends))
		for _, bc := range rc.Backends {
			u, err := url.Parse(bc.URL)
			if err != nil {
				return err
			}

			b := backend.New(u, bc.Weight)
			if bc.HealthCheck != "" {
				b.SetHealthCheckPath(bc.HealthCheck)
			}
			backends = append(backends, b)

			authority := b.Authority()
			if _, ok := forwarders[authority]; ok {
				continue
			}
			if canReuse {
				if fw, ok := old.forwarders[authority]; ok {
					forwarders[authority] = fw
					continue
				}
			}
			forwarders[authority] = s.newForwarder(cfg, authority)
		}

		routes = append(routes, NewRoute(
			rc.Name,
			rc.Host,
			rc.PathPrefix,
			rc.StripPrefix,
			backend.NewPool(backends),
			strategy.ForName(rc.LoadBalancing, s.logger),
		))
	}

	next := &state{
		forwarders: forwarders,
		protocol:   cfg.Server.BackendProtocol,
		maxConns:   cfg.Server.MaxConnectionsPerBackend,
		timeout:    time.Duration(cfg.Server.TimeoutSecs) * time.Second,
		accessLog:  cfg.Server.AccessLog,
	}
	if cfg.RateLimit.Enabled {
		next.rps = cfg.RateLimit.RPS
		next.burst = cfg.RateLimit.Burst
		if old != nil && old.limiter != nil && old.rps == next.rps && old.burst == next.burst {
			next.limiter = old.limiter
		} else {
			next.limiter = ratelimiter.New(next.rps, next.burst)
		}
	}

	s.state.Store(next)
	s.router.Update(routes)

	if old != nil {
		for authority, fw := range old.forwarders {
			if forwarders[authority] != fw {
				fw.Close()
			}
		}
		if old.limiter != nil && old.limiter != next.limiter {
			old.limiter.Close()
		}
	}

	return nil
}

func (s *Service) newForwarder(cfg *config.Config, authority string) upstream.Forwarder {
	if cfg.Server.BackendProtocol == config.ProtocolHTTP2 {
		return upstream.NewMuxConn(authority)
	}
	return upstream.NewPool(authority, cfg.Server.MaxConnectionsPerBackend, 0)
}

// Backends returns every backend in the active route table. The health
// prober calls this each cycle so reloads are picked up automatically.
func (s *Service) Backends() []*backend.Backend {
	var all []*backend.Backend
	for _, route := range s.router.Routes() {
		all = append(all, route.Pool().Snapshot()...)
	}
	return all
}

// Close shuts down every forwarder and the rate limiter's janitor.
func (s *Service) Close() {
	st := s.state.Load()
	if st == nil {
		return
	}
	for _, fw := range st.forwarders {
		fw.Close()
	}
	if st.limiter != nil {
		st.limiter.Close()
	}
}

func (s *Service) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	st := s.state.Load()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "no configuration loaded")
		return
	}

	start := time.Now()

	if st.limiter != nil && !st.limiter.Allow(clientIP(req)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	route, err := s.router.Find(req.Host, req.URL.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrRouteNotFound.Error())
		return
	}

	b := s.selectBackend(route)
	if b == nil {
		writeError(w, http.StatusServiceUnavailable, ErrNoBackendAvailable.Error())
		return
	}

	fw := st.forwarders[b.Authority()]
	if fw == nil {
		writeError(w, http.StatusBadGateway, "upstream error")
		return
	}

	b.IncConnections()
	b.IncRequests()
	defer b.DecConnections()

	s.emit(metrics.Event{
		Type:      metrics.EventRequestReceived,
		Timestamp: start,
		Backend:   b.Authority(),
	})
	s.emit(metrics.Event{
		Type:      metrics.EventBackendSelected,
		Timestamp: start,
		Backend:   b.Authority(),
	})

	ctx, cancel := context.WithTimeout(req.Context(), st.timeout)
	defer cancel()

	breaker := s.breakers.Get(b.Authority())

	resp, err := fw.Forward(ctx, s.buildOutbound(ctx, req, route, b))

	var status int
	if err != nil {
		breaker.RecordFailure()
		status = s.writeForwardError(w, err)
	} else {
		breaker.RecordSuccess()
		status = resp.StatusCode
		relay(w, resp)
	}

	duration := time.Since(start)

	s.emit(metrics.Event{
		Type:       metrics.EventResponseCompleted,
		Timestamp:  time.Now(),
		Backend:    b.Authority(),
		Duration:   duration,
		StatusCode: status,
	})

	if st.accessLog {
		s.logger.Info("Request completed",
			slog.String("method", req.Method),
			slog.String("host", req.Host),
			slog.String("path", req.URL.Path),
			slog.String("route", route.Name()),
			slog.String("backend", b.Authority()),
			slog.Int("status", status),
			slog.Duration("duration", duration))
	}
}

// selectBackend applies the route's strategy with open-breaker backends
// excluded from eligibility, so one tripped backend never shadows a healthy
// one. This is not a cross-backend retry: a forward that fails becomes an
// error response.
func (s *Service) selectBackend(route *Route) *backend.Backend {
	return route.Select(func(b *backend.Backend) bool {
		return s.breakers.Get(b.Authority()).Allow()
	})
}

func (s *Service) buildOutbound(
	ctx context.Context,
	req *http.Request,
	route *Route,
	b *backend.Backend,
) *http.Request {
	out := req.Clone(ctx)
	out.RequestURI = ""
	out.URL.Scheme = "http"
	out.URL.Host = b.Authority()
	out.URL.Path = route.OutboundPath(req.URL.Path)
	out.URL.RawPath = ""

	removeHopByHop(out.Header)

	if ip := clientIP(req); ip != "" {
		forwarded := ip
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			forwarded = prior + ", " + ip
		}
		out.Header.Set("X-Forwarded-For", forwarded)
	}

	return out
}

func (s *Service) writeForwardError(w http.ResponseWriter, err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "upstream timeout")
		return http.StatusGatewayTimeout

	case errors.Is(err, upstream.ErrConnectionFailed),
		errors.Is(err, upstream.ErrChannelClosed):
		writeError(w, http.StatusBadGateway, "upstream connection error")
		return http.StatusBadGateway

	default:
		writeError(w, http.StatusBadGateway, "upstream error")
		return http.StatusBadGateway
	}
}

func (s *Service) emit(event metrics.Event) {
	if s.collector != nil {
		s.collector.Emit(event)
	}
}

func relay(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	header := w.Header()
	for key, values := range resp.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	removeHopByHop(header)

	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func removeHopByHop(header http.Header) {
	for _, token := range header.Values("Connection") {
		for _, name := range strings.Split(token, ",") {
			header.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopByHopHeaders {
		header.Del(name)
	}
}

func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
