package healthcheck

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/apexproxy/apex/internal/backend"
	"github.com/apexproxy/apex/internal/metrics"
)

// BackendsFunc returns the backends to probe. It is called on every tick so
// a configuration reload is picked up on the next probe cycle.
type BackendsFunc func() []*backend.Backend

// Prober periodically probes each backend's health endpoint and updates its
// health status based on the response.
type Prober struct {
	backends  BackendsFunc
	interval  time.Duration
	client    *http.Client
	collector *metrics.Collector
	logger    *slog.Logger
}

func NewProber(
	backends BackendsFunc,
	interval time.Duration,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Prober {
	return &Prober{
		backends: backends,
		interval: interval,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		collector: collector,
		logger:    logger,
	}
}

// Run probes until ctx is cancelled. The first probe cycle happens
// immediately so backends are not stuck unhealthy for a full interval
// after startup.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.probeAll(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Health prober stopped")
			return

		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

func (p *Prober) probeAll(ctx context.Context) {
	backends := p.backends()

	var wg sync.WaitGroup
	for _, b := range backends {
		wg.Add(1)
		go func(b *backend.Backend) {
			defer wg.Done()
			p.probe(ctx, b)
		}(b)
	}
	wg.Wait()
}

func (p *Prober) probe(ctx context.Context, b *backend.Backend) {
	healthURL := b.URL().ResolveReference(&url.URL{Path: b.HealthCheckPath()})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return
	}

	res, err := p.client.Do(req)
	if err != nil {
		p.record(b, false)
		return
	}
	defer res.Body.Close()

	p.record(b, res.StatusCode == http.StatusOK)
}

func (p *Prober) record(b *backend.Backend, healthy bool) {
	changed := b.SetHealthy(healthy)
	if !changed {
		return
	}

	if p.collector != nil {
		p.collector.Emit(metrics.Event{
			Type:      metrics.EventHealthChanged,
			Timestamp: time.Now(),
			Backend:   b.Authority(),
			Healthy:   healthy,
		})
	}

	if healthy {
		p.logger.Info("Server is back up",
			slog.String("server", b.URL().String()))
	} else {
		p.logger.Warn("Server is down",
			slog.String("server", b.URL().String()))
	}
}
