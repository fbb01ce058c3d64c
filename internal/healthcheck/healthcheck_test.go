package healthcheck_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/apexproxy/apex/internal/backend"
	"github.com/apexproxy/apex/internal/healthcheck"
	"github.com/apexproxy/apex/internal/metrics"
)

var _ = Describe("Prober", func() {
	var (
		log       *slog.Logger
		collector *metrics.Collector
	)

	BeforeEach(func() {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
		collector = metrics.NewCollector(128, log)
	})

	It("should mark a healthy backend as healthy", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		b := backend.New(mustParseURL(server.URL), 1)
		b.SetHealthy(false)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		prober := healthcheck.NewProber(func() []*backend.Backend {
			return []*backend.Backend{b}
		}, 50*time.Millisecond, collector, log)
		go prober.Run(ctx)

		Eventually(b.IsHealthy).Should(BeTrue())
	})

	It("should mark an unreachable backend as unhealthy", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		u := mustParseURL(server.URL)
		server.Close()

		b := backend.New(u, 1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		prober := healthcheck.NewProber(func() []*backend.Backend {
			return []*backend.Backend{b}
		}, 50*time.Millisecond, collector, log)
		go prober.Run(ctx)

		Eventually(b.IsHealthy).Should(BeFalse())
	})

	It("should probe /health when no path is configured", func() {
		var (
			mu      sync.Mutex
			gotPath string
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			gotPath = r.URL.Path
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		b := backend.New(mustParseURL(server.URL), 1)
		b.SetHealthy(false)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		prober := healthcheck.NewProber(func() []*backend.Backend {
			return []*backend.Backend{b}
		}, 50*time.Millisecond, collector, log)
		go prober.Run(ctx)

		Eventually(b.IsHealthy).Should(BeTrue())

		mu.Lock()
		defer mu.Unlock()
		Expect(gotPath).To(Equal("/health"))
	})

	It("should probe a custom health check path", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/status/ready" {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		b := backend.New(mustParseURL(server.URL), 1)
		b.SetHealthCheckPath("/status/ready")
		b.SetHealthy(false)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		prober := healthcheck.NewProber(func() []*backend.Backend {
			return []*backend.Backend{b}
		}, 50*time.Millisecond, collector, log)
		go prober.Run(ctx)

		Eventually(b.IsHealthy).Should(BeTrue())
	})

	It("should emit a health event when status changes", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		b := backend.New(mustParseURL(server.URL), 1)
		b.SetHealthy(false)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		collector.Start(ctx)

		prober := healthcheck.NewProber(func() []*backend.Backend {
			return []*backend.Backend{b}
		}, 50*time.Millisecond, collector, log)
		go prober.Run(ctx)

		Eventually(func() bool {
			bm, ok := collector.Snapshot().Backends[b.Authority()]
			return ok && bm.Healthy
		}).Should(BeTrue())
	})

	It("should pick up new backends on subsequent ticks", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		var current atomic.Pointer[[]*backend.Backend]
		empty := []*backend.Backend{}
		current.Store(&empty)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		prober := healthcheck.NewProber(func() []*backend.Backend {
			return *current.Load()
		}, 50*time.Millisecond, collector, log)
		go prober.Run(ctx)

		b := backend.New(mustParseURL(server.URL), 1)
		b.SetHealthy(false)
		added := []*backend.Backend{b}
		current.Store(&added)

		Eventually(b.IsHealthy).Should(BeTrue())
	})

	It("should stop when context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())

		prober := healthcheck.NewProber(func() []*backend.Backend {
			return nil
		}, 50*time.Millisecond, collector, log)

		done := make(chan struct{})
		go func() {
			prober.Run(ctx)
			close(done)
		}()

		cancel()
		Eventually(done).Should(BeClosed())
	})
})

func mustParseURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic(err)
	}
	return u
}
