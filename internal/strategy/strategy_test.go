package strategy_test

import (
	"io"
	"log/slog"
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/apexproxy/apex/config"
	"github.com/apexproxy/apex/internal/backend"
	"github.com/apexproxy/apex/internal/strategy"
)

func makePool(rawURLs ...string) *backend.Pool {
	backends := make([]*backend.Backend, 0, len(rawURLs))
	for _, raw := range rawURLs {
		u, err := url.Parse(raw)
		Expect(err).NotTo(HaveOccurred())
		backends = append(backends, backend.New(u, 1))
	}
	return backend.NewPool(backends)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var _ = Describe("ForName", func() {
	DescribeTable("maps configured names to strategies",
		func(name string) {
			Expect(strategy.ForName(name, discard)).NotTo(BeNil())
		},
		Entry("round robin", config.StrategyRoundRobin),
		Entry("least connections", config.StrategyLeastConnections),
		Entry("random", config.StrategyRandom),
	)

	It("should fall back to round-robin for unknown names", func() {
		strat := strategy.ForName("fastest", discard)

		pool := makePool("http://127.0.0.1:8001", "http://127.0.0.1:8002")
		Expect(strat.Select(pool, nil).URL().Port()).To(Equal("8001"))
		Expect(strat.Select(pool, nil).URL().Port()).To(Equal("8002"))
	})
})

var _ = Describe("RoundRobin", func() {
	It("should cycle in order", func() {
		strat := strategy.NewRoundRobin()
		pool := makePool("http://127.0.0.1:8001", "http://127.0.0.1:8002", "http://127.0.0.1:8003")

		Expect(strat.Select(pool, nil).URL().Port()).To(Equal("8001"))
		Expect(strat.Select(pool, nil).URL().Port()).To(Equal("8002"))
		Expect(strat.Select(pool, nil).URL().Port()).To(Equal("8003"))
		Expect(strat.Select(pool, nil).URL().Port()).To(Equal("8001"))
	})

	It("should return nil for an empty pool", func() {
		Expect(strategy.NewRoundRobin().Select(makePool(), nil)).To(BeNil())
	})
})

var _ = Describe("LeastConnections", func() {
	It("should pick the least loaded backend", func() {
		strat := strategy.NewLeastConnections()
		pool := makePool("http://127.0.0.1:8001", "http://127.0.0.1:8002")

		pool.Snapshot()[0].IncConnections()
		Expect(strat.Select(pool, nil).URL().Port()).To(Equal("8002"))
	})
})

var _ = Describe("Random", func() {
	It("should select some healthy backend", func() {
		strat := strategy.NewRandom()
		pool := makePool("http://127.0.0.1:8001", "http://127.0.0.1:8002")

		seen := map[string]bool{}
		for i := 0; i < 100; i++ {
			b := strat.Select(pool, nil)
			Expect(b).NotTo(BeNil())
			seen[b.URL().Port()] = true
		}
		Expect(seen).To(HaveKey("8001"))
		Expect(seen).To(HaveKey("8002"))
	})
})
