package circuitbreaker_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/apexproxy/apex/internal/circuitbreaker"
)

var _ = Describe("Registry", func() {
	var registry *circuitbreaker.Registry

	BeforeEach(func() {
		registry = circuitbreaker.NewRegistry(5, 30*time.Second)
	})

	Describe("Get", func() {
		It("should create a breaker for an unknown authority", func() {
			b := registry.Get("127.0.0.1:8081")
			Expect(b).NotTo(BeNil())
			Expect(b.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should return the same breaker for the same authority", func() {
			b1 := registry.Get("127.0.0.1:8081")
			b2 := registry.Get("127.0.0.1:8081")
			Expect(b1).To(BeIdenticalTo(b2))
		})

		It("should return different breakers for different authorities", func() {
			b1 := registry.Get("127.0.0.1:8081")
			b2 := registry.Get("127.0.0.1:8082")
			Expect(b1).NotTo(BeIdenticalTo(b2))
		})

		It("should apply the registry threshold to new breakers", func() {
			registry = circuitbreaker.NewRegistry(2, 100*time.Millisecond)
			b := registry.Get("127.0.0.1:8081")

			b.RecordFailure()
			b.RecordFailure()
			Expect(b.State()).To(Equal(circuitbreaker.StateOpen))
		})

		It("should hand out one instance under concurrent access", func() {
			var wg sync.WaitGroup
			breakers := make([]*circuitbreaker.Breaker, 50)

			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					breakers[i] = registry.Get("127.0.0.1:9000")
				}(i)
			}
			wg.Wait()

			for i := 1; i < 50; i++ {
				Expect(breakers[i]).To(BeIdenticalTo(breakers[0]))
			}
		})
	})

	Describe("Stats", func() {
		It("should report per-authority state", func() {
			registry = circuitbreaker.NewRegistry(1, time.Second)
			registry.Get("127.0.0.1:8081")
			registry.Get("127.0.0.1:8082").RecordFailure()

			stats := registry.Stats()
			Expect(stats).To(HaveLen(2))
			Expect(stats["127.0.0.1:8081"]).To(Equal(circuitbreaker.StateClosed))
			Expect(stats["127.0.0.1:8082"]).To(Equal(circuitbreaker.StateOpen))
		})
	})

	Describe("Reset", func() {
		It("should drop breaker state", func() {
			registry = circuitbreaker.NewRegistry(1, time.Second)
			registry.Get("127.0.0.1:8081").RecordFailure()

			registry.Reset()

			Expect(registry.Stats()).To(BeEmpty())
			Expect(registry.Get("127.0.0.1:8081").State()).To(Equal(circuitbreaker.StateClosed))
		})
	})
})
