//go:build ignore

// Loadtest is a concurrent HTTP load testing tool that measures throughput,
// latency percentiles, and per-backend distribution through the proxy.
//
// Usage:
//
//	go run loadtest.go -url http://localhost:8080/ -concurrency 10 -requests 1000
//	go run loadtest.go -url http://localhost:8080/ -concurrency 50 -requests 5000 -out summary.json
//
// Backends are distinguished by the X-Server response header that the test
// backend (backend.go) sets.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// BackendStats tracks observations for one backend identity.
type BackendStats struct {
	Count     int64           `json:"count"`
	Success   int64           `json:"success"`
	Failure   int64           `json:"failure"`
	Latencies []time.Duration `json:"-"`
}

// Summary is the JSON report written with -out.
type Summary struct {
	TotalRequests int64                    `json:"total_requests"`
	Success       int64                    `json:"success"`
	Failure       int64                    `json:"failure"`
	Duration      string                   `json:"duration"`
	RequestsPerc  float64                  `json:"requests_per_sec"`
	P50           string                   `json:"p50"`
	P90           string                   `json:"p90"`
	P95           string                   `json:"p95"`
	P99           string                   `json:"p99"`
	StatusCodes   map[int]int64            `json:"status_codes"`
	Backends      map[string]*BackendStats `json:"backends"`
}

func main() {
	url := flag.String("url", "http://localhost:8080/", "target URL")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	requests := flag.Int("requests", 100, "total number of requests to send")
	timeoutSec := flag.Int("timeout", 10, "per-request timeout in seconds")
	outJSON := flag.String("out", "", "write JSON summary to this file (optional)")
	flag.Parse()

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}

	var (
		success     atomic.Int64
		failure     atomic.Int64
		mu          sync.Mutex
		latencies   []time.Duration
		statusCodes = make(map[int]int64)
		backends    = make(map[string]*BackendStats)
	)

	record := func(server string, code int, latency time.Duration, ok bool) {
		mu.Lock()
		defer mu.Unlock()

		latencies = append(latencies, latency)
		statusCodes[code]++

		if server == "" {
			server = "unknown"
		}
		bs := backends[server]
		if bs == nil {
			bs = &BackendStats{}
			backends[server] = bs
		}
		bs.Count++
		bs.Latencies = append(bs.Latencies, latency)
		if ok {
			bs.Success++
		} else {
			bs.Failure++
		}
	}

	jobs := make(chan struct{})
	var wg sync.WaitGroup

	start := time.Now()

	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				reqStart := time.Now()
				resp, err := client.Get(*url)
				latency := time.Since(reqStart)

				if err != nil {
					failure.Add(1)
					record("", 0, latency, false)
					continue
				}

				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				ok := resp.StatusCode < 400
				if ok {
					success.Add(1)
				} else {
					failure.Add(1)
				}
				record(resp.Header.Get("X-Server"), resp.StatusCode, latency, ok)
			}
		}()
	}

	for i := 0; i < *requests; i++ {
		jobs <- struct{}{}
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(start)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	summary := Summary{
		TotalRequests: int64(*requests),
		Success:       success.Load(),
		Failure:       failure.Load(),
		Duration:      elapsed.String(),
		RequestsPerc:  float64(*requests) / elapsed.Seconds(),
		P50:           percentile(latencies, 0.50).String(),
		P90:           percentile(latencies, 0.90).String(),
		P95:           percentile(latencies, 0.95).String(),
		P99:           percentile(latencies, 0.99).String(),
		StatusCodes:   statusCodes,
		Backends:      backends,
	}

	fmt.Printf("requests: %d  success: %d  failure: %d\n",
		summary.TotalRequests, summary.Success, summary.Failure)
	fmt.Printf("duration: %s  rps: %.1f\n", summary.Duration, summary.RequestsPerc)
	fmt.Printf("latency: p50=%s p90=%s p95=%s p99=%s\n",
		summary.P50, summary.P90, summary.P95, summary.P99)
	for server, bs := range backends {
		fmt.Printf("  %-16s count=%d success=%d failure=%d\n",
			server, bs.Count, bs.Success, bs.Failure)
	}

	if *outJSON != "" {
		b, err := json.MarshalIndent(summary, "", "  ")
		if err == nil {
			err = os.WriteFile(*outJSON, b, 0o644)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to write summary: %v\n", err)
			os.Exit(1)
		}
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
