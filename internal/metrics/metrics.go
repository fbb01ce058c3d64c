package metrics

import (
	"sort"
	"sync"
	"time"
)

// Metrics aggregates per-backend observations, keyed by backend authority
// (host:port).
type Metrics struct {
	mutex         sync.RWMutex
	requests      map[string]int64
	selections    map[string]int64
	responseTimes map[string][]time.Duration
	statusCodes   map[string]map[int]int64
	healthStatus  map[string]bool
	startTime     time.Time
}

type Snapshot struct {
	TotalRequests int64                     `json:"total_requests"`
	Uptime        time.Duration             `json:"uptime"`
	Backends      map[string]BackendMetrics `json:"backends"`
}

type BackendMetrics struct {
	Requests    int64         `json:"requests"`
	Selections  int64         `json:"selections"`
	Healthy     bool          `json:"healthy"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
	StatusCodes map[int]int64 `json:"status_codes"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:      make(map[string]int64),
		selections:    make(map[string]int64),
		responseTimes: make(map[string][]time.Duration),
		statusCodes:   make(map[string]map[int]int64),
		healthStatus:  make(map[string]bool),
		startTime:     time.Now(),
	}
}

func (m *Metrics) IncrementRequests(authority string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests[authority]++
}

func (m *Metrics) RecordBackendSelection(authority string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.selections[authority]++
}

func (m *Metrics) RecordResponse(authority string, duration time.Duration, statusCode int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.responseTimes[authority] = append(m.responseTimes[authority], duration)

	// Keep a bounded window per backend.
	if len(m.responseTimes[authority]) > 1000 {
		m.responseTimes[authority] = m.responseTimes[authority][1:]
	}

	if m.statusCodes[authority] == nil {
		m.statusCodes[authority] = make(map[int]int64)
	}
	m.statusCodes[authority][statusCode]++
}

func (m *Metrics) UpdateHealthStatus(authority string, healthy bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.healthStatus[authority] = healthy
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		Uptime:   time.Since(m.startTime),
		Backends: make(map[string]BackendMetrics),
	}

	all := make(map[string]bool)
	for authority := range m.requests {
		all[authority] = true
	}
	for authority := range m.selections {
		all[authority] = true
	}
	for authority := range m.responseTimes {
		all[authority] = true
	}
	for authority := range m.healthStatus {
		all[authority] = true
	}

	for authority := range all {
		snap.TotalRequests += m.requests[authority]

		bm := BackendMetrics{
			Requests:    m.requests[authority],
			Selections:  m.selections[authority],
			Healthy:     m.healthStatus[authority],
			StatusCodes: m.statusCodes[authority],
		}

		durations := m.responseTimes[authority]
		if len(durations) > 0 {
			sorted := make([]time.Duration, len(durations))
			copy(sorted, durations)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			bm.AvgResponse = average(sorted)
			bm.P50Response = percentile(sorted, 0.50)
			bm.P95Response = percentile(sorted, 0.95)
			bm.P99Response = percentile(sorted, 0.99)
		}

		snap.Backends[authority] = bm
	}

	return snap
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	return sum / time.Duration(len(durations))
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
