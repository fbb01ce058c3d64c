package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxIdle       = 3 * time.Minute
	defaultSweepInterval = time.Minute
)

// Limiter enforces a per-client token bucket keyed by client IP. A janitor
// goroutine owned by the Limiter evicts idle clients so the map stays
// bounded; Close stops it.
type Limiter struct {
	mutex   sync.Mutex
	clients map[string]*client
	rps     rate.Limit
	burst   int
	maxIdle time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

type client struct {
	limiter *rate.Limiter
	seen    time.Time
}

func New(rps float64, burst int) *Limiter {
	return newLimiter(rps, burst, defaultMaxIdle, defaultSweepInterval)
}

func newLimiter(rps float64, burst int, maxIdle, sweepInterval time.Duration) *Limiter {
	l := &Limiter{
		clients: make(map[string]*client),
		rps:     rate.Limit(rps),
		burst:   burst,
		maxIdle: maxIdle,
		done:    make(chan struct{}),
	}
	go l.janitor(sweepInterval)
	return l
}

// Allow reports whether the client identified by ip may proceed, consuming
// one token when it may.
func (l *Limiter) Allow(ip string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.seen = time.Now()

	return c.limiter.Allow()
}

// Close stops the janitor. Allow keeps working afterwards; only eviction
// stops.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *Limiter) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

// cleanup drops buckets for clients not seen within maxIdle.
func (l *Limiter) cleanup() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	cutoff := time.Now().Add(-l.maxIdle)
	for ip, c := range l.clients {
		if c.seen.Before(cutoff) {
			delete(l.clients, ip)
		}
	}
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.clients)
}
