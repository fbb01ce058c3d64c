// Package ratelimiter provides a per-client token bucket limiter used to
// shed excess traffic before it reaches a backend.
package ratelimiter
