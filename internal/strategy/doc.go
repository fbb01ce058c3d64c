// Package strategy implements the per-route load balancing strategies:
// round-robin, least-connections and random selection over a backend pool.
package strategy
