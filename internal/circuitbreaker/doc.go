// Package circuitbreaker implements a per-backend circuit breaker.
//
// A breaker temporarily blocks forwarding to a failing backend:
//
//   - CLOSED: normal operation, requests pass through
//   - OPEN: backend failing, requests blocked
//   - HALF-OPEN: probing whether the backend recovered
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second)
//	b := registry.Get("127.0.0.1:8081")
//	if b.Allow() {
//	    // forward...
//	    if err != nil {
//	        b.RecordFailure()
//	    } else {
//	        b.RecordSuccess()
//	    }
//	}
package circuitbreaker
