// Package metrics collects per-backend request statistics through a
// buffered event channel, keeping bookkeeping off the proxy hot path. A
// JSON snapshot of requests, selections, health and response-time
// percentiles is exposed over HTTP.
package metrics
