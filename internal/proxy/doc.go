// Package proxy implements the request router and the forwarding service.
// Inbound requests are matched against configured routes by host pattern and
// path prefix, a backend is selected via the route's load balancing strategy,
// and the request is forwarded through a protocol-specific upstream
// connection. Route tables are swapped atomically on configuration reload so
// in-flight requests keep the snapshot they started with.
package proxy
