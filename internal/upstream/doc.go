// Package upstream manages connections to backend servers. Two strategies
// exist, selected once at proxy construction:
//
//   - HTTP/1.1: a pool of connection-owning actors. Each actor goroutine is
//     the sole owner of one TCP connection and serves requests strictly in
//     submission order; the pool round-robins across actors for parallelism.
//   - HTTP/2: a single shared sender per backend. The sender lives in an
//     atomic slot and is safe for concurrent use because the protocol
//     multiplexes streams over one socket; a mutex guards reconnection only.
//
// Neither strategy retries: failures surface to the caller as typed errors
// and retry policy stays with a higher layer.
package upstream
