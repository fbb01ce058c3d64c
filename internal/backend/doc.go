// Package backend holds the upstream server records and the pool used for
// load balancing. Backend state is mutated only through atomics and pools
// are replaced wholesale, so no request-path code ever blocks on a lock.
package backend
