package proxy

import "errors"

var (
	// ErrNoBackendAvailable means the matched route has no healthy backend
	// eligible to serve the request.
	ErrNoBackendAvailable = errors.New("no backend available")

	// ErrRouteNotFound means no configured route matched the request's
	// host and path.
	ErrRouteNotFound = errors.New("route not found")
)
