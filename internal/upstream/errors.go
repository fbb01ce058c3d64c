package upstream

import "errors"

// Connection error taxonomy. All are retryable by a higher layer; none are
// fatal to the connection owner, which reconnects on the next request.
var (
	// ErrConnectionFailed means the backend could not be dialed or the
	// protocol handshake failed.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrRequestFailed means an established connection broke while the
	// request was in flight. The connection is discarded.
	ErrRequestFailed = errors.New("request failed")

	// ErrChannelClosed means the connection owner has shut down.
	ErrChannelClosed = errors.New("channel closed")
)
