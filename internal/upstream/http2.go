package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/net/http2"
)

// MuxConn is the shared multiplexed sender for one backend. The current
// *http2.ClientConn lives in an atomic slot: the steady-state path loads it,
// checks readiness and dispatches without any lock, because the protocol
// multiplexes concurrent streams over the single socket. A dedicated mutex
// guards connection (re)establishment only, with a double-check inside the
// critical section so a thundering herd of first users performs exactly one
// handshake.
type MuxConn struct {
	addr      string
	transport *http2.Transport

	sender atomic.Pointer[http2.ClientConn]
	initMu sync.Mutex
}

// NewMuxConn creates the shared sender for the backend at addr. The
// connection itself is established lazily on first use.
func NewMuxConn(addr string) *MuxConn {
	return &MuxConn{
		addr: addr,
		transport: &http2.Transport{
			AllowHTTP: true,
			// Cleartext HTTP/2 with prior knowledge; the dial below hands
			// the transport a plain TCP connection.
			DialTLSContext: func(ctx context.Context, network, a string, _ *tls.Config) (net.Conn, error) {
				return dial(ctx, a)
			},
		},
	}
}

// Forward issues the request over the shared connection. Concurrent callers
// multiplex as independent streams; no ordering exists between them.
func (m *MuxConn) Forward(ctx context.Context, req *http.Request) (*http.Response, error) {
	cc, err := m.client(ctx)
	if err != nil {
		return nil, err
	}

	// HTTP/2 framing wants a known request length; buffer bodies that
	// arrived without one. A zero ContentLength with a non-nil body also
	// counts as unknown for client requests.
	if req.Body != nil && req.ContentLength <= 0 {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
	}

	resp, err := cc.RoundTrip(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A single stream failure does not clear the slot; other streams on
		// the same connection may still be healthy. The readiness check in
		// client replaces the connection once it actually goes bad.
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}

	return resp, nil
}

// client returns a ready sender: lock-free fast path, double-checked
// reconnect slow path.
func (m *MuxConn) client(ctx context.Context) (*http2.ClientConn, error) {
	if cc := m.sender.Load(); cc != nil && cc.CanTakeNewRequest() {
		return cc, nil
	}

	m.initMu.Lock()
	defer m.initMu.Unlock()

	if cc := m.sender.Load(); cc != nil && cc.CanTakeNewRequest() {
		return cc, nil
	}

	raw, err := dial(ctx, m.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	cc, err := m.transport.NewClientConn(raw)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// NewClientConn spawned the read loop driving the connection; publish
	// the sender before releasing the lock.
	m.sender.Store(cc)
	return cc, nil
}

// Close tears down the current connection, if any. In-flight streams get
// reset; subsequent Forward calls reconnect.
func (m *MuxConn) Close() {
	if cc := m.sender.Load(); cc != nil {
		_ = cc.Close()
	}
}
