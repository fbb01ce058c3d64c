package upstream

import (
	"context"
	"net"
	"time"
)

const dialTimeout = 5 * time.Second

// dial opens a TCP connection to a backend. Shared by both connection
// strategies; this is the only place connection setup happens.
func dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	return conn, nil
}
