package upstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const defaultQueueSize = 128

// Forwarder sends a request to a backend and returns its response. Both
// connection strategies implement it.
type Forwarder interface {
	Forward(ctx context.Context, req *http.Request) (*http.Response, error)
	Close()
}

type call struct {
	req   *http.Request
	reply chan callResult
}

type callResult struct {
	resp *http.Response
	err  error
}

// conn is a connection-owning actor. The loop goroutine is the sole owner
// of the underlying TCP connection; callers submit requests through a
// bounded queue and await a per-call reply channel. Requests on one actor
// are processed strictly in submission order.
type conn struct {
	addr  string
	calls chan call
	quit  chan struct{}
	once  sync.Once
}

func newConn(addr string, queueSize int) *conn {
	c := &conn{
		addr:  addr,
		calls: make(chan call, queueSize),
		quit:  make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *conn) roundTrip(ctx context.Context, req *http.Request) (*http.Response, error) {
	reply := make(chan callResult, 1)

	select {
	case c.calls <- call{req: req, reply: reply}:
	case <-c.quit:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// On ctx expiry the actor may still complete the exchange in the
	// background; the liveness probe catches a half-consumed connection on
	// its next use.
	select {
	case res := <-reply:
		return res.resp, res.err
	case <-c.quit:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *conn) close() {
	c.once.Do(func() { close(c.quit) })
}

func (c *conn) loop() {
	var w *wire
	defer func() {
		if w != nil {
			w.close()
		}
	}()

	for {
		select {
		case <-c.quit:
			c.drain()
			return
		case cl := <-c.calls:
			w = c.serve(w, cl)
		}
	}
}

// drain rejects queued calls after shutdown so no caller hangs.
func (c *conn) drain() {
	for {
		select {
		case cl := <-c.calls:
			cl.reply <- callResult{err: ErrChannelClosed}
		default:
			return
		}
	}
}

// serve handles one call, reconnecting first if the owned connection is
// missing or dead. Failures are reported to the caller only; the actor
// itself survives and reconnects on the next request.
func (c *conn) serve(w *wire, cl call) *wire {
	if w != nil && !w.alive() {
		w.close()
		w = nil
	}

	if w == nil {
		nw, err := connect(cl.req.Context(), c.addr)
		if err != nil {
			cl.reply <- callResult{err: fmt.Errorf("%w: %v", ErrConnectionFailed, err)}
			return nil
		}
		w = nw
	}

	resp, err := w.roundTrip(cl.req)
	if err != nil {
		w.close()
		cl.reply <- callResult{err: fmt.Errorf("%w: %v", ErrRequestFailed, err)}
		return nil
	}

	cl.reply <- callResult{resp: resp}

	if resp.Close {
		w.close()
		return nil
	}
	return w
}

// wire wraps one established HTTP/1.1 connection.
type wire struct {
	conn net.Conn
	br   *bufio.Reader
}

func connect(ctx context.Context, addr string) (*wire, error) {
	nc, err := dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &wire{conn: nc, br: bufio.NewReader(nc)}, nil
}

func (w *wire) close() {
	_ = w.conn.Close()
}

// alive probes the connection with a zero-deadline read. A timeout means
// the peer is still there; EOF or stray bytes mean the connection must be
// replaced.
func (w *wire) alive() bool {
	if err := w.conn.SetReadDeadline(time.Now()); err != nil {
		return false
	}

	var b [1]byte
	n, err := w.conn.Read(b[:])
	_ = w.conn.SetReadDeadline(time.Time{})

	if n > 0 {
		return false
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// roundTrip writes one request and reads the full response. The body is
// buffered so the connection is immediately reusable for the next queued
// request.
func (w *wire) roundTrip(req *http.Request) (*http.Response, error) {
	if deadline, ok := req.Context().Deadline(); ok {
		_ = w.conn.SetDeadline(deadline)
	} else {
		_ = w.conn.SetDeadline(time.Time{})
	}

	if err := req.Write(w.conn); err != nil {
		return nil, err
	}

	resp, err := http.ReadResponse(w.br, req)
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

// Pool fans requests out across a fixed set of connection-owning actors
// with an atomic round-robin cursor. One actor serializes requests onto one
// physical connection; N actors give N-way parallelism with no lock on the
// hot path.
type Pool struct {
	conns  []*conn
	cursor atomic.Uint64
	addr   string
}

// NewPool spawns size actors for the backend at addr, each with a bounded
// request queue.
func NewPool(addr string, size, queueSize int) *Pool {
	if size < 1 {
		size = 1
	}
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}

	conns := make([]*conn, size)
	for i := range conns {
		conns[i] = newConn(addr, queueSize)
	}

	return &Pool{conns: conns, addr: addr}
}

// Forward submits the request to the next actor in round-robin order.
func (p *Pool) Forward(ctx context.Context, req *http.Request) (*http.Response, error) {
	idx := int((p.cursor.Add(1) - 1) % uint64(len(p.conns)))
	return p.conns[idx].roundTrip(ctx, req.WithContext(ctx))
}

// Close shuts down every actor. Queued callers receive ErrChannelClosed.
func (p *Pool) Close() {
	for _, c := range p.conns {
		c.close()
	}
}
