package upstream_test

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/apexproxy/apex/internal/upstream"
)

// testServer is a minimal HTTP/1.1 backend with controllable connection
// behavior.
type testServer struct {
	ln       net.Listener
	closeAll bool // send Connection: close and drop the socket after each response
	mu       sync.Mutex
	served   int
}

func newTestServer(closeAll bool) *testServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())

	s := &testServer{ln: ln, closeAll: closeAll}
	go s.acceptLoop()
	return s
}

func (s *testServer) addr() string {
	return s.ln.Addr().String()
}

func (s *testServer) close() {
	s.ln.Close()
}

func (s *testServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}

func (s *testServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serveConn(conn)
	}
}

func (s *testServer) serveConn(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReader(conn)

	for {
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		io.Copy(io.Discard, req.Body)
		req.Body.Close()

		s.mu.Lock()
		s.served++
		n := s.served
		s.mu.Unlock()

		body := fmt.Sprintf("response-%d:%s", n, req.URL.Path)
		connection := "keep-alive"
		if s.closeAll {
			connection = "close"
		}

		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\nConnection: %s\r\n\r\n%s",
			len(body), connection, body)

		if s.closeAll {
			return
		}
	}
}

func mustRequest(addr, path string) *http.Request {
	req, err := http.NewRequest(http.MethodGet, "http://"+addr+path, nil)
	Expect(err).NotTo(HaveOccurred())
	return req
}

var _ = Describe("HTTP/1.1 pool", func() {
	It("should forward a request and return the response", func() {
		srv := newTestServer(false)
		defer srv.close()

		pool := upstream.NewPool(srv.addr(), 1, 16)
		defer pool.Close()

		resp, err := pool.Forward(context.Background(), mustRequest(srv.addr(), "/hello"))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal("response-1:/hello"))
	})

	It("should reuse the connection across sequential requests", func() {
		srv := newTestServer(false)
		defer srv.close()

		pool := upstream.NewPool(srv.addr(), 1, 16)
		defer pool.Close()

		for i := 1; i <= 3; i++ {
			resp, err := pool.Forward(context.Background(), mustRequest(srv.addr(), "/seq"))
			Expect(err).NotTo(HaveOccurred())
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(string(body)).To(Equal(fmt.Sprintf("response-%d:/seq", i)))
		}
	})

	It("should transparently reconnect after the backend closes the socket", func() {
		srv := newTestServer(true)
		defer srv.close()

		pool := upstream.NewPool(srv.addr(), 1, 16)
		defer pool.Close()

		// Each response arrives with Connection: close and a dropped
		// socket; every subsequent request must succeed anyway with no
		// caller intervention.
		for i := 1; i <= 5; i++ {
			resp, err := pool.Forward(context.Background(), mustRequest(srv.addr(), "/again"))
			Expect(err).NotTo(HaveOccurred())
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(string(body)).To(Equal(fmt.Sprintf("response-%d:/again", i)))
		}
	})

	It("should serve concurrent requests across multiple actors", func() {
		srv := newTestServer(false)
		defer srv.close()

		pool := upstream.NewPool(srv.addr(), 4, 64)
		defer pool.Close()

		var wg sync.WaitGroup
		errs := make(chan error, 40)

		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp, err := pool.Forward(context.Background(), mustRequest(srv.addr(), "/conc"))
				if err != nil {
					errs <- err
					return
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}()
		}

		wg.Wait()
		close(errs)
		Expect(errs).To(BeEmpty())
		Expect(srv.count()).To(Equal(40))
	})

	It("should report a connection failure for an unreachable backend", func() {
		// Grab a port and release it so nothing listens there.
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addr := ln.Addr().String()
		ln.Close()

		pool := upstream.NewPool(addr, 1, 16)
		defer pool.Close()

		_, err = pool.Forward(context.Background(), mustRequest(addr, "/"))
		Expect(err).To(MatchError(upstream.ErrConnectionFailed))
	})

	It("should recover after a failed connection attempt", func() {
		srv := newTestServer(false)
		addr := srv.addr()
		srv.close()

		pool := upstream.NewPool(addr, 1, 16)
		defer pool.Close()

		_, err := pool.Forward(context.Background(), mustRequest(addr, "/"))
		Expect(err).To(MatchError(upstream.ErrConnectionFailed))

		// Bring a backend up on the same port and try again through the
		// same handle.
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			Skip("port was reclaimed by the OS")
		}
		revived := &testServer{ln: ln}
		go revived.acceptLoop()
		defer revived.close()

		resp, err := pool.Forward(context.Background(), mustRequest(addr, "/back"))
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
	})

	It("should fail queued callers with ErrChannelClosed after Close", func() {
		srv := newTestServer(false)
		defer srv.close()

		pool := upstream.NewPool(srv.addr(), 1, 16)
		pool.Close()

		_, err := pool.Forward(context.Background(), mustRequest(srv.addr(), "/"))
		Expect(err).To(MatchError(upstream.ErrChannelClosed))
	})

	It("should return the context error when the caller times out", func() {
		// A listener that accepts but never responds.
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		defer ln.Close()
		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				go func() {
					io.Copy(io.Discard, conn)
				}()
			}
		}()

		pool := upstream.NewPool(ln.Addr().String(), 1, 16)
		defer pool.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err = pool.Forward(ctx, mustRequest(ln.Addr().String(), "/slow").WithContext(ctx))
		Expect(err).To(MatchError(context.DeadlineExceeded))
	})
})
