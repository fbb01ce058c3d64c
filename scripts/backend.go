//go:build ignore

// Backend is a simple test HTTP server used for proxy testing.
// It echoes request details as JSON and provides a /health endpoint.
//
// Usage:
//
//	go run backend.go -port 8081 -id backend-1
//	go run backend.go -port 8082 -id backend-2 -h2c
//
// The -delay flag adds artificial latency, -unhealthy makes /health return
// 503 so health checker behavior can be observed.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// EchoResponse describes the request as seen by this backend.
type EchoResponse struct {
	Server  string `json:"server"`
	Proto   string `json:"proto"`
	Method  string `json:"method"`
	Host    string `json:"host"`
	Path    string `json:"path"`
	Body    string `json:"body,omitempty"`
	XFF     string `json:"x_forwarded_for,omitempty"`
	Delayed string `json:"delayed,omitempty"`
}

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	id := flag.String("id", "backend-1", "server identity reported in responses")
	delay := flag.Duration("delay", 0, "artificial latency per request")
	unhealthy := flag.Bool("unhealthy", false, "report 503 on /health")
	useH2C := flag.Bool("h2c", false, "serve HTTP/2 over cleartext (prior knowledge)")
	flag.Parse()

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if *unhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("unhealthy"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if *delay > 0 {
			time.Sleep(*delay)
		}

		body, _ := io.ReadAll(r.Body)
		log.Printf("request: method=%s path=%s from=%s proto=%s",
			r.Method, r.URL.Path, r.RemoteAddr, r.Proto)

		resp := EchoResponse{
			Server: *id,
			Proto:  r.Proto,
			Method: r.Method,
			Host:   r.Host,
			Path:   r.URL.Path,
			Body:   string(body),
			XFF:    r.Header.Get("X-Forwarded-For"),
		}
		if *delay > 0 {
			resp.Delayed = delay.String()
		}

		b, _ := json.Marshal(resp)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Server", *id)
		w.Write(b)
	})

	var handler http.Handler = mux
	if *useH2C {
		handler = h2c.NewHandler(mux, &http2.Server{})
	}

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting backend %s on %s (h2c=%v)", *id, addr, *useH2C)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
