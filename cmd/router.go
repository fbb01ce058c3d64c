package main

import (
	"net/http"

	"github.com/apexproxy/apex/internal/metrics"
)

func setupMetricsRouter(collector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/metrics", collector.Handler())

	return mux
}
