package server

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// newTestServer builds a minimal *Server suitable for handler-level tests
// that do not exercise the RAG pipeline itself (health, readiness, auth,
// rate limiting, metrics).
func newTestServer() *Server {
	reg := prometheus.NewRegistry()
	return &Server{
		cfg: &Config{
			ChatTimeout:     5 * time.Minute,
			MetricsRegistry: reg,
			MetricsGatherer: reg,
		},
		log:     slog.Default(),
		metrics: newServerMetrics(reg),
	}
}
