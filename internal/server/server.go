// Package server implements the HTTP API that exposes the RAG query and
// ingest pipelines: OpenAI-compatible chat completions (streaming and
// non-streaming), model listing, contract-address lookup, feedback
// submission, and file-batch status.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onekey/rag-core-go/internal/contractindex"
	"github.com/onekey/rag-core-go/internal/logging"
	"github.com/onekey/rag-core-go/internal/provider"
	"github.com/onekey/rag-core-go/internal/ragpipeline"
	"github.com/onekey/rag-core-go/internal/sse"
	"github.com/onekey/rag-core-go/internal/store"
)

// requestCounter is a monotonically increasing counter used to generate
// unique per-request session IDs for traces.
var requestCounter atomic.Uint64

// New constructs a Server from the provided pipeline and config.
// registry, contracts, and st may be nil — GET /v1/models then returns an
// empty list, and contract-lookup/feedback/file-status routes respond 503
// rather than panicking.
// If cfg.Logger is nil, [logging.New] is used.
func New(pipeline *ragpipeline.Pipeline, registry *provider.Registry, contracts *contractindex.Index, st *store.Store, cfg *Config) (*Server, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 2 * time.Minute
	}
	if cfg.PrepareTimeout == 0 {
		cfg.PrepareTimeout = 20 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		pipeline:  pipeline,
		registry:  registry,
		contracts: contracts,
		store:     st,
		sem:       sse.NewSemaphore(cfg.MaxConcurrentRequests),
		cfg:       cfg,
		log:       cfg.Logger,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stopRL := newRateLimiter(orDefault(cfg.RateLimit, defaultRateLimit), orDefaultInt(cfg.RateBurst, defaultRateBurst), s.log)
	s.stopRL = stopRL

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleListModels)
	mux.HandleFunc("GET /api/v1/contracts/{address}", s.handleGetContract)
	mux.HandleFunc("POST /api/v1/contracts/lookup", s.handleLookupContracts)
	mux.HandleFunc("POST /api/v1/feedback", s.handleSubmitFeedback)
	mux.HandleFunc("POST /api/v1/files", s.handleUploadFiles)
	mux.HandleFunc("GET /api/v1/files/{batch_id}", s.handleGetFileBatch)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	var handler http.Handler = mux
	handler = authMiddleware(cfg.APIKey, handler)
	handler = rl.middleware(handler)
	handler = requestLogger(s.log, handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		if s.stopRL != nil {
			s.stopRL()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// nextSessionID returns a unique per-request session id used for tracing
// and as the streaming response's `id` field.
func nextSessionID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixMilli(), requestCounter.Add(1))
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		logging.FromContext(r.Context()).Error("health encode error", slog.Any("error", err))
	}
}
