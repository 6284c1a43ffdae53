// Package api is the HTTP sync server: authenticated push and pull of
// events against a remote.Store, plus a websocket realtime stream.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcus/sprout/internal/auth"
	"github.com/marcus/sprout/internal/remote"
)

// Pinger is implemented by stores that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP API server for sprout-sync.
type Server struct {
	config      Config
	http        *http.Server
	store       remote.Store
	signer      *auth.Signer
	metrics     *Metrics
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new Server with the given config, store and token signer.
func NewServer(cfg Config, store remote.Store, signer *auth.Signer) (*Server, error) {
	if store == nil {
		return nil, errors.New("api: nil store")
	}
	if signer == nil {
		return nil, errors.New("api: nil signer")
	}
	if cfg.PullLimitMax <= 0 {
		cfg.PullLimitMax = 1000
	}
	if cfg.PullLimitDefault <= 0 || cfg.PullLimitDefault > cfg.PullLimitMax {
		cfg.PullLimitDefault = cfg.PullLimitMax
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:      cfg,
		store:       store,
		signer:      signer,
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
		ctx:         ctx,
		cancel:      cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.http = &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     s.routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Metrics returns the server's metrics.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()
	return nil
}

// Shutdown closes realtime streams and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.rateLimiter.Stop()
	return s.http.Shutdown(ctx)
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// Events
	mux.HandleFunc("POST /v1/events", s.requireAuth(s.withRateLimit(s.handlePush, s.config.RateLimitPush)))
	mux.HandleFunc("GET /v1/events", s.requireAuth(s.withRateLimit(s.handlePull, s.config.RateLimitPull)))
	mux.HandleFunc("GET /v1/events/stream", s.requireAuth(s.withRateLimit(s.handleStream, s.config.RateLimitOther)))

	return chain(mux, recoveryMiddleware, requestIDMiddleware, loggerMiddleware, metricsMiddleware(s.metrics), loggingMiddleware, s.CORSMiddleware, maxBytesMiddleware(1<<20))
}

// handleHealth returns a health check response, pinging the store when it supports it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			logFor(r.Context()).Error("health ping", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
