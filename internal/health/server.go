// Package health serves the liveness endpoint polled by the hosting platform.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/bid-monitor/internal/bid"
)

// Status is the body returned by the health endpoint.
type Status struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Service   string  `json:"service"`
	Uptime    float64 `json:"uptime"`
}

// Config controls the listener.
type Config struct {
	Port    int
	Service string
}

// Server answers GET /health and GET / with a static healthy status.
// Requests are not logged.
type Server struct {
	cfg     Config
	clock   bid.Clock
	started time.Time
	router  chi.Router
	logger  *zap.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewServer builds the router. The uptime origin is taken from clock now.
func NewServer(cfg Config, clock bid.Clock, logger *zap.Logger) *Server {
	if cfg.Service == "" {
		cfg.Service = "bid-monitor"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		clock:   clock,
		started: clock.Now(),
		logger:  logger.Named("health"),
	}
	r := chi.NewRouter()
	r.Get("/health", s.health)
	r.Get("/", s.health)
	s.router = r
	return s
}

// Handler returns the router for use with http.Server or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	now := s.clock.Now()
	writeJSON(w, http.StatusOK, Status{
		Status:    "healthy",
		Timestamp: now.Format(time.RFC3339),
		Service:   s.cfg.Service,
		Uptime:    now.Sub(s.started).Seconds(),
	})
}

// Start binds the port and serves in a background goroutine. Starting a
// running server is a no-op.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen health port %d: %w", s.cfg.Port, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	s.srv, s.listener, s.done = srv, ln, done

	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health server error", zap.Error(err))
		}
	}()
	s.logger.Info("health check server started", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" when not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the listener down and waits for the serve goroutine.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv, s.listener, s.done = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown health server: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("health check server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}
