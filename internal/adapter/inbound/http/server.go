package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /metrics and /healthz.
type Server struct {
	addr    string
	reg     *prometheus.Registry
	health  *HealthChecker
	logger  *slog.Logger
	server  *http.Server
	ready   chan struct{}
	boundTo string
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthChecker sets the health checker for the /healthz endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.health = hc
	}
}

// NewServer creates a Server listening on addr and serving reg.
func NewServer(addr string, reg *prometheus.Registry, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		reg:    reg,
		logger: slog.Default(),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{
		Registry: s.reg,
	}))
	if s.health != nil {
		mux.Handle("/healthz", s.health.Handler())
	} else {
		mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		}))
	}
	return RequestIDMiddleware(s.logger)(mux)
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.boundTo = ln.Addr().String()
	close(s.ready)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting metrics server", "addr", s.boundTo)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// Addr blocks until the server is listening and returns the bound address.
func (s *Server) Addr(ctx context.Context) (string, error) {
	select {
	case <-s.ready:
		return s.boundTo, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("metrics server shutdown complete")
	return nil
}
