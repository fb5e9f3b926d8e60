package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/telemetry/health"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
)

// Server is the daemon HTTP server.
type Server struct {
	config     config.ServerConfig
	deps       Dependencies
	logger     *slog.Logger
	httpServer *http.Server

	mu           sync.RWMutex
	listener     net.Listener
	isRunning    bool
	shutdownOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for request and lifecycle logs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a server. deps.Decider is required.
func New(cfg config.ServerConfig, deps Dependencies, opts ...Option) (*Server, error) {
	if deps.Decider == nil {
		return nil, errors.New("server: a decider is required")
	}
	if deps.Health == nil {
		deps.Health = health.New(health.DefaultCheckTimeout)
	}
	if deps.Version.Version == "" {
		deps.Version = health.NewVersionInfo("dev", "", "")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = config.DefaultMaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = config.DefaultShutdownTimeout
	}
	s := &Server{
		config: cfg,
		deps:   deps,
		logger: slog.Default().With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start listens on the configured address and serves until ctx is
// cancelled or the listener fails. Cancellation triggers a graceful
// shutdown, whose error is returned.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting gatekeeper daemon", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by the configured shutdown timeout. It is safe to call more
// than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		running := s.isRunning
		srv := s.httpServer
		s.mu.RUnlock()
		if !running {
			return
		}

		s.deps.Health.SetDraining(true)
		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		s.logger.Info("gatekeeper daemon stopped")
	})

	return shutdownErr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	api := &api{deps: s.deps, logger: s.logger}
	mux.HandleFunc("POST /v1/decide", api.decide)
	mux.HandleFunc("POST /v1/outcome", api.outcome)
	mux.HandleFunc("GET /v1/sessions/{id}", api.session)
	mux.HandleFunc("GET /v1/circuits", api.circuits)
	mux.HandleFunc("GET /v1/circuits/{name}", api.circuit)
	mux.HandleFunc("GET /v1/debt", api.debt)

	mux.Handle(orDefault(s.deps.LivenessPath, config.DefaultLivenessPath), s.deps.Health.LivenessHandler())
	mux.Handle(orDefault(s.deps.ReadinessPath, config.DefaultReadinessPath), s.deps.Health.ReadinessHandler())
	mux.Handle("/version", health.VersionHandler(s.deps.Version))
	if s.deps.Metrics != nil {
		mux.Handle(orDefault(s.deps.MetricsPath, config.DefaultMetricsPath), s.deps.Metrics)
	}

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(s.config.MaxBodyBytes)(handler)
	handler = loggingMiddleware(s.logger)(handler)
	handler = tracing.HTTPMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = recoveryMiddleware(s.logger)(handler)
	return handler
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
