// Package server hosts the admin HTTP surface and the periodic batch
// trigger. Stores are wired by the caller; the server owns only the HTTP
// listener and the cron lifecycle.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jackzampolin/backlist/internal/api"
	"github.com/jackzampolin/backlist/internal/scheduler"
	"github.com/jackzampolin/backlist/internal/server/endpoints"
	"github.com/jackzampolin/backlist/internal/svcctx"
)

// Server is the main Backlist HTTP server.
type Server struct {
	httpServer *http.Server
	cron       *cron.Cron
	logger     *slog.Logger

	adminToken string
	schedule   string

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8585)
	Port int
	// AdminToken protects the admin surface; empty disables the check.
	AdminToken string
	// Schedule is a cron expression for periodic batch runs; empty
	// disables the periodic trigger.
	Schedule string
	// Services holds the wired stores and the scheduler.
	Services *svcctx.Services
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8585
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Services == nil {
		return nil, errors.New("services are required")
	}
	if cfg.Services.Logger == nil {
		cfg.Services.Logger = cfg.Logger
	}

	s := &Server{
		logger:     cfg.Logger,
		adminToken: cfg.AdminToken,
		schedule:   cfg.Schedule,
		services:   cfg.Services,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireToken)

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler: s.withServices(mux),
		// Batch runs are synchronous, so the write timeout must cover a
		// full batch, not a single DB round trip.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the server and, when configured, the periodic batch cron.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if s.schedule != "" && s.services.Scheduler != nil {
		if err := s.startCron(ctx); err != nil {
			s.setNotRunning()
			return fmt.Errorf("failed to start batch schedule: %w", err)
		}
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// startCron wires the periodic batch trigger. Overlapping runs are
// skipped rather than queued: the advisory locks make overlap safe, but a
// pile-up of waiting runs helps nobody.
func (s *Server) startCron(ctx context.Context) error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	_, err := s.cron.AddFunc(s.schedule, func() {
		result, err := s.services.Scheduler.Run(ctx, scheduler.RunOptions{})
		if err != nil {
			s.logger.Error("scheduled batch failed", "error", err)
			return
		}
		s.logger.Info("scheduled batch finished",
			"run_id", result.RunID,
			"completed", result.Completed,
			"skipped", result.Skipped,
			"failed", result.Failed,
			"quota_exhausted", result.QuotaExhausted,
		)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("batch schedule active", "schedule", s.schedule)
	return nil
}

// shutdown performs graceful shutdown of the cron and HTTP server, and
// releases any advisory locks still held.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.cron != nil {
		// Stop returns once in-flight scheduled runs have finished.
		<-s.cron.Stop().Done()
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.services.Locks != nil {
		s.services.Locks.ReleaseAll(shutdownCtx)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := svcctx.WithServices(r.Context(), s.services)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireToken is middleware enforcing the shared admin token. With no
// token configured the check is a no-op.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken != "" {
			got := r.Header.Get(api.AuthHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid or missing admin token"}`))
				return
			}
		}
		next(w, r)
	}
}
