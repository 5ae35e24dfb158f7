// Package server assembles the HTTP API: routes, middleware chain, and
// server lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/trancheworks/cascade/internal/domain"
	"github.com/trancheworks/cascade/internal/server/handler"
	"github.com/trancheworks/cascade/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // requests per second per client; 0 disables
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Deals  *handler.DealHandler
	Runs   *handler.RunHandler
}

// Server is the HTTP API server for the waterfall engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the
// middleware chain (rate limit, auth, logging, CORS) applied. A nil
// limiter disables rate limiting.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check, no auth required on the chain below it either; the
	// auth middleware keys off the configured API key for all routes.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Deal catalogue.
	mux.HandleFunc("POST /api/deals", handlers.Deals.RegisterDeal)
	mux.HandleFunc("GET /api/deals", handlers.Deals.ListDeals)
	mux.HandleFunc("GET /api/deals/{id}", handlers.Deals.GetDeal)

	// Period execution and queries.
	mux.HandleFunc("POST /api/deals/{id}/runs", handlers.Runs.ExecutePeriod)
	mux.HandleFunc("GET /api/deals/{id}/ledger", handlers.Runs.GetLedger)
	mux.HandleFunc("GET /api/deals/{id}/results/latest", handlers.Runs.GetLatestResult)
	mux.HandleFunc("GET /api/deals/{id}/state", handlers.Runs.GetState)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Second)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start begins listening for HTTP requests and blocks until the server
// errors or shuts down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
