package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openlever/margind/internal/domain"
	"github.com/openlever/margind/internal/server/handler"
	"github.com/openlever/margind/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	RateLimit       int // requests per window per client IP; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Auth    *handler.AuthHandler
	Trade   *handler.TradeHandler
	Account *handler.AccountHandler
	Prices  *handler.PriceHandler
}

// Server is the public HTTP gateway. Trade and account routes require a
// session established through the magic-link flow.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, rate limiting) and guards the
// trading routes with the session middleware.
func NewServer(cfg Config, handlers Handlers, sessions middleware.TokenParser, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	session := middleware.Session(sessions)
	protected := func(h http.HandlerFunc) http.Handler {
		return session(h)
	}

	// Health check and sign-in flow (no session required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("POST /api/auth/signup", handlers.Auth.Signup)
	mux.HandleFunc("GET /api/auth/verify", handlers.Auth.Verify)

	// Public market data.
	mux.HandleFunc("GET /api/prices", handlers.Prices.ListPrices)

	// Trading and account routes.
	mux.Handle("GET /api/profile", protected(handlers.Auth.Profile))
	mux.Handle("POST /api/positions", protected(handlers.Trade.OpenPosition))
	mux.Handle("POST /api/positions/close", protected(handlers.Trade.ClosePosition))
	mux.Handle("GET /api/balance", protected(handlers.Account.Balance))
	mux.Handle("GET /api/trades", protected(handlers.Account.ListTrades))

	// Build the middleware chain.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
