// Package server provides the admin HTTP surface: health, run trigger,
// last-run readout, and per-strategy P&L. JSON only, no dashboard.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/polystrat/polystrat/internal/domain"
	"github.com/polystrat/polystrat/internal/engine"
	"github.com/polystrat/polystrat/internal/executor"
	"github.com/polystrat/polystrat/internal/journal"
	"github.com/polystrat/polystrat/internal/tracker"
)

// Runner triggers a trading run; implemented by engine.Engine
type Runner interface {
	Run(ctx context.Context, correlationID string) *engine.TradeRunResult
}

// Config holds server configuration
type Config struct {
	Port       int
	Log        zerolog.Logger
	Runner     Runner
	Tracker    *tracker.Tracker
	Limiter    *executor.DailyTradeLimit
	Journal    *journal.Journal // optional
	Account    domain.AccountPort
	MarketData domain.MarketDataPort
	DevMode    bool
}

// Server represents the HTTP server
type Server struct {
	router  *chi.Mux
	server  *http.Server
	log     zerolog.Logger
	runner  Runner
	tracker *tracker.Tracker
	limiter *executor.DailyTradeLimit
	journal *journal.Journal
	account domain.AccountPort
	market  domain.MarketDataPort

	runs *runHolder
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		log:     cfg.Log.With().Str("component", "server").Logger(),
		runner:  cfg.Runner,
		tracker: cfg.Tracker,
		limiter: cfg.Limiter,
		journal: cfg.Journal,
		account: cfg.Account,
		market:  cfg.MarketData,
		runs:    &runHolder{},
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Minute, // a triggered run can take the full run deadline
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/run", s.handleRun)
		r.Get("/runs/last", s.handleLastRun)
		r.Get("/strategies/pnl", s.handleStrategyPnL)
		r.Get("/limits/daily", s.handleDailyLimit)
	})
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
