// Package api exposes the gateway's HTTP surface: synchronous and
// asynchronous synthesis, job status and audio retrieval, engine discovery,
// and submission statistics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/voxlane/voxlane/internal/config"
	"github.com/voxlane/voxlane/internal/dispatch"
	"github.com/voxlane/voxlane/internal/history"
	"github.com/voxlane/voxlane/internal/queue"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Server wraps the chi router and gateway dependencies.
type Server struct {
	router   *chi.Mux
	cfg      config.Config
	dispatch *dispatch.Dispatcher
	queue    *queue.Queue
	history  *history.Store
	logger   *slog.Logger
	addr     string
}

// NewServer creates and configures the gateway HTTP server. The history
// store may be nil, in which case /v1/jobs and /v1/stats report that
// submission history is disabled.
func NewServer(cfg config.Config, d *dispatch.Dispatcher, q *queue.Queue, hist *history.Store, logger *slog.Logger) *Server {
	srv := &Server{
		router:   chi.NewRouter(),
		cfg:      cfg,
		dispatch: d,
		queue:    q,
		history:  hist,
		logger:   logger,
		addr:     cfg.ListenAddr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Job-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/engines", s.handleListEngines)
	s.router.Get("/v1/stats", s.handleGetStats)

	s.router.Post("/v1/tts", s.handleSynthesize)
	s.router.Post("/v1/tts/async", s.handleSynthesizeAsync)

	s.router.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Get("/{id}/audio", s.handleGetJobAudio)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is received.
func (s *Server) Run() error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
