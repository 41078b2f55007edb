package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ternarybob/quaero/internal/app"
	"github.com/ternarybob/quaero/internal/handlers"
)

// Server manages the HTTP server and routes.
type Server struct {
	app    *app.App
	router chi.Router
	server *http.Server
}

// New creates a new HTTP server wired against application.
func New(application *app.App) *Server {
	s := &Server{app: application}
	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(recoveryMiddleware(s.app.Logger))
	r.Use(correlationIDMiddleware)
	r.Use(loggingMiddleware(s.app.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
	}))

	workHandler := handlers.NewWorkHandler(s.app.Dispatcher, s.app.Progress, s.app.Logger)
	controlHandler := handlers.NewControlPlaneHandler(s.app.Progress, s.app.Store, s.app.Logger)

	// Worker-facing RPCs (§6).
	r.Get("/work", workHandler.GetWork)
	r.Put("/work/{id}", workHandler.PutWork)

	// Control-plane RPCs (§6).
	r.Post("/jobs/pause", controlHandler.Pause)
	r.Post("/jobs/resume", controlHandler.Resume)
	r.Post("/jobs/cancel", controlHandler.Cancel)
	r.Post("/jobs/skip-preview", controlHandler.SkipPreview)
	r.Put("/labels", controlHandler.PutLabels)
	r.Delete("/labels", controlHandler.DeleteLabels)

	r.Get("/healthz", s.healthHandler)

	if s.app.Config.Metrics.Enabled {
		r.Handle(s.app.Config.Metrics.Path, promhttp.Handler())
	}

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.app.Logger.Info().Str("address", s.server.Addr).Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
