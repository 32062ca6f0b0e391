// Package api exposes the scoring engine over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hed1ad/procurewatch/pkg/config"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  config.ServerConfig
}

// NewServer creates a new API server around h.
func NewServer(cfg config.ServerConfig, h *Handler) *Server {
	router := chi.NewRouter()

	router.Use(middleware.Recoverer)
	router.Use(middleware.RealIP)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(h.logger))

	router.Get("/health", h.Health)
	router.Method(http.MethodGet, "/metrics", h.Metrics())

	router.Route("/v1", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(NewRateLimiter(cfg.RateLimit, cfg.RateBurst, h.logger).Handler)
		}
		if cfg.MaxBodyBytes > 0 {
			r.Use(middleware.RequestSize(cfg.MaxBodyBytes))
		}
		r.Get("/model", h.GetModel)
		r.Put("/model", h.PutModel)
		r.Post("/score", h.Score)
	})

	return &Server{
		router:  router,
		handler: h,
		config:  cfg,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start listens on the configured address until Shutdown is called, then
// returns http.ErrServerClosed.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
