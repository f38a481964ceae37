// Package core provides the HTTP chassis for the onboarding service: a chi
// router with the shared middleware chain, JSON response helpers, request
// validation and the health endpoint. Domain handlers register their routes
// through registrars so that core never imports them.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"carepath/internal/config"
)

// RouteRegistrar mounts a group of routes onto a router.
type RouteRegistrar func(r chi.Router)

// Server holds the dependencies shared by every request.
type Server struct {
	Config       *config.Config
	Logger       *slog.Logger
	Validator    *Validator
	HealthChecks []HealthCheck

	// V1Routes are mounted under /v1. AdminRoutes are mounted under
	// /v1/admin behind the admin API key.
	V1Routes    []RouteRegistrar
	AdminRoutes []RouteRegistrar

	// Closers run on Shutdown in order (database pool, etc.).
	Closers []func()

	router *chi.Mux
}

// NewServer creates a Server. Routes are mounted separately by MountRoutes
// so tests can register their own.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the underlying mux for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")
	for _, closeFn := range s.Closers {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("shutdown interrupted: %w", err)
		}
		closeFn()
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
