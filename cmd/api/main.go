// Package main is the HTTP entry point of the onboarding service. It serves
// the registration trigger, the operator endpoints, the Stripe webhook and
// the health check.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carepath/internal/api/handlers"
	"carepath/internal/app"
	"carepath/internal/config"
	"carepath/internal/core"
	"carepath/internal/external"
	"carepath/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.Service)
	logger.Info("onboarding API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv, err := buildServer(cfg, logger, serverDeps{
		processor: a.Service,
		tasks:     a.Tasks,
		queue:     a.Publisher,
		verifier:  external.NewStripeVerifier(cfg.Billing.StripeWebhookSecret),
		checks:    []core.HealthCheck{core.CheckFunc{CheckName: "database", Fn: a.Ping}},
	})
	if err != nil {
		a.Close()
		return err
	}
	srv.Closers = append(srv.Closers, a.Close)

	return runHTTPServer(srv, cfg, logger)
}

// serverDeps are the collaborators the HTTP layer needs.
type serverDeps struct {
	processor handlers.Processor
	tasks     interface {
		handlers.TaskAdmin
		handlers.TaskSeeder
	}
	queue    handlers.Enqueuer
	verifier external.WebhookVerifier
	checks   []core.HealthCheck
}

func buildServer(cfg *config.Config, logger *slog.Logger, deps serverDeps) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.HealthChecks = deps.checks

	registration := handlers.NewRegistrationHandler(deps.processor, deps.tasks, deps.queue, srv.Validator, logger)
	webhook := handlers.NewStripeWebhookHandler(deps.verifier, deps.tasks, deps.queue, logger)

	srv.V1Routes = append(srv.V1Routes,
		registration.RegisterRoutes,
		webhook.RegisterRoutes,
	)
	srv.AdminRoutes = append(srv.AdminRoutes, registration.RegisterAdminRoutes)

	srv.MountRoutes()
	return srv, nil
}

func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped cleanly")
	return nil
}
