package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikhilbhutani/docissue/internal/api"
	"github.com/nikhilbhutani/docissue/internal/api/handlers"
	"github.com/nikhilbhutani/docissue/internal/app"
	"github.com/nikhilbhutani/docissue/internal/auth"
	"github.com/nikhilbhutani/docissue/internal/config"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	router := api.NewRouter(cfg, api.Deps{
		Generator: a.Generation,
		Documents: a.Documents,
		Objects:   a.Objects,
		Templates: a.Catalog,
		Batches:   a.Batches,
		Verifier:  a.Verifier,
		Webhooks:  a.Webhooks,
		Audit:     a.Audit,
		Checks: map[string]handlers.Pinger{
			"database": a.Pool,
			"redis": handlers.PingFunc(func(ctx context.Context) error {
				return a.Redis.Ping(ctx).Err()
			}),
		},
		JWT:    auth.NewJWTMiddleware(cfg.Auth.JWTSecret, a.Tenants),
		APIKey: auth.NewAPIKeyMiddleware(a.Pool, cfg.Auth.APIKeyHeader, a.Tenants),
		RBAC:   auth.NewRBAC(a.Pool),
	})
	defer router.Close()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Generation.BulkTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
