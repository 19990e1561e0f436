// Package main is the entry point for the orchestrator server. It opens the
// metadata store and the warehouse, starts the run scheduler and serves the
// REST API and the operator console over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"etl-orchestrator/internal/api"
	"etl-orchestrator/internal/app"
	"etl-orchestrator/internal/config"
	"etl-orchestrator/internal/db"
	"etl-orchestrator/internal/middleware"
	"etl-orchestrator/internal/ui"
	"etl-orchestrator/internal/warehouse"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Writes go through a single-connection pool; listings use four readers.
	meta, err := db.OpenMetaStore(cfg.MetaDBPath, 4)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer meta.Close()

	wh, err := warehouse.Open(ctx, cfg.WarehousePath)
	if err != nil {
		return fmt.Errorf("open warehouse: %w", err)
	}
	defer wh.Close()

	a, err := app.New(ctx, app.Deps{Cfg: cfg, Meta: meta, Warehouse: wh, Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	validator, err := newValidator(cfg)
	if err != nil {
		return err
	}
	if validator == nil {
		logger.Warn("JWT_SECRET not set; API and console run without authentication")
	}

	handler := api.NewHandler(a.Runs, a.Config, a.Executions, a.Scores, logger)
	router := api.NewRouter(ctx, handler, api.RouterOptions{
		Validator:      validator,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		UI: func(r chi.Router, auth func(http.Handler) http.Handler) {
			ui.MountRoutes(r, ui.NewHandler(a.Runs, a.Config, a.Executions, cfg.IsProduction(), logger), auth)
		},
	}, logger)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("orchestrator listening",
		"addr", cfg.ListenAddr,
		"console", "http://"+consoleHost(cfg.ListenAddr)+"/ui/")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// newValidator returns nil when no JWT secret is configured.
func newValidator(cfg *config.Config) (middleware.JWTValidator, error) {
	if cfg.JWTSecret == "" {
		return nil, nil
	}
	v, err := middleware.NewHS256Validator(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("jwt validator: %w", err)
	}
	return v, nil
}

// consoleHost turns a listen address into a host:port a browser can open.
// Wildcard and empty hosts become localhost.
func consoleHost(listenAddr string) string {
	addr := strings.TrimSpace(listenAddr)
	if addr == "" {
		return "localhost:8080"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
