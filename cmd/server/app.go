package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fablehq/fable-api/internal/config"
	"github.com/fablehq/fable-api/internal/platform/gemini"
	"github.com/fablehq/fable-api/internal/platform/logger"
	"github.com/fablehq/fable-api/internal/ratelimit"
	"github.com/fablehq/fable-api/internal/retry"
	"github.com/fablehq/fable-api/internal/stream"
	"github.com/redis/go-redis/v9"
)

// application holds the wired dependencies for the server process.
type application struct {
	config       *config.Config
	logger       *slog.Logger
	store        ratelimit.Store
	orchestrator *stream.Orchestrator
}

// newApplication loads configuration and wires the dependency graph:
// config, logger, rate-limit store, token source, orchestrator.
func newApplication(ctx context.Context, configPath string) (*application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	appLogger := logger.Setup(cfg.Server)
	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"rate_limit_max", cfg.RateLimit.Max,
		"rate_limit_window", cfg.RateLimit.Window,
		"redis_enabled", cfg.Redis.Enabled)

	store := newRateLimitStore(cfg, appLogger)

	source, err := gemini.NewStreamSource(ctx, appLogger, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("initialize token source: %w", err)
	}

	policy := retry.Policy{
		MaxRetries:        cfg.Retry.MaxRetries,
		BaseDelay:         cfg.Retry.BaseDelay,
		MaxDelay:          cfg.Retry.MaxDelay,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		Jitter:            cfg.Retry.Jitter,
		Timeout:           cfg.Retry.Timeout,
	}

	return &application{
		config:       cfg,
		logger:       appLogger,
		store:        store,
		orchestrator: stream.New(source, policy, appLogger),
	}, nil
}

func newRateLimitStore(cfg *config.Config, log *slog.Logger) ratelimit.Store {
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		log.Info("using redis rate-limit store", "addr", cfg.Redis.Addr)
		return ratelimit.NewRedisStore(client, "fable:ratelimit")
	}
	return ratelimit.NewMemoryStore()
}

// run starts the HTTP server and blocks until the context is cancelled or
// the listener fails, then shuts down gracefully.
func (app *application) run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		app.cleanup()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		app.logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.cleanup()
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.cleanup()
	app.logger.Info("server shutdown completed")
	return nil
}

// cleanup releases background resources.
func (app *application) cleanup() {
	if err := app.store.Close(); err != nil {
		app.logger.Warn("failed to close rate-limit store", "error", err)
	}
}

// rateLimitConfig converts the loaded settings into the limiter's config.
func (app *application) rateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		Window: app.config.RateLimit.Window,
		Max:    app.config.RateLimit.Max,
	}
}
