package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/keboola/platform-libraries-sub003/internal/application"
	"github.com/keboola/platform-libraries-sub003/internal/config"
	"github.com/keboola/platform-libraries-sub003/internal/logging"
	"github.com/keboola/platform-libraries-sub003/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	app, err := application.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start staging service", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := web.NewServer(app.Service, web.ServerOptions{
		Defaults: web.Defaults{
			Branch:  app.Branch,
			Backend: app.Backend,
			Timeout: cfg.Staging.Timeout,
		},
		Security:          cfg.Security,
		RequestsPerMinute: cfg.Server.RateLimit,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	})

	jobCtx, cancelJobs := context.WithCancel(ctx)
	go app.Service.StartHistoryPurgeScheduler(jobCtx, app.PurgeConfig())

	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := app.Service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for staging runs to complete", "active", status.Active)
			if err := app.Service.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("staging runs did not complete in time", "error", err)
			} else {
				slog.Info("all staging runs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		cancelJobs()
		return
	}
	<-done
}
