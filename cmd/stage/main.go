// Command stage runs one staging request described by a YAML file and prints
// the report as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/keboola/platform-libraries-sub003/internal/application"
	"github.com/keboola/platform-libraries-sub003/internal/config"
	"github.com/keboola/platform-libraries-sub003/internal/core"
	"github.com/keboola/platform-libraries-sub003/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	requestPath := flag.String("request", "stage.yaml", "YAML file describing the tables to stage")
	statePath := flag.String("state", "", "input state file read before and written after the run")
	envFile := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	logging.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	file, err := loadRequestFile(*requestPath)
	if err != nil {
		slog.Error("invalid request", "error", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := application.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start staging service", "error", err)
		return 1
	}
	defer app.Close()

	req, err := file.toStagingRequest(app.Branch, app.Backend, cfg.Staging.Timeout)
	if err != nil {
		slog.Error("invalid request", "error", err)
		return 2
	}
	if req.InputState, err = loadState(*statePath); err != nil {
		slog.Error("invalid state", "error", err)
		return 2
	}

	report, runErr := app.Service.PlanAndExecute(ctx, req)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			slog.Error("failed to write report", "error", err)
		}
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, core.FormatUserError(runErr))
		return 1
	}

	if *statePath != "" {
		if err := saveState(*statePath, report.InputState); err != nil {
			slog.Error("failed to save state", "error", err)
			return 1
		}
	}
	return 0
}
