package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/app"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/config"
	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/logging"
)

var version = "dev"
var appName = "knmi-retrieve"

func main() {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE_PATH"))
	if envFile == "" {
		envFile = ".env"
	}
	loaded, err := config.LoadEnvFile(envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
		"env_file", envFile,
		"env_file_loaded", loaded,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, logger, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}

	slog.Info("shutting down")
}
