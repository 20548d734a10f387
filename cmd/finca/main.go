// CLAUDE:SUMMARY CLI entry point for the finca crawler daemon: flags, logging, config, signal handling.
// Command finca is the incremental property-listing crawler daemon.
//
// Usage:
//
//	finca -config finca.yaml                # run the crawler
//	finca -config finca.yaml -env prod.env  # with an explicit secrets file
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/hazyhaar/finca"
	"github.com/hazyhaar/finca/config"
)

func main() {
	configPath := flag.String("config", "finca.yaml", "path to the YAML config file")
	envPath := flag.String("env", "", "path to a .env secrets file (default: ./.env when present)")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		slog.Error("finca: config", "error", err)
		os.Exit(1)
	}
	sec, err := config.LoadSecrets(*envPath)
	if err != nil {
		slog.Error("finca: secrets", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := finca.New(cfg, sec, logger)
	if err != nil {
		logger.Error("finca: setup", "error", err)
		os.Exit(1)
	}
	if err := svc.Run(ctx); err != nil {
		logger.Error("finca: fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("finca: stopped")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
}
