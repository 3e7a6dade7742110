package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/pathos/service/config"
	"github.com/brojonat/pathos/service/metrics"
	"github.com/brojonat/pathos/service/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("configuration loaded",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"model", cfg.Relay.Model,
	)

	if err := cfg.Relay.Validate(); err != nil {
		logger.Error("invalid relay configuration", "error", err)
		os.Exit(1)
	}

	// Prometheus registry with Go runtime and process collectors
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsCollector := metrics.NewMetrics(registry)

	// Event streaming is optional
	var events *server.EventStream
	if cfg.NATSURL != "" {
		var err error
		events, err = server.NewEventStream(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to initialize event stream", "error", err)
			os.Exit(1)
		}
	}

	httpServer := server.New(cfg.ServerAddr, cfg.Relay, cfg.SolanaNetwork, events, metricsCollector, logger).
		WithGatherer(registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
