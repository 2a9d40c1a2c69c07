// Command agent is the BruteGuard host agent binary. It loads a YAML
// configuration file, opens the Windows Security event log, runs the
// watch/dedup/ship pipeline against the collector, exposes /healthz and
// /metrics endpoints, and shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bruteguard/bruteguard/internal/agent"
	"github.com/bruteguard/bruteguard/internal/config"
	"github.com/bruteguard/bruteguard/internal/eventlog"
	"github.com/bruteguard/bruteguard/internal/transport"
)

func main() {
	configPath := flag.String("config", "C:\\ProgramData\\BruteGuard\\config.yaml", "path to the agent YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bruteguard-agent: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.String("host_id", cfg.HostID),
		slog.String("collector_url", cfg.CollectorURL),
		slog.String("log_level", cfg.LogLevel),
	)

	log, err := eventlog.Open(eventlog.DefaultChannel, cfg.EventID)
	if err != nil {
		if errors.Is(err, eventlog.ErrUnsupported) {
			logger.Error("the agent reads the Windows Security event log and only runs on Windows")
		} else {
			logger.Error("failed to open event log", slog.Any("error", err))
		}
		os.Exit(1)
	}

	hostName, err := os.Hostname()
	if err != nil {
		logger.Warn("could not determine hostname", slog.Any("error", err))
	}

	metrics := transport.NewMetrics()
	shipper := transport.New(cfg.CollectorURL, logger, transport.WithMetrics(metrics))
	pipe := agent.New(cfg, log, shipper, hostName, logger, agent.WithMetrics(metrics))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeErrCh := make(chan error, 1)
	go func() {
		pipeErrCh <- pipe.Run(ctx)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"queue_depth": pipe.QueueDepth(),
		})
	})
	mux.Handle("/metrics", metrics.Handler())

	healthServer := &http.Server{
		Addr:         cfg.HealthAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("healthz server listening", slog.String("addr", cfg.HealthAddr))
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("healthz server error", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		if err := <-pipeErrCh; err != nil {
			logger.Error("pipeline stopped with error", slog.Any("error", err))
		}
	case err := <-pipeErrCh:
		if err != nil {
			logger.Error("pipeline failed", slog.Any("error", err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("healthz server shutdown error", slog.Any("error", err))
	}

	logger.Info("bruteguard agent exited cleanly")
}

// newLogger constructs a *slog.Logger that writes JSON-structured log records
// to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
