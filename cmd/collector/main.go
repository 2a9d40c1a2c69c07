// Command collector is the BruteGuard collector binary. It opens a
// PostgreSQL connection pool, applies the schema, starts the block expiry
// reconciler, and serves the HTTP API (ingestion, queries, block management,
// and the live SSE feed) until SIGTERM or SIGINT.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bruteguard/bruteguard/internal/server/detect"
	"github.com/bruteguard/bruteguard/internal/server/feed"
	"github.com/bruteguard/bruteguard/internal/server/rest"
	"github.com/bruteguard/bruteguard/internal/server/storage"
)

// collectorConfig holds the parsed runtime configuration. Flags take
// precedence; the DB_DSN, API_PORT and JWT_SECRET environment variables fill
// the gaps so secrets stay out of process listings.
type collectorConfig struct {
	HTTPAddr  string
	DSN       string
	JWTSecret string
	LogLevel  string
}

func main() {
	var cfg collectorConfig

	flag.StringVar(&cfg.HTTPAddr, "http-addr", "", "HTTP API listener address (defaults to :$API_PORT, then :3000)")
	flag.StringVar(&cfg.DSN, "dsn", "", "PostgreSQL DSN (defaults to $DB_DSN)")
	flag.StringVar(&cfg.JWTSecret, "jwt-secret", "", "HS256 secret guarding mutating API routes (defaults to $JWT_SECRET; empty disables auth)")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug | info | warn | error")
	flag.Parse()

	if cfg.HTTPAddr == "" {
		if port := os.Getenv("API_PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":3000"
		}
	}
	if cfg.DSN == "" {
		cfg.DSN = os.Getenv("DB_DSN")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = os.Getenv("JWT_SECRET")
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.DSN == "" {
		logger.Error("no PostgreSQL DSN configured; set -dsn or $DB_DSN")
		os.Exit(1)
	}

	logger.Info("bruteguard collector starting",
		slog.String("http_addr", cfg.HTTPAddr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(ctx, cfg.DSN)
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to apply schema", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("PostgreSQL storage ready")

	hub := feed.NewHub(logger, 0)
	defer hub.Close()

	adapter := &detect.LogAdapter{Logger: logger}
	manager := detect.NewManager(store, adapter, logger)
	engine := detect.NewEngine(store, manager, logger)

	go manager.RunExpiry(ctx, detect.DefaultSweepInterval)

	var secret []byte
	if cfg.JWTSecret != "" {
		secret = []byte(cfg.JWTSecret)
		logger.Info("API authentication enabled on mutating routes")
	} else {
		logger.Warn("JWT secret not configured; mutating API routes are open")
	}

	srv := rest.NewServer(store, manager, engine, hub, logger)
	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     rest.NewRouter(srv, secret, logger),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", slog.Any("error", err))
	}

	logger.Info("bruteguard collector exited cleanly")
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
