// Kestrel - Hybrid rule + model fraud scoring for banking transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/kestrel/internal/alert"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Local .env is optional
	_ = godotenv.Load()

	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := loadConfig()

	slog.Info("configuration loaded",
		"history", cfg.History.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"model", cfg.Artifact.ModelPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Load the versioned artifact bundle. A model/encoder version
	// mismatch fails here, never at request time.
	bundle, err := artifact.Load(cfg.Artifact.ModelPath, cfg.Artifact.EncodersPath)
	if err != nil {
		slog.Error("failed to load artifact bundle", "error", err)
		os.Exit(1)
	}
	slog.Info("artifact bundle loaded",
		"version", bundle.Version,
		"classes", bundle.Model.NumClasses(),
	)

	// Initialize history store
	store, err := history.New(cfg.History)
	if err != nil {
		slog.Error("failed to initialize history store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("history store initialized", "driver", cfg.History.Driver)

	// Initialize cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize event bus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize heuristic engine
	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadHeuristics(engine, cfg.Artifact.RulesPath); err != nil {
		slog.Error("failed to load heuristics", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.Count())

	// Initialize audit logger
	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		slog.Error("failed to open audit log", "error", err)
		os.Exit(1)
	}
	defer auditLog.Close()

	// Initialize alert dispatcher
	alerts := alert.NewDispatcher(busImpl, cfg.Alert)
	defer alerts.Close()

	// Assemble the pipeline
	resolver := history.NewResolver(store, cacheImpl, cfg.Cache.LocalTTL)
	ranker := explain.NewRanker(bundle.Model, 3)

	p, err := pipeline.New(pipeline.Config{
		Resolver: resolver,
		Engine:   engine,
		Encoders: bundle.Encoders,
		Model:    bundle.Model,
		Ranker:   ranker,
		Audit:    auditLog,
		Alerts:   alerts,
		Scores:   store,
	})
	if err != nil {
		slog.Error("failed to assemble pipeline", "error", err)
		os.Exit(1)
	}

	// Initialize server
	srv := api.NewServer(cfg.Server, p, engine, store, cacheImpl, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadConfig builds the configuration from defaults plus env overrides.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_MODE") == "distributed" {
		cfg = domain.DistributedConfig()
		slog.Info("running in distributed mode")
	}

	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_DB_DRIVER"); v != "" {
		cfg.History.Driver = v
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.History.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_PG_HOST"); v != "" {
		cfg.History.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_PG_USER"); v != "" {
		cfg.History.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_PG_PASSWORD"); v != "" {
		cfg.History.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_PG_DB"); v != "" {
		cfg.History.PostgresDB = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.Type = "redis"
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.Type = "nats"
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_MODEL_PATH"); v != "" {
		cfg.Artifact.ModelPath = v
	}
	if v := os.Getenv("KESTREL_ENCODERS_PATH"); v != "" {
		cfg.Artifact.EncodersPath = v
	}
	if v := os.Getenv("KESTREL_RULES_PATH"); v != "" {
		cfg.Artifact.RulesPath = v
	}
	if v := os.Getenv("KESTREL_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}

	return cfg
}

// loadHeuristics loads the ordered heuristics: from a JSON file when
// configured, otherwise the built-in set.
func loadHeuristics(engine *rules.Engine, path string) error {
	if path == "" {
		return engine.LoadHeuristics(rules.Builtin())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}

	var hs []rules.Heuristic
	if err := json.Unmarshal(raw, &hs); err != nil {
		return fmt.Errorf("invalid rules file: %w", err)
	}

	slog.Info("loading heuristics from file", "path", path, "count", len(hs))
	return engine.LoadHeuristics(hs)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL - transaction fraud scoring")
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /score        - Score a transaction")
	fmt.Println("    GET  /scores/{id}  - Get a score result by ID")
	fmt.Println("    GET  /rules        - List loaded heuristics")
	fmt.Println("    GET  /health       - Health check")
	fmt.Println()
}
