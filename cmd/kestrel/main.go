// Kestrel - Continuous behavioral authentication engine.
// Copyright (c) 2025 behaviorsec
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/behaviorsec/kestrel/internal/api"
	"github.com/behaviorsec/kestrel/internal/assess"
	"github.com/behaviorsec/kestrel/internal/bus"
	"github.com/behaviorsec/kestrel/internal/cache"
	"github.com/behaviorsec/kestrel/internal/domain"
	"github.com/behaviorsec/kestrel/internal/manager"
	"github.com/behaviorsec/kestrel/internal/policy"
	"github.com/behaviorsec/kestrel/internal/profile"
	"github.com/behaviorsec/kestrel/internal/repository"
	"github.com/behaviorsec/kestrel/internal/scoring"
	"github.com/behaviorsec/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Local overrides from .env, ignored when absent
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

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if backend := os.Getenv("KESTREL_MODEL_BACKEND"); backend != "" {
		cfg.Model.Backend = backend
	}
	if path := os.Getenv("KESTREL_SQLITE_PATH"); path != "" {
		cfg.Repository.SQLitePath = path
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"model", cfg.Model.Backend,
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

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize behavioral pipeline
	store := profile.NewStore(cfg.Behavior.BufferSize, cfg.Behavior.AnomalyThreshold)
	scorer := scoring.New(cfg.Model)
	assessor := assess.NewProcessor(scorer)
	mgr := manager.New(store, scorer, assessor, busImpl, cacheImpl, cfg.Behavior)
	slog.Info("behavioral engine initialized",
		"buffer_size", cfg.Behavior.BufferSize,
		"anomaly_threshold", cfg.Behavior.AnomalyThreshold,
		"model_available", scorer.Available(),
	)

	// Rehydrate profiles persisted by previous runs
	if err := restoreProfiles(ctx, repo, store, scorer); err != nil {
		slog.Warn("failed to restore profiles", "error", err)
	}

	// Initialize access policy engine
	engine, err := policy.NewEngine()
	if err != nil {
		slog.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}
	if err := loadPoliciesFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load policies", "error", err)
		os.Exit(1)
	}
	slog.Info("policy engine initialized", "policy_count", engine.PolicyCount())

	// Start async persistence worker
	asyncWorker := worker.NewWorker(busImpl, repo, mgr)
	if err := asyncWorker.Start(worker.Config{
		SnapshotInterval: cfg.Behavior.SnapshotInterval,
	}); err != nil {
		slog.Error("failed to start worker", "error", err)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, mgr, engine, repo, cacheImpl, Version)

	// Start Server in goroutine
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

	// Stop worker first so in-flight events are persisted
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// restoreProfiles rehydrates the in-memory store from persisted snapshots
// and retrains models for users whose baseline was already established.
func restoreProfiles(ctx context.Context, repo domain.Repository, store *profile.Store, scorer *scoring.Scorer) error {
	profiles, err := repo.ListProfiles(ctx)
	if err != nil {
		return err
	}

	var trained int
	for _, p := range profiles {
		store.Restore(p)
		if p.BaselineEstablished {
			scorer.Train(p.UserID, p)
			trained++
		}
	}

	if len(profiles) > 0 {
		slog.Info("profiles restored",
			"profiles", len(profiles),
			"models_trained", trained,
		)
	}
	return nil
}

// loadPoliciesFromDatabase loads access policies from the database into the
// engine. A fresh install gets the built-in defaults, persisted so they can
// be edited via the API afterwards.
func loadPoliciesFromDatabase(ctx context.Context, repo domain.Repository, engine *policy.Engine) error {
	dbPolicies, err := repo.ListPolicies(ctx)
	if err != nil {
		slog.Warn("failed to list policies from database", "error", err)
		return engine.LoadPolicies(policy.DefaultPolicies())
	}

	if len(dbPolicies) > 0 {
		slog.Info("loading policies from database", "count", len(dbPolicies))
		return engine.LoadPolicies(dbPolicies)
	}

	slog.Info("no policies in database - installing defaults")
	defaults := policy.DefaultPolicies()
	for _, p := range defaults {
		if err := repo.SavePolicy(ctx, p); err != nil {
			slog.Warn("failed to persist default policy", "id", p.ID, "error", err)
		}
	}
	return engine.LoadPolicies(defaults)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║   Behavioral Authentication Engine        ║")
	fmt.Println("  ║      It knows how you type.               ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /behavior/keystrokes  - Ingest keyboard telemetry")
	fmt.Println("    POST /behavior/mouse       - Ingest mouse telemetry")
	fmt.Println("    POST /behavior/device      - Report a device snapshot")
	fmt.Println("    GET  /behavior/score       - Current security assessment")
	fmt.Println("    GET  /behavior/profile     - Behavioral profile")
	fmt.Println("    GET  /anomalies            - Recent anomalies")
	fmt.Println("    GET  /policies             - List access policies")
	fmt.Println("    POST /policies             - Create an access policy")
	fmt.Println("    POST /policies/reload      - Hot-reload policies")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println()
}
