// Turnstile - tap-to-ride fare authorization for transit gates.
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

	"github.com/opensource-finance/turnstile/internal/api"
	"github.com/opensource-finance/turnstile/internal/bus"
	"github.com/opensource-finance/turnstile/internal/cache"
	"github.com/opensource-finance/turnstile/internal/domain"
	"github.com/opensource-finance/turnstile/internal/fare"
	"github.com/opensource-finance/turnstile/internal/fingerprint"
	"github.com/opensource-finance/turnstile/internal/gateway"
	"github.com/opensource-finance/turnstile/internal/journey"
	"github.com/opensource-finance/turnstile/internal/repository"
	"github.com/opensource-finance/turnstile/internal/risk"
	"github.com/opensource-finance/turnstile/internal/tap"
	"github.com/opensource-finance/turnstile/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting turnstile",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"risk_store", cfg.Risk.Type,
		"eventbus", cfg.EventBus.Type,
		"gateway", cfg.Gateway.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// Initialize Risk Store
	riskStore, err := cache.New(cfg.Risk, repo)
	if err != nil {
		slog.Error("failed to initialize risk store", "error", err)
		os.Exit(1)
	}
	defer closeRiskStore(riskStore)
	slog.Info("risk store initialized", "type", cfg.Risk.Type, "memo_size", cfg.Risk.LocalMemoSize)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	hasher, err := fingerprint.New([]byte(cfg.Fingerprint.Secret))
	if err != nil {
		slog.Error("failed to initialize fingerprinting", "error", err)
		os.Exit(1)
	}

	fares, err := fare.New(cfg.Fare)
	if err != nil {
		slog.Error("failed to initialize fare policy", "error", err)
		os.Exit(1)
	}
	slog.Info("fare policy initialized", "policy", fmt.Sprintf("%T", fares))

	gw, err := gateway.New(cfg.Gateway)
	if err != nil {
		slog.Error("failed to initialize payment gateway", "error", err)
		os.Exit(1)
	}
	slog.Info("payment gateway initialized", "type", cfg.Gateway.Type, "url", cfg.Gateway.URL)

	svc := tap.NewService(
		hasher,
		risk.NewPipeline(riskStore),
		journey.NewMatcher(repo),
		fares,
		gw,
		repo,
		busImpl,
		cfg.Fare.Currency,
	)

	// Initialize async Worker
	async := asyncEnabled(cfg, os.Getenv)
	var asyncWorker *worker.Worker
	if async {
		asyncWorker = worker.NewWorker(busImpl, svc, cfg.EventBus.NATSQueueGroup)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			os.Exit(1)
		}
		slog.Info("async worker started", "queue_group", cfg.EventBus.NATSQueueGroup)
	}

	srv := api.NewServer(cfg.Server, svc, repo, busImpl, async, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("turnstile is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"async", async,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// The worker drains after the server so no accepted tap is lost.
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
		stats := asyncWorker.GetStats()
		slog.Info("async worker stopped",
			"processed", stats.Processed,
			"rejected", stats.Rejected,
		)
	}

	slog.Info("turnstile shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func closeRiskStore(store domain.RiskStore) {
	if memo, ok := store.(*cache.MemoRiskStore); ok {
		store = memo.Unwrap()
	}
	if rs, ok := store.(*cache.RedisRiskStore); ok {
		if err := rs.Close(); err != nil {
			slog.Warn("failed to close redis risk store", "error", err)
		}
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  TURNSTILE - fare authorization for transit gates")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Gateway:  %s\n", cfg.Gateway.Type)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /taps       - Submit a tap (JSON or XML PaymentRequest)")
	fmt.Println("    GET  /taps/{id}  - Get a tap record by ID")
	fmt.Println("    GET  /health     - Health check")
	fmt.Println("    GET  /ready      - Readiness check")
	fmt.Println()
}
