// Tally - versioned tax and fee rules with deal-level rollups.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dealstack/tally/internal/api"
	"github.com/dealstack/tally/internal/bus"
	"github.com/dealstack/tally/internal/cache"
	"github.com/dealstack/tally/internal/catalog"
	"github.com/dealstack/tally/internal/domain"
	"github.com/dealstack/tally/internal/engine"
	"github.com/dealstack/tally/internal/override"
	"github.com/dealstack/tally/internal/repository"
	"github.com/dealstack/tally/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("TALLY_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting tally",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("TALLY_CLUSTER") == "true" {
		cfg = domain.ClusterConfig()
		slog.Info("running in cluster mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"async_rollup", cfg.AsyncRollup,
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

	// Initialize services
	catalogSvc := catalog.New(repo, cacheImpl, catalog.WithSnapshotTTL(cfg.Cache.LocalTTL))
	evaluator := engine.New(catalogSvc, repo, busImpl)
	overrideMgr := override.New(repo, busImpl)
	slog.Info("evaluation pipeline initialized")

	// Initialize async rollup worker
	var rollupWorker *worker.Worker
	if cfg.AsyncRollup || os.Getenv("TALLY_ASYNC_ROLLUP") == "true" {
		rollupWorker = worker.NewWorker(busImpl, repo, cacheImpl)

		var tenantIDs []string
		if envTenants := os.Getenv("TALLY_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		if err := rollupWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start rollup worker", "error", err)
		} else {
			slog.Info("rollup worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, catalogSvc, evaluator, overrideMgr, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("tally is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop rollup worker first
	if rollupWorker != nil {
		if err := rollupWorker.Stop(); err != nil {
			slog.Error("failed to stop rollup worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("tally shutdown complete")
}

// applyEnvOverrides layers TALLY_* environment settings on the config.
func applyEnvOverrides(cfg *domain.Config) {
	if port := os.Getenv("TALLY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if path := os.Getenv("TALLY_SQLITE_PATH"); path != "" {
		cfg.Repository.SQLitePath = path
	}
	if host := os.Getenv("TALLY_POSTGRES_HOST"); host != "" {
		cfg.Repository.PostgresHost = host
	}
	if user := os.Getenv("TALLY_POSTGRES_USER"); user != "" {
		cfg.Repository.PostgresUser = user
	}
	if pass := os.Getenv("TALLY_POSTGRES_PASSWORD"); pass != "" {
		cfg.Repository.PostgresPassword = pass
	}
	if db := os.Getenv("TALLY_POSTGRES_DB"); db != "" {
		cfg.Repository.PostgresDB = db
	}
	if addr := os.Getenv("TALLY_REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if url := os.Getenv("TALLY_NATS_URL"); url != "" {
		cfg.EventBus.NATSUrl = url
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  Tally - Tax & Fee Rule Engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /regimes               - Create a regime")
	fmt.Println("    GET  /regimes               - List regimes")
	fmt.Println("    POST /regimes/{id}/rules    - Append a rule version")
	fmt.Println("    GET  /regimes/{id}/rules    - List rule versions")
	fmt.Println("    GET  /rules/{id}            - Fetch a rule version")
	fmt.Println("    GET  /rules/{id}/lines      - List rule lines")
	fmt.Println("    POST /deals/{id}/units      - Attach a unit to a deal")
	fmt.Println("    POST /deals/{id}/preview    - Preview fees for a deal")
	fmt.Println("    POST /deals/{id}/commit     - Commit fees (exactly once)")
	fmt.Println("    GET  /deals/{id}/fees       - List committed fees")
	fmt.Println("    GET  /deals/{id}/stamp      - Committed rule version stamp")
	fmt.Println("    GET  /deals/{id}/totals     - Deal financial rollup")
	fmt.Println("    POST /fees/{id}/override    - Override a committed fee")
	fmt.Println("    GET  /health                - Health check")
	fmt.Println()
}
