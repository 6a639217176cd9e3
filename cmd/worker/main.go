// Package main is the entry point of the LearnFi Hub background worker.
//
// The worker runs the scheduled ledger jobs:
//   - reconcile_ledger compares every user's xp_total with the sum of the
//     ledger and reports mismatches
//   - rebuild_leaderboard rewarms the cached XP ranking
//
// Reconciliation findings are published as LedgerInvariantViolated events;
// with the redis event bus the API instances receive them as well.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/learnfi/learnfi-hub/config"
	"github.com/learnfi/learnfi-hub/internal/bootstrap"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/metrics"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/persistence/redis"
	"github.com/learnfi/learnfi-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log, slogLog := bootstrap.NewLoggers(cfg)
	log = log.With(logger.Component("worker"))
	slogLog = slogLog.With("component", "worker")

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled, nothing to do")
		return nil
	}
	if cfg.Database.Driver == config.StorageMemory {
		log.Warn("worker started with memory storage; it cannot see the API's data")
	}

	log.Info("starting LearnFi Hub worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.Duration("reconcile_interval", cfg.Scheduler.ReconcileInterval),
		logger.Duration("rebuild_interval", cfg.Scheduler.RebuildLeaderboardInterval),
	)
	log.Info("feature flags", bootstrap.FeatureFields(cfg.Features)...)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	storage, err := bootstrap.OpenStorage(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing storage")
		storage.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	cache, err := bootstrap.OpenRedis(ctx, cfg, log)
	if err != nil {
		return err
	}
	var leaderboardCache *redis.LeaderboardCache
	if cache != nil {
		defer cache.Close()
		if cfg.Features.IsEnabled(config.FeatureLeaderboardCache, nil) {
			leaderboardCache = redis.NewLeaderboardCache(cache)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. METRICS AND EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	var m *metrics.Metrics
	if cfg.Observability.MetricsEnabled {
		m = metrics.New()
	}

	bus, err := bootstrap.NewEventBus(cfg.EventBus, cache, slogLog, m)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer func() {
		log.Info("closing event bus")
		if err := bus.Close(); err != nil {
			log.Error("event bus close failed", logger.Err(err))
		}
	}()

	if err := bootstrap.SubscribeEventHandlers(bus, leaderboardCache, m, slogLog); err != nil {
		return fmt.Errorf("failed to subscribe event handlers: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched, err := bootstrap.NewScheduler(cfg, storage, bus, leaderboardCache, m, slogLog)
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// Warm the ranking immediately instead of waiting a full interval.
	if leaderboardCache != nil {
		if _, err := sched.RunNow(ctx, "rebuild_leaderboard"); err != nil {
			log.Warn("initial leaderboard rebuild failed", logger.Err(err))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. METRICS ENDPOINT
	// ─────────────────────────────────────────────────────────────────────────
	var metricsServer *http.Server
	metricsErr := make(chan error, 1)
	if m != nil && cfg.Observability.WorkerMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", m.Handler())
		mux.HandleFunc("GET /live", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		metricsServer = &http.Server{
			Addr:              cfg.Observability.WorkerMetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("serving worker metrics", logger.String("address", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				metricsErr <- err
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SIGNALS AND GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err := <-metricsErr:
		log.Error("metrics endpoint failed", logger.Err(err))
	case <-ctx.Done():
	}

	log.Info("stopping scheduler", logger.Duration("timeout", cfg.App.ShutdownTimeout))
	var shutdownErr error
	if err := sched.Stop(); err != nil {
		log.Error("scheduler stop failed", logger.Err(err))
		shutdownErr = err
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics endpoint shutdown failed", logger.Err(err))
		}
	}

	log.Info("worker stopped")
	return shutdownErr
}
