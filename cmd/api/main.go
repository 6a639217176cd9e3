// Package main is the entry point of the LearnFi Hub API server.
//
// The API accepts task submissions, runs auto-verification, records reviews
// and keeps the XP ledger. It sits behind the gateway, which authenticates
// callers and forwards their identity in headers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/learnfi/learnfi-hub/config"
	"github.com/learnfi/learnfi-hub/internal/application/command"
	"github.com/learnfi/learnfi-hub/internal/application/query"
	"github.com/learnfi/learnfi-hub/internal/bootstrap"
	"github.com/learnfi/learnfi-hub/internal/domain/verification"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/metrics"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/persistence/redis"
	httpapi "github.com/learnfi/learnfi-hub/internal/interface/http"
	"github.com/learnfi/learnfi-hub/internal/interface/http/handlers"
	"github.com/learnfi/learnfi-hub/pkg/logger"
)

// taskCacheTTL bounds how long a cached task definition is served.
const taskCacheTTL = 5 * time.Minute

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
	log = log.With(logger.Component("api"))
	log.Info("starting LearnFi Hub API",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("storage", cfg.Database.Driver),
		logger.String("event_bus", cfg.EventBus.Driver),
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
	if cache != nil {
		defer cache.Close()
	}

	var (
		taskReader       command.TaskReader = storage.Tasks
		taskInvalidator  command.TaskCacheInvalidator
		leaderboardCache *redis.LeaderboardCache
		leaderboardQuery query.LeaderboardCache
	)
	if cache != nil {
		taskCache := redis.NewTaskCache(cache, storage.Tasks, taskCacheTTL, slogLog)
		taskReader = taskCache
		taskInvalidator = taskCache

		if cfg.Features.IsEnabled(config.FeatureLeaderboardCache, nil) {
			leaderboardCache = redis.NewLeaderboardCache(cache)
			leaderboardQuery = leaderboardCache
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. METRICS AND EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	var (
		m        *metrics.Metrics
		observer command.AutoVerifyObserver
	)
	if cfg.Observability.MetricsEnabled {
		m = metrics.New()
		observer = m
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

	// The worker cannot reach an in-process store, so the API runs the jobs.
	if storage.Driver == config.StorageMemory && cfg.Scheduler.Enabled {
		sched, err := bootstrap.NewScheduler(cfg, storage, bus, leaderboardCache, m, slogLog)
		if err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			if err := sched.Stop(); err != nil {
				log.Error("scheduler stop failed", logger.Err(err))
			}
		}()
		log.Info("running scheduled jobs in process")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. APPLICATION HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	xpLedger := command.NewXPLedger(storage.Tx, storage.Accounts, storage.Entries, bus, log)

	deps := httpapi.Dependencies{
		SubmitTask: command.NewSubmitTaskHandler(
			storage.Tx, taskReader, storage.Submissions, xpLedger,
			verification.NewEngine(), bus, observer, log,
			command.SubmitTaskHandlerConfig{
				AutoVerifyEnabled: cfg.Features.IsEnabled(config.FeatureAutoVerify, nil),
			},
		),
		ReviewSubmission: command.NewReviewSubmissionHandler(storage.Tx, taskReader, storage.Submissions, xpLedger, bus, log),
		Tasks:            command.NewTaskHandler(storage.Tx, storage.Tasks, taskInvalidator, log),
		GrantXP:          command.NewGrantXPHandler(xpLedger),

		GetTask:             query.NewGetTaskHandler(taskReader),
		GetCourseTasks:      query.NewGetCourseTasksHandler(storage.Tasks, storage.Submissions),
		GetSubmission:       query.NewGetSubmissionHandler(storage.Submissions, taskReader),
		ListUserSubmissions: query.NewListUserSubmissionsHandler(storage.Submissions),
		ListPending:         query.NewListPendingHandler(storage.Submissions, taskReader),
		ListLedger:          query.NewListLedgerHandler(storage.Accounts, storage.Entries),
		GetLeaderboard:      query.NewGetLeaderboardHandler(storage.Accounts, leaderboardQuery, log),

		Features:      cfg.Features,
		Metrics:       m,
		Logger:        log,
		HealthChecker: healthChecker(cfg, storage, cache),
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverCfg := httpapi.DefaultConfig()
	serverCfg.Host = cfg.HTTP.Host
	serverCfg.Port = cfg.HTTP.Port
	serverCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	serverCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	serverCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	serverCfg.RateLimit = cfg.HTTP.RateLimit
	serverCfg.RateLimitBurst = cfg.HTTP.RateLimitBurst
	serverCfg.GatewayToken = cfg.HTTP.GatewayToken

	server := httpapi.NewServer(serverCfg, deps)
	errCh := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SIGNALS AND GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", logger.String("signal", sig.String()))
	case err, ok := <-errCh:
		if ok && err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", logger.Err(err))
		return err
	}

	log.Info("shutdown completed", logger.Duration("uptime", server.Uptime()))
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func healthChecker(cfg *config.Config, storage *bootstrap.Storage, cache *redis.Cache) handlers.HealthChecker {
	checker := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if storage.DB != nil {
		checker.AddDetailedCheck("database", handlers.NewDatabaseCheck(storage.DB))
	}
	if cache != nil {
		checker.AddOptionalCheck("redis", handlers.NewCacheCheck(cache))
	}
	return checker
}
