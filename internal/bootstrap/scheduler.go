package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/learnfi/learnfi-hub/config"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/metrics"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/persistence/redis"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/scheduler"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/scheduler/jobs"
)

// NewScheduler creates the background scheduler with the ledger jobs the
// configuration enables. The scheduler is returned unstarted. leaderboard and
// m may be nil; without a leaderboard cache there is nothing to rebuild.
func NewScheduler(
	cfg *config.Config,
	storage *Storage,
	publisher shared.EventPublisher,
	leaderboard *redis.LeaderboardCache,
	m *metrics.Metrics,
	log *slog.Logger,
) (*scheduler.Scheduler, error) {
	schedCfg := scheduler.DefaultSchedulerConfig()
	schedCfg.Logger = log
	schedCfg.Timezone = cfg.App.Location
	schedCfg.StopTimeout = cfg.App.ShutdownTimeout
	if m != nil {
		schedCfg.Observer = m
	}

	sched, err := scheduler.NewScheduler(schedCfg)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	if cfg.Features.IsEnabled(config.FeatureLedgerReconcile, nil) {
		reconcileCfg := jobs.DefaultReconcileLedgerConfig()
		if cfg.Scheduler.JobTimeout > 0 {
			reconcileCfg.Timeout = cfg.Scheduler.JobTimeout
		}
		job := jobs.NewReconcileLedgerJob(storage.Entries, publisher, log, reconcileCfg)
		if err := sched.Register(job, scheduler.NewIntervalSchedule(cfg.Scheduler.ReconcileInterval)); err != nil {
			return nil, err
		}
	} else {
		log.Info("ledger reconciliation disabled by feature flag")
	}

	if leaderboard != nil {
		rebuildCfg := jobs.DefaultRebuildLeaderboardConfig()
		if cfg.Scheduler.JobTimeout > 0 {
			rebuildCfg.Timeout = cfg.Scheduler.JobTimeout
		}
		job := jobs.NewRebuildLeaderboardJob(storage.Accounts, leaderboard, log, rebuildCfg)
		if err := sched.Register(job, scheduler.NewIntervalSchedule(cfg.Scheduler.RebuildLeaderboardInterval)); err != nil {
			return nil, err
		}
	}

	return sched, nil
}
