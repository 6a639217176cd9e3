package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// Replaces the cached XP ranking with the current top accounts. XP awards
// keep a warm ranking current; this job warms it again after a violation
// invalidated it or the cache expired.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardWarmer replaces the cached ranking.
type LeaderboardWarmer interface {
	Warm(ctx context.Context, accounts []*ledger.Account) error
}

// RebuildLeaderboardJob rebuilds the cached ranking from the store.
type RebuildLeaderboardJob struct {
	accounts ledger.AccountRepository
	cache    LeaderboardWarmer
	logger   *slog.Logger
	config   RebuildLeaderboardConfig
}

// RebuildLeaderboardConfig contains configuration for the rebuild job.
type RebuildLeaderboardConfig struct {
	// Size is the number of accounts kept in the ranking.
	Size int

	// Timeout is the maximum duration for the rebuild operation.
	Timeout time.Duration
}

// DefaultRebuildLeaderboardConfig returns sensible defaults.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{
		Size:    shared.MaxPageLimit,
		Timeout: time.Minute,
	}
}

// NewRebuildLeaderboardJob creates a new rebuild leaderboard job.
func NewRebuildLeaderboardJob(
	accounts ledger.AccountRepository,
	cache LeaderboardWarmer,
	logger *slog.Logger,
	config RebuildLeaderboardConfig,
) *RebuildLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Size <= 0 {
		config.Size = shared.MaxPageLimit
	}
	return &RebuildLeaderboardJob{
		accounts: accounts,
		cache:    cache,
		logger:   logger.With("job", "rebuild_leaderboard"),
		config:   config,
	}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Rebuilds the cached XP leaderboard from account totals"
}

// Run executes the rebuild job.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	accounts, err := j.accounts.TopAccounts(ctx, j.config.Size)
	if err != nil {
		return fmt.Errorf("rebuild_leaderboard: load accounts: %w", err)
	}
	if err := j.cache.Warm(ctx, accounts); err != nil {
		return fmt.Errorf("rebuild_leaderboard: warm cache: %w", err)
	}

	j.logger.Info("leaderboard rebuilt", "accounts", len(accounts))
	return nil
}
