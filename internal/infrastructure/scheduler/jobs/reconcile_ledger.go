// Package jobs contains the scheduled jobs of LearnFi Hub.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE LEDGER JOB
// Compares every user's cached XP total with the sum of their ledger entries.
// Mismatches are reported, never repaired: the ledger is append-only and a
// wrong total needs a human to decide which side is correct.
// ══════════════════════════════════════════════════════════════════════════════

// DetectorReconcile identifies violations found by this job.
const DetectorReconcile = "reconcile"

// ReconcileLedgerJob reports balance mismatches.
type ReconcileLedgerJob struct {
	entries   ledger.EntryRepository
	publisher shared.EventPublisher
	logger    *slog.Logger
	config    ReconcileLedgerConfig

	lastStats atomic.Value // *ReconcileStats
}

// ReconcileLedgerConfig contains configuration for the reconcile job.
type ReconcileLedgerConfig struct {
	// Timeout is the maximum duration of one run.
	Timeout time.Duration
}

// DefaultReconcileLedgerConfig returns sensible defaults.
func DefaultReconcileLedgerConfig() ReconcileLedgerConfig {
	return ReconcileLedgerConfig{
		Timeout: 2 * time.Minute,
	}
}

// ReconcileStats contains statistics from a run.
type ReconcileStats struct {
	StartedAt     time.Time
	Duration      time.Duration
	Discrepancies []ledger.Discrepancy
}

// NewReconcileLedgerJob creates a new reconcile job. publisher may be nil.
func NewReconcileLedgerJob(
	entries ledger.EntryRepository,
	publisher shared.EventPublisher,
	logger *slog.Logger,
	config ReconcileLedgerConfig,
) *ReconcileLedgerJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileLedgerJob{
		entries:   entries,
		publisher: publisher,
		logger:    logger.With("job", "reconcile_ledger"),
		config:    config,
	}
}

// Name returns the job name.
func (j *ReconcileLedgerJob) Name() string {
	return "reconcile_ledger"
}

// Description returns a human-readable description.
func (j *ReconcileLedgerJob) Description() string {
	return "Reports users whose cached XP total differs from their ledger sum"
}

// Run executes the reconciliation.
func (j *ReconcileLedgerJob) Run(ctx context.Context) error {
	startedAt := time.Now()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	found, err := j.entries.Discrepancies(ctx)
	if err != nil {
		return fmt.Errorf("reconcile_ledger: %w", err)
	}

	for _, d := range found {
		j.logger.Error("ledger invariant violated",
			"user_id", d.UserID.String(),
			"xp_total", d.XPTotal,
			"ledger_sum", d.LedgerSum,
		)
		if j.publisher == nil {
			continue
		}
		event := shared.NewLedgerInvariantViolatedEvent(d.UserID.String(), d.XPTotal, d.LedgerSum, DetectorReconcile)
		if err := j.publisher.Publish(event); err != nil {
			j.logger.Warn("failed to publish violation", "user_id", d.UserID.String(), "error", err)
		}
	}

	stats := &ReconcileStats{
		StartedAt:     startedAt,
		Duration:      time.Since(startedAt),
		Discrepancies: found,
	}
	j.lastStats.Store(stats)

	j.logger.Info("reconcile_ledger completed",
		"duration", stats.Duration.String(),
		"discrepancies", len(found),
	)
	return nil
}

// LastStats returns the statistics of the most recent run, or nil.
func (j *ReconcileLedgerJob) LastStats() *ReconcileStats {
	stats, _ := j.lastStats.Load().(*ReconcileStats)
	return stats
}
