// Package command contains write operations (CQRS - Commands).
// Commands change the state of the system; every XP change goes through
// XPLedger so the cached balance always equals the ledger sum.
package command

import (
	"context"
	"fmt"

	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP LEDGER
// The only writer of a user's XP balance.
// ══════════════════════════════════════════════════════════════════════════════

// XPLedger appends ledger entries and keeps users.xp_total in step.
type XPLedger struct {
	tx             shared.Transactor
	accounts       ledger.AccountRepository
	entries        ledger.EntryRepository
	eventPublisher shared.EventPublisher
	log            *logger.Logger
}

// NewXPLedger creates a new XPLedger.
func NewXPLedger(
	tx shared.Transactor,
	accounts ledger.AccountRepository,
	entries ledger.EntryRepository,
	eventPublisher shared.EventPublisher,
	log *logger.Logger,
) *XPLedger {
	if log == nil {
		log = logger.Default()
	}
	return &XPLedger{
		tx:             tx,
		accounts:       accounts,
		entries:        entries,
		eventPublisher: eventPublisher,
		log:            log.With(logger.Component("xp_ledger")),
	}
}

// Award applies a signed XP change. It joins the transaction carried by ctx,
// if any; the XPAwarded event is published once that transaction commits.
func (l *XPLedger) Award(ctx context.Context, req ledger.AwardRequest) (*ledger.Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("xp_ledger: %w", err)
	}

	var entry *ledger.Entry
	err := l.tx.WithinTx(ctx, func(ctx context.Context) error {
		account, err := l.accounts.LockAccount(ctx, req.UserID)
		if err != nil {
			return err
		}

		last, err := l.entries.LastEntry(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("failed to read last ledger entry: %w", err)
		}

		expected := 0
		if last != nil {
			expected = last.BalanceAfter
		}
		if expected != account.XPTotal {
			l.reportMismatch(req, account.XPTotal, expected)
			return shared.WrapError("ledger", "Award", shared.ErrInvariantViolation,
				fmt.Sprintf("xp_total %d does not match last balance_after %d", account.XPTotal, expected),
				shared.ErrLedgerBalanceMismatch)
		}

		if !shared.XPInRange(account.XPTotal + req.Amount) {
			return shared.NewDomainError("ledger", "Award", shared.ErrValidation, "resulting xp balance is out of range")
		}

		e := &ledger.Entry{
			UserID:       req.UserID,
			XPChange:     req.Amount,
			BalanceAfter: account.XPTotal + req.Amount,
			SourceType:   req.SourceType,
			SourceID:     req.SourceID,
			Reason:       req.Reason,
		}
		if err := l.entries.Append(ctx, e); err != nil {
			return err
		}
		if err := l.accounts.SetBalance(ctx, req.UserID, e.BalanceAfter); err != nil {
			return err
		}

		entry = e
		shared.AfterCommit(ctx, func() { l.published(e) })
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("xp_ledger: %w", err)
	}

	return entry, nil
}

// Deduct removes XP. amount is the positive number of points to remove.
func (l *XPLedger) Deduct(ctx context.Context, req ledger.AwardRequest) (*ledger.Entry, error) {
	req.Amount = -req.Amount
	return l.Award(ctx, req)
}

func (l *XPLedger) published(e *ledger.Entry) {
	event := shared.NewXPAwardedEvent(
		e.UserID.String(),
		e.ID,
		e.XPChange,
		e.BalanceAfter,
		e.SourceType.String(),
		e.SourceIDString(),
	)
	if err := l.eventPublisher.Publish(event); err != nil {
		l.log.Warn("failed to publish xp awarded event",
			logger.UserID(e.UserID.String()),
			logger.Err(err),
		)
	}

	l.log.Info("xp applied",
		logger.UserID(e.UserID.String()),
		logger.XPAmount(e.XPChange),
		logger.Int("balance_after", e.BalanceAfter),
		logger.String("source_type", e.SourceType.String()),
	)
}

// reportMismatch is called with the transaction about to roll back, so the
// event goes out immediately.
func (l *XPLedger) reportMismatch(req ledger.AwardRequest, xpTotal, ledgerBalance int) {
	l.log.Error("ledger balance mismatch, award aborted",
		logger.UserID(req.UserID.String()),
		logger.Int("xp_total", xpTotal),
		logger.Int("ledger_balance", ledgerBalance),
		logger.XPAmount(req.Amount),
	)

	event := shared.NewLedgerInvariantViolatedEvent(req.UserID.String(), xpTotal, ledgerBalance, "award")
	if err := l.eventPublisher.Publish(event); err != nil {
		l.log.Warn("failed to publish invariant violation", logger.Err(err))
	}
}
