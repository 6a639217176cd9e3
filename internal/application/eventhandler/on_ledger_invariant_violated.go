package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON LEDGER INVARIANT VIOLATED HANDLER
// A user's cached XP total disagrees with the ledger. Nothing is repaired
// automatically: the handler alerts and stops serving the suspect ranking.
// ═══════════════════════════════════════════════════════════════════════════

// LeaderboardInvalidator drops the cached ranking.
type LeaderboardInvalidator interface {
	Invalidate(ctx context.Context) error
}

// OnLedgerInvariantViolatedHandler handles LedgerInvariantViolatedEvent.
type OnLedgerInvariantViolatedHandler struct {
	leaderboard LeaderboardInvalidator
	recorder    LedgerRecorder
	logger      *slog.Logger
}

// NewOnLedgerInvariantViolatedHandler creates a new handler. leaderboard and
// recorder may be nil.
func NewOnLedgerInvariantViolatedHandler(leaderboard LeaderboardInvalidator, recorder LedgerRecorder, logger *slog.Logger) *OnLedgerInvariantViolatedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnLedgerInvariantViolatedHandler{
		leaderboard: leaderboard,
		recorder:    recorder,
		logger:      logger.With("handler", "on_ledger_invariant_violated"),
	}
}

// Handle implements shared.EventHandler.
func (h *OnLedgerInvariantViolatedHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventLedgerInvariantViolated {
		return nil
	}

	payload := event.Payload()
	detector := payloadString(payload, "detector")

	h.logger.Error("ledger invariant violated",
		"user_id", payloadString(payload, "user_id"),
		"xp_total", payloadInt(payload, "xp_total"),
		"ledger_sum", payloadInt(payload, "ledger_sum"),
		"detector", detector,
	)

	if h.recorder != nil {
		h.recorder.RecordInvariantViolation(detector)
	}

	if h.leaderboard == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.leaderboard.Invalidate(ctx)
}

// Subscribe registers the handlers on the bus. Nil handlers are skipped.
func Subscribe(bus shared.EventSubscriber, xp *OnXPAwardedHandler, violations *OnLedgerInvariantViolatedHandler) error {
	if xp != nil {
		if err := bus.Subscribe(shared.EventXPAwarded, xp.Handle); err != nil {
			return err
		}
	}
	if violations != nil {
		if err := bus.Subscribe(shared.EventLedgerInvariantViolated, violations.Handle); err != nil {
			return err
		}
	}
	return nil
}
