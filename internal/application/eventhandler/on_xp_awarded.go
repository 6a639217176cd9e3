// Package eventhandler contains the subscribers of domain events.
// Handlers run after the producing transaction has committed; their failures
// never affect the ledger.
package eventhandler

import (
	"context"
	"log/slog"
	"time"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON XP AWARDED HANDLER
// Keeps the cached XP ranking in step with the ledger and counts entries.
// ═══════════════════════════════════════════════════════════════════════════

// LeaderboardUpdater writes a user's total into the cached ranking.
type LeaderboardUpdater interface {
	// UpdateXP reports whether the ranking was warm.
	UpdateXP(ctx context.Context, userID string, xpTotal int) (bool, error)
}

// LedgerRecorder receives ledger activity for metrics.
type LedgerRecorder interface {
	RecordLedgerEntry(sourceType string, amount int)
	RecordLeaderboardUpdate(warm bool)
	RecordInvariantViolation(detector string)
}

// OnXPAwardedHandler handles XPAwardedEvent.
type OnXPAwardedHandler struct {
	leaderboard LeaderboardUpdater
	recorder    LedgerRecorder
	logger      *slog.Logger
	timeout     time.Duration
}

// NewOnXPAwardedHandler creates a new handler. leaderboard and recorder may be nil.
func NewOnXPAwardedHandler(leaderboard LeaderboardUpdater, recorder LedgerRecorder, logger *slog.Logger) *OnXPAwardedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnXPAwardedHandler{
		leaderboard: leaderboard,
		recorder:    recorder,
		logger:      logger.With("handler", "on_xp_awarded"),
		timeout:     2 * time.Second,
	}
}

// Handle implements shared.EventHandler. It reads the payload map, so it
// also accepts events relayed from other instances.
func (h *OnXPAwardedHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventXPAwarded {
		return nil
	}

	payload := event.Payload()
	userID := payloadString(payload, "user_id")
	amount := payloadInt(payload, "amount")
	balance := payloadInt(payload, "balance_after")
	sourceType := payloadString(payload, "source_type")

	if userID == "" {
		h.logger.Warn("xp awarded event without user id", "aggregate_id", event.AggregateID())
		return nil
	}

	if h.recorder != nil {
		h.recorder.RecordLedgerEntry(sourceType, amount)
	}

	if h.leaderboard == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	warm, err := h.leaderboard.UpdateXP(ctx, userID, balance)
	if err != nil {
		return err
	}
	if h.recorder != nil {
		h.recorder.RecordLeaderboardUpdate(warm)
	}

	h.logger.Debug("leaderboard updated", "user_id", userID, "xp_total", balance, "warm", warm)
	return nil
}

// payloadString reads a string value.
func payloadString(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

// payloadInt reads a number. Local events carry Go integers; events relayed
// through JSON carry float64.
func payloadInt(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
