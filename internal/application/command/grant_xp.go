package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRANT XP COMMAND
// Manual adjustment of a user's XP by an administrator.
// ══════════════════════════════════════════════════════════════════════════════

// GrantXPCommand grants (positive Amount) or deducts (negative Amount) XP.
type GrantXPCommand struct {
	Actor  shared.Actor
	UserID uuid.UUID
	Amount int
	Reason string
}

// Validate validates the command.
func (c GrantXPCommand) Validate() error {
	if c.Actor.IsZero() {
		return shared.NewDomainError("ledger", "Grant", shared.ErrUnauthorized, "authentication required")
	}
	if !c.Actor.IsAdmin() {
		return shared.NewDomainError("ledger", "Grant", shared.ErrForbidden, "only admins can adjust xp")
	}
	if c.UserID == uuid.Nil {
		return shared.NewDomainError("ledger", "Grant", shared.ErrInvalidID, "user id is required")
	}
	if c.Amount == 0 {
		return shared.ErrZeroAmount
	}
	return nil
}

// GrantXPResult contains the resulting ledger entry.
type GrantXPResult struct {
	Entry *ledger.Entry
}

// GrantXPHandler handles the GrantXPCommand.
type GrantXPHandler struct {
	ledger *XPLedger
}

// NewGrantXPHandler creates a new GrantXPHandler.
func NewGrantXPHandler(xpLedger *XPLedger) *GrantXPHandler {
	return &GrantXPHandler{ledger: xpLedger}
}

// Handle executes the grant.
func (h *GrantXPHandler) Handle(ctx context.Context, cmd GrantXPCommand) (*GrantXPResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("grant_xp: %w", err)
	}

	req := ledger.AwardRequest{
		UserID:     cmd.UserID,
		Amount:     cmd.Amount,
		SourceType: ledger.SourceAdminGrant,
	}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		req.Reason = &reason
	}

	var (
		entry *ledger.Entry
		err   error
	)
	if cmd.Amount > 0 {
		entry, err = h.ledger.Award(ctx, req)
	} else {
		req.Amount = -cmd.Amount
		req.SourceType = ledger.SourceAdminDeduction
		entry, err = h.ledger.Deduct(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("grant_xp: %w", err)
	}

	return &GrantXPResult{Entry: entry}, nil
}
