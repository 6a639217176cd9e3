// Package ledger contains the append-only XP ledger and the account view of a
// user's cached XP balance.
package ledger

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SOURCE TYPES
// ══════════════════════════════════════════════════════════════════════════════

// SourceType classifies why XP changed.
type SourceType string

const (
	SourceTaskCompletion   SourceType = "task_completion"
	SourceCourseCompletion SourceType = "course_completion"
	SourceAdminGrant       SourceType = "admin_grant"
	SourceAdminDeduction   SourceType = "admin_deduction"
	SourceBounty           SourceType = "bounty"
)

// IsValid checks that the source type is known.
func (s SourceType) IsValid() bool {
	switch s {
	case SourceTaskCompletion, SourceCourseCompletion, SourceAdminGrant, SourceAdminDeduction, SourceBounty:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (s SourceType) String() string {
	return string(s)
}

// MaxReasonLength bounds the free-form reason of an entry.
const MaxReasonLength = 200

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY
// ══════════════════════════════════════════════════════════════════════════════

// Entry is one immutable ledger row. BalanceAfter is the user's running
// total once XPChange has been applied.
type Entry struct {
	ID           int64
	UserID       uuid.UUID
	XPChange     int
	BalanceAfter int
	SourceType   SourceType
	SourceID     *uuid.UUID
	Reason       *string
	CreatedAt    time.Time
}

// SourceIDString returns the source id or an empty string.
func (e *Entry) SourceIDString() string {
	if e.SourceID == nil {
		return ""
	}
	return e.SourceID.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT
// ══════════════════════════════════════════════════════════════════════════════

// Account is the partial user view the ledger owns: identity, role and the
// cached XP total.
type Account struct {
	UserID  uuid.UUID
	Role    shared.Role
	XPTotal int
}

// Discrepancy is a user whose cached total disagrees with the sum of their
// ledger entries.
type Discrepancy struct {
	UserID    uuid.UUID
	XPTotal   int
	LedgerSum int
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD REQUEST
// ══════════════════════════════════════════════════════════════════════════════

// AwardRequest describes a signed XP change.
type AwardRequest struct {
	UserID     uuid.UUID
	Amount     int
	SourceType SourceType
	SourceID   *uuid.UUID
	Reason     *string
}

// Validate checks the request before any storage access.
func (r AwardRequest) Validate() error {
	if r.UserID == uuid.Nil {
		return shared.NewDomainError("ledger", "Award", shared.ErrInvalidID, "user id is required")
	}
	if r.Amount == 0 {
		return shared.ErrZeroAmount
	}
	if !shared.XPInRange(r.Amount) {
		return shared.NewDomainError("ledger", "Award", shared.ErrValidation, "xp amount is out of range")
	}
	if !r.SourceType.IsValid() {
		return shared.NewDomainError("ledger", "Award", shared.ErrValidation, "unknown source type: "+string(r.SourceType))
	}
	if r.Reason != nil && utf8.RuneCountInString(*r.Reason) > MaxReasonLength {
		return shared.NewDomainError("ledger", "Award", shared.ErrValidation, "reason must be at most 200 characters")
	}
	return nil
}
