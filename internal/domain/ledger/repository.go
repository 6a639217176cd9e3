package ledger

import (
	"context"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// No method updates or deletes an entry.
// ══════════════════════════════════════════════════════════════════════════════

// AccountRepository reads and writes the cached XP total.
type AccountRepository interface {
	// LockAccount returns the account and locks its row until the enclosing
	// transaction ends. Returns ErrUserNotFound if the user does not exist.
	LockAccount(ctx context.Context, userID uuid.UUID) (*Account, error)

	// GetAccount returns the account without locking.
	GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error)

	// SetBalance writes the cached XP total. Only the ledger calls it.
	SetBalance(ctx context.Context, userID uuid.UUID, xpTotal int) error

	// TopAccounts returns accounts ordered by XP total descending.
	TopAccounts(ctx context.Context, limit int) ([]*Account, error)
}

// EntryRepository appends to and reads the ledger.
type EntryRepository interface {
	// LastEntry returns the newest entry of a user, or nil if none exists.
	LastEntry(ctx context.Context, userID uuid.UUID) (*Entry, error)

	// Append inserts an entry and fills in its ID and CreatedAt.
	Append(ctx context.Context, e *Entry) error

	// ListByUser returns a user's entries, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Entry, error)

	// Discrepancies returns every user whose cached total differs from the
	// sum of their entries.
	Discrepancies(ctx context.Context) ([]Discrepancy, error)
}
