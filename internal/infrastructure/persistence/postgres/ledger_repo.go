package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACCOUNT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AccountRepository implements ledger.AccountRepository over the users table.
type AccountRepository struct {
	conn *Connection
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(conn *Connection) *AccountRepository {
	return &AccountRepository{conn: conn}
}

// LockAccount reads the account with SELECT ... FOR UPDATE.
func (r *AccountRepository) LockAccount(ctx context.Context, userID uuid.UUID) (*ledger.Account, error) {
	row := r.conn.querier(ctx).QueryRow(ctx,
		`SELECT id, role, xp_total FROM users WHERE id = $1 FOR UPDATE`, userID)
	return scanAccount(row)
}

// GetAccount reads the account without locking.
func (r *AccountRepository) GetAccount(ctx context.Context, userID uuid.UUID) (*ledger.Account, error) {
	row := r.conn.querier(ctx).QueryRow(ctx,
		`SELECT id, role, xp_total FROM users WHERE id = $1`, userID)
	return scanAccount(row)
}

// SetBalance writes the cached XP total.
func (r *AccountRepository) SetBalance(ctx context.Context, userID uuid.UUID, xpTotal int) error {
	result, err := r.conn.querier(ctx).Exec(ctx,
		`UPDATE users SET xp_total = $1 WHERE id = $2`, xpTotal, userID)
	if err != nil {
		return fmt.Errorf("failed to update xp total: %w", err)
	}
	if result.RowsAffected() == 0 {
		return shared.ErrUserNotFound
	}
	return nil
}

// TopAccounts returns accounts ordered by XP total.
func (r *AccountRepository) TopAccounts(ctx context.Context, limit int) ([]*ledger.Account, error) {
	rows, err := r.conn.querier(ctx).Query(ctx, `
		SELECT id, role, xp_total FROM users
		ORDER BY xp_total DESC, id ASC
		LIMIT $1
	`, shared.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query top accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var (
		a    ledger.Account
		role string
	)
	if err := row.Scan(&a.UserID, &role, &a.XPTotal); err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	a.Role = shared.Role(role)
	return &a, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTRY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const entryColumns = `id, user_id, source_type, source_id, xp_change, balance_after, reason, created_at`

// EntryRepository implements ledger.EntryRepository. It never issues UPDATE
// or DELETE against xp_ledger.
type EntryRepository struct {
	conn *Connection
}

// NewEntryRepository creates a new EntryRepository.
func NewEntryRepository(conn *Connection) *EntryRepository {
	return &EntryRepository{conn: conn}
}

// LastEntry returns the newest entry of a user, or nil.
func (r *EntryRepository) LastEntry(ctx context.Context, userID uuid.UUID) (*ledger.Entry, error) {
	row := r.conn.querier(ctx).QueryRow(ctx, `
		SELECT `+entryColumns+` FROM xp_ledger
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, userID)

	e, err := scanEntry(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// Append inserts an entry.
func (r *EntryRepository) Append(ctx context.Context, e *ledger.Entry) error {
	err := r.conn.querier(ctx).QueryRow(ctx, `
		INSERT INTO xp_ledger (user_id, source_type, source_id, xp_change, balance_after, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`,
		e.UserID,
		string(e.SourceType),
		e.SourceID,
		e.XPChange,
		e.BalanceAfter,
		e.Reason,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrUserNotFound
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// ListByUser returns a user's entries, newest first.
func (r *EntryRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*ledger.Entry, error) {
	rows, err := r.conn.querier(ctx).Query(ctx, `
		SELECT `+entryColumns+` FROM xp_ledger
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, shared.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Discrepancies compares every user's cached total with their ledger sum.
func (r *EntryRepository) Discrepancies(ctx context.Context) ([]ledger.Discrepancy, error) {
	rows, err := r.conn.querier(ctx).Query(ctx, `
		SELECT u.id, u.xp_total, COALESCE(SUM(l.xp_change), 0) AS ledger_sum
		FROM users u
		LEFT JOIN xp_ledger l ON l.user_id = u.id
		GROUP BY u.id, u.xp_total
		HAVING u.xp_total <> COALESCE(SUM(l.xp_change), 0)
		ORDER BY u.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger discrepancies: %w", err)
	}
	defer rows.Close()

	var result []ledger.Discrepancy
	for rows.Next() {
		var d ledger.Discrepancy
		if err := rows.Scan(&d.UserID, &d.XPTotal, &d.LedgerSum); err != nil {
			return nil, fmt.Errorf("failed to scan discrepancy: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var (
		e          ledger.Entry
		sourceType string
	)
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&sourceType,
		&e.SourceID,
		&e.XPChange,
		&e.BalanceAfter,
		&e.Reason,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.SourceType = ledger.SourceType(sourceType)
	return &e, nil
}
