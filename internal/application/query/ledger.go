package query

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST LEDGER QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ListLedgerQuery lists a user's ledger history, newest first.
type ListLedgerQuery struct {
	Actor  shared.Actor
	UserID uuid.UUID
	Limit  int
}

// ListLedgerResult contains the history and the current balance.
type ListLedgerResult struct {
	UserID  string           `json:"user_id"`
	XPTotal int              `json:"xp_total"`
	Entries []LedgerEntryDTO `json:"entries"`
}

// ListLedgerHandler handles ListLedgerQuery.
type ListLedgerHandler struct {
	accounts ledger.AccountRepository
	entries  ledger.EntryRepository
}

// NewListLedgerHandler creates a new ListLedgerHandler.
func NewListLedgerHandler(accounts ledger.AccountRepository, entries ledger.EntryRepository) *ListLedgerHandler {
	return &ListLedgerHandler{accounts: accounts, entries: entries}
}

// Handle executes the query.
func (h *ListLedgerHandler) Handle(ctx context.Context, q ListLedgerQuery) (*ListLedgerResult, error) {
	if q.Actor.IsZero() {
		return nil, shared.NewDomainError("query", "ListLedger", shared.ErrUnauthorized, "authentication required")
	}
	if !q.Actor.CanAccessUser(q.UserID) {
		return nil, shared.NewDomainError("query", "ListLedger", shared.ErrForbidden, "cannot view another user's ledger")
	}

	account, err := h.accounts.GetAccount(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("list_ledger: %w", err)
	}

	entries, err := h.entries.ListByUser(ctx, q.UserID, shared.ClampLimit(q.Limit))
	if err != nil {
		return nil, fmt.Errorf("list_ledger: %w", err)
	}

	result := &ListLedgerResult{
		UserID:  account.UserID.String(),
		XPTotal: account.XPTotal,
		Entries: make([]LedgerEntryDTO, len(entries)),
	}
	for i, e := range entries {
		result.Entries[i] = NewLedgerEntryDTO(e)
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Top users by XP total. Served from the Redis sorted set when it is warm,
// from the store otherwise.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache is the cached XP ranking.
type LeaderboardCache interface {
	// Top returns up to limit accounts, highest XP first. Only UserID and
	// XPTotal are set. An empty result means the cache is cold.
	Top(ctx context.Context, limit int) ([]*ledger.Account, error)

	// Warm replaces the cached ranking.
	Warm(ctx context.Context, accounts []*ledger.Account) error
}

// GetLeaderboardQuery contains the leaderboard parameters.
type GetLeaderboardQuery struct {
	Limit int
}

// LeaderboardEntryDTO is one leaderboard row.
type LeaderboardEntryDTO struct {
	Rank    int    `json:"rank"`
	UserID  string `json:"user_id"`
	XPTotal int    `json:"xp_total"`
}

// GetLeaderboardResult contains the leaderboard.
type GetLeaderboardResult struct {
	Entries     []LeaderboardEntryDTO `json:"entries"`
	FromCache   bool                  `json:"from_cache"`
	GeneratedAt time.Time             `json:"generated_at"`
}

// GetLeaderboardHandler handles GetLeaderboardQuery.
type GetLeaderboardHandler struct {
	accounts ledger.AccountRepository
	cache    LeaderboardCache
	log      *logger.Logger
}

// NewGetLeaderboardHandler creates a new GetLeaderboardHandler. cache may be nil.
func NewGetLeaderboardHandler(accounts ledger.AccountRepository, cache LeaderboardCache, log *logger.Logger) *GetLeaderboardHandler {
	if log == nil {
		log = logger.Default()
	}
	return &GetLeaderboardHandler{
		accounts: accounts,
		cache:    cache,
		log:      log.With(logger.Component("leaderboard_query")),
	}
}

// Handle executes the query.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	limit := shared.ClampLimit(q.Limit)

	if h.cache != nil {
		cached, err := h.cache.Top(ctx, limit)
		if err != nil {
			h.log.Warn("leaderboard cache read failed", logger.Err(err))
		} else if len(cached) > 0 {
			return buildLeaderboard(cached, true), nil
		}
	}

	// The cache is warmed with the widest page so later, larger reads stay complete.
	fetch := limit
	if h.cache != nil {
		fetch = shared.MaxPageLimit
	}
	accounts, err := h.accounts.TopAccounts(ctx, fetch)
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}

	if h.cache != nil && len(accounts) > 0 {
		if err := h.cache.Warm(ctx, accounts); err != nil {
			h.log.Warn("leaderboard cache warm failed", logger.Err(err))
		}
	}

	if len(accounts) > limit {
		accounts = accounts[:limit]
	}
	return buildLeaderboard(accounts, false), nil
}

func buildLeaderboard(accounts []*ledger.Account, fromCache bool) *GetLeaderboardResult {
	entries := make([]LeaderboardEntryDTO, len(accounts))
	for i, a := range accounts {
		entries[i] = LeaderboardEntryDTO{
			Rank:    i + 1,
			UserID:  a.UserID.String(),
			XPTotal: a.XPTotal,
		}
	}
	return &GetLeaderboardResult{
		Entries:     entries,
		FromCache:   fromCache,
		GeneratedAt: time.Now().UTC(),
	}
}
