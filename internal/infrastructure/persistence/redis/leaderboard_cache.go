package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache keeps the XP ranking in the sorted set "leaderboard:xp"
// (member = user id, score = xp_total).
//
// The set is only ever complete or absent: Warm replaces it wholesale and
// UpdateXP touches it only while it exists. A cold cache makes readers fall
// back to the store, which warms it again.
type LeaderboardCache struct {
	cache *Cache
	key   string
}

// updateIfWarm sets a member's score only when the ranking exists.
var updateIfWarm = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('ZADD', KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// NewLeaderboardCache creates a new LeaderboardCache instance.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache, key: LeaderboardKey("xp")}
}

// UpdateXP records a user's new XP total. It reports whether the ranking
// was warm.
func (l *LeaderboardCache) UpdateXP(ctx context.Context, userID string, xpTotal int) (bool, error) {
	if userID == "" {
		return false, ErrCacheKeyEmpty
	}

	updated, err := updateIfWarm.Run(ctx, l.cache.Client(), []string{l.key}, xpTotal, userID).Int()
	if err != nil {
		return false, fmt.Errorf("leaderboard_cache: update: %w", err)
	}
	return updated == 1, nil
}

// Warm replaces the ranking with the given accounts.
func (l *LeaderboardCache) Warm(ctx context.Context, accounts []*ledger.Account) error {
	members := make([]redis.Z, 0, len(accounts))
	for _, a := range accounts {
		members = append(members, redis.Z{Score: float64(a.XPTotal), Member: a.UserID.String()})
	}

	pipe := l.cache.Client().TxPipeline()
	pipe.Del(ctx, l.key)
	if len(members) > 0 {
		pipe.ZAdd(ctx, l.key, members...)
		pipe.Expire(ctx, l.key, TTLLeaderboard)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leaderboard_cache: warm: %w", err)
	}
	return nil
}

// Top returns up to limit accounts, highest XP first.
func (l *LeaderboardCache) Top(ctx context.Context, limit int) ([]*ledger.Account, error) {
	if limit <= 0 {
		return nil, nil
	}

	members, err := l.cache.Client().ZRevRangeWithScores(ctx, l.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard_cache: top: %w", err)
	}

	out := make([]*ledger.Account, 0, len(members))
	for _, m := range members {
		member, ok := m.Member.(string)
		if !ok {
			continue
		}
		id, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		out = append(out, &ledger.Account{UserID: id, XPTotal: int(m.Score)})
	}
	return out, nil
}

// Invalidate drops the ranking.
func (l *LeaderboardCache) Invalidate(ctx context.Context) error {
	return l.cache.Delete(ctx, l.key)
}
