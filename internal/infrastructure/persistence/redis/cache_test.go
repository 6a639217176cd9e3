package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/task"
)

// unreachableCache points at a port nothing listens on, so every command
// fails fast.
func unreachableCache(t *testing.T) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 50 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheFromClient(client)
}

type countingSource struct {
	task  *task.Task
	calls int
}

func (s *countingSource) GetByID(_ context.Context, id uuid.UUID) (*task.Task, error) {
	s.calls++
	if s.task == nil || s.task.ID != id {
		return nil, shared.ErrTaskNotFound
	}
	return s.task, nil
}

func TestConfig_Addr(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "localhost:6379", cfg.Addr())
	assert.Equal(t, "localhost:6379", cfg.Options().Addr)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "task:abc", TaskKey("abc"))
	assert.Equal(t, "leaderboard:xp", LeaderboardKey("xp"))
}

func TestCache_ArgumentValidation(t *testing.T) {
	c := unreachableCache(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Set(ctx, "", "v", time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, time.Minute), ErrCacheNilValue)
	assert.ErrorIs(t, c.Set(ctx, "k", "v", -time.Second), ErrCacheInvalidTTL)
	assert.ErrorIs(t, c.Get(ctx, "", new(string)), ErrCacheKeyEmpty)
	assert.NoError(t, c.Delete(ctx))
}

func TestTaskCache_FallsBackToSourceWhenRedisIsDown(t *testing.T) {
	c := unreachableCache(t)
	tk := &task.Task{ID: uuid.New(), Title: "Deploy a contract", Type: task.TypeTransactionProof}
	source := &countingSource{task: tk}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tc := NewTaskCache(c, source, time.Minute, logger)

	got, err := tc.GetByID(context.Background(), tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "Deploy a contract", got.Title)
	assert.Equal(t, 1, source.calls)

	_, err = tc.GetByID(context.Background(), uuid.New())
	assert.True(t, shared.IsNotFound(err))

	assert.Error(t, tc.Invalidate(context.Background(), tk.ID))
}

func TestCachedTask_RoundTrip(t *testing.T) {
	tk := &task.Task{
		ID:         uuid.New(),
		CourseID:   uuid.New(),
		Title:      "Quiz",
		Type:       task.TypeQuiz,
		XPReward:   15,
		AutoVerify: true,
		Rules:      []byte(`{"correct_answers":{"q1":"a"}}`),
		OwnerID:    uuid.New(),
	}
	assert.Equal(t, tk, toCachedTask(tk).toDomain())
}

func TestLeaderboardCache_ErrorsWhenRedisIsDown(t *testing.T) {
	lc := NewLeaderboardCache(unreachableCache(t))
	ctx := context.Background()

	_, err := lc.UpdateXP(ctx, "", 10)
	assert.ErrorIs(t, err, ErrCacheKeyEmpty)

	_, err = lc.UpdateXP(ctx, uuid.NewString(), 10)
	assert.Error(t, err)

	_, err = lc.Top(ctx, 10)
	assert.Error(t, err)

	top, err := lc.Top(ctx, 0)
	assert.NoError(t, err)
	assert.Empty(t, top)
}
