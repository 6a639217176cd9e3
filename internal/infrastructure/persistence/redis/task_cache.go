package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/internal/domain/task"
)

// TaskSource is where the cache reads through to.
type TaskSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error)
}

// TaskCache is a read-through cache of task definitions. Redis failures
// degrade to reading the source.
type TaskCache struct {
	cache  *Cache
	source TaskSource
	ttl    time.Duration
	logger *slog.Logger
}

// NewTaskCache creates a new TaskCache.
func NewTaskCache(cache *Cache, source TaskSource, ttl time.Duration, logger *slog.Logger) *TaskCache {
	if ttl <= 0 {
		ttl = TTLTask
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskCache{cache: cache, source: source, ttl: ttl, logger: logger}
}

// cachedTask is the stored JSON form of a task.
type cachedTask struct {
	ID          uuid.UUID       `json:"id"`
	CourseID    uuid.UUID       `json:"course_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Type        task.Type       `json:"task_type"`
	XPReward    int             `json:"xp_reward"`
	AutoVerify  bool            `json:"auto_verify"`
	Rules       json.RawMessage `json:"verification_rules,omitempty"`
	OwnerID     uuid.UUID       `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func toCachedTask(t *task.Task) cachedTask {
	return cachedTask{
		ID:          t.ID,
		CourseID:    t.CourseID,
		Title:       t.Title,
		Description: t.Description,
		Type:        t.Type,
		XPReward:    t.XPReward,
		AutoVerify:  t.AutoVerify,
		Rules:       t.Rules,
		OwnerID:     t.OwnerID,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func (c cachedTask) toDomain() *task.Task {
	return &task.Task{
		ID:          c.ID,
		CourseID:    c.CourseID,
		Title:       c.Title,
		Description: c.Description,
		Type:        c.Type,
		XPReward:    c.XPReward,
		AutoVerify:  c.AutoVerify,
		Rules:       c.Rules,
		OwnerID:     c.OwnerID,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// GetByID returns a task from Redis, or from the source on a miss.
func (c *TaskCache) GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	key := TaskKey(id.String())

	var cached cachedTask
	err := c.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached.toDomain(), nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("task cache read failed", "task_id", id.String(), "error", err)
	}

	t, err := c.source.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, toCachedTask(t), c.ttl); err != nil {
		c.logger.Warn("task cache write failed", "task_id", id.String(), "error", err)
	}
	return t, nil
}

// Invalidate drops the cached copy of a task.
func (c *TaskCache) Invalidate(ctx context.Context, taskID uuid.UUID) error {
	return c.cache.Delete(ctx, TaskKey(taskID.String()))
}
