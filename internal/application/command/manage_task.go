package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/task"
	"github.com/learnfi/learnfi-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// TASK MANAGEMENT COMMANDS
// Instructors and admins create tasks; only the owner or an admin may change
// or delete them.
// ══════════════════════════════════════════════════════════════════════════════

// TaskCacheInvalidator drops cached copies of a task.
type TaskCacheInvalidator interface {
	Invalidate(ctx context.Context, taskID uuid.UUID) error
}

// CreateTaskCommand contains the new task.
type CreateTaskCommand struct {
	Actor       shared.Actor
	CourseID    uuid.UUID
	Title       string
	Description string
	Type        task.Type
	XPReward    int
	AutoVerify  bool
	Rules       json.RawMessage
}

// Validate validates the command.
func (c CreateTaskCommand) Validate() error {
	if c.Actor.IsZero() {
		return shared.NewDomainError("task", "Create", shared.ErrUnauthorized, "authentication required")
	}
	if !c.Actor.CanReview() {
		return shared.NewDomainError("task", "Create", shared.ErrForbidden, "only instructors and admins can create tasks")
	}
	return nil
}

// UpdateTaskCommand contains a partial task update.
type UpdateTaskCommand struct {
	Actor  shared.Actor
	TaskID uuid.UUID
	Patch  task.Patch
}

// DeleteTaskCommand identifies the task to delete.
type DeleteTaskCommand struct {
	Actor  shared.Actor
	TaskID uuid.UUID
}

// TaskHandler handles task management commands.
type TaskHandler struct {
	tx    shared.Transactor
	tasks task.Repository
	cache TaskCacheInvalidator
	log   *logger.Logger
}

// NewTaskHandler creates a new TaskHandler. cache may be nil.
func NewTaskHandler(tx shared.Transactor, tasks task.Repository, cache TaskCacheInvalidator, log *logger.Logger) *TaskHandler {
	if log == nil {
		log = logger.Default()
	}
	return &TaskHandler{
		tx:    tx,
		tasks: tasks,
		cache: cache,
		log:   log.With(logger.Component("task_management")),
	}
}

// Create creates a task owned by the actor.
func (h *TaskHandler) Create(ctx context.Context, cmd CreateTaskCommand) (*task.Task, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("create_task: %w", err)
	}

	t, err := task.NewTask(task.NewTaskParams{
		CourseID:    cmd.CourseID,
		Title:       cmd.Title,
		Description: cmd.Description,
		Type:        cmd.Type,
		XPReward:    cmd.XPReward,
		AutoVerify:  cmd.AutoVerify,
		Rules:       cmd.Rules,
		OwnerID:     cmd.Actor.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("create_task: %w", err)
	}

	if err := h.tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create_task: %w", err)
	}

	h.log.Info("task created",
		logger.TaskID(t.ID.String()),
		logger.CourseID(t.CourseID.String()),
		logger.TaskType(t.Type.String()),
	)
	return t, nil
}

// Update applies a partial update. The task type cannot change.
func (h *TaskHandler) Update(ctx context.Context, cmd UpdateTaskCommand) (*task.Task, error) {
	if cmd.Actor.IsZero() {
		return nil, fmt.Errorf("update_task: %w", shared.NewDomainError("task", "Update", shared.ErrUnauthorized, "authentication required"))
	}

	var updated *task.Task
	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := h.tasks.GetByID(ctx, cmd.TaskID)
		if err != nil {
			return err
		}
		if !t.CanBeModifiedBy(cmd.Actor) {
			return shared.ErrNotTaskOwner
		}
		if err := t.Apply(cmd.Patch); err != nil {
			return err
		}
		if err := h.tasks.Update(ctx, t); err != nil {
			return err
		}
		updated = t
		shared.AfterCommit(ctx, func() { h.invalidate(t.ID) })
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update_task: %w", err)
	}

	return updated, nil
}

// Delete removes a task that has no submissions.
func (h *TaskHandler) Delete(ctx context.Context, cmd DeleteTaskCommand) error {
	if cmd.Actor.IsZero() {
		return fmt.Errorf("delete_task: %w", shared.NewDomainError("task", "Delete", shared.ErrUnauthorized, "authentication required"))
	}

	err := h.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := h.tasks.GetByID(ctx, cmd.TaskID)
		if err != nil {
			return err
		}
		if !t.CanBeModifiedBy(cmd.Actor) {
			return shared.ErrNotTaskOwner
		}
		has, err := h.tasks.HasSubmissions(ctx, t.ID)
		if err != nil {
			return err
		}
		if has {
			return shared.ErrTaskHasSubmissions
		}
		if err := h.tasks.Delete(ctx, t.ID); err != nil {
			return err
		}
		shared.AfterCommit(ctx, func() { h.invalidate(t.ID) })
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete_task: %w", err)
	}

	h.log.Info("task deleted", logger.TaskID(cmd.TaskID.String()))
	return nil
}

func (h *TaskHandler) invalidate(taskID uuid.UUID) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(context.Background(), taskID); err != nil {
		h.log.Warn("failed to invalidate task cache", logger.TaskID(taskID.String()), logger.Err(err))
	}
}
