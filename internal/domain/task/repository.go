package task

import (
	"context"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Implementations live in infrastructure/persistence. Every method joins the
// transaction carried by ctx, if any.
// ══════════════════════════════════════════════════════════════════════════════

// Repository defines storage operations for tasks.
type Repository interface {
	// Create stores a new task.
	Create(ctx context.Context, t *Task) error

	// GetByID returns a task.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Task, error)

	// Update persists a modified task.
	// Returns ErrTaskNotFound if the task does not exist.
	Update(ctx context.Context, t *Task) error

	// Delete removes a task.
	// Returns ErrTaskNotFound if the task does not exist.
	Delete(ctx context.Context, id uuid.UUID) error

	// ListByCourse returns the tasks of a course ordered by creation time.
	ListByCourse(ctx context.Context, courseID uuid.UUID) ([]*Task, error)

	// HasSubmissions reports whether any submission references the task.
	HasSubmissions(ctx context.Context, id uuid.UUID) (bool, error)
}
