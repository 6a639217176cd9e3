package submission

import (
	"context"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Methods suffixed ForUpdate take a row lock and must run inside a
// transaction (see shared.Transactor).
// ══════════════════════════════════════════════════════════════════════════════

// ListFilter narrows list queries. A nil CourseID matches every course.
// Offset skips rows of the ordered result.
type ListFilter struct {
	CourseID *uuid.UUID
	Limit    int
	Offset   int
}

// PageSize returns the row cap for the query. It allows one row past
// shared.MaxPageLimit so callers can tell whether another page exists.
func (f ListFilter) PageSize() int {
	switch {
	case f.Limit <= 0:
		return shared.DefaultPageLimit
	case f.Limit > shared.MaxPageLimit+1:
		return shared.MaxPageLimit + 1
	default:
		return f.Limit
	}
}

// Skip returns the non-negative offset.
func (f ListFilter) Skip() int {
	if f.Offset < 0 {
		return 0
	}
	return f.Offset
}

// Repository defines storage operations for submissions.
type Repository interface {
	// Create inserts a submission unless one already exists for
	// (task, user). It reports whether the row was inserted.
	Create(ctx context.Context, s *Submission) (bool, error)

	// Update persists a modified submission.
	// Returns ErrSubmissionNotFound if the submission does not exist.
	Update(ctx context.Context, s *Submission) error

	// GetByID returns a submission.
	// Returns ErrSubmissionNotFound if the submission does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*Submission, error)

	// GetByIDForUpdate returns a submission and locks its row.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Submission, error)

	// FindByTaskAndUserForUpdate returns the submission of a user for a task
	// and locks its row. Returns nil without error when none exists.
	FindByTaskAndUserForUpdate(ctx context.Context, taskID, userID uuid.UUID) (*Submission, error)

	// ListPending returns pending submissions, oldest first.
	ListPending(ctx context.Context, filter ListFilter) ([]*Submission, error)

	// ListByUser returns a user's submissions, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]*Submission, error)

	// ListByUserAndTasks returns a user's submissions for the given tasks,
	// keyed by task id.
	ListByUserAndTasks(ctx context.Context, userID uuid.UUID, taskIDs []uuid.UUID) (map[uuid.UUID]*Submission, error)
}
