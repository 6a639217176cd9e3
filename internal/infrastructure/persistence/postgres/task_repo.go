package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// TASK REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const taskColumns = `
	id, course_id, title, description, task_type, xp_reward, auto_verify,
	verification_rules, owner_id, created_at, updated_at
`

// TaskRepository implements task.Repository for PostgreSQL.
type TaskRepository struct {
	conn *Connection
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(conn *Connection) *TaskRepository {
	return &TaskRepository{conn: conn}
}

// Create creates a new task.
func (r *TaskRepository) Create(ctx context.Context, t *task.Task) error {
	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.conn.querier(ctx).Exec(ctx, query,
		t.ID,
		t.CourseID,
		t.Title,
		t.Description,
		string(t.Type),
		t.XPReward,
		t.AutoVerify,
		rulesParam(t),
		t.OwnerID,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("task", "Create", shared.ErrAlreadyExists, "task already exists", err)
		}
		if IsForeignKeyViolation(err) {
			return shared.WrapError("task", "Create", shared.ErrValidation, "task owner does not exist", err)
		}
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// GetByID returns a task by ID.
func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	row := r.conn.querier(ctx).QueryRow(ctx, query, id)
	return r.scanTask(row)
}

// Update updates a task. The task type is immutable and not written.
func (r *TaskRepository) Update(ctx context.Context, t *task.Task) error {
	query := `
		UPDATE tasks SET
			title = $1,
			description = $2,
			xp_reward = $3,
			auto_verify = $4,
			verification_rules = $5,
			updated_at = $6
		WHERE id = $7
	`

	result, err := r.conn.querier(ctx).Exec(ctx, query,
		t.Title,
		t.Description,
		t.XPReward,
		t.AutoVerify,
		rulesParam(t),
		t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrTaskNotFound
	}

	return nil
}

// Delete removes a task.
func (r *TaskRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.conn.querier(ctx).Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return shared.ErrTaskHasSubmissions
		}
		return fmt.Errorf("failed to delete task: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrTaskNotFound
	}

	return nil
}

// ListByCourse returns the tasks of a course in creation order.
func (r *TaskRepository) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE course_id = $1 ORDER BY created_at ASC, id ASC`

	rows, err := r.conn.querier(ctx).Query(ctx, query, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := r.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	return tasks, rows.Err()
}

// HasSubmissions reports whether any submission references the task.
func (r *TaskRepository) HasSubmissions(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn.querier(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE task_id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check task submissions: %w", err)
	}
	return exists, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *TaskRepository) scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t        task.Task
		taskType string
		rules    []byte
	)

	err := row.Scan(
		&t.ID,
		&t.CourseID,
		&t.Title,
		&t.Description,
		&taskType,
		&t.XPReward,
		&t.AutoVerify,
		&rules,
		&t.OwnerID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	t.Type = task.Type(taskType)
	if len(rules) > 0 {
		t.Rules = rules
	}
	return &t, nil
}

// rulesParam maps an empty rule blob to SQL NULL.
func rulesParam(t *task.Task) interface{} {
	if len(t.Rules) == 0 {
		return nil
	}
	return []byte(t.Rules)
}
