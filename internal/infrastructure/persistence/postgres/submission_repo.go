package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/submission"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

const submissionColumns = `
	s.id, s.task_id, s.user_id, s.submission_text, s.files, s.links, s.transaction_hash,
	s.status, s.xp_awarded, s.feedback, s.reviewer_id, s.created_at, s.updated_at, s.reviewed_at
`

// SubmissionRepository implements submission.Repository for PostgreSQL.
type SubmissionRepository struct {
	conn *Connection
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(conn *Connection) *SubmissionRepository {
	return &SubmissionRepository{conn: conn}
}

// Create inserts a submission unless (task, user) already has one.
func (r *SubmissionRepository) Create(ctx context.Context, s *submission.Submission) (bool, error) {
	files, links, err := marshalPayload(s.Payload)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO submissions (
			id, task_id, user_id, submission_text, files, links, transaction_hash,
			status, xp_awarded, feedback, reviewer_id, created_at, updated_at, reviewed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (task_id, user_id) DO NOTHING
	`

	result, err := r.conn.querier(ctx).Exec(ctx, query,
		s.ID,
		s.TaskID,
		s.UserID,
		s.Payload.Text,
		files,
		links,
		s.Payload.TransactionHash,
		string(s.Status),
		s.XPAwarded,
		s.Feedback,
		s.ReviewerID,
		s.CreatedAt,
		s.UpdatedAt,
		s.ReviewedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			return false, shared.WrapError("submission", "Create", shared.ErrNotFound, "task or user does not exist", err)
		}
		return false, fmt.Errorf("failed to create submission: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// Update persists a modified submission.
func (r *SubmissionRepository) Update(ctx context.Context, s *submission.Submission) error {
	files, links, err := marshalPayload(s.Payload)
	if err != nil {
		return err
	}

	query := `
		UPDATE submissions SET
			submission_text = $1,
			files = $2,
			links = $3,
			transaction_hash = $4,
			status = $5,
			xp_awarded = $6,
			feedback = $7,
			reviewer_id = $8,
			updated_at = $9,
			reviewed_at = $10
		WHERE id = $11
	`

	result, err := r.conn.querier(ctx).Exec(ctx, query,
		s.Payload.Text,
		files,
		links,
		s.Payload.TransactionHash,
		string(s.Status),
		s.XPAwarded,
		s.Feedback,
		s.ReviewerID,
		s.UpdatedAt,
		s.ReviewedAt,
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}

	if result.RowsAffected() == 0 {
		return shared.ErrSubmissionNotFound
	}

	return nil
}

// GetByID returns a submission by ID.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions s WHERE s.id = $1`
	return r.scanSubmission(r.conn.querier(ctx).QueryRow(ctx, query, id))
}

// GetByIDForUpdate returns a submission and locks its row.
func (r *SubmissionRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions s WHERE s.id = $1 FOR UPDATE`
	return r.scanSubmission(r.conn.querier(ctx).QueryRow(ctx, query, id))
}

// FindByTaskAndUserForUpdate returns the learner's submission for a task and
// locks its row, or nil when none exists.
func (r *SubmissionRepository) FindByTaskAndUserForUpdate(ctx context.Context, taskID, userID uuid.UUID) (*submission.Submission, error) {
	query := `
		SELECT ` + submissionColumns + ` FROM submissions s
		WHERE s.task_id = $1 AND s.user_id = $2
		FOR UPDATE
	`

	s, err := r.scanSubmission(r.conn.querier(ctx).QueryRow(ctx, query, taskID, userID))
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListPending returns pending submissions, oldest first.
func (r *SubmissionRepository) ListPending(ctx context.Context, filter submission.ListFilter) ([]*submission.Submission, error) {
	query := `
		SELECT ` + submissionColumns + ` FROM submissions s
		JOIN tasks t ON t.id = s.task_id
		WHERE s.status = 'pending'
		  AND ($1::uuid IS NULL OR t.course_id = $1)
		ORDER BY s.created_at ASC, s.id ASC
		LIMIT $2 OFFSET $3
	`

	return r.list(ctx, query, filter.CourseID, filter.PageSize(), filter.Skip())
}

// ListByUser returns a user's submissions, newest first.
func (r *SubmissionRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter submission.ListFilter) ([]*submission.Submission, error) {
	query := `
		SELECT ` + submissionColumns + ` FROM submissions s
		JOIN tasks t ON t.id = s.task_id
		WHERE s.user_id = $1
		  AND ($2::uuid IS NULL OR t.course_id = $2)
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT $3 OFFSET $4
	`

	return r.list(ctx, query, userID, filter.CourseID, filter.PageSize(), filter.Skip())
}

// ListByUserAndTasks returns a user's submissions for the given tasks.
func (r *SubmissionRepository) ListByUserAndTasks(ctx context.Context, userID uuid.UUID, taskIDs []uuid.UUID) (map[uuid.UUID]*submission.Submission, error) {
	out := make(map[uuid.UUID]*submission.Submission, len(taskIDs))
	if len(taskIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT ` + submissionColumns + ` FROM submissions s
		WHERE s.user_id = $1 AND s.task_id = ANY($2)
	`

	subs, err := r.list(ctx, query, userID, taskIDs)
	if err != nil {
		return nil, err
	}
	for _, s := range subs {
		out[s.TaskID] = s
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *SubmissionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*submission.Submission, error) {
	rows, err := r.conn.querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var result []*submission.Submission
	for rows.Next() {
		s, err := r.scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}

	return result, rows.Err()
}

func (r *SubmissionRepository) scanSubmission(row pgx.Row) (*submission.Submission, error) {
	var (
		s      submission.Submission
		status string
		files  []byte
		links  []byte
	)

	err := row.Scan(
		&s.ID,
		&s.TaskID,
		&s.UserID,
		&s.Payload.Text,
		&files,
		&links,
		&s.Payload.TransactionHash,
		&status,
		&s.XPAwarded,
		&s.Feedback,
		&s.ReviewerID,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.ReviewedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("failed to scan submission: %w", err)
	}

	s.Status = submission.Status(status)
	if len(files) > 0 {
		if err := json.Unmarshal(files, &s.Payload.Files); err != nil {
			return nil, fmt.Errorf("failed to unmarshal submission files: %w", err)
		}
	}
	if len(links) > 0 {
		if err := json.Unmarshal(links, &s.Payload.Links); err != nil {
			return nil, fmt.Errorf("failed to unmarshal submission links: %w", err)
		}
	}

	return &s, nil
}

// marshalPayload encodes the JSONB payload columns; absent fields stay NULL.
func marshalPayload(p submission.Payload) (files, links interface{}, err error) {
	if p.Files != nil {
		b, err := json.Marshal(p.Files)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal submission files: %w", err)
		}
		files = b
	}
	if p.Links != nil {
		b, err := json.Marshal(p.Links)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal submission links: %w", err)
		}
		links = b
	}
	return files, links, nil
}
