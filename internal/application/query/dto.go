// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"encoding/json"
	"time"

	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
	"github.com/learnfi/learnfi-hub/internal/domain/submission"
	"github.com/learnfi/learnfi-hub/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// DATA TRANSFER OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// TaskDTO is the wire view of a task.
type TaskDTO struct {
	ID                string          `json:"id"`
	CourseID          string          `json:"course_id"`
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	TaskType          string          `json:"task_type"`
	XPReward          int             `json:"xp_reward"`
	AutoVerify        bool            `json:"auto_verify"`
	VerificationRules json.RawMessage `json:"verification_rules,omitempty"`
	CreatedBy         string          `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewTaskDTO converts a task.
func NewTaskDTO(t *task.Task) TaskDTO {
	return TaskDTO{
		ID:                t.ID.String(),
		CourseID:          t.CourseID.String(),
		Title:             t.Title,
		Description:       t.Description,
		TaskType:          t.Type.String(),
		XPReward:          t.XPReward,
		AutoVerify:        t.AutoVerify,
		VerificationRules: t.Rules,
		CreatedBy:         t.OwnerID.String(),
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

// SubmissionDTO is the wire view of a submission.
type SubmissionDTO struct {
	ID              string                      `json:"id"`
	TaskID          string                      `json:"task_id"`
	UserID          string                      `json:"user_id"`
	SubmissionText  *string                     `json:"submission_text,omitempty"`
	SubmissionFiles []submission.FileDescriptor `json:"submission_files,omitempty"`
	SubmissionLinks []string                    `json:"submission_links,omitempty"`
	TransactionHash *string                     `json:"transaction_hash,omitempty"`
	Status          string                      `json:"status"`
	XPAwarded       int                         `json:"xp_awarded"`
	Feedback        *string                     `json:"feedback,omitempty"`
	ReviewedBy      *string                     `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time                  `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`

	// Task is set by queries that join the task.
	Task *TaskDTO `json:"task,omitempty"`
}

// SubmissionPage is one page of a submission listing.
type SubmissionPage struct {
	Items   []SubmissionDTO
	Limit   int
	Offset  int
	HasMore bool
}

// NewSubmissionDTO converts a submission.
func NewSubmissionDTO(s *submission.Submission) SubmissionDTO {
	dto := SubmissionDTO{
		ID:              s.ID.String(),
		TaskID:          s.TaskID.String(),
		UserID:          s.UserID.String(),
		SubmissionText:  s.Payload.Text,
		SubmissionFiles: s.Payload.Files,
		SubmissionLinks: s.Payload.Links,
		TransactionHash: s.Payload.TransactionHash,
		Status:          s.Status.String(),
		XPAwarded:       s.XPAwarded,
		Feedback:        s.Feedback,
		ReviewedAt:      s.ReviewedAt,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.ReviewerID != nil {
		id := s.ReviewerID.String()
		dto.ReviewedBy = &id
	}
	return dto
}

// LedgerEntryDTO is the wire view of a ledger entry.
type LedgerEntryDTO struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	XPChange     int       `json:"xp_change"`
	BalanceAfter int       `json:"balance_after"`
	SourceType   string    `json:"source_type"`
	SourceID     string    `json:"source_id,omitempty"`
	Reason       *string   `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewLedgerEntryDTO converts a ledger entry.
func NewLedgerEntryDTO(e *ledger.Entry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:           e.ID,
		UserID:       e.UserID.String(),
		XPChange:     e.XPChange,
		BalanceAfter: e.BalanceAfter,
		SourceType:   e.SourceType.String(),
		SourceID:     e.SourceIDString(),
		Reason:       e.Reason,
		CreatedAt:    e.CreatedAt,
	}
}
