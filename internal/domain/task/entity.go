// Package task contains the task aggregate: a unit of work inside a course
// that rewards learners with XP once a submission is approved.
package task

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Type is the task-type variant. It selects how a submission is auto-verified.
type Type string

const (
	TypeTransactionProof Type = "transaction_proof"
	TypeLinkSubmission   Type = "link_submission"
	TypeTextSubmission   Type = "text_submission"
	TypeQuiz             Type = "quiz"
	TypeFileUpload       Type = "file_upload"
)

// IsValid checks that the type is one of the known variants.
func (t Type) IsValid() bool {
	switch t {
	case TypeTransactionProof, TypeLinkSubmission, TypeTextSubmission, TypeQuiz, TypeFileUpload:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (t Type) String() string {
	return string(t)
}

// ParseType parses a task type name.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", shared.ErrInvalidTaskType
	}
	return t, nil
}

// MaxTitleLength bounds task titles.
const MaxTitleLength = 200

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Task is a course task that can be submitted by learners.
type Task struct {
	ID          uuid.UUID
	CourseID    uuid.UUID
	Title       string
	Description string
	Type        Type
	XPReward    int
	AutoVerify  bool

	// Rules is the raw rule configuration blob; interpret it with the
	// Decode*Rules functions for the task's Type.
	Rules json.RawMessage

	OwnerID   uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTaskParams contains the parameters for creating a task.
type NewTaskParams struct {
	CourseID    uuid.UUID
	Title       string
	Description string
	Type        Type
	XPReward    int
	AutoVerify  bool
	Rules       json.RawMessage
	OwnerID     uuid.UUID
}

// NewTask creates a task with validation.
func NewTask(p NewTaskParams) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		ID:          uuid.New(),
		CourseID:    p.CourseID,
		Title:       strings.TrimSpace(p.Title),
		Description: p.Description,
		Type:        p.Type,
		XPReward:    p.XPReward,
		AutoVerify:  p.AutoVerify,
		Rules:       normalizeRules(p.Rules),
		OwnerID:     p.OwnerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the task invariants, including the rule blob for its type.
func (t *Task) Validate() error {
	if t.CourseID == uuid.Nil {
		return shared.NewDomainError("task", "Validate", shared.ErrInvalidID, "course id is required")
	}
	if t.Title == "" {
		return shared.NewDomainError("task", "Validate", shared.ErrEmptyValue, "title is required")
	}
	if utf8.RuneCountInString(t.Title) > MaxTitleLength {
		return shared.NewDomainError("task", "Validate", shared.ErrValidation, "title must be at most 200 characters")
	}
	if !t.Type.IsValid() {
		return shared.ErrInvalidTaskType
	}
	if t.XPReward < 0 {
		return shared.NewDomainError("task", "Validate", shared.ErrNegativeValue, "xp reward cannot be negative")
	}
	if t.XPReward > shared.MaxXP {
		return shared.NewDomainError("task", "Validate", shared.ErrValidation, "xp reward is out of range")
	}
	if t.OwnerID == uuid.Nil {
		return shared.NewDomainError("task", "Validate", shared.ErrInvalidID, "owner id is required")
	}
	return ValidateRules(t.Type, t.Rules)
}

// CanBeModifiedBy reports whether the actor owns the task or is an admin.
func (t *Task) CanBeModifiedBy(actor shared.Actor) bool {
	return actor.IsAdmin() || (actor.CanReview() && actor.UserID == t.OwnerID)
}

// Patch holds optional task changes. Nil fields are left untouched.
// The task type is immutable once created.
type Patch struct {
	Title       *string
	Description *string
	XPReward    *int
	AutoVerify  *bool
	Rules       *json.RawMessage
}

// Apply applies the patch and re-validates the task.
func (t *Task) Apply(p Patch) error {
	next := *t
	if p.Title != nil {
		next.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	if p.XPReward != nil {
		next.XPReward = *p.XPReward
	}
	if p.AutoVerify != nil {
		next.AutoVerify = *p.AutoVerify
	}
	if p.Rules != nil {
		next.Rules = normalizeRules(*p.Rules)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()
	*t = next
	return nil
}

func normalizeRules(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return json.RawMessage(trimmed)
}
