// Package submission contains the submission aggregate: a learner's attempt
// at a task together with its review state.
package submission

import (
	"time"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status is the review state of a submission.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// IsValid checks that the status is known.
func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusApproved
}

// String returns the string representation.
func (s Status) String() string {
	return string(s)
}

// ══════════════════════════════════════════════════════════════════════════════
// PAYLOAD
// ══════════════════════════════════════════════════════════════════════════════

// FileDescriptor references an uploaded file. Contents are never inspected.
type FileDescriptor struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Payload is the learner-provided content. Nil fields were not provided.
type Payload struct {
	Text            *string          `json:"text,omitempty"`
	Files           []FileDescriptor `json:"files,omitempty"`
	Links           []string         `json:"links,omitempty"`
	TransactionHash *string          `json:"transaction_hash,omitempty"`
}

// merge overwrites fields of p that are present in other.
func (p *Payload) merge(other Payload) {
	if other.Text != nil {
		text := *other.Text
		p.Text = &text
	}
	if other.Files != nil {
		p.Files = append([]FileDescriptor(nil), other.Files...)
	}
	if other.Links != nil {
		p.Links = append([]string(nil), other.Links...)
	}
	if other.TransactionHash != nil {
		hash := *other.TransactionHash
		p.TransactionHash = &hash
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Submission is a learner's attempt at a task.
// There is at most one submission per (task, user); re-submitting merges into it.
type Submission struct {
	ID         uuid.UUID
	TaskID     uuid.UUID
	UserID     uuid.UUID
	Payload    Payload
	Status     Status
	XPAwarded  int
	Feedback   *string
	ReviewerID *uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ReviewedAt *time.Time
}

// New creates a pending submission.
func New(taskID, userID uuid.UUID, payload Payload) (*Submission, error) {
	if taskID == uuid.Nil {
		return nil, shared.NewDomainError("submission", "New", shared.ErrInvalidID, "task id is required")
	}
	if userID == uuid.Nil {
		return nil, shared.NewDomainError("submission", "New", shared.ErrInvalidID, "user id is required")
	}
	now := time.Now().UTC()
	s := &Submission{
		ID:        uuid.New(),
		TaskID:    taskID,
		UserID:    userID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Payload.merge(payload)
	return s, nil
}

// Resubmit merges a new payload into the submission and resets it to pending.
// An approved submission cannot be resubmitted.
func (s *Submission) Resubmit(payload Payload) error {
	if s.Status.IsTerminal() {
		return shared.ErrTaskAlreadyCompleted
	}
	s.Payload.merge(payload)
	s.Status = StatusPending
	s.XPAwarded = 0
	s.Feedback = nil
	s.ReviewerID = nil
	s.ReviewedAt = nil
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Approve marks the submission approved with the given XP.
// reviewerID is nil for auto-verification.
func (s *Submission) Approve(xp int, reviewerID *uuid.UUID, feedback *string) error {
	if s.Status.IsTerminal() {
		return shared.ErrSubmissionAlreadyReviewed
	}
	if xp < 0 {
		return shared.NewDomainError("submission", "Approve", shared.ErrNegativeValue, "xp awarded cannot be negative")
	}
	now := time.Now().UTC()
	s.Status = StatusApproved
	s.XPAwarded = xp
	s.Feedback = feedback
	s.ReviewerID = reviewerID
	s.ReviewedAt = &now
	s.UpdatedAt = now
	return nil
}

// Reject marks the submission rejected. Awarded XP is reset to zero.
func (s *Submission) Reject(reviewerID uuid.UUID, feedback *string) error {
	if s.Status.IsTerminal() {
		return shared.ErrSubmissionAlreadyReviewed
	}
	now := time.Now().UTC()
	s.Status = StatusRejected
	s.XPAwarded = 0
	s.Feedback = feedback
	s.ReviewerID = &reviewerID
	s.ReviewedAt = &now
	s.UpdatedAt = now
	return nil
}

// MarkAutoVerificationFailed leaves the submission pending and records why
// auto-verification did not pass.
func (s *Submission) MarkAutoVerificationFailed(reason string) {
	feedback := "Auto-verification failed: " + reason
	s.Feedback = &feedback
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy.
func (s *Submission) Clone() *Submission {
	c := *s
	c.Payload = Payload{}
	c.Payload.merge(s.Payload)
	if s.Feedback != nil {
		f := *s.Feedback
		c.Feedback = &f
	}
	if s.ReviewerID != nil {
		r := *s.ReviewerID
		c.ReviewerID = &r
	}
	if s.ReviewedAt != nil {
		t := *s.ReviewedAt
		c.ReviewedAt = &t
	}
	return &c
}
