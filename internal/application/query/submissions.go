package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/submission"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET SUBMISSION QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetSubmissionQuery identifies a submission.
type GetSubmissionQuery struct {
	Actor        shared.Actor
	SubmissionID uuid.UUID
}

// GetSubmissionHandler returns a submission to its owner or a reviewer.
type GetSubmissionHandler struct {
	submissions submission.Repository
	tasks       TaskReader
}

// NewGetSubmissionHandler creates a new GetSubmissionHandler.
func NewGetSubmissionHandler(submissions submission.Repository, tasks TaskReader) *GetSubmissionHandler {
	return &GetSubmissionHandler{submissions: submissions, tasks: tasks}
}

// Handle executes the query.
func (h *GetSubmissionHandler) Handle(ctx context.Context, q GetSubmissionQuery) (*SubmissionDTO, error) {
	if q.Actor.IsZero() {
		return nil, shared.NewDomainError("query", "GetSubmission", shared.ErrUnauthorized, "authentication required")
	}

	s, err := h.submissions.GetByID(ctx, q.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("get_submission: %w", err)
	}
	if !q.Actor.CanAccessUser(s.UserID) {
		return nil, shared.NewDomainError("query", "GetSubmission", shared.ErrForbidden, "cannot view another user's submission")
	}

	dto := NewSubmissionDTO(s)
	if t, err := h.tasks.GetByID(ctx, s.TaskID); err == nil {
		taskDTO := NewTaskDTO(t)
		dto.Task = &taskDTO
	}
	return &dto, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIST USER SUBMISSIONS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ListUserSubmissionsQuery lists a user's submissions, newest first.
type ListUserSubmissionsQuery struct {
	Actor    shared.Actor
	UserID   uuid.UUID
	CourseID *uuid.UUID
	Limit    int
	Offset   int
}

// ListUserSubmissionsHandler handles ListUserSubmissionsQuery.
type ListUserSubmissionsHandler struct {
	submissions submission.Repository
}

// NewListUserSubmissionsHandler creates a new ListUserSubmissionsHandler.
func NewListUserSubmissionsHandler(submissions submission.Repository) *ListUserSubmissionsHandler {
	return &ListUserSubmissionsHandler{submissions: submissions}
}

// Handle executes the query.
func (h *ListUserSubmissionsHandler) Handle(ctx context.Context, q ListUserSubmissionsQuery) (*SubmissionPage, error) {
	if q.Actor.IsZero() {
		return nil, shared.NewDomainError("query", "ListUserSubmissions", shared.ErrUnauthorized, "authentication required")
	}
	if !q.Actor.CanAccessUser(q.UserID) {
		return nil, shared.NewDomainError("query", "ListUserSubmissions", shared.ErrForbidden, "cannot view another user's submissions")
	}

	limit := shared.ClampLimit(q.Limit)
	subs, err := h.submissions.ListByUser(ctx, q.UserID, submission.ListFilter{
		CourseID: q.CourseID,
		Limit:    limit + 1,
		Offset:   q.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list_user_submissions: %w", err)
	}

	subs, page := newSubmissionPage(subs, limit, q.Offset)
	page.Items = toSubmissionDTOs(subs)
	return page, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIST PENDING QUERY
// The review queue. Oldest submissions come first.
// ══════════════════════════════════════════════════════════════════════════════

// ListPendingQuery contains the review queue filter.
type ListPendingQuery struct {
	Actor    shared.Actor
	CourseID *uuid.UUID
	Limit    int
	Offset   int

	// IncludeTask joins each submission with its task.
	IncludeTask bool
}

// ListPendingHandler handles ListPendingQuery.
type ListPendingHandler struct {
	submissions submission.Repository
	tasks       TaskReader
}

// NewListPendingHandler creates a new ListPendingHandler.
func NewListPendingHandler(submissions submission.Repository, tasks TaskReader) *ListPendingHandler {
	return &ListPendingHandler{submissions: submissions, tasks: tasks}
}

// Handle executes the query.
func (h *ListPendingHandler) Handle(ctx context.Context, q ListPendingQuery) (*SubmissionPage, error) {
	if q.Actor.IsZero() {
		return nil, shared.NewDomainError("query", "ListPending", shared.ErrUnauthorized, "authentication required")
	}
	if !q.Actor.CanReview() {
		return nil, shared.ErrReviewerRoleRequired
	}

	limit := shared.ClampLimit(q.Limit)
	subs, err := h.submissions.ListPending(ctx, submission.ListFilter{
		CourseID: q.CourseID,
		Limit:    limit + 1,
		Offset:   q.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list_pending: %w", err)
	}

	subs, page := newSubmissionPage(subs, limit, q.Offset)
	dtos := toSubmissionDTOs(subs)
	page.Items = dtos
	if !q.IncludeTask {
		return page, nil
	}

	cache := make(map[uuid.UUID]*TaskDTO)
	for i, s := range subs {
		taskDTO, ok := cache[s.TaskID]
		if !ok {
			t, err := h.tasks.GetByID(ctx, s.TaskID)
			if err != nil {
				return nil, fmt.Errorf("list_pending: %w", err)
			}
			converted := NewTaskDTO(t)
			taskDTO = &converted
			cache[s.TaskID] = taskDTO
		}
		dtos[i].Task = taskDTO
	}

	return page, nil
}

// newSubmissionPage trims subs, fetched with limit+1, to one page.
func newSubmissionPage(subs []*submission.Submission, limit, offset int) ([]*submission.Submission, *SubmissionPage) {
	if offset < 0 {
		offset = 0
	}
	page := &SubmissionPage{Limit: limit, Offset: offset}
	if len(subs) > limit {
		subs = subs[:limit]
		page.HasMore = true
	}
	return subs, page
}

func toSubmissionDTOs(subs []*submission.Submission) []SubmissionDTO {
	dtos := make([]SubmissionDTO, len(subs))
	for i, s := range subs {
		dtos[i] = NewSubmissionDTO(s)
	}
	return dtos
}
