package query

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/submission"
	"github.com/learnfi/learnfi-hub/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET TASK QUERY
// ══════════════════════════════════════════════════════════════════════════════

// TaskReader resolves a task by id. The read-through task cache implements it.
type TaskReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error)
}

// GetTaskQuery identifies a task.
type GetTaskQuery struct {
	TaskID uuid.UUID
}

// GetTaskHandler returns a single task.
type GetTaskHandler struct {
	tasks TaskReader
}

// NewGetTaskHandler creates a new GetTaskHandler.
func NewGetTaskHandler(tasks TaskReader) *GetTaskHandler {
	return &GetTaskHandler{tasks: tasks}
}

// Handle executes the query.
func (h *GetTaskHandler) Handle(ctx context.Context, q GetTaskQuery) (*TaskDTO, error) {
	if q.TaskID == uuid.Nil {
		return nil, shared.NewDomainError("query", "GetTask", shared.ErrInvalidID, "task id is required")
	}

	t, err := h.tasks.GetByID(ctx, q.TaskID)
	if err != nil {
		return nil, fmt.Errorf("get_task: %w", err)
	}

	dto := NewTaskDTO(t)
	return &dto, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET COURSE TASKS QUERY
// Lists a course's tasks together with the caller's own submission for each.
// ══════════════════════════════════════════════════════════════════════════════

// GetCourseTasksQuery contains the course and the caller.
type GetCourseTasksQuery struct {
	Actor    shared.Actor
	CourseID uuid.UUID
}

// CourseTaskDTO is a task with the caller's submission, if any.
type CourseTaskDTO struct {
	TaskDTO
	UserSubmission *SubmissionDTO `json:"user_submission"`
}

// GetCourseTasksResult contains the course tasks.
type GetCourseTasksResult struct {
	CourseID string          `json:"course_id"`
	Tasks    []CourseTaskDTO `json:"tasks"`

	// Completed counts tasks whose submission has been approved.
	Completed int `json:"completed"`
}

// GetCourseTasksHandler handles GetCourseTasksQuery.
type GetCourseTasksHandler struct {
	tasks       task.Repository
	submissions submission.Repository
}

// NewGetCourseTasksHandler creates a new GetCourseTasksHandler.
func NewGetCourseTasksHandler(tasks task.Repository, submissions submission.Repository) *GetCourseTasksHandler {
	return &GetCourseTasksHandler{tasks: tasks, submissions: submissions}
}

// Handle executes the query. Anonymous callers get tasks without submissions.
func (h *GetCourseTasksHandler) Handle(ctx context.Context, q GetCourseTasksQuery) (*GetCourseTasksResult, error) {
	if q.CourseID == uuid.Nil {
		return nil, shared.NewDomainError("query", "GetCourseTasks", shared.ErrInvalidID, "course id is required")
	}

	tasks, err := h.tasks.ListByCourse(ctx, q.CourseID)
	if err != nil {
		return nil, fmt.Errorf("get_course_tasks: %w", err)
	}

	own := map[uuid.UUID]*submission.Submission{}
	if !q.Actor.IsZero() && len(tasks) > 0 {
		ids := make([]uuid.UUID, len(tasks))
		for i, t := range tasks {
			ids[i] = t.ID
		}
		own, err = h.submissions.ListByUserAndTasks(ctx, q.Actor.UserID, ids)
		if err != nil {
			return nil, fmt.Errorf("get_course_tasks: %w", err)
		}
	}

	result := &GetCourseTasksResult{
		CourseID: q.CourseID.String(),
		Tasks:    make([]CourseTaskDTO, 0, len(tasks)),
	}
	for _, t := range tasks {
		item := CourseTaskDTO{TaskDTO: NewTaskDTO(t)}
		if s, ok := own[t.ID]; ok {
			dto := NewSubmissionDTO(s)
			item.UserSubmission = &dto
			if s.Status == submission.StatusApproved {
				result.Completed++
			}
		}
		result.Tasks = append(result.Tasks, item)
	}

	return result, nil
}
