package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/config"
	"github.com/learnfi/learnfi-hub/internal/application/command"
	"github.com/learnfi/learnfi-hub/internal/application/query"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/submission"
	"github.com/learnfi/learnfi-hub/internal/domain/task"
	"github.com/learnfi/learnfi-hub/internal/domain/verification"
	"github.com/learnfi/learnfi-hub/internal/interface/http/handlers"
	"github.com/learnfi/learnfi-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "LearnFi Hub API",
		"version":     "v1",
		"description": "Task submissions, auto-verification and the XP ledger",
		"endpoints": map[string]string{
			"health":      "/health",
			"tasks":       "/api/v1/tasks",
			"submissions": "/api/v1/submissions",
			"leaderboard": "/api/v1/leaderboard",
		},
	}

	writeJSON(w, r, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, r, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, r, http.StatusOK, status)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": "v1",
	})
}

// handleReady handles the readiness probe endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// TASK HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type createTaskRequest struct {
	CourseID          string          `json:"course_id"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	TaskType          string          `json:"task_type"`
	XPReward          int             `json:"xp_reward"`
	AutoVerify        bool            `json:"auto_verify"`
	VerificationRules json.RawMessage `json:"verification_rules"`
}

type updateTaskRequest struct {
	Title             *string          `json:"title"`
	Description       *string          `json:"description"`
	XPReward          *int             `json:"xp_reward"`
	AutoVerify        *bool            `json:"auto_verify"`
	VerificationRules *json.RawMessage `json:"verification_rules"`

	// TaskType is decoded only to reject it.
	TaskType *string `json:"task_type"`
}

// handleCreateTask handles POST /api/v1/tasks
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	courseID, err := parseUUID(req.CourseID, "course_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	taskType, err := task.ParseType(req.TaskType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	t, err := s.deps.Tasks.Create(r.Context(), command.CreateTaskCommand{
		Actor:       handlers.ActorFromContext(r.Context()),
		CourseID:    courseID,
		Title:       req.Title,
		Description: req.Description,
		Type:        taskType,
		XPReward:    req.XPReward,
		AutoVerify:  req.AutoVerify,
		Rules:       req.VerificationRules,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, query.NewTaskDTO(t))
}

// handleGetCourseTasks handles GET /api/v1/tasks/course/{courseID}
func (s *Server) handleGetCourseTasks(w http.ResponseWriter, r *http.Request) {
	courseID, err := pathUUID(r, "courseID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.GetCourseTasks.Handle(r.Context(), query.GetCourseTasksQuery{
		Actor:    handlers.ActorFromContext(r.Context()),
		CourseID: courseID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{Count: len(result.Tasks)})
}

// handleGetTask handles GET /api/v1/tasks/{id}
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	dto, err := s.deps.GetTask.Handle(r.Context(), query.GetTaskQuery{TaskID: taskID})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, dto)
}

// handleUpdateTask handles PATCH /api/v1/tasks/{id}
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req updateTaskRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.TaskType != nil {
		s.writeError(w, r, shared.NewDomainError("task", "Update", shared.ErrInvalidInput, "task type cannot be changed"))
		return
	}

	t, err := s.deps.Tasks.Update(r.Context(), command.UpdateTaskCommand{
		Actor:  handlers.ActorFromContext(r.Context()),
		TaskID: taskID,
		Patch: task.Patch{
			Title:       req.Title,
			Description: req.Description,
			XPReward:    req.XPReward,
			AutoVerify:  req.AutoVerify,
			Rules:       req.VerificationRules,
		},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, query.NewTaskDTO(t))
}

// handleDeleteTask handles DELETE /api/v1/tasks/{id}
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	err = s.deps.Tasks.Delete(r.Context(), command.DeleteTaskCommand{
		Actor:  handlers.ActorFromContext(r.Context()),
		TaskID: taskID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"id":      taskID.String(),
		"deleted": true,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type submitRequest struct {
	TaskID          string                      `json:"task_id"`
	SubmissionText  *string                     `json:"submission_text"`
	SubmissionFiles []submission.FileDescriptor `json:"submission_files"`
	SubmissionLinks []string                    `json:"submission_links"`
	TransactionHash *string                     `json:"transaction_hash"`
}

type verdictResponse struct {
	Outcome string         `json:"outcome"`
	Valid   bool           `json:"valid"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type submitResponse struct {
	Submission   query.SubmissionDTO `json:"submission"`
	Created      bool                `json:"created"`
	Verification *verdictResponse    `json:"verification,omitempty"`
}

type reviewRequest struct {
	Status    string  `json:"status"`
	XPAwarded int     `json:"xp_awarded"`
	Feedback  *string `json:"feedback"`
}

type reviewResponse struct {
	Submission  query.SubmissionDTO   `json:"submission"`
	LedgerEntry *query.LedgerEntryDTO `json:"ledger_entry,omitempty"`
}

// handleSubmit handles POST /api/v1/submissions
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	taskID, err := parseUUID(req.TaskID, "task_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.SubmitTask.Handle(r.Context(), command.SubmitTaskCommand{
		Actor:  handlers.ActorFromContext(r.Context()),
		TaskID: taskID,
		Payload: submission.Payload{
			Text:            req.SubmissionText,
			Files:           req.SubmissionFiles,
			Links:           req.SubmissionLinks,
			TransactionHash: req.TransactionHash,
		},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := submitResponse{
		Submission:   query.NewSubmissionDTO(result.Submission),
		Created:      result.Created,
		Verification: newVerdictResponse(result.Verdict),
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, resp)
}

func newVerdictResponse(v *verification.Verdict) *verdictResponse {
	if v == nil {
		return nil
	}
	return &verdictResponse{
		Outcome: v.Outcome.String(),
		Valid:   v.Valid(),
		Reason:  v.Reason,
		Details: v.Details,
	}
}

// handleListPending handles GET /api/v1/submissions/pending
func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	courseID, err := optionalQueryUUID(r, "course_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := s.deps.ListPending.Handle(r.Context(), query.ListPendingQuery{
		Actor:       handlers.ActorFromContext(r.Context()),
		CourseID:    courseID,
		Limit:       getQueryParamInt(r, "limit", shared.DefaultPageLimit),
		Offset:      getQueryParamInt(r, "offset", 0),
		IncludeTask: getQueryParamBool(r, "include_task"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeSubmissionPage(w, r, page)
}

// handleListUserSubmissions handles GET /api/v1/submissions/user/{userID}
func (s *Server) handleListUserSubmissions(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	courseID, err := optionalQueryUUID(r, "course_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := s.deps.ListUserSubmissions.Handle(r.Context(), query.ListUserSubmissionsQuery{
		Actor:    handlers.ActorFromContext(r.Context()),
		UserID:   userID,
		CourseID: courseID,
		Limit:    getQueryParamInt(r, "limit", shared.DefaultPageLimit),
		Offset:   getQueryParamInt(r, "offset", 0),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeSubmissionPage(w, r, page)
}

func writeSubmissionPage(w http.ResponseWriter, r *http.Request, page *query.SubmissionPage) {
	writeJSONWithMeta(w, r, http.StatusOK, page.Items, &ResponseMeta{
		Count:   len(page.Items),
		Limit:   page.Limit,
		Offset:  page.Offset,
		HasMore: page.HasMore,
	})
}

// handleGetSubmission handles GET /api/v1/submissions/{id}
func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	submissionID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	dto, err := s.deps.GetSubmission.Handle(r.Context(), query.GetSubmissionQuery{
		Actor:        handlers.ActorFromContext(r.Context()),
		SubmissionID: submissionID,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, dto)
}

// handleReview handles PATCH /api/v1/submissions/{id}/review
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	submissionID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req reviewRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	result, err := s.deps.ReviewSubmission.Handle(r.Context(), command.ReviewSubmissionCommand{
		Actor:        handlers.ActorFromContext(r.Context()),
		SubmissionID: submissionID,
		Status:       submission.Status(strings.ToLower(strings.TrimSpace(req.Status))),
		XPAwarded:    req.XPAwarded,
		Feedback:     req.Feedback,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := reviewResponse{Submission: query.NewSubmissionDTO(result.Submission)}
	if result.LedgerEntry != nil {
		entry := query.NewLedgerEntryDTO(result.LedgerEntry)
		resp.LedgerEntry = &entry
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER & LEADERBOARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type grantXPRequest struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

// handleListLedger handles GET /api/v1/users/{userID}/ledger
func (s *Server) handleListLedger(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUUID(r, "userID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	limit := shared.ClampLimit(getQueryParamInt(r, "limit", shared.DefaultPageLimit))
	result, err := s.deps.ListLedger.Handle(r.Context(), query.ListLedgerQuery{
		Actor:  handlers.ActorFromContext(r.Context()),
		UserID: userID,
		Limit:  limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{Count: len(result.Entries), Limit: limit})
}

// handleGrantXP handles POST /api/v1/users/{userID}/xp
func (s *Server) handleGrantXP(w http.ResponseWriter, r *http.Request) {
	actor := handlers.ActorFromContext(r.Context())
	if s.deps.Features != nil && !s.deps.Features.IsEnabled(config.FeatureAdminXPGrants, &config.FeatureContext{
		UserID:  actor.UserID.String(),
		IsAdmin: actor.IsAdmin(),
	}) {
		writeJSONError(w, r, http.StatusForbidden, "feature_disabled", "Manual XP adjustments are disabled")
		return
	}

	userID, err := pathUUID(r, "userID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req grantXPRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	result, err := s.deps.GrantXP.Handle(r.Context(), command.GrantXPCommand{
		Actor:  actor,
		UserID: userID,
		Amount: req.Amount,
		Reason: req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, query.NewLedgerEntryDTO(result.Entry))
}

// handleGetLeaderboard handles GET /api/v1/leaderboard
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := shared.ClampLimit(getQueryParamInt(r, "limit", shared.DefaultPageLimit))
	result, err := s.deps.GetLeaderboard.Handle(r.Context(), query.GetLeaderboardQuery{Limit: limit})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{Count: len(result.Entries), Limit: limit})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DECODING & ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// decodeJSON decodes the request body and writes the error response itself
// when decoding fails.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
	case errors.Is(err, io.EOF):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", "Request body is required")
	default:
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_json", "Request body is not valid JSON", err.Error())
	}
	return false
}

func parseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, shared.WrapError("http", "Parse", shared.ErrInvalidID, field+" must be a UUID", err)
	}
	return id, nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return parseUUID(r.PathValue(name), name)
}

func optionalQueryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	id, err := parseUUID(raw, name)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// statusForError maps an error kind to an HTTP status and error code.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, shared.ErrAlreadyCompleted):
		return http.StatusConflict, "already_completed"
	case errors.Is(err, shared.ErrConflict), shared.IsAlreadyExists(err):
		return http.StatusConflict, "conflict"
	case shared.IsValidation(err):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, shared.ErrInvariantViolation):
		return http.StatusInternalServerError, "invariant_violation"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError renders a domain or infrastructure error. Internal details of
// unclassified errors are logged, never returned.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)

	message := "An unexpected error occurred"
	var domainErr *shared.DomainError
	if code != "internal_error" && errors.As(err, &domainErr) {
		message = domainErr.Message
	}

	if status >= http.StatusInternalServerError {
		fields := []logger.Field{
			logger.Err(err),
			logger.String("code", code),
			logger.String("path", r.URL.Path),
		}
		if errors.As(err, &domainErr) && domainErr.Op != "" {
			fields = append(fields, logger.Operation(domainErr.Domain+"."+domainErr.Op))
		}
		logger.FromContext(r.Context()).Error("request failed", fields...)
	}

	writeJSONError(w, r, status, code, message)
}
