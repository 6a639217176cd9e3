package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnfi/learnfi-hub/config"
	"github.com/learnfi/learnfi-hub/internal/application/command"
	"github.com/learnfi/learnfi-hub/internal/application/query"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/verification"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/messaging"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/metrics"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/persistence/memory"
	"github.com/learnfi/learnfi-hub/internal/interface/http/handlers"
	"github.com/learnfi/learnfi-hub/pkg/logger"
)

type testEnv struct {
	handler  http.Handler
	store    *memory.Store
	features *config.FeatureFlags
	metrics  *metrics.Metrics

	learner    shared.Actor
	instructor shared.Actor
	admin      shared.Actor
}

func newTestEnv(t *testing.T, mutate func(*Config, *Dependencies)) *testEnv {
	t.Helper()

	store := memory.NewStore()
	log := logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError})
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	tasks := memory.NewTaskRepository(store)
	subs := memory.NewSubmissionRepository(store)
	accounts := memory.NewAccountRepository(store)
	entries := memory.NewEntryRepository(store)

	xpLedger := command.NewXPLedger(store, accounts, entries, bus, log)
	env := &testEnv{
		store:    store,
		features: config.NewFeatureFlags(),
		metrics:  metrics.New(),
	}

	deps := Dependencies{
		SubmitTask: command.NewSubmitTaskHandler(store, tasks, subs, xpLedger, verification.NewEngine(), bus,
			env.metrics, log, command.DefaultSubmitTaskHandlerConfig()),
		ReviewSubmission:    command.NewReviewSubmissionHandler(store, tasks, subs, xpLedger, bus, log),
		Tasks:               command.NewTaskHandler(store, tasks, nil, log),
		GrantXP:             command.NewGrantXPHandler(xpLedger),
		GetTask:             query.NewGetTaskHandler(tasks),
		GetCourseTasks:      query.NewGetCourseTasksHandler(tasks, subs),
		GetSubmission:       query.NewGetSubmissionHandler(subs, tasks),
		ListUserSubmissions: query.NewListUserSubmissionsHandler(subs),
		ListPending:         query.NewListPendingHandler(subs, tasks),
		ListLedger:          query.NewListLedgerHandler(accounts, entries),
		GetLeaderboard:      query.NewGetLeaderboardHandler(accounts, nil, log),
		Features:            env.features,
		Metrics:             env.metrics,
		Logger:              log,
	}

	cfg := DefaultConfig()
	cfg.RateLimit = 0
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	env.handler = NewServer(cfg, deps).Handler()
	env.learner = env.addUser(shared.RoleLearner)
	env.instructor = env.addUser(shared.RoleInstructor)
	env.admin = env.addUser(shared.RoleAdmin)
	return env
}

func (e *testEnv) addUser(role shared.Role) shared.Actor {
	id := uuid.New()
	e.store.AddUser(id, role)
	return shared.Actor{UserID: id, Role: role}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *ResponseMeta   `json:"meta"`
}

func (e *testEnv) do(t *testing.T, actor *shared.Actor, method, path string, body interface{}) (int, apiResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(handlers.HeaderUserID, actor.UserID.String())
		req.Header.Set(handlers.HeaderUserRole, actor.Role.String())
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func decodeData[T any](t *testing.T, resp apiResponse) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out
}

func (e *testEnv) createTask(t *testing.T, body map[string]interface{}) query.TaskDTO {
	t.Helper()
	if _, ok := body["course_id"]; !ok {
		body["course_id"] = uuid.NewString()
	}
	status, resp := e.do(t, &e.instructor, http.MethodPost, "/api/v1/tasks", body)
	require.Equal(t, http.StatusCreated, status, resp.Error)
	return decodeData[query.TaskDTO](t, resp)
}

// ══════════════════════════════════════════════════════════════════════════════
// OPS ENDPOINTS
// ══════════════════════════════════════════════════════════════════════════════

func TestOpsEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	status, resp := env.do(t, nil, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)

	status, _ = env.do(t, nil, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = env.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `learnfi_hub_http_requests_total{method="GET",path="/live",status="200"} 1`)
}

func TestHealth_OptionalChecksDegrade(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("database", func(context.Context) error { return nil })
	checker.AddOptionalCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	env := newTestEnv(t, func(_ *Config, d *Dependencies) { d.HealthChecker = checker })

	status, resp := env.do(t, nil, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, status)
	health := decodeData[handlers.HealthStatus](t, resp)
	assert.True(t, health.Degraded)
	assert.False(t, health.Checks["redis"].Healthy)

	checker.AddCheck("database", func(context.Context) error { return errors.New("down") })
	status, _ = env.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, resp = env.do(t, nil, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(resp.Data), "database")
}

// ══════════════════════════════════════════════════════════════════════════════
// GATEWAY IDENTITY
// ══════════════════════════════════════════════════════════════════════════════

func TestGatewayIdentity(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("missing identity on a protected route", func(t *testing.T) {
		status, resp := env.do(t, nil, http.MethodPost, "/api/v1/submissions", map[string]string{"task_id": uuid.NewString()})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "unauthorized", resp.Error.Code)
	})

	t.Run("malformed identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil)
		req.Header.Set(handlers.HeaderUserID, "not-a-uuid")
		req.Header.Set(handlers.HeaderUserRole, "learner")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid_identity")
	})

	t.Run("unknown role", func(t *testing.T) {
		bogus := shared.Actor{UserID: uuid.New(), Role: shared.Role("superuser")}
		status, resp := env.do(t, &bogus, http.MethodGet, "/api/v1/leaderboard", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "invalid_identity", resp.Error.Code)
	})

	t.Run("anonymous public route", func(t *testing.T) {
		status, resp := env.do(t, nil, http.MethodGet, "/api/v1/leaderboard", nil)
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, resp.Success)
	})
}

func TestGatewayToken(t *testing.T) {
	env := newTestEnv(t, func(c *Config, _ *Dependencies) { c.GatewayToken = "s3cret" })

	status, resp := env.do(t, nil, http.MethodGet, "/api/v1/leaderboard", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_gateway_token", resp.Error.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Ops endpoints stay reachable for probes.
	status, _ = env.do(t, nil, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config, _ *Dependencies) {
		c.RateLimit = 0.001
		c.RateLimitBurst = 2
	})

	for i := 0; i < 2; i++ {
		status, _ := env.do(t, &env.learner, http.MethodGet, "/api/v1/leaderboard", nil)
		require.Equal(t, http.StatusOK, status)
	}
	status, resp := env.do(t, &env.learner, http.MethodGet, "/api/v1/leaderboard", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limit_exceeded", resp.Error.Code)

	// Buckets are per user.
	status, _ = env.do(t, &env.admin, http.MethodGet, "/api/v1/leaderboard", nil)
	assert.Equal(t, http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// TASKS
// ══════════════════════════════════════════════════════════════════════════════

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	courseID := uuid.NewString()

	created := env.createTask(t, map[string]interface{}{
		"course_id":          courseID,
		"title":              "Write about Ethereum",
		"task_type":          "text_submission",
		"xp_reward":          30,
		"verification_rules": map[string]interface{}{"min_length": 5},
	})
	assert.Equal(t, "text_submission", created.TaskType)
	assert.Equal(t, env.instructor.UserID.String(), created.CreatedBy)

	status, resp := env.do(t, nil, http.MethodGet, "/api/v1/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created.ID, decodeData[query.TaskDTO](t, resp).ID)

	status, resp = env.do(t, &env.instructor, http.MethodPatch, "/api/v1/tasks/"+created.ID, map[string]interface{}{"xp_reward": 45})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 45, decodeData[query.TaskDTO](t, resp).XPReward)

	status, resp = env.do(t, &env.instructor, http.MethodPatch, "/api/v1/tasks/"+created.ID, map[string]interface{}{"task_type": "quiz"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_failed", resp.Error.Code)

	other := env.addUser(shared.RoleInstructor)
	status, resp = env.do(t, &other, http.MethodDelete, "/api/v1/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", resp.Error.Code)

	status, resp = env.do(t, &env.learner, http.MethodGet, "/api/v1/tasks/course/"+courseID, nil)
	require.Equal(t, http.StatusOK, status)
	course := decodeData[query.GetCourseTasksResult](t, resp)
	require.Len(t, course.Tasks, 1)
	assert.Nil(t, course.Tasks[0].UserSubmission)

	status, _ = env.do(t, &env.instructor, http.MethodDelete, "/api/v1/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, status)

	status, resp = env.do(t, nil, http.MethodGet, "/api/v1/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", resp.Error.Code)
}

func TestCreateTask_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	status, resp := env.do(t, &env.instructor, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"course_id": uuid.NewString(),
		"title":     "Bad",
		"task_type": "essay",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_failed", resp.Error.Code)

	status, _ = env.do(t, &env.learner, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"course_id": uuid.NewString(),
		"title":     "Nope",
		"task_type": "quiz",
	})
	assert.Equal(t, http.StatusForbidden, status)

	status, resp = env.do(t, nil, http.MethodGet, "/api/v1/tasks/not-a-uuid", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_failed", resp.Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader("{"))
	req.Header.Set(handlers.HeaderUserID, env.instructor.UserID.String())
	req.Header.Set(handlers.HeaderUserRole, "instructor")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_json")
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSIONS
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmit_AutoVerifiedTransactionProof(t *testing.T) {
	env := newTestEnv(t, nil)
	tk := env.createTask(t, map[string]interface{}{
		"title":       "Send a transaction",
		"task_type":   "transaction_proof",
		"xp_reward":   75,
		"auto_verify": true,
	})

	hash := "0x" + strings.Repeat("a", 64)
	status, resp := env.do(t, &env.learner, http.MethodPost, "/api/v1/submissions", map[string]interface{}{
		"task_id":          tk.ID,
		"transaction_hash": hash,
	})
	require.Equal(t, http.StatusCreated, status, resp.Error)

	result := decodeData[submitResponse](t, resp)
	assert.Equal(t, "approved", result.Submission.Status)
	assert.Equal(t, 75, result.Submission.XPAwarded)
	require.NotNil(t, result.Verification)
	assert.True(t, result.Verification.Valid)

	// Approved tasks cannot be submitted again.
	status, resp = env.do(t, &env.learner, http.MethodPost, "/api/v1/submissions", map[string]interface{}{
		"task_id":          tk.ID,
		"transaction_hash": hash,
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_completed", resp.Error.Code)

	status, resp = env.do(t, &env.learner, http.MethodGet, "/api/v1/users/"+env.learner.UserID.String()+"/ledger", nil)
	require.Equal(t, http.StatusOK, status)
	ledgerView := decodeData[query.ListLedgerResult](t, resp)
	assert.Equal(t, 75, ledgerView.XPTotal)
	require.Len(t, ledgerView.Entries, 1)
	assert.Equal(t, 75, ledgerView.Entries[0].BalanceAfter)

	status, resp = env.do(t, nil, http.MethodGet, "/api/v1/leaderboard?limit=5", nil)
	require.Equal(t, http.StatusOK, status)
	board := decodeData[query.GetLeaderboardResult](t, resp)
	require.NotEmpty(t, board.Entries)
	assert.Equal(t, env.learner.UserID.String(), board.Entries[0].UserID)
}

func TestSubmit_RuleFailureStaysPending(t *testing.T) {
	env := newTestEnv(t, nil)
	tk := env.createTask(t, map[string]interface{}{
		"title":       "Send a transaction",
		"task_type":   "transaction_proof",
		"xp_reward":   75,
		"auto_verify": true,
	})

	status, resp := env.do(t, &env.learner, http.MethodPost, "/api/v1/submissions", map[string]interface{}{
		"task_id":          tk.ID,
		"transaction_hash": "0xabc",
	})
	require.Equal(t, http.StatusCreated, status)

	result := decodeData[submitResponse](t, resp)
	assert.Equal(t, "pending", result.Submission.Status)
	require.NotNil(t, result.Verification)
	assert.False(t, result.Verification.Valid)
	assert.Equal(t, "rule_failed", result.Verification.Outcome)
}

func TestReviewFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	courseID := uuid.NewString()
	tk := env.createTask(t, map[string]interface{}{
		"course_id": courseID,
		"title":     "Share your repo",
		"task_type": "link_submission",
		"xp_reward": 40,
	})

	status, resp := env.do(t, &env.learner, http.MethodPost, "/api/v1/submissions", map[string]interface{}{
		"task_id":          tk.ID,
		"submission_links": []string{"https://github.com/me/repo"},
	})
	require.Equal(t, http.StatusCreated, status)
	sub := decodeData[submitResponse](t, resp).Submission
	assert.Nil(t, decodeData[submitResponse](t, resp).Verification)

	status, resp = env.do(t, &env.instructor, http.MethodGet, "/api/v1/submissions/pending?course_id="+courseID+"&include_task=true", nil)
	require.Equal(t, http.StatusOK, status)
	pending := decodeData[[]query.SubmissionDTO](t, resp)
	require.Len(t, pending, 1)
	assert.False(t, resp.Meta.HasMore)
	require.NotNil(t, pending[0].Task)
	assert.Equal(t, tk.ID, pending[0].Task.ID)

	status, _ = env.do(t, &env.learner, http.MethodGet, "/api/v1/submissions/pending", nil)
	assert.Equal(t, http.StatusForbidden, status)

	reviewPath := "/api/v1/submissions/" + sub.ID + "/review"
	status, resp = env.do(t, &env.learner, http.MethodPatch, reviewPath, map[string]interface{}{"status": "approved", "xp_awarded": 40})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", resp.Error.Code)

	status, resp = env.do(t, &env.instructor, http.MethodPatch, reviewPath, map[string]interface{}{"status": "maybe"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, resp = env.do(t, &env.instructor, http.MethodPatch, reviewPath, map[string]interface{}{
		"status":     "approved",
		"xp_awarded": 40,
		"feedback":   "Nice work",
	})
	require.Equal(t, http.StatusOK, status, resp.Error)
	reviewed := decodeData[reviewResponse](t, resp)
	assert.Equal(t, "approved", reviewed.Submission.Status)
	require.NotNil(t, reviewed.LedgerEntry)
	assert.Equal(t, 40, reviewed.LedgerEntry.XPChange)
	assert.Equal(t, "task_completion", reviewed.LedgerEntry.SourceType)

	status, resp = env.do(t, &env.instructor, http.MethodPatch, reviewPath, map[string]interface{}{"status": "approved", "xp_awarded": 40})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", resp.Error.Code)

	status, resp = env.do(t, &env.learner, http.MethodGet, "/api/v1/submissions/"+sub.ID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Nice work", *decodeData[query.SubmissionDTO](t, resp).Feedback)

	stranger := env.addUser(shared.RoleLearner)
	status, _ = env.do(t, &stranger, http.MethodGet, "/api/v1/submissions/"+sub.ID, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, resp = env.do(t, &env.learner, http.MethodGet, "/api/v1/submissions/user/"+env.learner.UserID.String()+"?course_id="+courseID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeData[[]query.SubmissionDTO](t, resp), 1)

	status, resp = env.do(t, &env.learner, http.MethodGet, "/api/v1/tasks/course/"+courseID, nil)
	require.Equal(t, http.StatusOK, status)
	course := decodeData[query.GetCourseTasksResult](t, resp)
	assert.Equal(t, 1, course.Completed)
	require.NotNil(t, course.Tasks[0].UserSubmission)

	// Tasks with submissions cannot be deleted.
	status, resp = env.do(t, &env.instructor, http.MethodDelete, "/api/v1/tasks/"+tk.ID, nil)
	assert.Equal(t, http.StatusConflict, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

func TestGrantXP(t *testing.T) {
	env := newTestEnv(t, nil)
	path := "/api/v1/users/" + env.learner.UserID.String() + "/xp"

	status, resp := env.do(t, &env.admin, http.MethodPost, path, map[string]interface{}{"amount": 100, "reason": "hackathon"})
	require.Equal(t, http.StatusCreated, status, resp.Error)
	assert.Equal(t, 100, decodeData[query.LedgerEntryDTO](t, resp).BalanceAfter)

	status, resp = env.do(t, &env.admin, http.MethodPost, path, map[string]interface{}{"amount": -30, "reason": "correction"})
	require.Equal(t, http.StatusCreated, status)
	entry := decodeData[query.LedgerEntryDTO](t, resp)
	assert.Equal(t, -30, entry.XPChange)
	assert.Equal(t, 70, entry.BalanceAfter)

	status, resp = env.do(t, &env.admin, http.MethodPost, path, map[string]interface{}{"amount": 0})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	status, resp = env.do(t, &env.instructor, http.MethodPost, path, map[string]interface{}{"amount": 10})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", resp.Error.Code)

	status, _ = env.do(t, &env.admin, http.MethodPost, "/api/v1/users/"+uuid.NewString()+"/xp", map[string]interface{}{"amount": 10})
	assert.Equal(t, http.StatusNotFound, status)

	stranger := env.addUser(shared.RoleLearner)
	status, _ = env.do(t, &stranger, http.MethodGet, "/api/v1/users/"+env.learner.UserID.String()+"/ledger", nil)
	assert.Equal(t, http.StatusForbidden, status)

	require.NoError(t, env.features.DisableFeature(config.FeatureAdminXPGrants))
	status, resp = env.do(t, &env.admin, http.MethodPost, path, map[string]interface{}{"amount": 5})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "feature_disabled", resp.Error.Code)
}

func TestListPending_OffsetAndHasMore(t *testing.T) {
	env := newTestEnv(t, nil)
	tk := env.createTask(t, map[string]interface{}{"title": "Essay", "task_type": "text_submission"})

	for i := 0; i < 3; i++ {
		learner := env.addUser(shared.RoleLearner)
		status, resp := env.do(t, &learner, http.MethodPost, "/api/v1/submissions", map[string]interface{}{
			"task_id":         tk.ID,
			"submission_text": "essay",
		})
		require.Equal(t, http.StatusCreated, status, resp.Error)
	}

	status, resp := env.do(t, &env.instructor, http.MethodGet, "/api/v1/submissions/pending?limit=2", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeData[[]query.SubmissionDTO](t, resp), 2)
	require.NotNil(t, resp.Meta)
	assert.True(t, resp.Meta.HasMore)
	assert.Equal(t, 2, resp.Meta.Limit)

	status, resp = env.do(t, &env.instructor, http.MethodGet, "/api/v1/submissions/pending?limit=2&offset=2", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decodeData[[]query.SubmissionDTO](t, resp), 1)
	assert.False(t, resp.Meta.HasMore)
	assert.Equal(t, 2, resp.Meta.Offset)
}

func TestXPValuesBeyondIntegerColumnAreRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	const tooMuch = 3000000000

	status, resp := env.do(t, &env.instructor, http.MethodPost, "/api/v1/tasks", map[string]interface{}{
		"course_id": uuid.NewString(),
		"title":     "Huge",
		"task_type": "text_submission",
		"xp_reward": tooMuch,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_failed", resp.Error.Code)

	path := "/api/v1/users/" + env.learner.UserID.String() + "/xp"
	for _, amount := range []int{tooMuch, -tooMuch} {
		status, resp = env.do(t, &env.admin, http.MethodPost, path, map[string]interface{}{"amount": amount})
		assert.Equal(t, http.StatusUnprocessableEntity, status, amount)
		assert.Equal(t, "validation_failed", resp.Error.Code)
	}

	// The resulting balance must fit as well.
	status, resp = env.do(t, &env.admin, http.MethodPost, path, map[string]interface{}{"amount": shared.MaxXP})
	require.Equal(t, http.StatusCreated, status, resp.Error)
	status, resp = env.do(t, &env.admin, http.MethodPost, path, map[string]interface{}{"amount": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	tk := env.createTask(t, map[string]interface{}{"title": "Essay", "task_type": "text_submission"})
	status, resp = env.do(t, &env.learner, http.MethodPost, "/api/v1/submissions", map[string]interface{}{
		"task_id":         tk.ID,
		"submission_text": "my essay",
	})
	require.Equal(t, http.StatusCreated, status, resp.Error)
	sub := decodeData[submitResponse](t, resp).Submission

	status, resp = env.do(t, &env.instructor, http.MethodPatch, "/api/v1/submissions/"+sub.ID+"/review", map[string]interface{}{
		"status":     "approved",
		"xp_awarded": tooMuch,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "validation_failed", resp.Error.Code)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{shared.ErrTaskNotFound, http.StatusNotFound, "not_found"},
		{shared.ErrReviewerRoleRequired, http.StatusForbidden, "forbidden"},
		{shared.ErrTaskAlreadyCompleted, http.StatusConflict, "already_completed"},
		{shared.ErrSubmissionAlreadyReviewed, http.StatusConflict, "conflict"},
		{shared.ErrInvalidRules, http.StatusUnprocessableEntity, "validation_failed"},
		{shared.ErrLedgerBalanceMismatch, http.StatusInternalServerError, "invariant_violation"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		status, code := statusForError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
