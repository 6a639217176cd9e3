package query

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnfi/learnfi-hub/internal/application/command"
	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/submission"
	"github.com/learnfi/learnfi-hub/internal/domain/task"
	"github.com/learnfi/learnfi-hub/internal/domain/verification"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/messaging"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/persistence/memory"
	"github.com/learnfi/learnfi-hub/pkg/logger"
)

type env struct {
	store    *memory.Store
	tasks    *memory.TaskRepository
	subs     *memory.SubmissionRepository
	accounts *memory.AccountRepository
	entries  *memory.EntryRepository

	submit   *command.SubmitTaskHandler
	review   *command.ReviewSubmissionHandler
	taskCmds *command.TaskHandler
	xp       *command.XPLedger

	instructor shared.Actor
	admin      shared.Actor
	log        *logger.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	log := logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError})
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{})
	t.Cleanup(func() { _ = bus.Close() })

	e := &env{
		store:    store,
		tasks:    memory.NewTaskRepository(store),
		subs:     memory.NewSubmissionRepository(store),
		accounts: memory.NewAccountRepository(store),
		entries:  memory.NewEntryRepository(store),
		log:      log,
	}
	e.xp = command.NewXPLedger(store, e.accounts, e.entries, bus, log)
	e.submit = command.NewSubmitTaskHandler(store, e.tasks, e.subs, e.xp, verification.NewEngine(), bus, nil, log, command.DefaultSubmitTaskHandlerConfig())
	e.review = command.NewReviewSubmissionHandler(store, e.tasks, e.subs, e.xp, bus, log)
	e.taskCmds = command.NewTaskHandler(store, e.tasks, nil, log)
	e.instructor = e.user(shared.RoleInstructor)
	e.admin = e.user(shared.RoleAdmin)
	return e
}

func (e *env) user(role shared.Role) shared.Actor {
	id := uuid.New()
	e.store.AddUser(id, role)
	return shared.Actor{UserID: id, Role: role}
}

func (e *env) task(t *testing.T, courseID uuid.UUID, title string) *task.Task {
	t.Helper()
	tk, err := e.taskCmds.Create(context.Background(), command.CreateTaskCommand{
		Actor: e.instructor, CourseID: courseID, Title: title, Type: task.TypeTextSubmission, XPReward: 20,
	})
	require.NoError(t, err)
	return tk
}

func (e *env) submitText(t *testing.T, actor shared.Actor, taskID uuid.UUID) *submission.Submission {
	t.Helper()
	text := "answer"
	res, err := e.submit.Handle(context.Background(), command.SubmitTaskCommand{
		Actor: actor, TaskID: taskID, Payload: submission.Payload{Text: &text},
	})
	require.NoError(t, err)
	return res.Submission
}

func TestGetTask(t *testing.T) {
	e := newEnv(t)
	tk := e.task(t, uuid.New(), "Read the docs")

	dto, err := NewGetTaskHandler(e.tasks).Handle(context.Background(), GetTaskQuery{TaskID: tk.ID})
	require.NoError(t, err)
	assert.Equal(t, "Read the docs", dto.Title)
	assert.Equal(t, "text_submission", dto.TaskType)
	assert.Equal(t, e.instructor.UserID.String(), dto.CreatedBy)

	_, err = NewGetTaskHandler(e.tasks).Handle(context.Background(), GetTaskQuery{TaskID: uuid.New()})
	assert.True(t, shared.IsNotFound(err))
}

func TestGetCourseTasks_IncludesOwnSubmission(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	course := uuid.New()
	first := e.task(t, course, "First")
	e.task(t, course, "Second")
	e.task(t, uuid.New(), "Other course")

	learner := e.user(shared.RoleLearner)
	sub := e.submitText(t, learner, first.ID)
	_, err := e.review.Handle(ctx, command.ReviewSubmissionCommand{
		Actor: e.instructor, SubmissionID: sub.ID, Status: submission.StatusApproved, XPAwarded: 20,
	})
	require.NoError(t, err)

	h := NewGetCourseTasksHandler(e.tasks, e.subs)
	res, err := h.Handle(ctx, GetCourseTasksQuery{Actor: learner, CourseID: course})
	require.NoError(t, err)
	require.Len(t, res.Tasks, 2)
	assert.Equal(t, "First", res.Tasks[0].Title)
	require.NotNil(t, res.Tasks[0].UserSubmission)
	assert.Equal(t, "approved", res.Tasks[0].UserSubmission.Status)
	assert.Nil(t, res.Tasks[1].UserSubmission)
	assert.Equal(t, 1, res.Completed)

	// Another learner sees no submissions.
	res, err = h.Handle(ctx, GetCourseTasksQuery{Actor: e.user(shared.RoleLearner), CourseID: course})
	require.NoError(t, err)
	assert.Nil(t, res.Tasks[0].UserSubmission)
	assert.Zero(t, res.Completed)
}

func TestGetSubmission_Access(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tk := e.task(t, uuid.New(), "Essay")
	owner := e.user(shared.RoleLearner)
	sub := e.submitText(t, owner, tk.ID)

	h := NewGetSubmissionHandler(e.subs, e.tasks)

	dto, err := h.Handle(ctx, GetSubmissionQuery{Actor: owner, SubmissionID: sub.ID})
	require.NoError(t, err)
	assert.Equal(t, "pending", dto.Status)
	require.NotNil(t, dto.Task)
	assert.Equal(t, "Essay", dto.Task.Title)

	_, err = h.Handle(ctx, GetSubmissionQuery{Actor: e.instructor, SubmissionID: sub.ID})
	assert.NoError(t, err)

	_, err = h.Handle(ctx, GetSubmissionQuery{Actor: e.user(shared.RoleLearner), SubmissionID: sub.ID})
	assert.True(t, shared.IsForbidden(err))

	_, err = h.Handle(ctx, GetSubmissionQuery{SubmissionID: sub.ID})
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestListUserSubmissions_FiltersByCourse(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	courseA, courseB := uuid.New(), uuid.New()
	learner := e.user(shared.RoleLearner)
	e.submitText(t, learner, e.task(t, courseA, "A1").ID)
	e.submitText(t, learner, e.task(t, courseB, "B1").ID)

	h := NewListUserSubmissionsHandler(e.subs)

	all, err := h.Handle(ctx, ListUserSubmissionsQuery{Actor: learner, UserID: learner.UserID})
	require.NoError(t, err)
	assert.Len(t, all.Items, 2)
	assert.False(t, all.HasMore)

	onlyA, err := h.Handle(ctx, ListUserSubmissionsQuery{Actor: e.instructor, UserID: learner.UserID, CourseID: &courseA})
	require.NoError(t, err)
	assert.Len(t, onlyA.Items, 1)

	_, err = h.Handle(ctx, ListUserSubmissionsQuery{Actor: e.user(shared.RoleLearner), UserID: learner.UserID})
	assert.True(t, shared.IsForbidden(err))
}

func TestListPending_ReviewerOnlyOldestFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tk := e.task(t, uuid.New(), "Queue")
	first := e.submitText(t, e.user(shared.RoleLearner), tk.ID)
	second := e.submitText(t, e.user(shared.RoleLearner), tk.ID)
	reviewed := e.submitText(t, e.user(shared.RoleLearner), tk.ID)
	_, err := e.review.Handle(ctx, command.ReviewSubmissionCommand{
		Actor: e.instructor, SubmissionID: reviewed.ID, Status: submission.StatusRejected,
	})
	require.NoError(t, err)

	h := NewListPendingHandler(e.subs, e.tasks)

	_, err = h.Handle(ctx, ListPendingQuery{Actor: e.user(shared.RoleLearner)})
	assert.True(t, shared.IsForbidden(err))

	page, err := h.Handle(ctx, ListPendingQuery{Actor: e.instructor, IncludeTask: true})
	require.NoError(t, err)
	pending := page.Items
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID.String(), pending[0].ID)
	assert.Equal(t, second.ID.String(), pending[1].ID)
	require.NotNil(t, pending[0].Task)
	assert.Equal(t, "Queue", pending[0].Task.Title)
}

func TestListPending_PagesThroughQueue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tk := e.task(t, uuid.New(), "Long queue")

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, e.submitText(t, e.user(shared.RoleLearner), tk.ID).ID.String())
	}

	h := NewListPendingHandler(e.subs, e.tasks)

	var seen []string
	offset := 0
	for {
		page, err := h.Handle(ctx, ListPendingQuery{Actor: e.instructor, Limit: 2, Offset: offset})
		require.NoError(t, err)
		assert.Equal(t, offset, page.Offset)
		for _, dto := range page.Items {
			seen = append(seen, dto.ID)
		}
		if !page.HasMore {
			assert.Len(t, page.Items, 1)
			break
		}
		assert.Len(t, page.Items, 2)
		offset += len(page.Items)
	}
	assert.Equal(t, ids, seen)

	past, err := h.Handle(ctx, ListPendingQuery{Actor: e.instructor, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past.Items)
	assert.False(t, past.HasMore)
}

func TestListLedger(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	learner := e.user(shared.RoleLearner)

	for _, amount := range []int{10, 20} {
		_, err := e.xp.Award(ctx, ledger.AwardRequest{UserID: learner.UserID, Amount: amount, SourceType: ledger.SourceBounty})
		require.NoError(t, err)
	}

	h := NewListLedgerHandler(e.accounts, e.entries)
	res, err := h.Handle(ctx, ListLedgerQuery{Actor: learner, UserID: learner.UserID})
	require.NoError(t, err)
	assert.Equal(t, 30, res.XPTotal)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, 30, res.Entries[0].BalanceAfter)
	assert.Equal(t, "bounty", res.Entries[0].SourceType)

	_, err = h.Handle(ctx, ListLedgerQuery{Actor: e.user(shared.RoleLearner), UserID: learner.UserID})
	assert.True(t, shared.IsForbidden(err))
}

type fakeLeaderboardCache struct {
	top    []*ledger.Account
	warmed []*ledger.Account
}

func (c *fakeLeaderboardCache) Top(_ context.Context, limit int) ([]*ledger.Account, error) {
	if len(c.top) > limit {
		return c.top[:limit], nil
	}
	return c.top, nil
}

func (c *fakeLeaderboardCache) Warm(_ context.Context, accounts []*ledger.Account) error {
	c.warmed = accounts
	return nil
}

func TestGetLeaderboard_FallsBackAndWarmsCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	low, high := e.user(shared.RoleLearner), e.user(shared.RoleLearner)
	_, err := e.xp.Award(ctx, ledger.AwardRequest{UserID: low.UserID, Amount: 5, SourceType: ledger.SourceBounty})
	require.NoError(t, err)
	_, err = e.xp.Award(ctx, ledger.AwardRequest{UserID: high.UserID, Amount: 50, SourceType: ledger.SourceBounty})
	require.NoError(t, err)

	cache := &fakeLeaderboardCache{}
	h := NewGetLeaderboardHandler(e.accounts, cache, e.log)

	res, err := h.Handle(ctx, GetLeaderboardQuery{Limit: 2})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, high.UserID.String(), res.Entries[0].UserID)
	assert.Equal(t, 1, res.Entries[0].Rank)
	assert.Equal(t, 5, res.Entries[1].XPTotal)
	assert.Len(t, cache.warmed, 4)

	cache.top = []*ledger.Account{{UserID: low.UserID, XPTotal: 999}}
	res, err = h.Handle(ctx, GetLeaderboardQuery{Limit: 2})
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 999, res.Entries[0].XPTotal)
}
