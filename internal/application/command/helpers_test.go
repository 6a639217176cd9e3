package command

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/task"
	"github.com/learnfi/learnfi-hub/internal/domain/verification"
	"github.com/learnfi/learnfi-hub/internal/infrastructure/persistence/memory"
	"github.com/learnfi/learnfi-hub/pkg/logger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store     *memory.Store
	tasks     *memory.TaskRepository
	subs      *memory.SubmissionRepository
	accounts  *memory.AccountRepository
	entries   *memory.EntryRepository
	publisher *recordingPublisher
	ledger    *XPLedger
	submit    *SubmitTaskHandler
	review    *ReviewSubmissionHandler
	taskCmds  *TaskHandler
	grant     *GrantXPHandler

	instructor shared.Actor
	admin      shared.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	log := logger.New(logger.Options{Output: io.Discard, Level: logger.LevelError})
	f := &fixture{
		store:     store,
		tasks:     memory.NewTaskRepository(store),
		subs:      memory.NewSubmissionRepository(store),
		accounts:  memory.NewAccountRepository(store),
		entries:   memory.NewEntryRepository(store),
		publisher: &recordingPublisher{},
	}
	f.ledger = NewXPLedger(store, f.accounts, f.entries, f.publisher, log)
	f.submit = NewSubmitTaskHandler(store, f.tasks, f.subs, f.ledger, verification.NewEngine(), f.publisher, nil, log, DefaultSubmitTaskHandlerConfig())
	f.review = NewReviewSubmissionHandler(store, f.tasks, f.subs, f.ledger, f.publisher, log)
	f.taskCmds = NewTaskHandler(store, f.tasks, nil, log)
	f.grant = NewGrantXPHandler(f.ledger)

	f.instructor = f.addUser(shared.RoleInstructor)
	f.admin = f.addUser(shared.RoleAdmin)
	return f
}

func (f *fixture) addUser(role shared.Role) shared.Actor {
	id := uuid.New()
	f.store.AddUser(id, role)
	return shared.Actor{UserID: id, Role: role}
}

func (f *fixture) createTask(t *testing.T, typ task.Type, reward int, autoVerify bool, rules string) *task.Task {
	t.Helper()
	var raw json.RawMessage
	if rules != "" {
		raw = json.RawMessage(rules)
	}
	tk, err := f.taskCmds.Create(context.Background(), CreateTaskCommand{
		Actor:      f.instructor,
		CourseID:   uuid.New(),
		Title:      "Task " + string(typ),
		Type:       typ,
		XPReward:   reward,
		AutoVerify: autoVerify,
		Rules:      raw,
	})
	require.NoError(t, err)
	return tk
}

func (f *fixture) balance(t *testing.T, userID uuid.UUID) int {
	t.Helper()
	acc, err := f.accounts.GetAccount(context.Background(), userID)
	require.NoError(t, err)
	return acc.XPTotal
}

// ledgerSum also checks that balance_after is a running total.
func (f *fixture) ledgerSum(t *testing.T, userID uuid.UUID) (sum, rows int) {
	t.Helper()
	entries, err := f.entries.ListByUser(context.Background(), userID, shared.MaxPageLimit)
	require.NoError(t, err)
	running := 0
	for i := len(entries) - 1; i >= 0; i-- {
		running += entries[i].XPChange
		require.Equal(t, running, entries[i].BalanceAfter)
	}
	return running, len(entries)
}

func strPtr(s string) *string { return &s }
