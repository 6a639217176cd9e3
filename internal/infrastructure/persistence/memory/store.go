// Package memory implements the persistence interfaces in process memory.
// It backs tests and STORAGE_DRIVER=memory development runs.
//
// Transactions are serialized with one store-wide mutex, which gives the
// same guarantees as the row locks taken by the PostgreSQL repositories.
// A failed transaction restores a snapshot taken when it began.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/submission"
	"github.com/learnfi/learnfi-hub/internal/domain/task"
)

// Store holds all aggregates.
type Store struct {
	mu sync.Mutex

	accounts    map[uuid.UUID]ledger.Account
	tasks       map[uuid.UUID]task.Task
	submissions map[uuid.UUID]*submission.Submission
	entries     []ledger.Entry
	nextEntryID int64

	// lastStamp keeps creation times strictly increasing so that
	// created_at ordering matches insertion order.
	lastStamp time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		accounts:    make(map[uuid.UUID]ledger.Account),
		tasks:       make(map[uuid.UUID]task.Task),
		submissions: make(map[uuid.UUID]*submission.Submission),
		nextEntryID: 1,
	}
}

// AddUser registers a user with a zero balance. Users are owned by the
// identity service; this stands in for it.
func (s *Store) AddUser(id uuid.UUID, role shared.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; ok {
		return
	}
	s.accounts[id] = ledger.Account{UserID: id, Role: role}
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTIONS
// ══════════════════════════════════════════════════════════════════════════════

type txKey struct{}

type snapshot struct {
	accounts    map[uuid.UUID]ledger.Account
	tasks       map[uuid.UUID]task.Task
	submissions map[uuid.UUID]*submission.Submission
	entries     int
	nextEntryID int64
}

// WithinTx implements shared.Transactor.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	snap := s.snapshot()
	txCtx, scope := shared.NewTxScope(context.WithValue(ctx, txKey{}, s))

	committed := false
	defer func() {
		if !committed {
			s.restore(snap)
		}
		s.mu.Unlock()
		if committed {
			scope.RunHooks()
		}
	}()

	if err := fn(txCtx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*Store)
	return ok && owner == s
}

// do runs fn under the store lock unless ctx already holds it.
func (s *Store) do(ctx context.Context, fn func() error) error {
	if s.inTx(ctx) {
		return fn()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		accounts:    make(map[uuid.UUID]ledger.Account, len(s.accounts)),
		tasks:       make(map[uuid.UUID]task.Task, len(s.tasks)),
		submissions: make(map[uuid.UUID]*submission.Submission, len(s.submissions)),
		entries:     len(s.entries),
		nextEntryID: s.nextEntryID,
	}
	for k, v := range s.accounts {
		snap.accounts[k] = v
	}
	for k, v := range s.tasks {
		snap.tasks[k] = v
	}
	for k, v := range s.submissions {
		snap.submissions[k] = v.Clone()
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.accounts = snap.accounts
	s.tasks = snap.tasks
	s.submissions = snap.submissions
	s.entries = s.entries[:snap.entries]
	s.nextEntryID = snap.nextEntryID
}

func now() time.Time {
	return time.Now().UTC()
}

// stamp returns t, or the instant just after the previous stamp when t
// would not sort after it. Callers hold s.mu.
func (s *Store) stamp(t time.Time) time.Time {
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = t
	return t
}
