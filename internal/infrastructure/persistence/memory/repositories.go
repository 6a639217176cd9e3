package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
	"github.com/learnfi/learnfi-hub/internal/domain/submission"
	"github.com/learnfi/learnfi-hub/internal/domain/task"
)

// ══════════════════════════════════════════════════════════════════════════════
// TASKS
// ══════════════════════════════════════════════════════════════════════════════

// TaskRepository implements task.Repository.
type TaskRepository struct{ store *Store }

// NewTaskRepository creates a TaskRepository.
func NewTaskRepository(store *Store) *TaskRepository {
	return &TaskRepository{store: store}
}

func (r *TaskRepository) Create(ctx context.Context, t *task.Task) error {
	return r.store.do(ctx, func() error {
		if _, ok := r.store.tasks[t.ID]; ok {
			return shared.NewDomainError("task", "Create", shared.ErrAlreadyExists, "task already exists")
		}
		if _, ok := r.store.accounts[t.OwnerID]; !ok {
			return shared.NewDomainError("task", "Create", shared.ErrValidation, "task owner does not exist")
		}
		t.CreatedAt = r.store.stamp(t.CreatedAt)
		r.store.tasks[t.ID] = *t
		return nil
	})
}

func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	var out *task.Task
	err := r.store.do(ctx, func() error {
		t, ok := r.store.tasks[id]
		if !ok {
			return shared.ErrTaskNotFound
		}
		out = &t
		return nil
	})
	return out, err
}

func (r *TaskRepository) Update(ctx context.Context, t *task.Task) error {
	return r.store.do(ctx, func() error {
		existing, ok := r.store.tasks[t.ID]
		if !ok {
			return shared.ErrTaskNotFound
		}
		updated := *t
		updated.Type = existing.Type
		updated.CreatedAt = existing.CreatedAt
		r.store.tasks[t.ID] = updated
		return nil
	})
}

func (r *TaskRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.store.do(ctx, func() error {
		if _, ok := r.store.tasks[id]; !ok {
			return shared.ErrTaskNotFound
		}
		for _, s := range r.store.submissions {
			if s.TaskID == id {
				return shared.ErrTaskHasSubmissions
			}
		}
		delete(r.store.tasks, id)
		return nil
	})
}

func (r *TaskRepository) ListByCourse(ctx context.Context, courseID uuid.UUID) ([]*task.Task, error) {
	var out []*task.Task
	err := r.store.do(ctx, func() error {
		for _, t := range r.store.tasks {
			if t.CourseID == courseID {
				t := t
				out = append(out, &t)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func (r *TaskRepository) HasSubmissions(ctx context.Context, id uuid.UUID) (bool, error) {
	found := false
	err := r.store.do(ctx, func() error {
		for _, s := range r.store.submissions {
			if s.TaskID == id {
				found = true
				break
			}
		}
		return nil
	})
	return found, err
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSIONS
// ══════════════════════════════════════════════════════════════════════════════

// SubmissionRepository implements submission.Repository.
type SubmissionRepository struct{ store *Store }

// NewSubmissionRepository creates a SubmissionRepository.
func NewSubmissionRepository(store *Store) *SubmissionRepository {
	return &SubmissionRepository{store: store}
}

func (r *SubmissionRepository) Create(ctx context.Context, s *submission.Submission) (bool, error) {
	created := false
	err := r.store.do(ctx, func() error {
		if _, ok := r.store.tasks[s.TaskID]; !ok {
			return shared.ErrTaskNotFound
		}
		if _, ok := r.store.accounts[s.UserID]; !ok {
			return shared.ErrUserNotFound
		}
		for _, existing := range r.store.submissions {
			if existing.TaskID == s.TaskID && existing.UserID == s.UserID {
				return nil
			}
		}
		s.CreatedAt = r.store.stamp(s.CreatedAt)
		r.store.submissions[s.ID] = s.Clone()
		created = true
		return nil
	})
	return created, err
}

func (r *SubmissionRepository) Update(ctx context.Context, s *submission.Submission) error {
	return r.store.do(ctx, func() error {
		if _, ok := r.store.submissions[s.ID]; !ok {
			return shared.ErrSubmissionNotFound
		}
		r.store.submissions[s.ID] = s.Clone()
		return nil
	})
}

func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
	var out *submission.Submission
	err := r.store.do(ctx, func() error {
		s, ok := r.store.submissions[id]
		if !ok {
			return shared.ErrSubmissionNotFound
		}
		out = s.Clone()
		return nil
	})
	return out, err
}

// GetByIDForUpdate is GetByID; the transaction already holds the store lock.
func (r *SubmissionRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
	return r.GetByID(ctx, id)
}

func (r *SubmissionRepository) FindByTaskAndUserForUpdate(ctx context.Context, taskID, userID uuid.UUID) (*submission.Submission, error) {
	var out *submission.Submission
	err := r.store.do(ctx, func() error {
		for _, s := range r.store.submissions {
			if s.TaskID == taskID && s.UserID == userID {
				out = s.Clone()
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *SubmissionRepository) ListPending(ctx context.Context, filter submission.ListFilter) ([]*submission.Submission, error) {
	out, err := r.filter(ctx, filter.CourseID, func(s *submission.Submission) bool {
		return s.Status == submission.StatusPending
	})
	sortSubmissions(out, true)
	return pageSubmissions(out, filter), err
}

func (r *SubmissionRepository) ListByUser(ctx context.Context, userID uuid.UUID, filter submission.ListFilter) ([]*submission.Submission, error) {
	out, err := r.filter(ctx, filter.CourseID, func(s *submission.Submission) bool {
		return s.UserID == userID
	})
	sortSubmissions(out, false)
	return pageSubmissions(out, filter), err
}

func (r *SubmissionRepository) ListByUserAndTasks(ctx context.Context, userID uuid.UUID, taskIDs []uuid.UUID) (map[uuid.UUID]*submission.Submission, error) {
	wanted := make(map[uuid.UUID]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		wanted[id] = struct{}{}
	}

	out := make(map[uuid.UUID]*submission.Submission)
	err := r.store.do(ctx, func() error {
		for _, s := range r.store.submissions {
			if _, ok := wanted[s.TaskID]; ok && s.UserID == userID {
				out[s.TaskID] = s.Clone()
			}
		}
		return nil
	})
	return out, err
}

func (r *SubmissionRepository) filter(ctx context.Context, courseID *uuid.UUID, keep func(*submission.Submission) bool) ([]*submission.Submission, error) {
	var out []*submission.Submission
	err := r.store.do(ctx, func() error {
		for _, s := range r.store.submissions {
			if !keep(s) {
				continue
			}
			if courseID != nil {
				t, ok := r.store.tasks[s.TaskID]
				if !ok || t.CourseID != *courseID {
					continue
				}
			}
			out = append(out, s.Clone())
		}
		return nil
	})
	return out, err
}

func sortSubmissions(subs []*submission.Submission, oldestFirst bool) {
	sort.SliceStable(subs, func(i, j int) bool {
		a, b := subs[i], subs[j]
		if a.CreatedAt.Equal(b.CreatedAt) {
			if oldestFirst {
				return a.ID.String() < b.ID.String()
			}
			return a.ID.String() > b.ID.String()
		}
		if oldestFirst {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
}

func pageSubmissions(subs []*submission.Submission, filter submission.ListFilter) []*submission.Submission {
	skip := filter.Skip()
	if skip >= len(subs) {
		return nil
	}
	subs = subs[skip:]
	if size := filter.PageSize(); len(subs) > size {
		return subs[:size]
	}
	return subs
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// AccountRepository implements ledger.AccountRepository.
type AccountRepository struct{ store *Store }

// NewAccountRepository creates an AccountRepository.
func NewAccountRepository(store *Store) *AccountRepository {
	return &AccountRepository{store: store}
}

// LockAccount relies on the transaction's store lock.
func (r *AccountRepository) LockAccount(ctx context.Context, userID uuid.UUID) (*ledger.Account, error) {
	return r.GetAccount(ctx, userID)
}

func (r *AccountRepository) GetAccount(ctx context.Context, userID uuid.UUID) (*ledger.Account, error) {
	var out *ledger.Account
	err := r.store.do(ctx, func() error {
		a, ok := r.store.accounts[userID]
		if !ok {
			return shared.ErrUserNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

func (r *AccountRepository) SetBalance(ctx context.Context, userID uuid.UUID, xpTotal int) error {
	return r.store.do(ctx, func() error {
		a, ok := r.store.accounts[userID]
		if !ok {
			return shared.ErrUserNotFound
		}
		a.XPTotal = xpTotal
		r.store.accounts[userID] = a
		return nil
	})
}

func (r *AccountRepository) TopAccounts(ctx context.Context, limit int) ([]*ledger.Account, error) {
	var out []*ledger.Account
	err := r.store.do(ctx, func() error {
		for _, a := range r.store.accounts {
			a := a
			out = append(out, &a)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].XPTotal == out[j].XPTotal {
			return out[i].UserID.String() < out[j].UserID.String()
		}
		return out[i].XPTotal > out[j].XPTotal
	})
	if limit = shared.ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

// EntryRepository implements ledger.EntryRepository.
type EntryRepository struct{ store *Store }

// NewEntryRepository creates an EntryRepository.
func NewEntryRepository(store *Store) *EntryRepository {
	return &EntryRepository{store: store}
}

func (r *EntryRepository) LastEntry(ctx context.Context, userID uuid.UUID) (*ledger.Entry, error) {
	var out *ledger.Entry
	err := r.store.do(ctx, func() error {
		for i := len(r.store.entries) - 1; i >= 0; i-- {
			if r.store.entries[i].UserID == userID {
				e := r.store.entries[i]
				out = &e
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r *EntryRepository) Append(ctx context.Context, e *ledger.Entry) error {
	return r.store.do(ctx, func() error {
		if _, ok := r.store.accounts[e.UserID]; !ok {
			return shared.ErrUserNotFound
		}
		e.ID = r.store.nextEntryID
		e.CreatedAt = now()
		r.store.nextEntryID++
		r.store.entries = append(r.store.entries, *e)
		return nil
	})
}

func (r *EntryRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*ledger.Entry, error) {
	limit = shared.ClampLimit(limit)
	var out []*ledger.Entry
	err := r.store.do(ctx, func() error {
		for i := len(r.store.entries) - 1; i >= 0 && len(out) < limit; i-- {
			if r.store.entries[i].UserID == userID {
				e := r.store.entries[i]
				out = append(out, &e)
			}
		}
		return nil
	})
	return out, err
}

func (r *EntryRepository) Discrepancies(ctx context.Context) ([]ledger.Discrepancy, error) {
	var out []ledger.Discrepancy
	err := r.store.do(ctx, func() error {
		sums := make(map[uuid.UUID]int, len(r.store.accounts))
		for _, e := range r.store.entries {
			sums[e.UserID] += e.XPChange
		}
		for id, a := range r.store.accounts {
			if a.XPTotal != sums[id] {
				out = append(out, ledger.Discrepancy{UserID: id, XPTotal: a.XPTotal, LedgerSum: sums[id]})
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, err
}
