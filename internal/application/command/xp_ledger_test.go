package command

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnfi/learnfi-hub/internal/domain/ledger"
	"github.com/learnfi/learnfi-hub/internal/domain/shared"
)

func TestXPLedger_AwardThenDeduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	learner := f.addUser(shared.RoleLearner)

	e1, err := f.ledger.Award(ctx, ledger.AwardRequest{UserID: learner.UserID, Amount: 100, SourceType: ledger.SourceBounty})
	require.NoError(t, err)
	assert.Equal(t, 100, e1.BalanceAfter)

	e2, err := f.ledger.Deduct(ctx, ledger.AwardRequest{UserID: learner.UserID, Amount: 30, SourceType: ledger.SourceAdminDeduction})
	require.NoError(t, err)
	assert.Equal(t, -30, e2.XPChange)
	assert.Equal(t, 70, e2.BalanceAfter)
	assert.Greater(t, e2.ID, e1.ID)

	assert.Equal(t, 70, f.balance(t, learner.UserID))
	sum, rows := f.ledgerSum(t, learner.UserID)
	assert.Equal(t, 70, sum)
	assert.Equal(t, 2, rows)

	events := f.publisher.ofType(shared.EventXPAwarded)
	require.Len(t, events, 2)
	assert.Equal(t, 70, events[1].(shared.XPAwardedEvent).BalanceAfter)
}

func TestXPLedger_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	learner := f.addUser(shared.RoleLearner)

	_, err := f.ledger.Award(ctx, ledger.AwardRequest{UserID: learner.UserID, Amount: 0, SourceType: ledger.SourceBounty})
	assert.True(t, shared.IsValidation(err))

	_, err = f.ledger.Award(ctx, ledger.AwardRequest{UserID: uuid.New(), Amount: 5, SourceType: ledger.SourceBounty})
	assert.True(t, shared.IsNotFound(err))

	_, err = f.ledger.Award(ctx, ledger.AwardRequest{UserID: learner.UserID, Amount: 5, SourceType: "gift"})
	assert.True(t, shared.IsValidation(err))

	assert.Empty(t, f.publisher.ofType(shared.EventXPAwarded))
}

func TestXPLedger_ConcurrentAwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	learner := f.addUser(shared.RoleLearner)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.Award(ctx, ledger.AwardRequest{UserID: learner.UserID, Amount: 10, SourceType: ledger.SourceBounty})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 10*n, f.balance(t, learner.UserID))
	sum, rows := f.ledgerSum(t, learner.UserID)
	assert.Equal(t, 10*n, sum)
	assert.Equal(t, n, rows)
}

func TestXPLedger_MismatchAbortsAward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	learner := f.addUser(shared.RoleLearner)

	_, err := f.ledger.Award(ctx, ledger.AwardRequest{UserID: learner.UserID, Amount: 10, SourceType: ledger.SourceBounty})
	require.NoError(t, err)

	// Corrupt the cached total behind the ledger's back.
	require.NoError(t, f.accounts.SetBalance(ctx, learner.UserID, 999))

	_, err = f.ledger.Award(ctx, ledger.AwardRequest{UserID: learner.UserID, Amount: 10, SourceType: ledger.SourceBounty})
	assert.True(t, shared.IsInvariantViolation(err))
	assert.ErrorIs(t, err, shared.ErrLedgerBalanceMismatch)

	_, rows := f.ledgerSum(t, learner.UserID)
	assert.Equal(t, 1, rows)
	assert.Equal(t, 999, f.balance(t, learner.UserID))
	assert.Len(t, f.publisher.ofType(shared.EventLedgerInvariantViolated), 1)
}

func TestXPLedger_JoinsEnclosingTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	learner := f.addUser(shared.RoleLearner)

	err := f.store.WithinTx(ctx, func(ctx context.Context) error {
		_, err := f.ledger.Award(ctx, ledger.AwardRequest{UserID: learner.UserID, Amount: 10, SourceType: ledger.SourceBounty})
		require.NoError(t, err)
		assert.Empty(t, f.publisher.ofType(shared.EventXPAwarded), "event must wait for commit")
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	assert.Equal(t, 0, f.balance(t, learner.UserID))
	assert.Empty(t, f.publisher.ofType(shared.EventXPAwarded))
}

func TestGrantXP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	learner := f.addUser(shared.RoleLearner)

	_, err := f.grant.Handle(ctx, GrantXPCommand{Actor: f.instructor, UserID: learner.UserID, Amount: 10})
	assert.True(t, shared.IsForbidden(err))

	res, err := f.grant.Handle(ctx, GrantXPCommand{Actor: f.admin, UserID: learner.UserID, Amount: 50, Reason: "hackathon"})
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceAdminGrant, res.Entry.SourceType)
	assert.Equal(t, "hackathon", *res.Entry.Reason)

	res, err = f.grant.Handle(ctx, GrantXPCommand{Actor: f.admin, UserID: learner.UserID, Amount: -20})
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceAdminDeduction, res.Entry.SourceType)
	assert.Equal(t, -20, res.Entry.XPChange)
	assert.Nil(t, res.Entry.Reason)
	assert.Equal(t, 30, f.balance(t, learner.UserID))
}
