// Package storetest holds the behavioural suite every store backend must pass.
package storetest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savtogether/internal/core"
	"savtogether/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

var epoch = time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)

const partnership = "p1:u1"

// Goal builds an active goal of the test partnership.
func Goal(id string, created time.Time) core.Goal {
	return core.Goal{
		ID:                    id,
		PartnershipID:         partnership,
		Name:                  "Trip " + id,
		TargetAmount:          core.Money{Cents: 50000},
		Deadline:              core.NewDate(2026, 2, 22),
		ContributionPerPerson: core.Money{Cents: 200},
		Frequency:             core.Daily,
		Status:                core.GoalActive,
		CreatedAt:             created,
	}
}

// Pair builds the two transactions of one contribution event.
func Pair(goalID string, n int, at time.Time, cents int64) []core.Transaction {
	mk := func(user string, i int) core.Transaction {
		return core.Transaction{
			ID:        fmt.Sprintf("%s-%d-%d", goalID, n, i),
			GoalID:    goalID,
			UserID:    user,
			UserName:  user,
			Amount:    core.Money{Cents: cents},
			Type:      core.Debit,
			Status:    core.TxSuccess,
			Timestamp: at,
			Reference: fmt.Sprintf("TXN_%d_%d", at.UnixMilli(), i),
		}
	}
	return []core.Transaction{mk("u1", 1), mk("p1", 2)}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	open := func(t *testing.T) store.Store {
		s := newStore(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("user and invitation slots", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		u, err := s.LoadUser(ctx)
		require.NoError(t, err)
		assert.Nil(t, u)
		inv, err := s.LoadInvitation(ctx)
		require.NoError(t, err)
		assert.Nil(t, inv)

		require.NoError(t, s.SaveUser(ctx, core.User{ID: "u1", FullName: "demo", Email: "demo@test.com"}))
		require.NoError(t, s.SaveUser(ctx, core.User{ID: "u1", FullName: "demo", Email: "demo@test.com", PartnerID: "p1"}))
		u, err = s.LoadUser(ctx)
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, "p1", u.PartnerID)

		first := core.Invitation{ID: "i1", SenderID: "u1", InvitedEmail: "a@test.com", Status: core.InvitationPending, SentAt: epoch}
		require.NoError(t, s.SaveInvitation(ctx, first))
		second := first
		second.ID, second.InvitedEmail = "i2", "b@test.com"
		require.NoError(t, s.SaveInvitation(ctx, second))

		inv, err = s.LoadInvitation(ctx)
		require.NoError(t, err)
		require.NotNil(t, inv)
		assert.Equal(t, "i2", inv.ID)
		assert.Equal(t, "b@test.com", inv.InvitedEmail)
		assert.True(t, inv.SentAt.Equal(epoch))
	})

	t.Run("goals keep insertion order and a single active goal", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		require.NoError(t, s.InsertGoal(ctx, Goal("g1", epoch)))
		require.NoError(t, s.InsertGoal(ctx, Goal("g2", epoch.Add(time.Minute))))
		other := Goal("g3", epoch)
		other.PartnershipID = "x:y"
		require.NoError(t, s.InsertGoal(ctx, other))

		goals, err := s.ListGoals(ctx, partnership)
		require.NoError(t, err)
		require.Len(t, goals, 2)
		assert.Equal(t, "g1", goals[0].ID)
		assert.Equal(t, core.GoalPaused, goals[0].Status)
		assert.Equal(t, core.GoalActive, goals[1].Status)
		assert.Equal(t, core.NewDate(2026, 2, 22), goals[1].Deadline)
		assert.Equal(t, int64(50000), goals[1].TargetAmount.Cents)

		others, err := s.ListGoals(ctx, "x:y")
		require.NoError(t, err)
		require.Len(t, others, 1)
		assert.Equal(t, core.GoalActive, others[0].Status, "other partnerships are untouched")

		empty, err := s.ListGoals(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("set goal status", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.InsertGoal(ctx, Goal("g1", epoch)))
		require.NoError(t, s.InsertGoal(ctx, Goal("g2", epoch)))

		g, err := s.SetGoalStatus(ctx, partnership, "g1", core.GoalActive)
		require.NoError(t, err)
		assert.Equal(t, core.GoalActive, g.Status)

		goals, err := s.ListGoals(ctx, partnership)
		require.NoError(t, err)
		assert.Equal(t, core.GoalPaused, goals[1].Status)

		_, err = s.SetGoalStatus(ctx, partnership, "g1", core.GoalActive)
		assert.ErrorIs(t, err, core.ErrInvalidTransition)

		_, err = s.SetGoalStatus(ctx, partnership, "g1", core.GoalCompleted)
		require.NoError(t, err)
		_, err = s.SetGoalStatus(ctx, partnership, "g1", core.GoalPaused)
		assert.ErrorIs(t, err, core.ErrInvalidTransition)

		_, err = s.SetGoalStatus(ctx, partnership, "missing", core.GoalPaused)
		assert.ErrorIs(t, err, core.ErrNotFound)
		_, err = s.SetGoalStatus(ctx, "x:y", "g2", core.GoalActive)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("apply contribution", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.InsertGoal(ctx, Goal("g1", epoch)))

		txns, err := s.ListTransactions(ctx, "g1")
		require.NoError(t, err)
		assert.NotNil(t, txns)
		assert.Empty(t, txns)

		g, err := s.ApplyContribution(ctx, "g1", Pair("g1", 1, epoch.Add(time.Hour), 200))
		require.NoError(t, err)
		assert.Equal(t, int64(400), g.CurrentAmount.Cents)

		g, err = s.ApplyContribution(ctx, "g1", Pair("g1", 2, epoch.Add(2*time.Hour), 200))
		require.NoError(t, err)
		assert.Equal(t, int64(800), g.CurrentAmount.Cents)

		txns, err = s.ListTransactions(ctx, "g1")
		require.NoError(t, err)
		require.Len(t, txns, 4)
		assert.Equal(t, "g1-2-1", txns[0].ID, "newest first, payer before partner")
		assert.Equal(t, "g1-2-2", txns[1].ID)
		assert.True(t, txns[0].Timestamp.Equal(txns[1].Timestamp))
		assert.Equal(t, core.Debit, txns[3].Type)
		assert.Equal(t, core.TxSuccess, txns[3].Status)

		goals, err := s.ListGoals(ctx, partnership)
		require.NoError(t, err)
		assert.Equal(t, int64(800), goals[0].CurrentAmount.Cents)

		all, err := s.ListPartnershipTransactions(ctx, partnership)
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})

	t.Run("apply contribution preconditions", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		_, err := s.ApplyContribution(ctx, "missing", Pair("missing", 1, epoch, 200))
		assert.ErrorIs(t, err, core.ErrNotFound)

		require.NoError(t, s.InsertGoal(ctx, Goal("g1", epoch)))
		_, err = s.SetGoalStatus(ctx, partnership, "g1", core.GoalPaused)
		require.NoError(t, err)
		_, err = s.ApplyContribution(ctx, "g1", Pair("g1", 1, epoch, 200))
		assert.ErrorIs(t, err, core.ErrGoalNotActive)

		txns, err := s.ListTransactions(ctx, "g1")
		require.NoError(t, err)
		assert.Empty(t, txns, "rejected contribution leaves no transactions")
	})

	t.Run("apply contribution rejects overflowing balances", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		g := Goal("g1", epoch)
		g.TargetAmount = core.Money{Cents: math.MaxInt64}
		g.CurrentAmount = core.Money{Cents: math.MaxInt64 - 300}
		require.NoError(t, s.InsertGoal(ctx, g))

		_, err := s.ApplyContribution(ctx, "g1", Pair("g1", 1, epoch, 200))
		assert.ErrorIs(t, err, core.ErrValidation)
		_, err = s.ApplyContribution(ctx, "g1", Pair("g1", 2, epoch, core.MaxCents+1))
		assert.ErrorIs(t, err, core.ErrValidation)

		goals, err := s.ListGoals(ctx, partnership)
		require.NoError(t, err)
		require.Len(t, goals, 1)
		assert.Equal(t, g.CurrentAmount, goals[0].CurrentAmount)
		assert.Equal(t, core.GoalActive, goals[0].Status)
		txns, err := s.ListTransactions(ctx, "g1")
		require.NoError(t, err)
		assert.Empty(t, txns)
	})

	t.Run("reaching the target completes the goal", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		g := Goal("g1", epoch)
		g.TargetAmount = core.Money{Cents: 500}
		require.NoError(t, s.InsertGoal(ctx, g))

		got, err := s.ApplyContribution(ctx, "g1", Pair("g1", 1, epoch, 200))
		require.NoError(t, err)
		assert.Equal(t, core.GoalActive, got.Status)
		got, err = s.ApplyContribution(ctx, "g1", Pair("g1", 2, epoch.Add(time.Second), 200))
		require.NoError(t, err)
		assert.Equal(t, core.GoalCompleted, got.Status)
		assert.Equal(t, int64(800), got.CurrentAmount.Cents)
	})

	t.Run("concurrent contributions are not lost", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.InsertGoal(ctx, Goal("g1", epoch)))

		const n = 8
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.ApplyContribution(ctx, "g1", Pair("g1", i, epoch.Add(time.Duration(i)*time.Second), 100))
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		txns, err := s.ListTransactions(ctx, "g1")
		require.NoError(t, err)
		assert.Len(t, txns, 2*n)
		goals, err := s.ListGoals(ctx, partnership)
		require.NoError(t, err)
		assert.Equal(t, int64(2*n*100), goals[0].CurrentAmount.Cents)
	})

	t.Run("reset clears every record", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)
		require.NoError(t, s.SaveUser(ctx, core.User{ID: "u1", PartnerID: "p1"}))
		require.NoError(t, s.SaveInvitation(ctx, core.Invitation{ID: "i1", SenderID: "u1", Status: core.InvitationAccepted, SentAt: epoch}))
		require.NoError(t, s.InsertGoal(ctx, Goal("g1", epoch)))
		_, err := s.ApplyContribution(ctx, "g1", Pair("g1", 1, epoch, 200))
		require.NoError(t, err)

		require.NoError(t, s.Reset(ctx))

		u, err := s.LoadUser(ctx)
		require.NoError(t, err)
		assert.Nil(t, u)
		inv, err := s.LoadInvitation(ctx)
		require.NoError(t, err)
		assert.Nil(t, inv)
		goals, err := s.ListGoals(ctx, partnership)
		require.NoError(t, err)
		assert.Empty(t, goals)
		txns, err := s.ListTransactions(ctx, "g1")
		require.NoError(t, err)
		assert.Empty(t, txns)

		require.NoError(t, s.InsertGoal(ctx, Goal("g1", epoch)), "ids are reusable after reset")
	})
}
