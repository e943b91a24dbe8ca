package facade

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savtogether/internal/clock"
	"savtogether/internal/core"
	"savtogether/internal/latency"
	"savtogether/internal/ledger"
	"savtogether/internal/metrics"
	"savtogether/internal/poller"
	"savtogether/internal/random"
	"savtogether/internal/session"
	"savtogether/internal/store/memory"
)

var epoch = time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)

const wait = 2 * time.Second

func tripInput() core.GoalInput {
	return core.GoalInput{
		Name:                  "Trip",
		TargetAmount:          core.Money{Cents: 50000},
		Deadline:              "2026-02-22",
		Frequency:             core.Daily,
		ContributionPerPerson: core.Money{Cents: 200},
	}
}

type env struct {
	f     *Facade
	clock *clock.Fake
	mem   *memory.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c := clock.NewFake(epoch)
	mem := memory.New()
	return &env{f: newFacade(t, c, mem), clock: c, mem: mem}
}

// newFacade never simulates contributions on its own; the draw always misses.
func newFacade(t *testing.T, c *clock.Fake, mem *memory.Store) *Facade {
	t.Helper()
	f := New(Config{}, Deps{
		Store:   mem,
		Clock:   c,
		Latency: latency.Disabled(),
		Random:  random.NewSequence(0.99),
		Metrics: metrics.New(),
	})
	t.Cleanup(f.Close)
	return f
}

// partnered logs in, sends an invitation and runs the clock until the
// acceptance reached the local user.
func (e *env) partnered(t *testing.T) core.User {
	t.Helper()
	ctx := context.Background()
	_, err := e.f.Login(ctx, "demo@test.com")
	require.NoError(t, err)
	_, err = e.f.Invite(ctx, "partner@test.com")
	require.NoError(t, err)

	var u core.User
	require.Eventually(t, func() bool {
		e.clock.Advance(poller.DefaultInvitationInterval)
		u, err = e.f.CurrentUser(ctx)
		return err == nil && u.HasPartner()
	}, wait, 10*time.Millisecond)
	return u
}

func TestCallsWithoutSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.f.CurrentUser(ctx)
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)
	_, err = e.f.Invite(ctx, "partner@test.com")
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)
	_, err = e.f.CreateGoal(ctx, tripInput())
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)
	_, err = e.f.ListGoals(ctx)
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)
	_, _, err = e.f.Subscribe(ctx)
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)
	_, err = e.f.Restore(ctx)
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)
}

func TestLoginWhileOpenReturnsSameUser(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	first, err := e.f.Login(ctx, "demo@test.com")
	require.NoError(t, err)
	assert.Equal(t, "demo", first.FullName)
	assert.False(t, first.HasPartner())

	again, err := e.f.Login(ctx, "someone@else.com")
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestInvitationAcceptedAfterDelay(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, err := e.f.Login(ctx, "demo@test.com")
	require.NoError(t, err)

	inv, err := e.f.Invite(ctx, "partner@test.com")
	require.NoError(t, err)
	assert.Equal(t, core.InvitationPending, inv.Status)

	e.clock.Advance(4*time.Second - time.Millisecond)
	got, err := e.f.CheckInvitation(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.InvitationPending, got.Status)

	e.clock.Advance(time.Millisecond)
	got, err = e.f.CheckInvitation(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.InvitationAccepted, got.Status)

	stored, err := e.mem.LoadUser(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.PartnerID)

	require.Eventually(t, func() bool {
		e.clock.Advance(poller.DefaultInvitationInterval)
		u, err := e.f.CurrentUser(ctx)
		return err == nil && u.PartnerID == stored.PartnerID
	}, wait, 10*time.Millisecond)
}

func TestRejectInvitation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, err := e.f.Login(ctx, "demo@test.com")
	require.NoError(t, err)
	_, err = e.f.Invite(ctx, "partner@test.com")
	require.NoError(t, err)

	inv, err := e.f.RejectInvitation(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.InvitationRejected, inv.Status)

	e.clock.Advance(10 * time.Second)
	u, err := e.f.CurrentUser(ctx)
	require.NoError(t, err)
	assert.False(t, u.HasPartner())

	_, err = e.f.RejectInvitation(ctx)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestTripScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	me := e.partnered(t)

	g, err := e.f.CreateGoal(ctx, tripInput())
	require.NoError(t, err)
	assert.Equal(t, core.GoalActive, g.Status)
	assert.Zero(t, g.CurrentAmount.Cents)

	txns, err := e.f.OpenGoal(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, txns)

	at := e.clock.Now().UnixMilli()
	g, txns, err = e.f.Contribute(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), g.CurrentAmount.Cents)
	require.Len(t, txns, 2)
	assert.Equal(t, fmt.Sprintf("TXN_%d_1", at), txns[0].Reference)
	assert.Equal(t, fmt.Sprintf("TXN_%d_2", at), txns[1].Reference)
	assert.Equal(t, me.ID, txns[0].UserID)
	assert.Equal(t, "demo", txns[0].UserName)
	assert.Equal(t, me.PartnerID, txns[1].UserID)
	assert.Equal(t, ledger.PartnerName, txns[1].UserName)
	for _, tx := range txns {
		assert.Equal(t, core.Debit, tx.Type)
		assert.Equal(t, core.TxSuccess, tx.Status)
		assert.Equal(t, int64(200), tx.Amount.Cents)
	}

	got, err := e.f.GetGoal(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), got.CurrentAmount.Cents)

	listed, err := e.f.ListTransactions(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	credits, err := e.f.ListAllTransactions(ctx, core.Credit)
	require.NoError(t, err)
	assert.Empty(t, credits)
	_, err = e.f.ListAllTransactions(ctx, "refund")
	assert.ErrorIs(t, err, core.ErrValidation)

	sum, err := e.f.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.Summary{TotalSaved: core.Money{Cents: 400}, ActiveGoals: 1}, sum)

	paused, err := e.f.SetGoalStatus(ctx, g.ID, core.GoalPaused)
	require.NoError(t, err)
	assert.Equal(t, core.GoalPaused, paused.Status)
	_, _, err = e.f.Contribute(ctx, g.ID)
	assert.ErrorIs(t, err, core.ErrGoalNotActive)

	active, err := e.f.ActiveGoal(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestCreateGoalWithoutPartner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, err := e.f.Login(ctx, "demo@test.com")
	require.NoError(t, err)

	_, err = e.f.CreateGoal(ctx, tripInput())
	assert.ErrorIs(t, err, core.ErrNoPartner)
	goals, err := e.f.ListGoals(ctx)
	require.NoError(t, err)
	assert.Empty(t, goals)
}

func TestLogoutThenLoginStartsClean(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.partnered(t)
	g, err := e.f.CreateGoal(ctx, tripInput())
	require.NoError(t, err)
	_, _, err = e.f.Contribute(ctx, g.ID)
	require.NoError(t, err)

	require.NoError(t, e.f.Logout(ctx))
	assert.Zero(t, e.clock.Waiters(), "background work stopped")
	_, err = e.f.CurrentUser(ctx)
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)

	u, err := e.f.Login(ctx, "fresh@test.com")
	require.NoError(t, err)
	assert.False(t, u.HasPartner())
	assert.Equal(t, "fresh", u.FullName)

	goals, err := e.f.ListGoals(ctx)
	require.NoError(t, err)
	assert.Empty(t, goals)
	inv, err := e.f.CheckInvitation(ctx)
	require.NoError(t, err)
	assert.Nil(t, inv)
	txns, err := e.f.ListTransactions(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestConcurrentContributions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.partnered(t)
	g, err := e.f.CreateGoal(ctx, tripInput())
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := e.f.Contribute(ctx, g.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := e.f.GetGoal(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n*400), got.CurrentAmount.Cents)
	txns, err := e.f.ListTransactions(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 2*n)
}

func TestSubscribeSeesGoalChanges(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.partnered(t)

	updates, cancel, err := e.f.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	g, err := e.f.CreateGoal(ctx, tripInput())
	require.NoError(t, err)

	deadline := time.After(wait)
	for {
		select {
		case u := <-updates:
			if u.Kind == session.KindGoals && len(u.Goals) == 1 {
				assert.Equal(t, g.ID, u.Goals[0].ID)
				return
			}
		case <-deadline:
			t.Fatal("no goals update")
		}
	}
}

func TestRestoreReopensPersistedUser(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	me := e.partnered(t)
	e.f.Close()

	again := newFacade(t, e.clock, e.mem)
	u, err := again.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, me, u)

	goals, err := again.ListGoals(ctx)
	require.NoError(t, err)
	assert.Empty(t, goals)
}

func TestOperationsWaitSimulatedLatency(t *testing.T) {
	c := clock.NewFake(epoch)
	f := New(Config{}, Deps{
		Store:   memory.New(),
		Clock:   c,
		Latency: latency.New(c, 1),
		Random:  random.NewSequence(0.99),
	})
	t.Cleanup(f.Close)

	done := make(chan error, 1)
	go func() {
		_, err := f.Login(context.Background(), "demo@test.com")
		done <- err
	}()
	require.Eventually(t, func() bool { return c.Waiters() == 1 }, wait, time.Millisecond)

	c.Advance(latency.DefaultDelays[latency.OpLogin] - time.Millisecond)
	select {
	case <-done:
		t.Fatal("login returned before its delay")
	default:
	}
	c.Advance(time.Millisecond)
	require.NoError(t, <-done)
}

func TestCancelledContextFailsBeforeWork(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.f.Login(ctx, "demo@test.com")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = e.f.CurrentUser(context.Background())
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)
}

func TestListTransactionsStaysInPartnership(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.partnered(t)

	foreign := core.Goal{
		ID:                    "other-goal",
		PartnershipID:         "x:y",
		Name:                  "Someone else's trip",
		TargetAmount:          core.Money{Cents: 50000},
		Deadline:              core.NewDate(2026, 2, 22),
		ContributionPerPerson: core.Money{Cents: 200},
		Frequency:             core.Daily,
		Status:                core.GoalActive,
		CreatedAt:             epoch,
	}
	require.NoError(t, e.mem.InsertGoal(ctx, foreign))
	_, err := e.mem.ApplyContribution(ctx, foreign.ID, []core.Transaction{{
		ID:        "other-tx",
		GoalID:    foreign.ID,
		UserID:    "x",
		UserName:  "x",
		Amount:    core.Money{Cents: 200},
		Type:      core.Debit,
		Status:    core.TxSuccess,
		Timestamp: epoch,
		Reference: "TXN_other",
	}})
	require.NoError(t, err)

	txns, err := e.f.ListTransactions(ctx, foreign.ID)
	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.NotNil(t, txns)

	txns, err = e.f.ListTransactions(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, txns)

	g, err := e.f.CreateGoal(ctx, tripInput())
	require.NoError(t, err)
	_, _, err = e.f.Contribute(ctx, g.ID)
	require.NoError(t, err)
	txns, err = e.f.ListTransactions(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}
