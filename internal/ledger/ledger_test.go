package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savtogether/internal/amqp"
	"savtogether/internal/clock"
	"savtogether/internal/core"
	"savtogether/internal/metrics"
	"savtogether/internal/store/memory"
)

var epoch = time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)

var (
	owner = core.User{ID: "u1", FullName: "demo", Email: "demo@test.com", PartnerID: "p1"}
	loner = core.User{ID: "u2", FullName: "solo", Email: "solo@test.com"}
)

func tripInput() core.GoalInput {
	return core.GoalInput{
		Name:                  "Trip",
		TargetAmount:          core.Money{Cents: 50000},
		Deadline:              "2026-02-22",
		Frequency:             core.Daily,
		ContributionPerPerson: core.Money{Cents: 200},
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []amqp.ContributionMessage
}

func (p *recordingPublisher) PublishContribution(_ context.Context, msg amqp.ContributionMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func newLedger(t *testing.T) (*Ledger, *clock.Fake, *recordingPublisher, *metrics.Metrics) {
	t.Helper()
	c := clock.NewFake(epoch)
	pub := &recordingPublisher{}
	m := metrics.New()
	return New(memory.New(), c, Options{Publisher: pub, Metrics: m}), c, pub, m
}

func TestCreateGoalAndContribute(t *testing.T) {
	ctx := context.Background()
	l, _, pub, m := newLedger(t)

	g, err := l.CreateGoal(ctx, owner, tripInput())
	require.NoError(t, err)
	assert.Zero(t, g.CurrentAmount.Cents)
	assert.Equal(t, core.GoalActive, g.Status)
	assert.Equal(t, owner.Partnership(), g.PartnershipID)
	assert.Equal(t, epoch, g.CreatedAt)

	goals, err := l.ListGoals(ctx, owner.Partnership())
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Zero(t, goals[0].CurrentAmount.Cents)

	_, txns, err := l.ApplyContribution(ctx, owner, g.ID, core.Money{Cents: 200})
	require.NoError(t, err)
	require.Len(t, txns, 2)

	goals, err = l.ListGoals(ctx, owner.Partnership())
	require.NoError(t, err)
	assert.Equal(t, int64(400), goals[0].CurrentAmount.Cents)

	listed, err := l.ListTransactions(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, tx := range listed {
		assert.Equal(t, int64(200), tx.Amount.Cents)
		assert.Equal(t, core.Debit, tx.Type)
		assert.Equal(t, core.TxSuccess, tx.Status)
		assert.Equal(t, epoch, tx.Timestamp)
	}
	assert.Equal(t, "u1", listed[0].UserID)
	assert.Equal(t, "demo", listed[0].UserName)
	assert.Equal(t, "p1", listed[1].UserID)
	assert.Equal(t, PartnerName, listed[1].UserName)
	assert.Equal(t, "TXN_1761987600000_1", listed[0].Reference)
	assert.Equal(t, "TXN_1761987600000_2", listed[1].Reference)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, int64(400), pub.msgs[0].TotalCents)
	assert.Equal(t, int64(400), pub.msgs[0].GoalCurrentCents)
	assert.Equal(t, 1.0, counterValue(t, m, "savtogether_contributions_total"))
	assert.Equal(t, 400.0, counterValue(t, m, "savtogether_contributed_cents_total"))
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestContributionsAccumulate(t *testing.T) {
	ctx := context.Background()
	l, c, _, _ := newLedger(t)
	g, err := l.CreateGoal(ctx, owner, tripInput())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		c.Advance(time.Second)
		_, _, err := l.ApplyContribution(ctx, owner, g.ID, core.Money{Cents: 150})
		require.NoError(t, err)
	}
	got, err := l.GetGoal(ctx, owner.Partnership(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(900), got.CurrentAmount.Cents)

	txns, err := l.ListTransactions(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, txns, 6)
	assert.True(t, txns[0].Timestamp.After(txns[5].Timestamp), "newest first")
}

func TestConcurrentContributionsAreNotLost(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)
	g, err := l.CreateGoal(ctx, owner, tripInput())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, cents := range []int64{200, 300} {
		wg.Add(1)
		go func(cents int64) {
			defer wg.Done()
			_, _, err := l.ApplyContribution(ctx, owner, g.ID, core.Money{Cents: cents})
			assert.NoError(t, err)
		}(cents)
	}
	wg.Wait()

	txns, err := l.ListTransactions(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 4)
	got, err := l.GetGoal(ctx, owner.Partnership(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.CurrentAmount.Cents)
}

func TestCreateGoalErrors(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)

	_, err := l.CreateGoal(ctx, loner, tripInput())
	assert.ErrorIs(t, err, core.ErrNoPartner)

	bad := tripInput()
	bad.TargetAmount = core.Money{Cents: -5}
	_, err = l.CreateGoal(ctx, owner, bad)
	assert.True(t, errors.Is(err, core.ErrValidation))

	bad = tripInput()
	bad.Deadline = "soon"
	_, err = l.CreateGoal(ctx, owner, bad)
	assert.True(t, errors.Is(err, core.ErrValidation))

	goals, err := l.ListGoals(ctx, owner.Partnership())
	require.NoError(t, err)
	assert.Empty(t, goals, "failed creations leave no goal behind")
}

func TestSingleActiveGoal(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)

	first, err := l.CreateGoal(ctx, owner, tripInput())
	require.NoError(t, err)
	in := tripInput()
	in.Name = "Car"
	second, err := l.CreateGoal(ctx, owner, in)
	require.NoError(t, err)

	active, err := l.ActiveGoal(ctx, owner.Partnership())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	got, err := l.GetGoal(ctx, owner.Partnership(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, core.GoalPaused, got.Status)

	_, _, err = l.ApplyContribution(ctx, owner, first.ID, core.Money{Cents: 200})
	assert.ErrorIs(t, err, core.ErrGoalNotActive)

	_, err = l.SetGoalStatus(ctx, owner.Partnership(), first.ID, core.GoalActive)
	require.NoError(t, err)
	active, err = l.ActiveGoal(ctx, owner.Partnership())
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)

	_, err = l.SetGoalStatus(ctx, owner.Partnership(), first.ID, "archived")
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = l.SetGoalStatus(ctx, owner.Partnership(), first.ID, core.GoalPaused)
	require.NoError(t, err)
	active, err = l.ActiveGoal(ctx, owner.Partnership())
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestApplyContributionErrors(t *testing.T) {
	ctx := context.Background()
	l, _, pub, _ := newLedger(t)
	g, err := l.CreateGoal(ctx, owner, tripInput())
	require.NoError(t, err)

	_, _, err = l.ApplyContribution(ctx, owner, g.ID, core.Money{})
	assert.True(t, errors.Is(err, core.ErrValidation))
	_, _, err = l.ApplyContribution(ctx, loner, g.ID, core.Money{Cents: 100})
	assert.ErrorIs(t, err, core.ErrNoPartner)
	_, _, err = l.ApplyContribution(ctx, owner, "missing", core.Money{Cents: 100})
	assert.ErrorIs(t, err, core.ErrNotFound)

	stranger := core.User{ID: "x", PartnerID: "y"}
	_, _, err = l.ApplyContribution(ctx, stranger, g.ID, core.Money{Cents: 100})
	assert.ErrorIs(t, err, core.ErrNotFound, "goals of other partnerships are invisible")

	txns, err := l.ListTransactions(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, txns)
	assert.Empty(t, pub.msgs)
}

func TestGoalCompletesAtTarget(t *testing.T) {
	ctx := context.Background()
	l, _, _, _ := newLedger(t)
	in := tripInput()
	in.TargetAmount = core.Money{Cents: 600}
	g, err := l.CreateGoal(ctx, owner, in)
	require.NoError(t, err)

	_, _, err = l.ApplyContribution(ctx, owner, g.ID, core.Money{Cents: 200})
	require.NoError(t, err)
	done, _, err := l.ApplyContribution(ctx, owner, g.ID, core.Money{Cents: 200})
	require.NoError(t, err)
	assert.Equal(t, core.GoalCompleted, done.Status)
	assert.Equal(t, 100, done.Percent())

	_, _, err = l.ApplyContribution(ctx, owner, g.ID, core.Money{Cents: 200})
	assert.ErrorIs(t, err, core.ErrGoalNotActive)

	_, err = l.SetGoalStatus(ctx, owner.Partnership(), g.ID, core.GoalActive)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestListAllTransactionsAndSummary(t *testing.T) {
	ctx := context.Background()
	l, c, _, _ := newLedger(t)

	trip, err := l.CreateGoal(ctx, owner, tripInput())
	require.NoError(t, err)
	_, _, err = l.ApplyContribution(ctx, owner, trip.ID, core.Money{Cents: 200})
	require.NoError(t, err)

	c.Advance(time.Minute)
	in := tripInput()
	in.Name = "Car"
	car, err := l.CreateGoal(ctx, owner, in)
	require.NoError(t, err)
	_, _, err = l.ApplyContribution(ctx, owner, car.ID, core.Money{Cents: 50})
	require.NoError(t, err)

	all, err := l.ListAllTransactions(ctx, owner.Partnership())
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, car.ID, all[0].GoalID)
	assert.Equal(t, trip.ID, all[3].GoalID)

	other, err := l.ListAllTransactions(ctx, "x:y")
	require.NoError(t, err)
	assert.Empty(t, other)

	sum, err := l.Summary(ctx, owner.Partnership())
	require.NoError(t, err)
	assert.Equal(t, core.Summary{TotalSaved: core.Money{Cents: 500}, ActiveGoals: 1, PausedGoals: 1}, sum)
}
