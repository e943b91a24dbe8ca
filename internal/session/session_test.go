package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savtogether/internal/clock"
	"savtogether/internal/core"
	"savtogether/internal/poller"
	"savtogether/internal/random"
	"savtogether/internal/store/memory"
)

var epoch = time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)

const wait = 2 * time.Second

func newSession(t *testing.T) (*Session, *clock.Fake, *memory.Store) {
	t.Helper()
	c := clock.NewFake(epoch)
	mem := memory.New()
	s := New(Deps{Store: mem, Clock: c, Random: random.NewSequence(0.1)})
	t.Cleanup(s.Close)

	_, err := s.Identity.Login(context.Background(), "demo@test.com")
	require.NoError(t, err)
	return s, c, mem
}

func open(t *testing.T, s *Session, c *clock.Fake) {
	t.Helper()
	before := c.Waiters()
	require.NoError(t, s.Open(context.Background()))
	require.Eventually(t, func() bool { return c.Waiters() == before+2 }, wait, time.Millisecond)
}

func next(t *testing.T, ch <-chan Update, kind Kind) Update {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case u, ok := <-ch:
			require.True(t, ok, "subscription closed")
			if u.Kind == kind {
				return u
			}
		case <-deadline:
			t.Fatalf("no %s update", kind)
		}
	}
}

func TestPartnerLinkReachesSubscribers(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newSession(t)
	open(t, s, c)
	updates, cancel := s.Subscribe(16)
	defer cancel()

	me, err := s.User()
	require.NoError(t, err)
	_, err = s.Invitations.Invite(ctx, me, "partner@test.com")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		c.Advance(poller.DefaultInvitationInterval)
		u, err := s.User()
		return err == nil && u.HasPartner()
	}, wait, 10*time.Millisecond)

	got := next(t, updates, KindUser)
	require.NotNil(t, got.User)
	assert.NotEmpty(t, got.User.PartnerID)
	next(t, updates, KindGoals)
}

func TestContributionRefreshesViews(t *testing.T) {
	ctx := context.Background()
	s, c, _ := newSession(t)

	_, err := s.Identity.LinkPartner(ctx, "p1")
	require.NoError(t, err)
	me, err := s.Identity.Refresh(ctx)
	require.NoError(t, err)
	g, err := s.Ledger.CreateGoal(ctx, me, core.GoalInput{
		Name:                  "Trip",
		TargetAmount:          core.Money{Cents: 50000},
		Deadline:              "2026-02-22",
		Frequency:             core.Daily,
		ContributionPerPerson: core.Money{Cents: 200},
	})
	require.NoError(t, err)

	goals, err := s.RefreshGoals(ctx)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	txns, err := s.OpenGoal(ctx, g.ID)
	require.NoError(t, err)
	assert.Empty(t, txns)

	open(t, s, c)
	c.Advance(poller.DefaultContributionInterval)

	require.Eventually(t, func() bool { return len(s.Transactions()) == 2 }, wait, time.Millisecond)
	require.Eventually(t, func() bool {
		gs := s.Goals()
		return len(gs) == 1 && gs[0].CurrentAmount.Cents == 400
	}, wait, time.Millisecond)
	assert.Equal(t, g.ID, s.OpenGoalID())

	s.CloseGoal()
	txns, err = s.RefreshTransactions(ctx)
	require.NoError(t, err)
	assert.Nil(t, txns)
	assert.Empty(t, s.Transactions())
}

func TestRefreshGoalsWithoutPartner(t *testing.T) {
	s, _, _ := newSession(t)
	goals, err := s.RefreshGoals(context.Background())
	require.NoError(t, err)
	assert.Empty(t, goals)
}

func TestCloseStopsEverything(t *testing.T) {
	ctx := context.Background()
	s, c, mem := newSession(t)
	open(t, s, c)
	updates, _ := s.Subscribe(1)

	me, err := s.User()
	require.NoError(t, err)
	_, err = s.Invitations.Invite(ctx, me, "partner@test.com")
	require.NoError(t, err)

	s.Close()
	s.Close()

	_, ok := <-updates
	assert.False(t, ok, "subscription closed with the session")
	assert.Zero(t, c.Waiters(), "no tickers or timers left behind")

	c.Advance(time.Minute)
	inv, err := mem.LoadInvitation(ctx)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, core.InvitationPending, inv.Status)

	_, err = s.User()
	assert.ErrorIs(t, err, core.ErrNotAuthenticated)

	late, _ := s.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}
