// Package session ties the per-login components together. A session is
// created on login, owns the background poller and the invitation timer, and
// is torn down on logout. It also keeps the client-side views (goal list and
// the open goal's transactions) that the poller refreshes.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"savtogether/internal/clock"
	"savtogether/internal/core"
	"savtogether/internal/identity"
	"savtogether/internal/invitation"
	"savtogether/internal/ledger"
	"savtogether/internal/log"
	"savtogether/internal/metrics"
	"savtogether/internal/poller"
	"savtogether/internal/random"
	"savtogether/internal/store"
)

// Kind tells subscribers which view changed.
type Kind string

const (
	KindUser         Kind = "user"
	KindGoals        Kind = "goals"
	KindTransactions Kind = "transactions"
)

// Update is pushed to subscribers whenever a view changes.
type Update struct {
	Kind         Kind               `json:"kind"`
	User         *core.User         `json:"user,omitempty"`
	Goals        []core.Goal        `json:"goals,omitempty"`
	GoalID       string             `json:"goalId,omitempty"`
	Transactions []core.Transaction `json:"transactions,omitempty"`
}

// Publisher receives ledger and invitation events.
type Publisher interface {
	ledger.Publisher
	invitation.Publisher
}

type Deps struct {
	Store       store.Store
	Clock       clock.Clock
	Random      random.Source
	Publisher   Publisher
	Metrics     *metrics.Metrics
	Logger      *log.Logger
	Poller      poller.Config
	AcceptDelay time.Duration
}

type Session struct {
	ID          string
	Identity    *identity.Store
	Invitations *invitation.Engine
	Ledger      *ledger.Ledger

	poller    *poller.Poller
	logger    *log.Logger
	closeOnce sync.Once

	mu       sync.RWMutex
	goals    []core.Goal
	openGoal string
	openTxns []core.Transaction
	subs     map[chan Update]struct{}
	closed   bool
}

// New wires the components of a session. Nothing runs until Open.
func New(deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = log.Discard()
	}
	var (
		ledgerPub ledger.Publisher
		invPub    invitation.Publisher
	)
	if deps.Publisher != nil {
		ledgerPub, invPub = deps.Publisher, deps.Publisher
	}

	s := &Session{
		ID:     uuid.NewString(),
		logger: deps.Logger.WithComponent(log.ComponentSession),
		subs:   map[chan Update]struct{}{},
	}
	s.Identity = identity.New(deps.Store, deps.Logger)
	s.Invitations = invitation.New(deps.Store, s.Identity, deps.Clock, invitation.Options{
		AcceptDelay: deps.AcceptDelay,
		Publisher:   invPub,
		Metrics:     deps.Metrics,
		Logger:      deps.Logger,
	})
	s.Ledger = ledger.New(deps.Store, deps.Clock, ledger.Options{
		Publisher: ledgerPub,
		Metrics:   deps.Metrics,
		Logger:    deps.Logger,
	})
	s.poller = poller.New(deps.Poller, poller.Deps{
		Identity:    s.Identity,
		Invitations: s.Invitations,
		Ledger:      s.Ledger,
		Clock:       deps.Clock,
		Random:      deps.Random,
		Metrics:     deps.Metrics,
		Logger:      deps.Logger,
		Hooks: poller.Hooks{
			PartnerLinked: s.partnerLinked,
			Contributed:   s.contributed,
		},
	})
	return s
}

// Open starts the background schedules.
func (s *Session) Open(ctx context.Context) error {
	if err := s.poller.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Session opened", "session_id", s.ID)
	return nil
}

// Close stops the poller and the invitation timer, then releases subscribers.
// When Close returns no background task touches state anymore. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.poller.Stop()
		s.Invitations.Stop()

		s.mu.Lock()
		s.closed = true
		for ch := range s.subs {
			close(ch)
		}
		s.subs = nil
		s.mu.Unlock()

		s.Identity.Forget()
		s.logger.Info("Session closed", "session_id", s.ID)
	})
}

// User returns the local view of the signed-in user.
func (s *Session) User() (core.User, error) {
	u, ok := s.Identity.Current()
	if !ok {
		return core.User{}, core.ErrNotAuthenticated
	}
	return u, nil
}

// RefreshGoals reloads the goal list view from the ledger.
func (s *Session) RefreshGoals(ctx context.Context) ([]core.Goal, error) {
	u, err := s.User()
	if err != nil {
		return nil, err
	}
	goals := []core.Goal{}
	if u.HasPartner() {
		goals, err = s.Ledger.ListGoals(ctx, u.Partnership())
		if err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.goals = goals
	s.mu.Unlock()
	s.notify(Update{Kind: KindGoals, Goals: goals})
	return goals, nil
}

// Goals returns the last loaded goal list view.
func (s *Session) Goals() []core.Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Goal(nil), s.goals...)
}

// OpenGoal marks goalID as the goal detail on screen and loads its transactions.
func (s *Session) OpenGoal(ctx context.Context, goalID string) ([]core.Transaction, error) {
	s.mu.Lock()
	s.openGoal = goalID
	s.openTxns = nil
	s.mu.Unlock()
	return s.RefreshTransactions(ctx)
}

// CloseGoal clears the goal detail view.
func (s *Session) CloseGoal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openGoal = ""
	s.openTxns = nil
}

// OpenGoalID returns the goal detail on screen, if any.
func (s *Session) OpenGoalID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openGoal
}

// Transactions returns the last loaded transactions of the open goal.
func (s *Session) Transactions() []core.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Transaction(nil), s.openTxns...)
}

// RefreshTransactions reloads the open goal's transactions. It is a no-op
// without an open goal.
func (s *Session) RefreshTransactions(ctx context.Context) ([]core.Transaction, error) {
	goalID := s.OpenGoalID()
	if goalID == "" {
		return nil, nil
	}
	txns, err := s.Ledger.ListTransactions(ctx, goalID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.openGoal != goalID {
		// another goal was opened meanwhile
		s.mu.Unlock()
		return txns, nil
	}
	s.openTxns = txns
	s.mu.Unlock()
	s.notify(Update{Kind: KindTransactions, GoalID: goalID, Transactions: txns})
	return txns, nil
}

// Subscribe returns a channel of view updates and a function that cancels the
// subscription. Updates are dropped for subscribers that fall behind. The
// channel is closed when the session closes.
func (s *Session) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Update, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

func (s *Session) notify(u Update) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	for ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

func (s *Session) partnerLinked(ctx context.Context, u core.User) {
	s.notify(Update{Kind: KindUser, User: &u})
	if _, err := s.RefreshGoals(ctx); err != nil {
		s.logger.WarnContext(ctx, "Goal refresh failed", log.FieldError, err)
	}
}

func (s *Session) contributed(ctx context.Context, _ core.Goal) {
	if _, err := s.RefreshGoals(ctx); err != nil {
		s.logger.WarnContext(ctx, "Goal refresh failed", log.FieldError, err)
	}
	if _, err := s.RefreshTransactions(ctx); err != nil {
		s.logger.WarnContext(ctx, "Transaction refresh failed", log.FieldError, err)
	}
}
