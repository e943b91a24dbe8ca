package facade

import (
	"context"
	"errors"

	"savtogether/internal/core"
	"savtogether/internal/latency"
	"savtogether/internal/log"
	"savtogether/internal/session"
)

func (f *Facade) CreateGoal(ctx context.Context, in core.GoalInput) (core.Goal, error) {
	done, err := f.begin(ctx, latency.OpCreateGoal)
	if err != nil {
		return core.Goal{}, err
	}
	defer done()

	f.mu.Lock()
	defer f.mu.Unlock()
	s, u, err := f.current()
	if err != nil {
		return core.Goal{}, err
	}
	g, err := s.Ledger.CreateGoal(ctx, u, in)
	if err != nil {
		return core.Goal{}, err
	}
	f.refresh(ctx, s)
	return g, nil
}

// ListGoals returns the partnership's goals and refreshes the goal list view.
func (f *Facade) ListGoals(ctx context.Context) ([]core.Goal, error) {
	done, err := f.begin(ctx, latency.OpListGoals)
	if err != nil {
		return nil, err
	}
	defer done()

	s, err := f.session()
	if err != nil {
		return nil, err
	}
	return s.RefreshGoals(ctx)
}

func (f *Facade) GetGoal(ctx context.Context, goalID string) (core.Goal, error) {
	done, err := f.begin(ctx, latency.OpGetGoal)
	if err != nil {
		return core.Goal{}, err
	}
	defer done()

	s, u, err := f.current()
	if err != nil {
		return core.Goal{}, err
	}
	return s.Ledger.GetGoal(ctx, u.Partnership(), goalID)
}

// ActiveGoal returns the goal contributions currently go to, or nil.
func (f *Facade) ActiveGoal(ctx context.Context) (*core.Goal, error) {
	done, err := f.begin(ctx, latency.OpGetGoal)
	if err != nil {
		return nil, err
	}
	defer done()

	s, u, err := f.current()
	if err != nil {
		return nil, err
	}
	return s.Ledger.ActiveGoal(ctx, u.Partnership())
}

func (f *Facade) SetGoalStatus(ctx context.Context, goalID string, status core.GoalStatus) (core.Goal, error) {
	done, err := f.begin(ctx, latency.OpUpdateGoal)
	if err != nil {
		return core.Goal{}, err
	}
	defer done()

	f.mu.Lock()
	defer f.mu.Unlock()
	s, u, err := f.current()
	if err != nil {
		return core.Goal{}, err
	}
	g, err := s.Ledger.SetGoalStatus(ctx, u.Partnership(), goalID, status)
	if err != nil {
		return core.Goal{}, err
	}
	f.refresh(ctx, s)
	return g, nil
}

// Contribute records a manual contribution of the goal's per-person amount
// for the signed-in user and their partner.
func (f *Facade) Contribute(ctx context.Context, goalID string) (core.Goal, []core.Transaction, error) {
	done, err := f.begin(ctx, latency.OpContribute)
	if err != nil {
		return core.Goal{}, nil, err
	}
	defer done()

	f.mu.Lock()
	defer f.mu.Unlock()
	s, u, err := f.current()
	if err != nil {
		return core.Goal{}, nil, err
	}
	g, err := s.Ledger.GetGoal(ctx, u.Partnership(), goalID)
	if err != nil {
		return core.Goal{}, nil, err
	}
	g, txns, err := s.Ledger.ApplyContribution(ctx, u, goalID, g.ContributionPerPerson)
	if err != nil {
		return core.Goal{}, nil, err
	}
	f.refresh(ctx, s)
	return g, txns, nil
}

func (f *Facade) ListTransactions(ctx context.Context, goalID string) ([]core.Transaction, error) {
	done, err := f.begin(ctx, latency.OpListTransactions)
	if err != nil {
		return nil, err
	}
	defer done()

	s, u, err := f.current()
	if err != nil {
		return nil, err
	}
	// goals outside the partnership read as unknown ids
	if _, err := s.Ledger.GetGoal(ctx, u.Partnership(), goalID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return []core.Transaction{}, nil
		}
		return nil, err
	}
	return s.Ledger.ListTransactions(ctx, goalID)
}

// ListAllTransactions returns the activity of every goal of the partnership,
// newest first, optionally restricted to one transaction type.
func (f *Facade) ListAllTransactions(ctx context.Context, typ core.TransactionType) ([]core.Transaction, error) {
	if typ != "" && !typ.Valid() {
		return nil, core.NewValidationError("type", "must be debit or credit")
	}
	done, err := f.begin(ctx, latency.OpListAll)
	if err != nil {
		return nil, err
	}
	defer done()

	s, u, err := f.current()
	if err != nil {
		return nil, err
	}
	txns, err := s.Ledger.ListAllTransactions(ctx, u.Partnership())
	if err != nil {
		return nil, err
	}
	return core.FilterTransactions(txns, typ), nil
}

func (f *Facade) Summary(ctx context.Context) (core.Summary, error) {
	done, err := f.begin(ctx, latency.OpSummary)
	if err != nil {
		return core.Summary{}, err
	}
	defer done()

	s, u, err := f.current()
	if err != nil {
		return core.Summary{}, err
	}
	return s.Ledger.Summary(ctx, u.Partnership())
}

// OpenGoal puts a goal detail on screen. Its transactions are reloaded after
// every contribution until CloseGoal.
func (f *Facade) OpenGoal(ctx context.Context, goalID string) ([]core.Transaction, error) {
	done, err := f.begin(ctx, latency.OpListTransactions)
	if err != nil {
		return nil, err
	}
	defer done()

	s, err := f.session()
	if err != nil {
		return nil, err
	}
	return s.OpenGoal(ctx, goalID)
}

func (f *Facade) CloseGoal(_ context.Context) error {
	s, err := f.session()
	if err != nil {
		return err
	}
	s.CloseGoal()
	return nil
}

// Subscribe streams view updates of the current session. The channel closes
// when the session ends.
func (f *Facade) Subscribe(_ context.Context) (<-chan session.Update, func(), error) {
	s, err := f.session()
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.Subscribe(16)
	return ch, cancel, nil
}

// refresh reloads the session views after a mutation.
func (f *Facade) refresh(ctx context.Context, s *session.Session) {
	if _, err := s.RefreshGoals(ctx); err != nil {
		f.logger.WarnContext(ctx, "Goal refresh failed", log.FieldError, err)
	}
	if _, err := s.RefreshTransactions(ctx); err != nil {
		f.logger.WarnContext(ctx, "Transaction refresh failed", log.FieldError, err)
	}
}
