// Package memory is the in-process store backend. State lives for the
// lifetime of the process only.
package memory

import (
	"context"
	"fmt"
	"sync"

	"savtogether/internal/core"
	"savtogether/internal/store"
)

type Store struct {
	mu    sync.RWMutex
	user  *core.User
	inv   *core.Invitation
	goals []core.Goal
	txns  []core.Transaction
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{}
}

func (s *Store) LoadUser(_ context.Context) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil, nil
	}
	u := *s.user
	return &u, nil
}

func (s *Store) SaveUser(_ context.Context, u core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &u
	return nil
}

func (s *Store) LoadInvitation(_ context.Context) (*core.Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.inv == nil {
		return nil, nil
	}
	inv := *s.inv
	return &inv, nil
}

func (s *Store) SaveInvitation(_ context.Context, inv core.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inv = &inv
	return nil
}

func (s *Store) ListGoals(_ context.Context, partnershipID string) ([]core.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Goal, 0, len(s.goals))
	for _, g := range s.goals {
		if g.PartnershipID == partnershipID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *Store) InsertGoal(_ context.Context, g core.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.goals {
		if existing.ID == g.ID {
			return fmt.Errorf("goal %s already exists", g.ID)
		}
	}
	if g.Status == core.GoalActive {
		s.pauseActiveLocked(g.PartnershipID, "")
	}
	s.goals = append(s.goals, g)
	return nil
}

func (s *Store) SetGoalStatus(_ context.Context, partnershipID, goalID string, status core.GoalStatus) (core.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(goalID)
	if i < 0 || s.goals[i].PartnershipID != partnershipID {
		return core.Goal{}, fmt.Errorf("goal %s: %w", goalID, core.ErrNotFound)
	}
	if !s.goals[i].Status.CanTransition(status) {
		return core.Goal{}, fmt.Errorf("goal %s from %s to %s: %w", goalID, s.goals[i].Status, status, core.ErrInvalidTransition)
	}
	if status == core.GoalActive {
		s.pauseActiveLocked(partnershipID, goalID)
	}
	s.goals[i].Status = status
	return s.goals[i], nil
}

func (s *Store) ListTransactions(_ context.Context, goalID string) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.Transaction{}
	for _, tx := range s.txns {
		if tx.GoalID == goalID {
			out = append(out, tx)
		}
	}
	core.SortNewestFirst(out)
	return out, nil
}

func (s *Store) ListPartnershipTransactions(_ context.Context, partnershipID string) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	goals := map[string]struct{}{}
	for _, g := range s.goals {
		if g.PartnershipID == partnershipID {
			goals[g.ID] = struct{}{}
		}
	}
	out := []core.Transaction{}
	for _, tx := range s.txns {
		if _, ok := goals[tx.GoalID]; ok {
			out = append(out, tx)
		}
	}
	core.SortNewestFirst(out)
	return out, nil
}

func (s *Store) ApplyContribution(_ context.Context, goalID string, txns []core.Transaction) (core.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(goalID)
	if i < 0 {
		return core.Goal{}, fmt.Errorf("goal %s: %w", goalID, core.ErrNotFound)
	}
	g := s.goals[i]
	if g.Status != core.GoalActive {
		return core.Goal{}, fmt.Errorf("goal %s is %s: %w", goalID, g.Status, core.ErrGoalNotActive)
	}
	if err := store.Credit(&g, txns); err != nil {
		return core.Goal{}, err
	}
	s.goals[i] = g
	s.txns = append(s.txns, txns...)
	return g, nil
}

func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	s.inv = nil
	s.goals = nil
	s.txns = nil
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) indexLocked(goalID string) int {
	for i, g := range s.goals {
		if g.ID == goalID {
			return i
		}
	}
	return -1
}

// pauseActiveLocked pauses every active goal of the partnership except keep.
func (s *Store) pauseActiveLocked(partnershipID, keep string) {
	for i := range s.goals {
		g := &s.goals[i]
		if g.PartnershipID == partnershipID && g.ID != keep && g.Status == core.GoalActive {
			g.Status = core.GoalPaused
		}
	}
}
