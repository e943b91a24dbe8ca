// Package store defines the persisted state of a session: the current user,
// the current invitation, the goal collection and the transaction collection.
package store

import (
	"context"
	"fmt"

	"savtogether/internal/core"
)

// Store persists the four session records. Every method is atomic with respect
// to every other method, so readers never observe half of a multi-record write.
type Store interface {
	// LoadUser returns nil when no user is stored.
	LoadUser(ctx context.Context) (*core.User, error)
	SaveUser(ctx context.Context, u core.User) error

	// LoadInvitation returns nil when no invitation is stored.
	LoadInvitation(ctx context.Context) (*core.Invitation, error)
	// SaveInvitation replaces the current invitation.
	SaveInvitation(ctx context.Context, inv core.Invitation) error

	// ListGoals returns the goals of a partnership in creation order.
	ListGoals(ctx context.Context, partnershipID string) ([]core.Goal, error)
	// InsertGoal appends g. When g is active, any other active goal of the same
	// partnership is paused in the same write.
	InsertGoal(ctx context.Context, g core.Goal) error
	// SetGoalStatus changes the status of a goal of the partnership, pausing the
	// other active goal when status is active. Returns core.ErrNotFound for unknown ids.
	SetGoalStatus(ctx context.Context, partnershipID, goalID string, status core.GoalStatus) (core.Goal, error)

	// ListTransactions returns the transactions of a goal, newest first.
	ListTransactions(ctx context.Context, goalID string) ([]core.Transaction, error)
	// ListPartnershipTransactions returns the transactions of every goal of a partnership, newest first.
	ListPartnershipTransactions(ctx context.Context, partnershipID string) ([]core.Transaction, error)
	// ApplyContribution inserts txns and adds their amounts to the goal balance in
	// one write. The goal must exist (core.ErrNotFound) and be active
	// (core.ErrGoalNotActive). A goal whose balance reaches its target is completed.
	// Invalid amounts and a balance that would overflow are core.ErrValidation.
	ApplyContribution(ctx context.Context, goalID string, txns []core.Transaction) (core.Goal, error)

	// Reset clears all four records together.
	Reset(ctx context.Context) error
	Close() error
}

// Credit adds the amounts of txns to g's balance and completes g once it
// reaches its target. g is left untouched when the balance would overflow.
func Credit(g *core.Goal, txns []core.Transaction) error {
	balance := g.CurrentAmount
	for _, tx := range txns {
		if err := tx.Amount.Validate(); err != nil {
			return core.NewValidationError("amount", fmt.Sprintf("transaction %s: invalid amount %s", tx.ID, tx.Amount))
		}
		next, err := balance.CheckedAdd(tx.Amount)
		if err != nil {
			return core.NewValidationError("amount", fmt.Sprintf("goal %s balance would overflow", g.ID))
		}
		balance = next
	}
	g.CurrentAmount = balance
	if g.Reached() {
		g.Status = core.GoalCompleted
	}
	return nil
}

// Total sums the amounts of txns.
func Total(txns []core.Transaction) core.Money {
	var m core.Money
	for _, tx := range txns {
		m = m.Add(tx.Amount)
	}
	return m
}
