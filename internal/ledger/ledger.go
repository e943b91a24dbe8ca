// Package ledger owns goals and their transactions. Balance changes only
// happen through contribution events, each of which writes a debit pair and
// the balance increase in one store call.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"savtogether/internal/amqp"
	"savtogether/internal/clock"
	"savtogether/internal/core"
	"savtogether/internal/log"
	"savtogether/internal/metrics"
	"savtogether/internal/store"
)

// PartnerName is the display name used on the partner's half of a contribution.
const PartnerName = "Partner"

// Publisher receives applied contributions.
type Publisher interface {
	PublishContribution(ctx context.Context, msg amqp.ContributionMessage) error
}

type Options struct {
	Publisher Publisher
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

type Ledger struct {
	store     store.Store
	clock     clock.Clock
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *log.Logger
	events    *log.StructuredLogger
	newID     func() string
}

func New(s store.Store, clk clock.Clock, opts Options) *Ledger {
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	logger := opts.Logger.WithComponent(log.ComponentLedger)
	return &Ledger{
		store:     s,
		clock:     clk,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
		newID:     uuid.NewString,
	}
}

// CreateGoal validates in and appends an active goal to the owner's
// partnership. Any goal that was active in the partnership is paused.
func (l *Ledger) CreateGoal(ctx context.Context, owner core.User, in core.GoalInput) (core.Goal, error) {
	deadline, err := in.Validate()
	if err != nil {
		return core.Goal{}, err
	}
	if !owner.HasPartner() {
		return core.Goal{}, core.ErrNoPartner
	}

	g := core.Goal{
		ID:                    l.newID(),
		PartnershipID:         owner.Partnership(),
		Name:                  strings.TrimSpace(in.Name),
		TargetAmount:          in.TargetAmount,
		Deadline:              deadline,
		ContributionPerPerson: in.ContributionPerPerson,
		Frequency:             in.Frequency,
		Status:                core.GoalActive,
		CreatedAt:             l.clock.Now(),
	}
	if err := l.store.InsertGoal(ctx, g); err != nil {
		return core.Goal{}, fmt.Errorf("insert goal: %w", err)
	}
	l.logger.InfoContext(ctx, "Goal created",
		log.FieldGoalID, g.ID,
		log.FieldPartnership, g.PartnershipID,
		log.FieldAmountCents, g.TargetAmount.Cents,
		log.FieldOperation, log.OpCreate)
	return g, nil
}

// ListGoals returns the goals of a partnership in creation order.
func (l *Ledger) ListGoals(ctx context.Context, partnershipID string) ([]core.Goal, error) {
	goals, err := l.store.ListGoals(ctx, partnershipID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	return goals, nil
}

// GetGoal returns one goal of the partnership or core.ErrNotFound.
func (l *Ledger) GetGoal(ctx context.Context, partnershipID, goalID string) (core.Goal, error) {
	goals, err := l.ListGoals(ctx, partnershipID)
	if err != nil {
		return core.Goal{}, err
	}
	for _, g := range goals {
		if g.ID == goalID {
			return g, nil
		}
	}
	return core.Goal{}, fmt.Errorf("goal %s: %w", goalID, core.ErrNotFound)
}

// ActiveGoal returns the first active goal in creation order, or nil.
func (l *Ledger) ActiveGoal(ctx context.Context, partnershipID string) (*core.Goal, error) {
	goals, err := l.ListGoals(ctx, partnershipID)
	if err != nil {
		return nil, err
	}
	g, ok := core.FirstActive(goals)
	if !ok {
		return nil, nil
	}
	return &g, nil
}

// SetGoalStatus pauses, resumes or completes a goal. Completed goals stay completed.
func (l *Ledger) SetGoalStatus(ctx context.Context, partnershipID, goalID string, status core.GoalStatus) (core.Goal, error) {
	if !status.Valid() {
		return core.Goal{}, core.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}
	g, err := l.store.SetGoalStatus(ctx, partnershipID, goalID, status)
	if err != nil {
		return core.Goal{}, err
	}
	l.logger.InfoContext(ctx, "Goal status changed",
		log.FieldGoalID, goalID,
		log.FieldStatus, string(status),
		log.FieldOperation, log.OpUpdate)
	return g, nil
}

// ListTransactions returns the transactions of a goal, newest first. Unknown
// goals yield an empty list.
func (l *Ledger) ListTransactions(ctx context.Context, goalID string) ([]core.Transaction, error) {
	txns, err := l.store.ListTransactions(ctx, goalID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

// ListAllTransactions returns the transactions of every goal of the partnership, newest first.
func (l *Ledger) ListAllTransactions(ctx context.Context, partnershipID string) ([]core.Transaction, error) {
	txns, err := l.store.ListPartnershipTransactions(ctx, partnershipID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}

// ApplyContribution records one contribution event on an active goal: a debit
// of perPerson for the payer and one for the partner, sharing a timestamp, and
// a balance increase of twice perPerson. Every call is a new event.
func (l *Ledger) ApplyContribution(ctx context.Context, payer core.User, goalID string, perPerson core.Money) (core.Goal, []core.Transaction, error) {
	if err := perPerson.Validate(); err != nil {
		return core.Goal{}, nil, core.NewValidationError("amount", "must be between 0.01 and "+core.Money{Cents: core.MaxCents}.String())
	}
	if !payer.HasPartner() {
		return core.Goal{}, nil, core.ErrNoPartner
	}
	if _, err := l.GetGoal(ctx, payer.Partnership(), goalID); err != nil {
		return core.Goal{}, nil, err
	}

	now := l.clock.Now()
	payerName := payer.FullName
	if payerName == "" {
		payerName = "You"
	}
	txns := []core.Transaction{
		l.debit(goalID, payer.ID, payerName, perPerson, now, 1),
		l.debit(goalID, payer.PartnerID, PartnerName, perPerson, now, 2),
	}

	g, err := l.store.ApplyContribution(ctx, goalID, txns)
	if err != nil {
		return core.Goal{}, nil, err
	}

	total := store.Total(txns)
	l.metrics.Contribution(total.Cents)
	l.events.LogContribution(ctx, goalID, g.PartnershipID, total.Cents, txns[0].Reference)
	if g.Status == core.GoalCompleted {
		l.logger.InfoContext(ctx, "Goal reached its target", log.FieldGoalID, goalID, log.FieldAmountCents, g.CurrentAmount.Cents)
	}
	l.publish(ctx, payer, g, txns, total)
	return g, txns, nil
}

// Summary aggregates the partnership's goals.
func (l *Ledger) Summary(ctx context.Context, partnershipID string) (core.Summary, error) {
	goals, err := l.ListGoals(ctx, partnershipID)
	if err != nil {
		return core.Summary{}, err
	}
	return core.Summarize(goals), nil
}

func (l *Ledger) debit(goalID, userID, userName string, amount core.Money, at time.Time, n int) core.Transaction {
	return core.Transaction{
		ID:        l.newID(),
		GoalID:    goalID,
		UserID:    userID,
		UserName:  userName,
		Amount:    amount,
		Type:      core.Debit,
		Status:    core.TxSuccess,
		Timestamp: at,
		Reference: fmt.Sprintf("TXN_%d_%d", at.UnixMilli(), n),
	}
}

func (l *Ledger) publish(ctx context.Context, payer core.User, g core.Goal, txns []core.Transaction, total core.Money) {
	if l.publisher == nil {
		return
	}
	err := l.publisher.PublishContribution(ctx, amqp.ContributionMessage{
		GoalID:           g.ID,
		PartnershipID:    g.PartnershipID,
		PayerID:          payer.ID,
		PartnerID:        payer.PartnerID,
		Reference:        txns[0].Reference,
		PerPersonCents:   txns[0].Amount.Cents,
		TotalCents:       total.Cents,
		GoalCurrentCents: g.CurrentAmount.Cents,
		GoalStatus:       string(g.Status),
		Timestamp:        txns[0].Timestamp,
	})
	if err != nil {
		// The contribution is already stored
		l.logger.WarnContext(ctx, "Failed to publish contribution event",
			log.FieldGoalID, g.ID, log.FieldError, err, log.FieldOperation, log.OpPublish)
	}
}
