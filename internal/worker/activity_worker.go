// Package worker consumes ledger and invitation events and turns them into
// an activity feed.
package worker

import (
	"context"
	"fmt"
	"time"

	"savtogether/internal/amqp"
	"savtogether/internal/cache"
	"savtogether/internal/core"
	"savtogether/internal/log"
	"savtogether/internal/metrics"
)

// DedupeWindow is how long handled event keys are remembered.
const DedupeWindow = 24 * time.Hour

// ActivityWorker handles events delivered by the AMQP consumer.
type ActivityWorker struct {
	feed    *Feed
	seen    *cache.LRU[struct{}]
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewActivityWorker builds a worker appending to feed. seen remembers handled
// events so redeliveries are not recorded twice; m and logger may be nil.
func NewActivityWorker(feed *Feed, seen *cache.LRU[struct{}], m *metrics.Metrics, logger *log.Logger) *ActivityWorker {
	if logger == nil {
		logger = log.Discard()
	}
	return &ActivityWorker{
		feed:    feed,
		seen:    seen,
		metrics: m,
		logger:  logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent records env in the feed. It matches the handler signature of
// amqp.Client.ConsumeEvents.
func (w *ActivityWorker) HandleEvent(ctx context.Context, env *amqp.Envelope) error {
	entry, key, err := w.toEntry(env)
	if err != nil {
		return err
	}
	if !w.seen.Add(key, struct{}{}) {
		w.logger.DebugContext(ctx, "Skipping duplicate event", log.FieldEventType, env.Type, "key", key)
		return nil
	}

	w.feed.Append(entry)
	w.metrics.EventConsumed(env.Type)

	if c := env.Contribution; c != nil {
		log.NewStructuredLogger(w.logger).LogContribution(ctx, c.GoalID, c.PartnershipID, c.TotalCents, c.Reference)
	} else {
		w.logger.InfoContext(ctx, "Invitation event recorded",
			log.FieldEventType, env.Type,
			log.FieldInvitationID, env.Invitation.InvitationID)
	}
	return nil
}

func (w *ActivityWorker) toEntry(env *amqp.Envelope) (Entry, string, error) {
	at := env.PublishedAt
	switch {
	case env.Contribution != nil:
		c := env.Contribution
		if !c.Timestamp.IsZero() {
			at = c.Timestamp
		}
		msg := fmt.Sprintf("Contributed %s to goal %s", core.Money{Cents: c.TotalCents}, c.GoalID)
		if c.GoalStatus == string(core.GoalCompleted) {
			msg += " (goal reached)"
		}
		return Entry{
			Type:          env.Type,
			Reference:     c.Reference,
			GoalID:        c.GoalID,
			PartnershipID: c.PartnershipID,
			AmountCents:   c.TotalCents,
			Message:       msg,
			At:            at,
		}, "contribution:" + c.PartnershipID + ":" + c.Reference, nil

	case env.Invitation != nil:
		i := env.Invitation
		if !i.Timestamp.IsZero() {
			at = i.Timestamp
		}
		return Entry{
			Type:         env.Type,
			InvitationID: i.InvitationID,
			Message:      fmt.Sprintf("Invitation to %s is %s", i.InvitedEmail, i.Status),
			At:           at,
		}, "invitation:" + i.InvitationID + ":" + i.Status, nil
	}
	return Entry{}, "", fmt.Errorf("event %q has no payload", env.Type)
}
