// Package invitation runs the partner-linking handshake:
// none -> pending -> accepted | rejected.
//
// A pending invitation is accepted automatically after a delay, standing in
// for the invited partner. Acceptance links a partner to the sender through
// the PartnerLinker. That call is the only path that sets a partner.
package invitation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"savtogether/internal/amqp"
	"savtogether/internal/clock"
	"savtogether/internal/core"
	"savtogether/internal/log"
	"savtogether/internal/metrics"
)

// DefaultAcceptDelay is how long a pending invitation waits for the simulated partner.
const DefaultAcceptDelay = 4 * time.Second

// ErrStopped is returned by operations on an engine whose session has ended.
var ErrStopped = errors.New("invitation engine stopped")

// InvitationStore persists the single current invitation.
type InvitationStore interface {
	LoadInvitation(ctx context.Context) (*core.Invitation, error)
	SaveInvitation(ctx context.Context, inv core.Invitation) error
}

// PartnerLinker reads and links the persisted user.
type PartnerLinker interface {
	Stored(ctx context.Context) (core.User, error)
	LinkPartner(ctx context.Context, partnerID string) (core.User, error)
}

// Publisher receives invitation status changes.
type Publisher interface {
	PublishInvitation(ctx context.Context, msg amqp.InvitationMessage) error
}

type Options struct {
	AcceptDelay time.Duration
	Publisher   Publisher
	Metrics     *metrics.Metrics
	Logger      *log.Logger
}

type Engine struct {
	store     InvitationStore
	linker    PartnerLinker
	clock     clock.Clock
	delay     time.Duration
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *log.Logger
	newID     func() string

	mu        sync.Mutex
	timer     clock.Timer
	pendingID string
	stopped   bool
}

func New(store InvitationStore, linker PartnerLinker, clk clock.Clock, opts Options) *Engine {
	if opts.AcceptDelay <= 0 {
		opts.AcceptDelay = DefaultAcceptDelay
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	return &Engine{
		store:     store,
		linker:    linker,
		clock:     clk,
		delay:     opts.AcceptDelay,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    opts.Logger.WithComponent(log.ComponentInvitation),
		newID:     uuid.NewString,
	}
}

// Invite replaces any current invitation with a fresh pending one from sender
// and schedules its acceptance.
func (e *Engine) Invite(ctx context.Context, sender core.User, email string) (core.Invitation, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return core.Invitation{}, core.NewValidationError("email", "must not be empty")
	}
	if sender.HasPartner() {
		return core.Invitation{}, fmt.Errorf("user %s already has a partner: %w", sender.ID, core.ErrInvalidTransition)
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return core.Invitation{}, ErrStopped
	}
	// the caller's view lags acceptance until the next refresh
	stored, err := e.linker.Stored(ctx)
	if err != nil {
		e.mu.Unlock()
		return core.Invitation{}, fmt.Errorf("load sender: %w", err)
	}
	if stored.HasPartner() {
		e.mu.Unlock()
		return core.Invitation{}, fmt.Errorf("user %s already has a partner: %w", stored.ID, core.ErrInvalidTransition)
	}
	inv := core.Invitation{
		ID:           e.newID(),
		SenderID:     sender.ID,
		InvitedEmail: email,
		Status:       core.InvitationPending,
		SentAt:       e.clock.Now(),
	}
	if err := e.store.SaveInvitation(ctx, inv); err != nil {
		e.mu.Unlock()
		return core.Invitation{}, fmt.Errorf("save invitation: %w", err)
	}
	e.cancelTimerLocked()
	e.pendingID = inv.ID
	id := inv.ID
	e.timer = e.clock.AfterFunc(e.delay, func() { e.accept(id) })
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "Invitation sent",
		log.NewFields().WithInvitation(inv.ID, inv.InvitedEmail, string(inv.Status)).WithOperation(log.OpInvite).ToSlice()...)
	e.announce(ctx, inv, "")
	return inv, nil
}

// CheckStatus returns the current invitation, or nil when there is none.
func (e *Engine) CheckStatus(ctx context.Context) (*core.Invitation, error) {
	inv, err := e.store.LoadInvitation(ctx)
	if err != nil {
		return nil, fmt.Errorf("load invitation: %w", err)
	}
	return inv, nil
}

// Reject moves a pending invitation to rejected and cancels its acceptance.
func (e *Engine) Reject(ctx context.Context) (core.Invitation, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return core.Invitation{}, ErrStopped
	}
	inv, err := e.store.LoadInvitation(ctx)
	if err != nil {
		e.mu.Unlock()
		return core.Invitation{}, fmt.Errorf("load invitation: %w", err)
	}
	if inv == nil || inv.Status != core.InvitationPending {
		e.mu.Unlock()
		return core.Invitation{}, fmt.Errorf("no pending invitation: %w", core.ErrInvalidTransition)
	}
	inv.Status = core.InvitationRejected
	if err := e.store.SaveInvitation(ctx, *inv); err != nil {
		e.mu.Unlock()
		return core.Invitation{}, fmt.Errorf("save invitation: %w", err)
	}
	e.cancelTimerLocked()
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "Invitation rejected",
		log.NewFields().WithInvitation(inv.ID, inv.InvitedEmail, string(inv.Status)).WithOperation(log.OpReject).ToSlice()...)
	e.announce(ctx, *inv, "")
	return *inv, nil
}

// Stop cancels any scheduled acceptance. Once Stop returns the engine never
// mutates state again. Calling it more than once is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	e.cancelTimerLocked()
}

// accept runs on the timer. It only acts on the invitation it was scheduled
// for, and only while that invitation is still pending.
func (e *Engine) accept(id string) {
	ctx := context.Background()

	e.mu.Lock()
	if e.stopped || e.pendingID != id {
		e.mu.Unlock()
		return
	}
	e.pendingID, e.timer = "", nil

	inv, err := e.store.LoadInvitation(ctx)
	if err != nil || inv == nil || inv.ID != id || inv.Status != core.InvitationPending {
		e.mu.Unlock()
		if err != nil {
			e.logger.ErrorContext(ctx, "Auto-accept failed", log.FieldInvitationID, id, log.FieldError, err)
		}
		return
	}
	partnerID := e.newID()
	if _, err := e.linker.LinkPartner(ctx, partnerID); err != nil {
		e.mu.Unlock()
		e.logger.ErrorContext(ctx, "Linking partner failed",
			log.NewFields().WithInvitation(inv.ID, inv.InvitedEmail, string(inv.Status)).WithError(err).WithOperation(log.OpAccept).ToSlice()...)
		return
	}
	inv.Status = core.InvitationAccepted
	err = e.store.SaveInvitation(ctx, *inv)
	e.mu.Unlock()
	if err != nil {
		e.logger.ErrorContext(ctx, "Auto-accept failed", log.FieldInvitationID, id, log.FieldError, err)
		return
	}
	e.logger.InfoContext(ctx, "Invitation accepted",
		log.NewFields().WithInvitation(inv.ID, inv.InvitedEmail, string(inv.Status)).WithOperation(log.OpAccept).ToSlice()...)
	e.announce(ctx, *inv, partnerID)
}

func (e *Engine) cancelTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.pendingID = ""
}

func (e *Engine) announce(ctx context.Context, inv core.Invitation, partnerID string) {
	e.metrics.Invitation(string(inv.Status))
	if e.publisher == nil {
		return
	}
	err := e.publisher.PublishInvitation(ctx, amqp.InvitationMessage{
		InvitationID: inv.ID,
		SenderID:     inv.SenderID,
		InvitedEmail: inv.InvitedEmail,
		Status:       string(inv.Status),
		PartnerID:    partnerID,
		Timestamp:    e.clock.Now(),
	})
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish invitation event",
			log.FieldInvitationID, inv.ID, log.FieldError, err, log.FieldOperation, log.OpPublish)
	}
}
