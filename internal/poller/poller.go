// Package poller runs the two background schedules of a session: the
// invitation watch and the contribution simulator.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"savtogether/internal/clock"
	"savtogether/internal/core"
	"savtogether/internal/log"
	"savtogether/internal/metrics"
	"savtogether/internal/random"
)

// Defaults for Config
const (
	DefaultInvitationInterval      = 2 * time.Second
	DefaultContributionInterval    = 8 * time.Second
	DefaultContributionProbability = 0.3
)

type Config struct {
	InvitationInterval      time.Duration
	ContributionInterval    time.Duration
	ContributionProbability float64
}

func (c Config) withDefaults() Config {
	if c.InvitationInterval <= 0 {
		c.InvitationInterval = DefaultInvitationInterval
	}
	if c.ContributionInterval <= 0 {
		c.ContributionInterval = DefaultContributionInterval
	}
	if c.ContributionProbability < 0 {
		c.ContributionProbability = 0
	}
	return c
}

type Identity interface {
	Current() (core.User, bool)
	Refresh(ctx context.Context) (core.User, error)
}

type Invitations interface {
	CheckStatus(ctx context.Context) (*core.Invitation, error)
}

type Ledger interface {
	ActiveGoal(ctx context.Context, partnershipID string) (*core.Goal, error)
	ApplyContribution(ctx context.Context, payer core.User, goalID string, perPerson core.Money) (core.Goal, []core.Transaction, error)
}

// Hooks let the owner refresh its views after a tick changed something. Both are optional.
type Hooks struct {
	PartnerLinked func(ctx context.Context, u core.User)
	Contributed   func(ctx context.Context, g core.Goal)
}

type Deps struct {
	Identity    Identity
	Invitations Invitations
	Ledger      Ledger
	Clock       clock.Clock
	Random      random.Source
	Metrics     *metrics.Metrics
	Logger      *log.Logger
	Hooks       Hooks
}

type Poller struct {
	cfg  Config
	deps Deps

	logger *log.Logger
	events *log.StructuredLogger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(cfg Config, deps Deps) *Poller {
	if deps.Logger == nil {
		deps.Logger = log.Discard()
	}
	logger := deps.Logger.WithComponent(log.ComponentPoller)
	return &Poller{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		logger: logger,
		events: log.NewStructuredLogger(logger),
	}
}

// Start launches both schedules. A poller starts at most once.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return errors.New("poller already started")
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.run(gctx, metrics.ScheduleInvitationWatch, p.cfg.InvitationInterval, p.watchInvitation)
	})
	g.Go(func() error {
		return p.run(gctx, metrics.ScheduleContribution, p.cfg.ContributionInterval, p.simulateContribution)
	})
	go func() {
		_ = g.Wait()
		close(p.done)
	}()

	p.logger.InfoContext(ctx, "Poller started",
		"invitation_interval", p.cfg.InvitationInterval,
		"contribution_interval", p.cfg.ContributionInterval,
		"contribution_probability", p.cfg.ContributionProbability)
	return nil
}

// Stop cancels both schedules and waits for a tick in flight to finish. After
// it returns no tick runs again. Safe to call repeatedly or before Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("Poller stopped")
}

func (p *Poller) run(ctx context.Context, schedule string, every time.Duration, tick func(context.Context) error) error {
	t := p.deps.Clock.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			if ctx.Err() != nil {
				return nil
			}
			err := p.safeTick(ctx, tick)
			p.deps.Metrics.PollerTick(schedule, err)
			if err != nil {
				p.events.LogError(ctx, "Poller tick failed", err, log.ComponentPoller, schedule,
					log.NewFields().WithOperation(schedule))
			}
		}
	}
}

// safeTick turns a panicking tick into an error so the schedule keeps running.
func (p *Poller) safeTick(ctx context.Context, tick func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()
	return tick(ctx)
}

// watchInvitation reconciles the local user with an accepted invitation.
func (p *Poller) watchInvitation(ctx context.Context) error {
	inv, err := p.deps.Invitations.CheckStatus(ctx)
	if err != nil {
		return fmt.Errorf("check invitation: %w", err)
	}
	if inv == nil || inv.Status != core.InvitationAccepted {
		return nil
	}
	u, ok := p.deps.Identity.Current()
	if !ok || u.HasPartner() {
		return nil
	}
	u, err = p.deps.Identity.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh user: %w", err)
	}
	if u.HasPartner() {
		p.logger.InfoContext(ctx, "Partner link observed", log.FieldUserID, u.ID, log.FieldOperation, log.OpRefresh)
		if p.deps.Hooks.PartnerLinked != nil {
			p.deps.Hooks.PartnerLinked(ctx, u)
		}
	}
	return nil
}

// simulateContribution applies a contribution to the active goal with the configured probability.
func (p *Poller) simulateContribution(ctx context.Context) error {
	u, ok := p.deps.Identity.Current()
	if !ok || !u.HasPartner() {
		return nil
	}
	active, err := p.deps.Ledger.ActiveGoal(ctx, u.Partnership())
	if err != nil {
		return fmt.Errorf("find active goal: %w", err)
	}
	if active == nil {
		return nil
	}
	if p.deps.Random.Float64() >= p.cfg.ContributionProbability {
		return nil
	}
	g, _, err := p.deps.Ledger.ApplyContribution(ctx, u, active.ID, active.ContributionPerPerson)
	if err != nil {
		return fmt.Errorf("apply contribution to %s: %w", active.ID, err)
	}
	if p.deps.Hooks.Contributed != nil {
		p.deps.Hooks.Contributed(ctx, g)
	}
	return nil
}
