// Package facade is the client-facing API of the savings core. Every call
// waits on the latency simulator first, then runs against the open session.
package facade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"savtogether/internal/clock"
	"savtogether/internal/core"
	"savtogether/internal/latency"
	"savtogether/internal/log"
	"savtogether/internal/metrics"
	"savtogether/internal/poller"
	"savtogether/internal/random"
	"savtogether/internal/session"
	"savtogether/internal/store"
)

type Config struct {
	AcceptDelay time.Duration
	Poller      poller.Config
}

type Deps struct {
	Store     store.Store
	Clock     clock.Clock
	Latency   *latency.Simulator
	Random    random.Source
	Publisher session.Publisher
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

type Facade struct {
	cfg    Config
	deps   Deps
	logger *log.Logger

	// mu serializes mutating calls
	mu sync.Mutex

	smu  sync.RWMutex
	sess *session.Session
}

func New(cfg Config, deps Deps) *Facade {
	if deps.Logger == nil {
		deps.Logger = log.Discard()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Latency == nil {
		deps.Latency = latency.Disabled()
	}
	if deps.Random == nil {
		seed, err := random.NewSeed()
		if err != nil {
			seed = deps.Clock.Now().UnixNano()
		}
		deps.Random = random.NewSeeded(seed)
	}
	return &Facade{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.WithComponent(log.ComponentFacade),
	}
}

// begin waits the simulated round-trip of op and returns the function that
// records its duration.
func (f *Facade) begin(ctx context.Context, op latency.Operation) (func(), error) {
	start := f.deps.Clock.Now()
	done := func() { f.deps.Metrics.ObserveOperation(string(op), f.deps.Clock.Now().Sub(start)) }
	if err := f.deps.Latency.Wait(ctx, op); err != nil {
		done()
		return nil, err
	}
	return done, nil
}

func (f *Facade) session() (*session.Session, error) {
	f.smu.RLock()
	defer f.smu.RUnlock()
	if f.sess == nil {
		return nil, core.ErrNotAuthenticated
	}
	return f.sess, nil
}

// current returns the open session and its signed-in user.
func (f *Facade) current() (*session.Session, core.User, error) {
	s, err := f.session()
	if err != nil {
		return nil, core.User{}, err
	}
	u, err := s.User()
	if err != nil {
		return nil, core.User{}, err
	}
	return s, u, nil
}

func (f *Facade) newSession() *session.Session {
	return session.New(session.Deps{
		Store:       f.deps.Store,
		Clock:       f.deps.Clock,
		Random:      f.deps.Random,
		Publisher:   f.deps.Publisher,
		Metrics:     f.deps.Metrics,
		Logger:      f.deps.Logger,
		Poller:      f.cfg.Poller,
		AcceptDelay: f.cfg.AcceptDelay,
	})
}

// openSession runs auth against a fresh session and makes it current on success.
// Callers hold mu.
func (f *Facade) openSession(ctx context.Context, auth func(*session.Session) (core.User, error)) (core.User, error) {
	s := f.newSession()
	u, err := auth(s)
	if err != nil {
		s.Close()
		return core.User{}, err
	}
	if err := s.Open(ctx); err != nil {
		s.Close()
		return core.User{}, fmt.Errorf("open session: %w", err)
	}
	if _, err := s.RefreshGoals(ctx); err != nil {
		f.logger.WarnContext(ctx, "Initial goal load failed", log.FieldError, err)
	}

	f.smu.Lock()
	f.sess = s
	f.smu.Unlock()
	return u, nil
}

// closeSession detaches and closes the current session, if any. Callers hold mu.
func (f *Facade) closeSession() {
	f.smu.Lock()
	s := f.sess
	f.sess = nil
	f.smu.Unlock()
	if s != nil {
		s.Close()
	}
}

// Close ends the current session without clearing persisted state.
func (f *Facade) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSession()
}
