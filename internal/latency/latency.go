// Package latency simulates network round-trips for the in-process backend.
// Every facade operation waits here before touching state.
package latency

import (
	"context"
	"time"

	"savtogether/internal/clock"
)

// Operation names a facade call for delay lookup.
type Operation string

const (
	OpLogin            Operation = "auth.login"
	OpSignup           Operation = "auth.signup"
	OpUpdateUser       Operation = "auth.updateUser"
	OpInvite           Operation = "partner.invite"
	OpCheckStatus      Operation = "partner.checkStatus"
	OpRejectInvitation Operation = "partner.reject"
	OpCreateGoal       Operation = "goals.create"
	OpListGoals        Operation = "goals.list"
	OpGetGoal          Operation = "goals.get"
	OpUpdateGoal       Operation = "goals.updateStatus"
	OpListTransactions Operation = "transactions.list"
	OpListAll          Operation = "transactions.listAll"
	OpSummary          Operation = "goals.summary"
	OpContribute       Operation = "goals.contribute"
)

// DefaultDelay applies to operations without an entry in DefaultDelays.
const DefaultDelay = 800 * time.Millisecond

// DefaultDelays are the simulated round-trip times per operation.
var DefaultDelays = map[Operation]time.Duration{
	OpLogin:            800 * time.Millisecond,
	OpSignup:           800 * time.Millisecond,
	OpUpdateUser:       500 * time.Millisecond,
	OpInvite:           800 * time.Millisecond,
	OpCheckStatus:      300 * time.Millisecond,
	OpRejectInvitation: 500 * time.Millisecond,
	OpCreateGoal:       800 * time.Millisecond,
	OpListGoals:        500 * time.Millisecond,
	OpGetGoal:          300 * time.Millisecond,
	OpUpdateGoal:       500 * time.Millisecond,
	OpListTransactions: 500 * time.Millisecond,
	OpListAll:          500 * time.Millisecond,
	OpSummary:          500 * time.Millisecond,
	OpContribute:       800 * time.Millisecond,
}

// Simulator sleeps on a clock for the configured per-operation delay.
type Simulator struct {
	clock  clock.Clock
	scale  float64
	delays map[Operation]time.Duration
}

// New returns a simulator using DefaultDelays multiplied by scale. A scale of 0 disables delays.
func New(c clock.Clock, scale float64) *Simulator {
	if scale < 0 {
		scale = 0
	}
	return &Simulator{clock: c, scale: scale, delays: DefaultDelays}
}

// Disabled returns a simulator that never waits.
func Disabled() *Simulator {
	return &Simulator{clock: clock.Real{}, scale: 0, delays: DefaultDelays}
}

// Delay returns the scaled delay for op.
func (s *Simulator) Delay(op Operation) time.Duration {
	d, ok := s.delays[op]
	if !ok {
		d = DefaultDelay
	}
	return time.Duration(float64(d) * s.scale)
}

// Wait suspends the caller for the delay of op. It only fails when ctx is done.
func (s *Simulator) Wait(ctx context.Context, op Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.clock.Sleep(ctx, s.Delay(op))
}
