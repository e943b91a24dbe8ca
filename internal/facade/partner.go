package facade

import (
	"context"

	"savtogether/internal/core"
	"savtogether/internal/latency"
)

// Invite sends a partner invitation from the signed-in user.
func (f *Facade) Invite(ctx context.Context, email string) (core.Invitation, error) {
	done, err := f.begin(ctx, latency.OpInvite)
	if err != nil {
		return core.Invitation{}, err
	}
	defer done()

	f.mu.Lock()
	defer f.mu.Unlock()
	s, u, err := f.current()
	if err != nil {
		return core.Invitation{}, err
	}
	return s.Invitations.Invite(ctx, u, email)
}

// CheckInvitation returns the current invitation, or nil when none was sent.
func (f *Facade) CheckInvitation(ctx context.Context) (*core.Invitation, error) {
	done, err := f.begin(ctx, latency.OpCheckStatus)
	if err != nil {
		return nil, err
	}
	defer done()

	s, err := f.session()
	if err != nil {
		return nil, err
	}
	return s.Invitations.CheckStatus(ctx)
}

func (f *Facade) RejectInvitation(ctx context.Context) (core.Invitation, error) {
	done, err := f.begin(ctx, latency.OpRejectInvitation)
	if err != nil {
		return core.Invitation{}, err
	}
	defer done()

	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.session()
	if err != nil {
		return core.Invitation{}, err
	}
	return s.Invitations.Reject(ctx)
}
