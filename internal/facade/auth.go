package facade

import (
	"context"
	"fmt"

	"savtogether/internal/core"
	"savtogether/internal/latency"
	"savtogether/internal/log"
	"savtogether/internal/session"
)

// Login signs in with identifier. With a session already open the signed-in
// user is returned as is.
func (f *Facade) Login(ctx context.Context, identifier string) (core.User, error) {
	done, err := f.begin(ctx, latency.OpLogin)
	if err != nil {
		return core.User{}, err
	}
	defer done()

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, u, err := f.current(); err == nil {
		return u, nil
	}
	u, err := f.openSession(ctx, func(s *session.Session) (core.User, error) {
		return s.Identity.Login(ctx, identifier)
	})
	if err != nil {
		return core.User{}, err
	}
	f.logger.InfoContext(ctx, "Logged in", log.FieldUserID, u.ID, log.FieldOperation, log.OpLogin)
	return u, nil
}

// Signup creates a new user and opens a session for it, replacing any open one.
func (f *Facade) Signup(ctx context.Context, fullName, email string) (core.User, error) {
	done, err := f.begin(ctx, latency.OpSignup)
	if err != nil {
		return core.User{}, err
	}
	defer done()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSession()
	u, err := f.openSession(ctx, func(s *session.Session) (core.User, error) {
		return s.Identity.Signup(ctx, fullName, email)
	})
	if err != nil {
		return core.User{}, err
	}
	f.logger.InfoContext(ctx, "Signed up", log.FieldUserID, u.ID, log.FieldOperation, log.OpCreate)
	return u, nil
}

// Restore reopens a session for the persisted user, as on process start.
// Without a persisted user it returns core.ErrNotAuthenticated.
func (f *Facade) Restore(ctx context.Context) (core.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, u, err := f.current(); err == nil {
		return u, nil
	}
	return f.openSession(ctx, func(s *session.Session) (core.User, error) {
		return s.Identity.Refresh(ctx)
	})
}

func (f *Facade) UpdateUser(ctx context.Context, upd core.UserUpdate) (core.User, error) {
	done, err := f.begin(ctx, latency.OpUpdateUser)
	if err != nil {
		return core.User{}, err
	}
	defer done()

	f.mu.Lock()
	defer f.mu.Unlock()
	s, err := f.session()
	if err != nil {
		return core.User{}, err
	}
	return s.Identity.UpdateUser(ctx, upd)
}

// CurrentUser returns the local view of the signed-in user. It does not wait.
func (f *Facade) CurrentUser(_ context.Context) (core.User, error) {
	_, u, err := f.current()
	return u, err
}

// Logout closes the session and clears every persisted record together.
func (f *Facade) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closeSession()
	if err := f.deps.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	f.logger.InfoContext(ctx, "Logged out", log.FieldOperation, log.OpLogout)
	return nil
}
