// Package identity owns the current user's profile and partner link.
//
// It keeps a local view of the user next to the persisted record. Partner
// linkage is written to the persisted record only (by the invitation engine)
// and reaches the local view through Refresh.
package identity

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"savtogether/internal/core"
	"savtogether/internal/log"
)

// DefaultName is used when the login identifier has no usable local part.
const DefaultName = "Savings Partner"

const avatarBase = "https://i.pravatar.cc/150?u="

// UserStore is the slice of the persisted state identity needs.
type UserStore interface {
	LoadUser(ctx context.Context) (*core.User, error)
	SaveUser(ctx context.Context, u core.User) error
}

type Store struct {
	users  UserStore
	logger *log.Logger
	newID  func() string

	// mu serializes read-modify-write on the persisted user and guards current
	mu      sync.Mutex
	current *core.User
}

func New(users UserStore, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Discard()
	}
	return &Store{
		users:  users,
		logger: logger.WithComponent(log.ComponentIdentity),
		newID:  uuid.NewString,
	}
}

// Login returns the persisted user unchanged when there is one, otherwise it
// creates a user from identifier with no partner.
func (s *Store) Login(ctx context.Context, identifier string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.users.LoadUser(ctx)
	if err != nil {
		return core.User{}, fmt.Errorf("load user: %w", err)
	}
	if existing != nil {
		s.current = existing
		s.logger.InfoContext(ctx, "User restored", log.FieldUserID, existing.ID, log.FieldOperation, log.OpLogin)
		return *existing, nil
	}

	identifier = strings.TrimSpace(identifier)
	id := s.newID()
	u := core.User{
		ID:        id,
		FullName:  nameFromIdentifier(identifier),
		Email:     identifier,
		AvatarURL: avatarBase + url.QueryEscape(id),
	}
	if err := s.users.SaveUser(ctx, u); err != nil {
		return core.User{}, fmt.Errorf("save user: %w", err)
	}
	s.current = &u
	s.logger.InfoContext(ctx, "User created", log.FieldUserID, u.ID, log.FieldOperation, log.OpLogin)
	return u, nil
}

// Signup always creates a fresh user, replacing the persisted one.
func (s *Store) Signup(ctx context.Context, fullName, email string) (core.User, error) {
	fullName, email = strings.TrimSpace(fullName), strings.TrimSpace(email)
	if fullName == "" {
		return core.User{}, core.NewValidationError("fullName", "must not be empty")
	}
	if email == "" {
		return core.User{}, core.NewValidationError("email", "must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := core.User{
		ID:        s.newID(),
		FullName:  fullName,
		Email:     email,
		AvatarURL: avatarBase + url.QueryEscape(email),
	}
	if err := s.users.SaveUser(ctx, u); err != nil {
		return core.User{}, fmt.Errorf("save user: %w", err)
	}
	s.current = &u
	s.logger.InfoContext(ctx, "User signed up", log.FieldUserID, u.ID, log.FieldOperation, log.OpCreate)
	return u, nil
}

// UpdateUser merges upd into the persisted user and returns the result.
func (s *Store) UpdateUser(ctx context.Context, upd core.UserUpdate) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.users.LoadUser(ctx)
	if err != nil {
		return core.User{}, fmt.Errorf("load user: %w", err)
	}
	if stored == nil {
		return core.User{}, core.ErrNotAuthenticated
	}
	merged := stored.Apply(upd)
	if err := s.users.SaveUser(ctx, merged); err != nil {
		return core.User{}, fmt.Errorf("save user: %w", err)
	}
	s.current = &merged
	return merged, nil
}

// Current returns the local view of the user.
func (s *Store) Current() (core.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return core.User{}, false
	}
	return *s.current, true
}

// Refresh reloads the local view from the persisted record.
func (s *Store) Refresh(ctx context.Context) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.users.LoadUser(ctx)
	if err != nil {
		return core.User{}, fmt.Errorf("load user: %w", err)
	}
	if stored == nil {
		s.current = nil
		return core.User{}, core.ErrNotAuthenticated
	}
	s.current = stored
	s.logger.DebugContext(ctx, "User refreshed", log.FieldUserID, stored.ID, log.FieldOperation, log.OpRefresh)
	return *stored, nil
}

// Stored returns the persisted user, which may be ahead of the local view.
func (s *Store) Stored(ctx context.Context) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.users.LoadUser(ctx)
	if err != nil {
		return core.User{}, fmt.Errorf("load user: %w", err)
	}
	if stored == nil {
		return core.User{}, core.ErrNotAuthenticated
	}
	return *stored, nil
}

// LinkPartner attaches partnerID to the persisted user. The local view is left
// alone until the next Refresh. A user that is already linked keeps its partner.
func (s *Store) LinkPartner(ctx context.Context, partnerID string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.users.LoadUser(ctx)
	if err != nil {
		return core.User{}, fmt.Errorf("load user: %w", err)
	}
	if stored == nil {
		return core.User{}, core.ErrNotAuthenticated
	}
	if stored.HasPartner() {
		return core.User{}, fmt.Errorf("user %s already has a partner: %w", stored.ID, core.ErrInvalidTransition)
	}
	stored.PartnerID = partnerID
	if err := s.users.SaveUser(ctx, *stored); err != nil {
		return core.User{}, fmt.Errorf("save user: %w", err)
	}
	s.logger.InfoContext(ctx, "Partner linked", log.FieldUserID, stored.ID, "partner_id", partnerID)
	return *stored, nil
}

// Forget drops the local view. The persisted record is untouched.
func (s *Store) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

func nameFromIdentifier(identifier string) string {
	local, _, _ := strings.Cut(identifier, "@")
	if local = strings.TrimSpace(local); local == "" {
		return DefaultName
	}
	return local
}
