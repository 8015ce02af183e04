package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
)

// SessionManager owns the login, refresh and logout lifecycle plus the
// self-service operations of an authenticated principal.
type SessionManager struct {
	authn      *Authenticator
	codec      *TokenCodec
	principals PrincipalStore
	hasher     *Hasher
	recorder   *audit.Recorder
	now        func() time.Time
}

// NewSessionManager builds a manager on top of authn.
func NewSessionManager(authn *Authenticator, recorder *audit.Recorder, opts ...Option) (*SessionManager, error) {
	if authn == nil {
		return nil, errors.New("auth: authenticator is required")
	}
	s := newSettings(opts)
	return &SessionManager{
		authn:      authn,
		codec:      authn.codec,
		principals: authn.principals,
		hasher:     authn.hasher,
		recorder:   recorder,
		now:        s.now,
	}, nil
}

// Login authenticates credentials and issues a token pair.
func (m *SessionManager) Login(ctx context.Context, login, password string) (TokenPair, Principal, error) {
	return m.authn.Authenticate(ctx, login, password)
}

// Refresh exchanges a refresh token for a new pair. The principal is reloaded
// so deactivation and role changes take effect. The presented refresh token
// stays valid until it expires.
func (m *SessionManager) Refresh(ctx context.Context, raw string) (TokenPair, Principal, error) {
	entry := audit.Entry{Action: audit.ActionRefresh, ResourceType: ResourceAuth}
	reject := func(e audit.Entry, err error) (TokenPair, Principal, error) {
		m.recorder.Record(ctx, failed(e, err))
		return TokenPair{}, Principal{}, err
	}

	s, err := m.codec.Decode(raw, TokenRefresh)
	if err != nil {
		return reject(entry, err)
	}
	entry = sessionEntry(s, audit.ActionRefresh, ResourceAuth, s.PrincipalID)

	p, err := m.principals.Find(ctx, s.PrincipalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return reject(entry, ErrInvalidCredentials)
		}
		return reject(entry, fmt.Errorf("load principal: %w", err))
	}
	switch {
	case p.Deleted:
		return reject(entry, ErrAccountDeleted)
	case !p.Active:
		return reject(entry, ErrAccountInactive)
	}

	pair, err := m.codec.IssuePair(*p)
	if err != nil {
		return reject(entry, err)
	}
	m.recorder.Record(ctx, succeeded(principalEntry(*p, audit.ActionRefresh), "token pair refreshed"))
	return pair, *p, nil
}

// Logout records the end of a session. Tokens are stateless and remain
// valid until expiry.
func (m *SessionManager) Logout(ctx context.Context, raw string) error {
	s, err := m.codec.Decode(raw, TokenAccess)
	if err != nil {
		m.recorder.Record(ctx, failed(audit.Entry{Action: audit.ActionLogout, ResourceType: ResourceAuth}, err))
		return err
	}
	m.recorder.Record(ctx, succeeded(sessionEntry(s, audit.ActionLogout, ResourceAuth, s.PrincipalID), "logged out"))
	return nil
}

// Me returns the current principal of s.
func (m *SessionManager) Me(ctx context.Context, s Session) (Principal, error) {
	p, err := m.principals.Find(ctx, s.PrincipalID)
	if err != nil {
		return Principal{}, err
	}
	if p.Deleted {
		return Principal{}, ErrAccountDeleted
	}
	return *p, nil
}

// ChangePassword replaces the password of the session principal after
// verifying the current one.
func (m *SessionManager) ChangePassword(ctx context.Context, s Session, current, next string) error {
	entry := sessionEntry(s, audit.ActionUpdate, ResourcePrincipal, s.PrincipalID)
	entry.Description = "change password"
	reject := func(err error) error {
		m.recorder.Record(ctx, failed(entry, err))
		return err
	}

	p, err := m.principals.Find(ctx, s.PrincipalID)
	if err != nil {
		return reject(err)
	}
	if !m.hasher.Verify(current, p.PasswordHash) {
		return reject(ErrInvalidCredentials)
	}
	if err := ValidateNewPassword(next); err != nil {
		return reject(err)
	}
	if next == current {
		return reject(fmt.Errorf("%w: new password must differ from the current one", ErrInvalidInput))
	}
	hash, err := m.hasher.Hash(next)
	if err != nil {
		return reject(err)
	}
	before := p.Snapshot()
	now := m.now().UTC()
	p.PasswordHash = hash
	p.PasswordChangedAt = timePtr(now)
	p.MustChangePassword = false
	p.UpdatedAt = now
	if err := m.principals.Update(ctx, p); err != nil {
		return reject(fmt.Errorf("update principal: %w", err))
	}
	entry.Before = before
	entry.After = p.Snapshot()
	m.recorder.Record(ctx, succeeded(entry, "password changed"))
	return nil
}
