package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
	"github.com/abhayyyy25/breast-cancer-detection/internal/obs"
)

// Failure reasons written to the audit description of rejected logins.
const (
	ReasonBadCredentials = "BAD_CREDENTIALS"
	ReasonUnknownLogin   = "UNKNOWN_LOGIN"
)

// Authenticator verifies credentials, maintains lockout state and issues
// token pairs. Every call to Authenticate writes exactly one audit entry.
type Authenticator struct {
	principals PrincipalStore
	hasher     *Hasher
	codec      *TokenCodec
	recorder   *audit.Recorder
	now        func() time.Time
	policy     LockoutPolicy
}

// NewAuthenticator wires the authenticator collaborators.
func NewAuthenticator(principals PrincipalStore, hasher *Hasher, codec *TokenCodec, recorder *audit.Recorder, opts ...Option) (*Authenticator, error) {
	if principals == nil || hasher == nil || codec == nil {
		return nil, errors.New("auth: principal store, hasher and codec are required")
	}
	s := newSettings(opts)
	return &Authenticator{
		principals: principals,
		hasher:     hasher,
		codec:      codec,
		recorder:   recorder,
		now:        s.now,
		policy:     s.policy,
	}, nil
}

// Policy returns the active lockout policy.
func (a *Authenticator) Policy() LockoutPolicy { return a.policy }

// Authenticate checks login (username or email) and password and returns a
// fresh token pair on success.
func (a *Authenticator) Authenticate(ctx context.Context, login, password string) (TokenPair, Principal, error) {
	login = strings.TrimSpace(strings.ToLower(login))
	entry := audit.Entry{Action: audit.ActionLogin, ResourceType: ResourceAuth, ActorName: login}

	reject := func(e audit.Entry, err error) (TokenPair, Principal, error) {
		a.recorder.Record(ctx, failed(e, err))
		outcome := string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
		obs.ObserveLogin(outcome)
		return TokenPair{}, Principal{}, err
	}

	if login == "" || password == "" {
		a.hasher.VerifyDummy(password)
		entry.Description = ReasonUnknownLogin
		return reject(entry, ErrInvalidCredentials)
	}

	p, err := a.principals.FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			a.hasher.VerifyDummy(password)
			entry.Description = ReasonUnknownLogin
			return reject(entry, ErrInvalidCredentials)
		}
		return reject(entry, fmt.Errorf("find principal: %w", err))
	}

	entry = principalEntry(*p, audit.ActionLogin)
	now := a.now().UTC()
	switch {
	case p.Deleted:
		return reject(entry, ErrAccountDeleted)
	case !p.Active:
		return reject(entry, ErrAccountInactive)
	case p.Locked(now):
		entry.Description = lockedDescription(p.Lockout())
		return reject(entry, ErrAccountLocked)
	}

	if !a.hasher.Verify(password, p.PasswordHash) {
		state, err := a.principals.RegisterFailure(ctx, p.ID, now, a.policy)
		if err != nil {
			if KindOf(err) == KindAccountLocked {
				entry.Description = lockedDescription(state)
				return reject(entry, err)
			}
			return reject(entry, fmt.Errorf("register failed login: %w", err))
		}
		entry.Description = ReasonBadCredentials
		if state.Locked(now) {
			obs.ObserveLockout()
			entry.Description = fmt.Sprintf("%s; locked after %d attempts", ReasonBadCredentials, state.FailedAttempts)
		}
		return reject(entry, ErrInvalidCredentials)
	}

	if err := a.principals.RegisterSuccess(ctx, p.ID, now); err != nil {
		if KindOf(err) != KindAccountLocked {
			err = fmt.Errorf("register login: %w", err)
		}
		return reject(entry, err)
	}
	p.FailedAttempts = 0
	p.LockedUntil = nil
	p.LastLoginAt = timePtr(now)

	pair, err := a.codec.IssuePair(*p)
	if err != nil {
		return reject(entry, err)
	}
	a.recorder.Record(ctx, succeeded(entry, "login succeeded"))
	obs.ObserveLogin("success")
	return pair, *p, nil
}

func lockedDescription(state LockoutState) string {
	if state.LockedUntil == nil {
		return "locked"
	}
	return fmt.Sprintf("locked until %s", state.LockedUntil.UTC().Format(time.RFC3339))
}
