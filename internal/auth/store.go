package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Principals(ctx context.Context) PrincipalStore
	Tenants(ctx context.Context) TenantStore
}

// PrincipalStore manages principals and their lockout counters.
type PrincipalStore interface {
	Create(ctx context.Context, p *Principal) error
	Find(ctx context.Context, id string) (*Principal, error)
	// FindByLogin matches the lower-cased login against username or email.
	FindByLogin(ctx context.Context, login string) (*Principal, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	// ListByTenant returns principals of a tenant; an empty tenantID lists all.
	ListByTenant(ctx context.Context, tenantID string) ([]*Principal, error)
	// Update persists profile, role, lifecycle and password fields.
	Update(ctx context.Context, p *Principal) error

	// RegisterFailure atomically applies one failed attempt under policy and
	// returns the resulting state. A row already locked at now is left
	// untouched and reported with ErrAccountLocked.
	RegisterFailure(ctx context.Context, id string, now time.Time, policy LockoutPolicy) (LockoutState, error)
	// RegisterSuccess atomically clears the counters and stamps the last
	// login. It returns ErrAccountLocked when the row is locked at now.
	RegisterSuccess(ctx context.Context, id string, now time.Time) error
	// Unlock clears lockout counters unconditionally.
	Unlock(ctx context.Context, id string, now time.Time) error
}

// TenantStore manages tenants.
type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	Find(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)
	Update(ctx context.Context, t *Tenant) error
}
