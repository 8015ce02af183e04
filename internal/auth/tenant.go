package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TenantResolver enforces tenant isolation and subscription standing. Tenant
// rows are loaded on every call so suspensions apply immediately.
type TenantResolver struct {
	tenants TenantStore
	now     func() time.Time
}

// NewTenantResolver returns a resolver backed by tenants.
func NewTenantResolver(tenants TenantStore, opts ...Option) *TenantResolver {
	s := newSettings(opts)
	return &TenantResolver{tenants: tenants, now: s.now}
}

// Resolve admits s to resourceTenantID. SUPER_ADMIN sessions bypass tenant
// checks and resolve to nil. An empty resourceTenantID checks only the
// standing of the session's own tenant.
func (r *TenantResolver) Resolve(ctx context.Context, s Session, resourceTenantID string) (*Tenant, error) {
	if s.Role == RoleSuperAdmin {
		return nil, nil
	}
	if s.TenantID == nil || *s.TenantID == "" {
		return nil, newError(KindTenantDenied, "session is not bound to a tenant")
	}
	if resourceTenantID != "" && resourceTenantID != *s.TenantID {
		return nil, newError(KindTenantDenied, "resource belongs to another tenant")
	}
	t, err := r.tenants.Find(ctx, *s.TenantID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindTenantDenied, "tenant does not exist")
		}
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	if err := Standing(*t, r.now()); err != nil {
		return nil, err
	}
	return t, nil
}

// Standing reports TENANT_SUSPENDED when t may not be used at now.
func Standing(t Tenant, now time.Time) error {
	if !t.Active {
		return newError(KindTenantSuspended, "tenant is deactivated")
	}
	switch t.Status {
	case TenantSuspended, TenantCancelled, TenantExpired:
		return newError(KindTenantSuspended, fmt.Sprintf("tenant subscription is %s", t.Status))
	case TenantTrial:
		if t.TrialEndsAt != nil && !now.Before(*t.TrialEndsAt) {
			return newError(KindTenantSuspended, "tenant trial has ended")
		}
	}
	return nil
}
