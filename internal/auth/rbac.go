package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
	"github.com/abhayyyy25/breast-cancer-detection/internal/ids"
)

const defaultTrialPeriod = 14 * 24 * time.Hour

// NewTenant describes a tenant to provision.
type NewTenant struct {
	Name             string
	Type             TenantType
	Status           TenantStatus
	ContactEmail     string
	TrialEndsAt      *time.Time
	MonthlyScanQuota int
}

// TenantStatusUpdate changes the subscription state of a tenant.
type TenantStatusUpdate struct {
	Status      *TenantStatus
	Active      *bool
	TrialEndsAt *time.Time
}

// NewPrincipal describes a principal to create. An empty Username is derived
// from the name; an empty Password produces a temporary one.
type NewPrincipal struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Role      Role
	TenantID  string
	PatientID string
	Password  string
}

// PrincipalUpdate carries optional field changes.
type PrincipalUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
	Role      *Role
	PatientID *string
	Active    *bool
}

// Directory administers tenants and principals on behalf of an authenticated
// actor. Management rights are decided by CanManage before any mutation.
type Directory struct {
	store    Store
	hasher   *Hasher
	recorder *audit.Recorder
	now      func() time.Time
}

// NewDirectory wires the directory collaborators.
func NewDirectory(store Store, hasher *Hasher, recorder *audit.Recorder, opts ...Option) (*Directory, error) {
	if store == nil {
		return nil, errors.New("auth store is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	s := newSettings(opts)
	return &Directory{store: store, hasher: hasher, recorder: recorder, now: s.now}, nil
}

func (d *Directory) CreateTenant(ctx context.Context, actor Session, in NewTenant) (Tenant, error) {
	entry := sessionEntry(actor, audit.ActionCreate, ResourceTenant, "")
	if err := requireSuper(actor, PermManageTenants); err != nil {
		return Tenant{}, d.reject(ctx, entry, err)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Tenant{}, d.reject(ctx, entry, fmt.Errorf("%w: tenant name is required", ErrInvalidInput))
	}
	if in.Type == "" {
		in.Type = TenantHospital
	}
	if !in.Type.Valid() {
		return Tenant{}, d.reject(ctx, entry, fmt.Errorf("%w: unsupported tenant type %s", ErrInvalidInput, in.Type))
	}
	if in.Status == "" {
		in.Status = TenantTrial
	}
	if !in.Status.Valid() {
		return Tenant{}, d.reject(ctx, entry, fmt.Errorf("%w: unsupported tenant status %s", ErrInvalidInput, in.Status))
	}
	if in.MonthlyScanQuota < 0 {
		return Tenant{}, d.reject(ctx, entry, fmt.Errorf("%w: scan quota must not be negative", ErrInvalidInput))
	}
	now := d.now().UTC()
	t := Tenant{
		ID:               ids.NewAt(now),
		Name:             name,
		Type:             in.Type,
		Status:           in.Status,
		Active:           true,
		ContactEmail:     strings.TrimSpace(strings.ToLower(in.ContactEmail)),
		TrialEndsAt:      in.TrialEndsAt,
		MonthlyScanQuota: in.MonthlyScanQuota,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if t.Status == TenantTrial && t.TrialEndsAt == nil {
		t.TrialEndsAt = timePtr(now.Add(defaultTrialPeriod))
	}
	entry.ResourceID = t.ID
	if err := d.store.Tenants(ctx).Create(ctx, &t); err != nil {
		return Tenant{}, d.reject(ctx, entry, err)
	}
	entry.After = t.Snapshot()
	d.recorder.Record(ctx, succeeded(entry, "tenant created"))
	return t, nil
}

// GetTenant returns a tenant. Non-super actors may only read their own.
func (d *Directory) GetTenant(ctx context.Context, actor Session, id string) (Tenant, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Tenant{}, fmt.Errorf("%w: tenant_id is required", ErrInvalidInput)
	}
	if actor.Role != RoleSuperAdmin && actor.Tenant() != id {
		entry := sessionEntry(actor, audit.ActionRead, ResourceTenant, id)
		return Tenant{}, d.reject(ctx, entry, newError(KindTenantDenied, "tenant belongs to another organization"))
	}
	t, err := d.store.Tenants(ctx).Find(ctx, id)
	if err != nil {
		return Tenant{}, err
	}
	d.recorder.Record(ctx, succeeded(sessionEntry(actor, audit.ActionRead, ResourceTenant, id), "tenant read"))
	return *t, nil
}

func (d *Directory) ListTenants(ctx context.Context, actor Session) ([]Tenant, error) {
	if err := requireSuper(actor, PermViewAllTenants); err != nil {
		return nil, d.reject(ctx, sessionEntry(actor, audit.ActionRead, ResourceTenant, ""), err)
	}
	list, err := d.store.Tenants(ctx).List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Tenant, 0, len(list))
	for _, t := range list {
		out = append(out, *t)
	}
	d.recorder.Record(ctx, succeeded(sessionEntry(actor, audit.ActionRead, ResourceTenant, ""),
		fmt.Sprintf("listed %d tenants", len(out))))
	return out, nil
}

// SetTenantStatus changes subscription status, the active flag or the trial
// end of a tenant.
func (d *Directory) SetTenantStatus(ctx context.Context, actor Session, id string, upd TenantStatusUpdate) (Tenant, error) {
	entry := sessionEntry(actor, audit.ActionUpdate, ResourceTenant, id)
	if err := requireSuper(actor, PermManageTenants); err != nil {
		return Tenant{}, d.reject(ctx, entry, err)
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return Tenant{}, d.reject(ctx, entry, fmt.Errorf("%w: unsupported tenant status %s", ErrInvalidInput, *upd.Status))
	}
	tenants := d.store.Tenants(ctx)
	t, err := tenants.Find(ctx, id)
	if err != nil {
		return Tenant{}, d.reject(ctx, entry, err)
	}
	before := t.Snapshot()
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	if upd.Active != nil {
		t.Active = *upd.Active
	}
	if upd.TrialEndsAt != nil {
		t.TrialEndsAt = upd.TrialEndsAt
	}
	t.UpdatedAt = d.now().UTC()
	if err := tenants.Update(ctx, t); err != nil {
		return Tenant{}, d.reject(ctx, entry, err)
	}
	entry.Before = before
	entry.After = t.Snapshot()
	d.recorder.Record(ctx, succeeded(entry, "tenant status changed"))
	return *t, nil
}

// CreatePrincipal creates a principal and returns it together with the
// initial password. Generated passwords must be changed on first login.
func (d *Directory) CreatePrincipal(ctx context.Context, actor Session, in NewPrincipal) (Principal, string, error) {
	entry := sessionEntry(actor, audit.ActionCreate, ResourcePrincipal, "")

	role, ok := ParseRole(string(in.Role))
	if !ok {
		return Principal{}, "", d.reject(ctx, entry, fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, in.Role))
	}
	tenantID := strings.TrimSpace(in.TenantID)
	if tenantID == "" && actor.Role == RoleOrgAdmin && role != RoleSuperAdmin {
		tenantID = actor.Tenant()
	}
	now := d.now().UTC()
	p := Principal{
		ID:        ids.NewAt(now),
		Username:  strings.TrimSpace(strings.ToLower(in.Username)),
		Email:     strings.TrimSpace(strings.ToLower(in.Email)),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Role:      role,
		TenantID:  strPtr(tenantID),
		PatientID: strPtr(strings.TrimSpace(in.PatientID)),
		Active:    true,
		CreatedBy: strPtr(actor.PrincipalID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	entry.ResourceID = p.ID
	if err := d.authorizeManage(actor, p); err != nil {
		return Principal{}, "", d.reject(ctx, entry, err)
	}
	if err := validatePrincipal(p); err != nil {
		return Principal{}, "", d.reject(ctx, entry, err)
	}
	if p.TenantID != nil {
		if _, err := d.store.Tenants(ctx).Find(ctx, *p.TenantID); err != nil {
			if errors.Is(err, ErrNotFound) {
				err = fmt.Errorf("%w: tenant %s does not exist", ErrInvalidInput, *p.TenantID)
			}
			return Principal{}, "", d.reject(ctx, entry, err)
		}
	}

	principals := d.store.Principals(ctx)
	if p.Username == "" {
		name, err := GenerateUsername(ctx, p.FirstName, p.LastName, principals.UsernameExists)
		if err != nil {
			return Principal{}, "", d.reject(ctx, entry, err)
		}
		p.Username = name
	}

	password := in.Password
	if password == "" {
		generated, err := GenerateTemporaryPassword(0)
		if err != nil {
			return Principal{}, "", d.reject(ctx, entry, err)
		}
		password = generated
		p.MustChangePassword = true
	} else if err := ValidateNewPassword(password); err != nil {
		return Principal{}, "", d.reject(ctx, entry, err)
	}
	hash, err := d.hasher.Hash(password)
	if err != nil {
		return Principal{}, "", d.reject(ctx, entry, err)
	}
	p.PasswordHash = hash

	if err := principals.Create(ctx, &p); err != nil {
		return Principal{}, "", d.reject(ctx, entry, err)
	}
	entry.After = p.Snapshot()
	d.recorder.Record(ctx, succeeded(entry, "principal created"))
	return p, password, nil
}

// GetPrincipal returns a principal the actor manages, or the actor itself.
func (d *Directory) GetPrincipal(ctx context.Context, actor Session, id string) (Principal, error) {
	p, err := d.store.Principals(ctx).Find(ctx, strings.TrimSpace(id))
	if err != nil {
		return Principal{}, err
	}
	if p.ID != actor.PrincipalID {
		if err := d.authorizeManage(actor, *p); err != nil {
			return Principal{}, d.reject(ctx, sessionEntry(actor, audit.ActionRead, ResourcePrincipal, p.ID), err)
		}
	}
	d.recorder.Record(ctx, succeeded(sessionEntry(actor, audit.ActionRead, ResourcePrincipal, p.ID), "principal read"))
	return *p, nil
}

// ListPrincipals lists non-deleted principals of tenantID. SUPER_ADMIN may
// pass an empty tenantID to list everyone.
func (d *Directory) ListPrincipals(ctx context.Context, actor Session, tenantID string) ([]Principal, error) {
	tenantID = strings.TrimSpace(tenantID)
	entry := sessionEntry(actor, audit.ActionRead, ResourcePrincipal, "")
	switch actor.Role {
	case RoleSuperAdmin:
	case RoleOrgAdmin:
		if tenantID == "" {
			tenantID = actor.Tenant()
		}
		if tenantID != actor.Tenant() {
			return nil, d.reject(ctx, entry, newError(KindTenantDenied, "tenant belongs to another organization"))
		}
	default:
		return nil, d.reject(ctx, entry, newError(KindRoleDenied, fmt.Sprintf("role %s may not list principals", actor.Role)))
	}
	list, err := d.store.Principals(ctx).ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]Principal, 0, len(list))
	for _, p := range list {
		if !p.Deleted {
			out = append(out, *p)
		}
	}
	if tenantID != "" {
		entry.TenantID = tenantID
	}
	d.recorder.Record(ctx, succeeded(entry, fmt.Sprintf("listed %d principals", len(out))))
	return out, nil
}

func (d *Directory) UpdatePrincipal(ctx context.Context, actor Session, id string, upd PrincipalUpdate) (Principal, error) {
	return d.mutate(ctx, actor, id, "principal updated", func(p *Principal) error {
		if upd.Email != nil {
			email := strings.TrimSpace(strings.ToLower(*upd.Email))
			p.Email = email
		}
		if upd.FirstName != nil {
			p.FirstName = strings.TrimSpace(*upd.FirstName)
		}
		if upd.LastName != nil {
			p.LastName = strings.TrimSpace(*upd.LastName)
		}
		if upd.PatientID != nil {
			p.PatientID = strPtr(strings.TrimSpace(*upd.PatientID))
		}
		if upd.Active != nil {
			if !*upd.Active && p.ID == actor.PrincipalID {
				return fmt.Errorf("%w: cannot deactivate yourself", ErrInvalidInput)
			}
			p.Active = *upd.Active
		}
		if upd.Role != nil {
			role, ok := ParseRole(string(*upd.Role))
			if !ok {
				return fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, *upd.Role)
			}
			p.Role = role
			if err := d.authorizeManage(actor, *p); err != nil {
				return err
			}
		}
		return validatePrincipal(*p)
	})
}

// Deactivate blocks future logins of a principal.
func (d *Directory) Deactivate(ctx context.Context, actor Session, id string) (Principal, error) {
	return d.mutate(ctx, actor, id, "principal deactivated", func(p *Principal) error {
		if p.ID == actor.PrincipalID {
			return fmt.Errorf("%w: cannot deactivate yourself", ErrInvalidInput)
		}
		p.Active = false
		return nil
	})
}

// SoftDelete marks a principal deleted. The row is kept for the audit trail.
func (d *Directory) SoftDelete(ctx context.Context, actor Session, id string) (Principal, error) {
	p, err := d.mutateAction(ctx, actor, id, audit.ActionDelete, "principal deleted", func(p *Principal) error {
		if p.ID == actor.PrincipalID {
			return fmt.Errorf("%w: cannot delete yourself", ErrInvalidInput)
		}
		now := d.now().UTC()
		p.Deleted = true
		p.DeletedAt = timePtr(now)
		p.Active = false
		return nil
	})
	return p, err
}

// UnlockPrincipal clears the lockout counters of a principal.
func (d *Directory) UnlockPrincipal(ctx context.Context, actor Session, id string) (Principal, error) {
	entry := sessionEntry(actor, audit.ActionUpdate, ResourcePrincipal, id)
	principals := d.store.Principals(ctx)
	p, err := principals.Find(ctx, strings.TrimSpace(id))
	if err != nil {
		return Principal{}, d.reject(ctx, entry, err)
	}
	if err := d.authorizeManage(actor, *p); err != nil {
		return Principal{}, d.reject(ctx, entry, err)
	}
	before := p.Snapshot()
	now := d.now().UTC()
	if err := principals.Unlock(ctx, p.ID, now); err != nil {
		return Principal{}, d.reject(ctx, entry, err)
	}
	p.FailedAttempts = 0
	p.LockedUntil = nil
	p.UpdatedAt = now
	entry.Before = before
	entry.After = p.Snapshot()
	d.recorder.Record(ctx, succeeded(entry, "principal unlocked"))
	return *p, nil
}

func (d *Directory) mutate(ctx context.Context, actor Session, id, description string, apply func(*Principal) error) (Principal, error) {
	return d.mutateAction(ctx, actor, id, audit.ActionUpdate, description, apply)
}

// mutateAction loads the target, checks management rights, applies the
// change and persists it. Every outcome is audited.
func (d *Directory) mutateAction(ctx context.Context, actor Session, id string, action audit.Action, description string, apply func(*Principal) error) (Principal, error) {
	id = strings.TrimSpace(id)
	entry := sessionEntry(actor, action, ResourcePrincipal, id)
	if id == "" {
		return Principal{}, d.reject(ctx, entry, fmt.Errorf("%w: principal_id is required", ErrInvalidInput))
	}
	principals := d.store.Principals(ctx)
	p, err := principals.Find(ctx, id)
	if err != nil {
		return Principal{}, d.reject(ctx, entry, err)
	}
	if err := d.authorizeManage(actor, *p); err != nil {
		return Principal{}, d.reject(ctx, entry, err)
	}
	if p.Deleted {
		return Principal{}, d.reject(ctx, entry, fmt.Errorf("%w: principal is deleted", ErrNotFound))
	}
	before := p.Snapshot()
	if err := apply(p); err != nil {
		return Principal{}, d.reject(ctx, entry, err)
	}
	p.UpdatedAt = d.now().UTC()
	if err := principals.Update(ctx, p); err != nil {
		return Principal{}, d.reject(ctx, entry, err)
	}
	entry.Before = before
	entry.After = p.Snapshot()
	d.recorder.Record(ctx, succeeded(entry, description))
	return *p, nil
}

// authorizeManage delegates to CanManage and names the failure precisely.
func (d *Directory) authorizeManage(actor Session, target Principal) error {
	manager := Principal{ID: actor.PrincipalID, Role: actor.Role, TenantID: actor.TenantID}
	if CanManage(manager, target) {
		return nil
	}
	if actor.Role == RoleOrgAdmin && target.Role != RoleSuperAdmin {
		return newError(KindTenantDenied, "principal belongs to another tenant")
	}
	return newError(KindRoleDenied, fmt.Sprintf("role %s may not manage %s", actor.Role, target.Role))
}

func (d *Directory) reject(ctx context.Context, e audit.Entry, err error) error {
	d.recorder.Record(ctx, failed(e, err))
	return err
}

func requireSuper(actor Session, perm Permission) error {
	if actor.Role != RoleSuperAdmin {
		return newError(KindRoleDenied, fmt.Sprintf("role %s may not administer tenants", actor.Role))
	}
	return checkPermission(actor, perm)
}

// validatePrincipal enforces field formats and the tenant binding rule:
// SUPER_ADMIN has no tenant, every other role has one.
func validatePrincipal(p Principal) error {
	if !p.Role.Valid() {
		return fmt.Errorf("%w: unsupported role %q", ErrInvalidInput, p.Role)
	}
	if p.Email == "" || !strings.Contains(p.Email, "@") {
		return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if p.Role == RoleSuperAdmin && p.TenantID != nil {
		return fmt.Errorf("%w: super_admin must not belong to a tenant", ErrInvalidInput)
	}
	if p.Role != RoleSuperAdmin && p.TenantID == nil {
		return fmt.Errorf("%w: role %s requires a tenant", ErrInvalidInput, p.Role)
	}
	if p.PatientID != nil && p.Role != RolePatient {
		return fmt.Errorf("%w: only patient principals link a patient profile", ErrInvalidInput)
	}
	return nil
}
