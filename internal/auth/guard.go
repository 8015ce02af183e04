package auth

import (
	"context"
	"fmt"
	"slices"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
	"github.com/abhayyyy25/breast-cancer-detection/internal/obs"
)

// Requirement describes what a protected operation demands of its caller.
type Requirement struct {
	// Roles, when set, lists the only roles admitted.
	Roles []Role
	// MinRole, when set, admits roles ranked at or above it.
	MinRole    Role
	Permission Permission
	// TenantID is the tenant owning the resource; empty checks only the
	// standing of the caller's tenant.
	TenantID string

	Action       audit.Action
	ResourceType string
	ResourceID   string
}

// Guard authorizes requests carrying an access token. Denials are recorded
// before the error is returned; callers record the successful operation.
type Guard struct {
	codec    *TokenCodec
	resolver *TenantResolver
	recorder *audit.Recorder
}

// NewGuard wires the guard collaborators.
func NewGuard(codec *TokenCodec, resolver *TenantResolver, recorder *audit.Recorder) *Guard {
	return &Guard{codec: codec, resolver: resolver, recorder: recorder}
}

// Authenticate decodes an access token without running requirement checks.
// Decode failures are recorded.
func (g *Guard) Authenticate(ctx context.Context, raw string) (Session, error) {
	s, err := g.codec.Decode(raw, TokenAccess)
	if err != nil {
		g.deny(ctx, audit.Entry{Action: audit.ActionRead, ResourceType: ResourceAuth, Description: "token rejected"}, err)
		return Session{}, err
	}
	return s, nil
}

// Authorize decodes raw as an access token and checks req against it.
func (g *Guard) Authorize(ctx context.Context, raw string, req Requirement) (Session, error) {
	s, err := g.codec.Decode(raw, TokenAccess)
	if err != nil {
		g.deny(ctx, requirementEntry(Session{}, req), err)
		return Session{}, err
	}
	if _, err := g.Check(ctx, s, req); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Check runs role, permission and tenant checks for an already decoded
// session, in that order, and returns the resolved tenant (nil for
// SUPER_ADMIN).
func (g *Guard) Check(ctx context.Context, s Session, req Requirement) (*Tenant, error) {
	if err := checkRole(s, req); err != nil {
		g.deny(ctx, requirementEntry(s, req), err)
		return nil, err
	}
	if err := checkPermission(s, req.Permission); err != nil {
		g.deny(ctx, requirementEntry(s, req), err)
		return nil, err
	}
	t, err := g.resolver.Resolve(ctx, s, req.TenantID)
	if err != nil {
		g.deny(ctx, requirementEntry(s, req), err)
		return nil, err
	}
	obs.ObserveDecision("allow")
	return t, nil
}

// AuthorizePatient admits the bearer of raw to the patient record ref with
// permission perm.
func (g *Guard) AuthorizePatient(ctx context.Context, raw string, perm Permission, ref PatientRef) (Session, error) {
	req := patientRequirement(perm, ref)
	s, err := g.codec.Decode(raw, TokenAccess)
	if err != nil {
		g.deny(ctx, requirementEntry(Session{}, req), err)
		return Session{}, err
	}
	if err := g.CheckPatient(ctx, s, perm, ref); err != nil {
		return Session{}, err
	}
	return s, nil
}

// CheckPatient evaluates the patient access rule for a decoded session:
// permission first, then SUPER_ADMIN bypass, then PATIENT ownership, then
// tenant resolution against the patient's tenant.
func (g *Guard) CheckPatient(ctx context.Context, s Session, perm Permission, ref PatientRef) error {
	req := patientRequirement(perm, ref)
	err := CheckPatientAccess(s, perm, ref)
	if err == nil && s.Role != RoleSuperAdmin && s.Role != RolePatient {
		_, err = g.resolver.Resolve(ctx, s, ref.TenantID)
	}
	if err != nil {
		g.deny(ctx, requirementEntry(s, req), err)
		return err
	}
	obs.ObserveDecision("allow")
	return nil
}

// CheckPatientAccess applies the storage-free part of the patient rule. For
// roles other than SUPER_ADMIN and PATIENT the tenant resolver must still run.
func CheckPatientAccess(s Session, perm Permission, ref PatientRef) error {
	if err := checkPermission(s, perm); err != nil {
		return err
	}
	switch s.Role {
	case RoleSuperAdmin:
		return nil
	case RolePatient:
		if s.PatientID == nil || *s.PatientID == "" || *s.PatientID != ref.ID {
			return newError(KindTenantDenied, "patients may only access their own records")
		}
		return nil
	}
	return nil
}

func patientRequirement(perm Permission, ref PatientRef) Requirement {
	return Requirement{
		Permission:   perm,
		TenantID:     ref.TenantID,
		Action:       audit.ActionRead,
		ResourceType: ResourcePatient,
		ResourceID:   ref.ID,
	}
}

func checkRole(s Session, req Requirement) error {
	if !s.Role.Valid() {
		return newError(KindRoleDenied, fmt.Sprintf("unknown role %q", s.Role))
	}
	if len(req.Roles) > 0 && !slices.Contains(req.Roles, s.Role) {
		return newError(KindRoleDenied, fmt.Sprintf("role %s is not allowed", s.Role))
	}
	if req.MinRole != "" && !RoleAtLeast(s.Role, req.MinRole) {
		return newError(KindRoleDenied, fmt.Sprintf("role %s is below %s", s.Role, req.MinRole))
	}
	return nil
}

// checkPermission consults the registry, never the token snapshot.
func checkPermission(s Session, perm Permission) error {
	if perm == "" || RoleHasPermission(s.Role, perm) {
		return nil
	}
	return newError(KindPermissionDenied, fmt.Sprintf("role %s lacks %s", s.Role, perm))
}

func requirementEntry(s Session, req Requirement) audit.Entry {
	action := req.Action
	if action == "" {
		action = audit.ActionRead
	}
	resourceType := req.ResourceType
	if resourceType == "" {
		resourceType = ResourceAuth
	}
	e := sessionEntry(s, action, resourceType, req.ResourceID)
	if e.TenantID == "" {
		e.TenantID = req.TenantID
	}
	return e
}

// RecordAdmission writes the success entry for a Check that admitted s.
// Check itself records only denials.
func (g *Guard) RecordAdmission(ctx context.Context, s Session, req Requirement, description string) {
	g.recorder.Record(ctx, succeeded(requirementEntry(s, req), description))
}

// RecordPatientAdmission is RecordAdmission for CheckPatient.
func (g *Guard) RecordPatientAdmission(ctx context.Context, s Session, perm Permission, ref PatientRef) {
	g.RecordAdmission(ctx, s, patientRequirement(perm, ref), "patient access granted")
}

func (g *Guard) deny(ctx context.Context, e audit.Entry, err error) {
	g.recorder.Record(ctx, failed(e, err))
	outcome := string(KindOf(err))
	if outcome == "" {
		outcome = "error"
	}
	obs.ObserveDecision(outcome)
}
