package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
)

func TestAuthorizeRoleAndPermission(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "t1", TenantActive)
	doc := f.addPrincipal(t, "doc", RoleDoctor, "t1", "password1")
	nurse := f.addPrincipal(t, "nurse", RoleNurse, "t1", "password1")
	ctx := context.Background()

	s, err := f.guard.Authorize(ctx, f.accessToken(t, doc), Requirement{Permission: PermSignPrescriptions, TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, doc.ID, s.PrincipalID)

	_, err = f.guard.Authorize(ctx, f.accessToken(t, nurse), Requirement{Permission: PermSignPrescriptions, TenantID: "t1", Action: audit.ActionSign, ResourceType: "prescription", ResourceID: "rx-1"})
	require.ErrorIs(t, err, ErrPermissionDenied)
	entry := f.trail.last(t)
	assert.Equal(t, string(KindPermissionDenied), entry.ErrorKind)
	assert.Equal(t, audit.ActionSign, entry.Action)
	assert.Equal(t, "rx-1", entry.ResourceID)
	assert.Equal(t, nurse.ID, entry.ActorID)

	_, err = f.guard.Authorize(ctx, f.accessToken(t, nurse), Requirement{MinRole: RoleDoctor})
	require.ErrorIs(t, err, ErrRoleDenied)
	_, err = f.guard.Authorize(ctx, f.accessToken(t, doc), Requirement{Roles: []Role{RoleOrgAdmin, RoleSuperAdmin}})
	require.ErrorIs(t, err, ErrRoleDenied)
	_, err = f.guard.Authorize(ctx, f.accessToken(t, doc), Requirement{MinRole: RoleNurse})
	require.NoError(t, err)
}

// Every (role, permission) pair absent from the registry is denied.
func TestCheckDeniesPermissionsOutsideTable(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "t1", TenantActive)
	ctx := context.Background()

	for _, role := range Roles() {
		tenant := "t1"
		if role == RoleSuperAdmin {
			tenant = ""
		}
		p := f.addPrincipal(t, "user-"+string(role), role, tenant, "password1")
		s := f.session(t, p)
		for _, perm := range AllPermissions() {
			_, err := f.guard.Check(ctx, s, Requirement{Permission: perm})
			if RoleHasPermission(role, perm) {
				assert.NoError(t, err, "%s/%s", role, perm)
			} else {
				assert.ErrorIs(t, err, ErrPermissionDenied, "%s/%s", role, perm)
			}
		}
	}
}

// The token's permission snapshot is informational; the registry decides.
func TestCheckIgnoresForgedSnapshot(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "t1", TenantActive)
	p := f.addPrincipal(t, "recep", RoleReceptionist, "t1", "password1")
	s := f.session(t, p)
	s.Permissions = append(s.Permissions, PermSignPrescriptions)

	_, err := f.guard.Check(context.Background(), s, Requirement{Permission: PermSignPrescriptions})
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestAuthorizeTokenFailures(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "t1", TenantActive)
	doc := f.addPrincipal(t, "doc", RoleDoctor, "t1", "password1")
	ctx := context.Background()

	refresh, _, err := f.codec.Encode(*doc, TokenRefresh, f.clock.Now())
	require.NoError(t, err)
	_, err = f.guard.Authorize(ctx, refresh, Requirement{})
	require.ErrorIs(t, err, ErrTokenWrongKind)

	_, err = f.guard.Authorize(ctx, "not.a.token", Requirement{})
	require.ErrorIs(t, err, ErrTokenMalformed)

	access := f.accessToken(t, doc)
	f.clock.Advance(DefaultAccessTTL + time.Second)
	_, err = f.guard.Authorize(ctx, access, Requirement{})
	require.ErrorIs(t, err, ErrTokenExpired)

	entries := f.trail.all()
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.False(t, e.Success)
	}
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "t1", TenantActive)
	f.addTenant(t, "t2", TenantActive)
	doc := f.addPrincipal(t, "doc", RoleDoctor, "t1", "password1")
	root := f.addPrincipal(t, "root", RoleSuperAdmin, "", "password1")
	ctx := context.Background()

	_, err := f.guard.Authorize(ctx, f.accessToken(t, doc), Requirement{Permission: PermViewPatients, TenantID: "t2"})
	require.ErrorIs(t, err, ErrTenantDenied)

	// SUPER_ADMIN bypasses tenant checks even for suspended tenants.
	f.addTenant(t, "t3", TenantSuspended)
	_, err = f.guard.Authorize(ctx, f.accessToken(t, root), Requirement{TenantID: "t3"})
	require.NoError(t, err)
	_, err = f.guard.Authorize(ctx, f.accessToken(t, root), Requirement{TenantID: "missing"})
	require.NoError(t, err)
}

// Apollo Hospital is suspended for non-payment while its doctor holds a valid
// token; the next request is refused, and reactivation restores access.
func TestApolloSuspension(t *testing.T) {
	f := newFixture(t)
	apollo := f.addTenant(t, "apollo", TenantActive)
	doc := f.addPrincipal(t, "dr.reddy", RoleDoctor, "apollo", "password1")
	root := f.addPrincipal(t, "root", RoleSuperAdmin, "", "password1")
	ctx := context.Background()

	token := f.accessToken(t, doc)
	req := Requirement{Permission: PermViewScans, TenantID: apollo.ID, ResourceType: "scan", ResourceID: "scan-7"}
	_, err := f.guard.Authorize(ctx, token, req)
	require.NoError(t, err)

	suspended := TenantSuspended
	_, err = f.dir.SetTenantStatus(ctx, f.session(t, root), apollo.ID, TenantStatusUpdate{Status: &suspended})
	require.NoError(t, err)

	_, err = f.guard.Authorize(ctx, token, req)
	require.ErrorIs(t, err, ErrTenantSuspended)
	entry := f.trail.last(t)
	assert.Equal(t, string(KindTenantSuspended), entry.ErrorKind)
	assert.Equal(t, "apollo", entry.TenantID)

	active := TenantActive
	_, err = f.dir.SetTenantStatus(ctx, f.session(t, root), apollo.ID, TenantStatusUpdate{Status: &active})
	require.NoError(t, err)
	_, err = f.guard.Authorize(ctx, token, req)
	require.NoError(t, err)
}

func TestTenantStanding(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	cases := []struct {
		name   string
		tenant Tenant
		ok     bool
	}{
		{"active", Tenant{Active: true, Status: TenantActive}, true},
		{"trial running", Tenant{Active: true, Status: TenantTrial, TrialEndsAt: &future}, true},
		{"trial without end", Tenant{Active: true, Status: TenantTrial}, true},
		{"trial over", Tenant{Active: true, Status: TenantTrial, TrialEndsAt: &past}, false},
		{"suspended", Tenant{Active: true, Status: TenantSuspended}, false},
		{"expired", Tenant{Active: true, Status: TenantExpired}, false},
		{"cancelled", Tenant{Active: true, Status: TenantCancelled}, false},
		{"deactivated", Tenant{Active: false, Status: TenantActive}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Standing(tc.tenant, now)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrTenantSuspended)
		})
	}
}

func TestResolveWithoutTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Resolve(context.Background(), Session{Role: RoleDoctor}, "")
	require.ErrorIs(t, err, ErrTenantDenied)

	tid := "ghost"
	_, err = f.resolver.Resolve(context.Background(), Session{Role: RoleDoctor, TenantID: &tid}, "")
	require.ErrorIs(t, err, ErrTenantDenied)
}

func TestAuthorizePatient(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "t1", TenantActive)
	f.addTenant(t, "t2", TenantActive)
	ctx := context.Background()

	patient := f.addPrincipal(t, "jane", RolePatient, "t1", "password1")
	patient.PatientID = strPtr("patient-1")
	doc := f.addPrincipal(t, "doc", RoleDoctor, "t1", "password1")
	root := f.addPrincipal(t, "root", RoleSuperAdmin, "", "password1")

	own := PatientRef{ID: "patient-1", TenantID: "t1"}
	other := PatientRef{ID: "patient-2", TenantID: "t1"}
	foreign := PatientRef{ID: "patient-3", TenantID: "t2"}

	_, err := f.guard.AuthorizePatient(ctx, f.accessToken(t, patient), PermViewOwnScans, own)
	require.NoError(t, err)
	_, err = f.guard.AuthorizePatient(ctx, f.accessToken(t, patient), PermViewOwnScans, other)
	require.ErrorIs(t, err, ErrTenantDenied)
	_, err = f.guard.AuthorizePatient(ctx, f.accessToken(t, patient), PermViewPatients, own)
	require.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.guard.AuthorizePatient(ctx, f.accessToken(t, doc), PermViewPatients, other)
	require.NoError(t, err)
	_, err = f.guard.AuthorizePatient(ctx, f.accessToken(t, doc), PermViewPatients, foreign)
	require.ErrorIs(t, err, ErrTenantDenied)

	// SUPER_ADMIN holds no clinical permissions.
	_, err = f.guard.AuthorizePatient(ctx, f.accessToken(t, root), PermViewPatients, foreign)
	require.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.guard.AuthorizePatient(ctx, f.accessToken(t, root), "", foreign)
	require.NoError(t, err)

	entry := f.trail.last(t)
	assert.Equal(t, ResourcePatient, entry.ResourceType)
}

func TestRecordAdmission(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "t1", TenantActive)
	doc := f.addPrincipal(t, "doc", RoleDoctor, "t1", "password1")
	ctx := context.Background()
	s := f.session(t, doc)

	req := Requirement{Permission: PermViewPatients, TenantID: "t1", Action: audit.ActionExport, ResourceType: "report", ResourceID: "r-9"}
	_, err := f.guard.Check(ctx, s, req)
	require.NoError(t, err)
	require.Empty(t, f.trail.all())

	f.guard.RecordAdmission(ctx, s, req, "authorization granted")
	entry := f.trail.last(t)
	assert.True(t, entry.Success)
	assert.Equal(t, audit.ActionExport, entry.Action)
	assert.Equal(t, "report", entry.ResourceType)
	assert.Equal(t, "r-9", entry.ResourceID)
	assert.Equal(t, "t1", entry.TenantID)
	assert.Equal(t, "doc", entry.ActorName)

	f.guard.RecordPatientAdmission(ctx, s, PermViewPatients, PatientRef{ID: "pat-1", TenantID: "t1"})
	entry = f.trail.last(t)
	assert.True(t, entry.Success)
	assert.Equal(t, audit.ActionRead, entry.Action)
	assert.Equal(t, ResourcePatient, entry.ResourceType)
	assert.Equal(t, "pat-1", entry.ResourceID)
}
