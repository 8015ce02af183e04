package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
)

func TestOrgAdminCannotManageOtherTenant(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "t1", TenantActive)
	f.addTenant(t, "t2", TenantActive)
	admin := f.addPrincipal(t, "admin1", RoleOrgAdmin, "t1", "password1")
	victim := f.addPrincipal(t, "doc2", RoleDoctor, "t2", "password1")
	ctx := context.Background()
	actor := f.session(t, admin)

	before, err := f.store.Principals(ctx).Find(ctx, victim.ID)
	require.NoError(t, err)

	_, err = f.dir.Deactivate(ctx, actor, victim.ID)
	require.ErrorIs(t, err, ErrTenantDenied)
	_, err = f.dir.SoftDelete(ctx, actor, victim.ID)
	require.ErrorIs(t, err, ErrTenantDenied)
	role := RoleNurse
	_, err = f.dir.UpdatePrincipal(ctx, actor, victim.ID, PrincipalUpdate{Role: &role})
	require.ErrorIs(t, err, ErrTenantDenied)
	_, err = f.dir.UnlockPrincipal(ctx, actor, victim.ID)
	require.ErrorIs(t, err, ErrTenantDenied)

	after, err := f.store.Principals(ctx).Find(ctx, victim.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entry := f.trail.last(t)
	assert.False(t, entry.Success)
	assert.Equal(t, string(KindTenantDenied), entry.ErrorKind)
	assert.Equal(t, victim.ID, entry.ResourceID)
}

func TestOrgAdminManagesOwnTenant(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "t1", TenantActive)
	admin := f.addPrincipal(t, "admin1", RoleOrgAdmin, "t1", "password1")
	doc := f.addPrincipal(t, "doc1", RoleDoctor, "t1", "password1")
	root := f.addPrincipal(t, "root", RoleSuperAdmin, "", "password1")
	ctx := context.Background()
	actor := f.session(t, admin)

	updated, err := f.dir.Deactivate(ctx, actor, doc.ID)
	require.NoError(t, err)
	assert.False(t, updated.Active)
	entry := f.trail.last(t)
	assert.True(t, entry.Success)
	assert.Equal(t, true, entry.Before["active"])
	assert.Equal(t, false, entry.After["active"])

	_, err = f.dir.Deactivate(ctx, actor, root.ID)
	require.ErrorIs(t, err, ErrRoleDenied)

	super := RoleSuperAdmin
	_, err = f.dir.UpdatePrincipal(ctx, actor, doc.ID, PrincipalUpdate{Role: &super})
	require.ErrorIs(t, err, ErrRoleDenied)

	_, err = f.dir.Deactivate(ctx, actor, admin.ID)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestNonAdminCannotManage(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "t1", TenantActive)
	doc := f.addPrincipal(t, "doc1", RoleDoctor, "t1", "password1")
	nurse := f.addPrincipal(t, "nurse1", RoleNurse, "t1", "password1")

	_, err := f.dir.Deactivate(context.Background(), f.session(t, doc), nurse.ID)
	require.ErrorIs(t, err, ErrRoleDenied)
	_, err = f.dir.ListPrincipals(context.Background(), f.session(t, doc), "t1")
	require.ErrorIs(t, err, ErrRoleDenied)
}

func TestCreatePrincipal(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "t1", TenantActive)
	f.addTenant(t, "t2", TenantActive)
	admin := f.addPrincipal(t, "admin1", RoleOrgAdmin, "t1", "password1")
	f.addPrincipal(t, "priya.sharma", RoleNurse, "t1", "password1")
	ctx := context.Background()
	actor := f.session(t, admin)

	p, temp, err := f.dir.CreatePrincipal(ctx, actor, NewPrincipal{
		Email: "Priya.Sharma2@Example.org", FirstName: "Priya", LastName: "Sharma", Role: "doctor",
	})
	require.NoError(t, err)
	assert.Equal(t, "priya.sharma1", p.Username)
	assert.Equal(t, "priya.sharma2@example.org", p.Email)
	assert.Equal(t, "t1", deref(p.TenantID))
	assert.True(t, p.MustChangePassword)
	require.NotNil(t, p.CreatedBy)
	assert.Equal(t, admin.ID, *p.CreatedBy)
	assert.Len(t, temp, 12)
	assert.True(t, f.hasher.Verify(temp, p.PasswordHash))

	entry := f.trail.last(t)
	assert.Equal(t, audit.ActionCreate, entry.Action)
	assert.NotContains(t, entry.After, "password_hash")

	_, _, err = f.dir.CreatePrincipal(ctx, actor, NewPrincipal{Email: "x@example.org", FirstName: "X", Role: RoleDoctor, TenantID: "t2"})
	require.ErrorIs(t, err, ErrTenantDenied)
	_, _, err = f.dir.CreatePrincipal(ctx, actor, NewPrincipal{Email: "y@example.org", FirstName: "Y", Role: RoleSuperAdmin})
	require.ErrorIs(t, err, ErrRoleDenied)
	_, _, err = f.dir.CreatePrincipal(ctx, actor, NewPrincipal{Email: "z@example.org", FirstName: "Z", Role: "janitor"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreatePrincipalTenantBinding(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "t1", TenantActive)
	root := f.addPrincipal(t, "root", RoleSuperAdmin, "", "password1")
	ctx := context.Background()
	actor := f.session(t, root)

	_, _, err := f.dir.CreatePrincipal(ctx, actor, NewPrincipal{Email: "a@example.org", FirstName: "A", Role: RoleSuperAdmin, TenantID: "t1"})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, _, err = f.dir.CreatePrincipal(ctx, actor, NewPrincipal{Email: "b@example.org", FirstName: "B", Role: RoleDoctor})
	require.ErrorIs(t, err, ErrInvalidInput)
	_, _, err = f.dir.CreatePrincipal(ctx, actor, NewPrincipal{Email: "c@example.org", FirstName: "C", Role: RoleDoctor, TenantID: "nope"})
	require.ErrorIs(t, err, ErrInvalidInput)

	p, pw, err := f.dir.CreatePrincipal(ctx, actor, NewPrincipal{
		Username: "Lab.Admin", Email: "d@example.org", Role: "hospital_admin", TenantID: "t1", Password: "chosen-password",
	})
	require.NoError(t, err)
	assert.Equal(t, "lab.admin", p.Username)
	assert.Equal(t, RoleOrgAdmin, p.Role)
	assert.Equal(t, "chosen-password", pw)
	assert.False(t, p.MustChangePassword)
}

func TestSoftDeleteAndUnlock(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "t1", TenantActive)
	root := f.addPrincipal(t, "root", RoleSuperAdmin, "", "password1")
	doc := f.addPrincipal(t, "doc1", RoleDoctor, "t1", "password1")
	ctx := context.Background()
	actor := f.session(t, root)

	for i := 0; i < 5; i++ {
		_, _, _ = f.authn.Authenticate(ctx, "doc1", "bad-password")
	}
	_, _, err := f.authn.Authenticate(ctx, "doc1", "password1")
	require.ErrorIs(t, err, ErrAccountLocked)

	unlocked, err := f.dir.UnlockPrincipal(ctx, actor, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, unlocked.FailedAttempts)
	_, _, err = f.authn.Authenticate(ctx, "doc1", "password1")
	require.NoError(t, err)

	deleted, err := f.dir.SoftDelete(ctx, actor, doc.ID)
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
	require.NotNil(t, deleted.DeletedAt)
	assert.Equal(t, audit.ActionDelete, f.trail.last(t).Action)

	_, _, err = f.authn.Authenticate(ctx, "doc1", "password1")
	require.ErrorIs(t, err, ErrAccountDeleted)

	list, err := f.dir.ListPrincipals(ctx, actor, "t1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTenantAdministration(t *testing.T) {
	f := newFixture(t)
	root := f.addPrincipal(t, "root", RoleSuperAdmin, "", "password1")
	ctx := context.Background()
	actor := f.session(t, root)

	created, err := f.dir.CreateTenant(ctx, actor, NewTenant{Name: " Apollo Hospital ", MonthlyScanQuota: 500})
	require.NoError(t, err)
	assert.Equal(t, "Apollo Hospital", created.Name)
	assert.Equal(t, TenantTrial, created.Status)
	require.NotNil(t, created.TrialEndsAt)

	admin := f.addPrincipal(t, "admin1", RoleOrgAdmin, created.ID, "password1")
	got, err := f.dir.GetTenant(ctx, f.session(t, admin), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = f.dir.CreateTenant(ctx, f.session(t, admin), NewTenant{Name: "Rogue"})
	require.ErrorIs(t, err, ErrRoleDenied)
	_, err = f.dir.ListTenants(ctx, f.session(t, admin))
	require.ErrorIs(t, err, ErrRoleDenied)

	list, err := f.dir.ListTenants(ctx, actor)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.dir.CreateTenant(ctx, actor, NewTenant{Name: "Bad", Type: "spaceport"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestDirectoryReadsAreAudited(t *testing.T) {
	f := newFixture(t)
	f.addTenant(t, "t1", TenantActive)
	root := f.addPrincipal(t, "root", RoleSuperAdmin, "", "password1")
	admin := f.addPrincipal(t, "admin1", RoleOrgAdmin, "t1", "password1")
	doc := f.addPrincipal(t, "doc1", RoleDoctor, "t1", "password1")
	ctx := context.Background()
	super := f.session(t, root)
	orgAdmin := f.session(t, admin)

	reads := []struct {
		name         string
		read         func() error
		resourceType string
		resourceID   string
		tenantID     string
	}{
		{"get tenant", func() error { _, err := f.dir.GetTenant(ctx, orgAdmin, "t1"); return err }, ResourceTenant, "t1", "t1"},
		{"list tenants", func() error { _, err := f.dir.ListTenants(ctx, super); return err }, ResourceTenant, "", ""},
		{"get principal", func() error { _, err := f.dir.GetPrincipal(ctx, orgAdmin, doc.ID); return err }, ResourcePrincipal, doc.ID, "t1"},
		{"list principals", func() error { _, err := f.dir.ListPrincipals(ctx, super, "t1"); return err }, ResourcePrincipal, "", "t1"},
	}
	for _, tc := range reads {
		t.Run(tc.name, func(t *testing.T) {
			before := len(f.trail.all())
			require.NoError(t, tc.read())
			require.Len(t, f.trail.all(), before+1)
			entry := f.trail.last(t)
			assert.True(t, entry.Success)
			assert.Equal(t, audit.ActionRead, entry.Action)
			assert.Equal(t, tc.resourceType, entry.ResourceType)
			assert.Equal(t, tc.resourceID, entry.ResourceID)
			assert.Equal(t, tc.tenantID, entry.TenantID)
		})
	}
}
