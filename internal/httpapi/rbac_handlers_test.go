package httpapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
	"github.com/abhayyyy25/breast-cancer-detection/internal/auth"
)

func TestSuperAdminManagesTenants(t *testing.T) {
	env := newTestEnv(t)
	env.addPrincipal("root", auth.RoleSuperAdmin, "")
	access, _ := env.login("root")

	resp, body := env.do(http.MethodPost, "/v1/tenants", access, map[string]any{
		"name": "Mercy Hospital", "type": "hospital", "contact_email": "Admin@Mercy.example",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id := body["id"].(string)
	assert.Equal(t, "/v1/tenants/"+id, resp.Header.Get("Location"))
	assert.Equal(t, "trial", body["status"])
	assert.NotEmpty(t, body["trial_ends_at"])
	assert.Equal(t, "admin@mercy.example", body["contact_email"])

	resp, body = env.do(http.MethodPut, "/v1/tenants/"+id+"/status", access, map[string]any{"status": "suspended"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "suspended", body["status"])

	resp, body = env.do(http.MethodGet, "/v1/tenants", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 1, body["total"])

	resp, body = env.do(http.MethodPost, "/v1/tenants", access, map[string]any{"name": " "})
	requireKind(t, resp, body, http.StatusBadRequest, kindInvalidInput)

	resp, body = env.do(http.MethodGet, "/v1/tenants/missing", access, nil)
	requireKind(t, resp, body, http.StatusNotFound, kindNotFound)

	page, err := env.store.List(context.Background(), audit.Filter{ResourceType: auth.ResourceTenant, ResourceID: id})
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	assert.Equal(t, audit.ActionUpdate, page.Entries[0].Action)
	assert.Equal(t, "trial", page.Entries[0].Before["status"])
	assert.Equal(t, "suspended", page.Entries[0].After["status"])
}

func TestOrgAdminCannotAdministerTenants(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant("t1", auth.TenantActive)
	env.addPrincipal("boss", auth.RoleOrgAdmin, "t1")
	access, _ := env.login("boss")

	resp, body := env.do(http.MethodPost, "/v1/tenants", access, map[string]any{"name": "Rogue"})
	requireKind(t, resp, body, http.StatusForbidden, "ROLE_DENIED")

	resp, body = env.do(http.MethodGet, "/v1/tenants", access, nil)
	requireKind(t, resp, body, http.StatusForbidden, "ROLE_DENIED")

	resp, body = env.do(http.MethodGet, "/v1/tenants/t1", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "t1", body["id"])
}

func TestOrgAdminCreatesPrincipalInOwnTenant(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant("t1", auth.TenantActive)
	env.addTenant("t2", auth.TenantActive)
	env.addPrincipal("boss", auth.RoleOrgAdmin, "t1")
	access, _ := env.login("boss")

	resp, body := env.do(http.MethodPost, "/v1/tenants/t1/principals", access, map[string]any{
		"email": "new.doc@example.org", "first_name": "Ada", "last_name": "Byron", "role": "doctor",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	principal := body["principal"].(map[string]any)
	assert.Equal(t, "t1", principal["tenant_id"])
	assert.Equal(t, "doctor", principal["role"])
	assert.Equal(t, true, principal["must_change_password"])
	assert.NotEmpty(t, principal["username"])
	temporary, _ := body["temporary_password"].(string)
	require.NotEmpty(t, temporary)
	assert.Equal(t, "/v1/principals/"+principal["id"].(string), resp.Header.Get("Location"))

	resp, body = env.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"login": "new.doc@example.org", "password": temporary})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, body = env.do(http.MethodPost, "/v1/tenants/t2/principals", access, map[string]any{
		"email": "spy@example.org", "role": "doctor", "password": "Sup3r-secret",
	})
	requireKind(t, resp, body, http.StatusForbidden, "TENANT_DENIED")

	resp, body = env.do(http.MethodPost, "/v1/tenants/t1/principals", access, map[string]any{
		"email": "root2@example.org", "role": "super_admin", "password": "Sup3r-secret",
	})
	requireKind(t, resp, body, http.StatusForbidden, "ROLE_DENIED")

	resp, body = env.do(http.MethodPost, "/v1/tenants/t1/principals", access, map[string]any{
		"email": "new.doc@example.org", "username": "other", "role": "nurse", "password": "Sup3r-secret",
	})
	requireKind(t, resp, body, http.StatusConflict, kindConflict)

	resp, body = env.do(http.MethodGet, "/v1/tenants/t1/principals", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 2, body["total"])

	resp, body = env.do(http.MethodGet, "/v1/tenants/t2/principals", access, nil)
	requireKind(t, resp, body, http.StatusForbidden, "TENANT_DENIED")
}

func TestSuppliedPasswordIsNotEchoed(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant("t1", auth.TenantActive)
	env.addPrincipal("boss", auth.RoleOrgAdmin, "t1")
	access, _ := env.login("boss")

	resp, body := env.do(http.MethodPost, "/v1/tenants/t1/principals", access, map[string]any{
		"username": "nurse.joy", "email": "joy@example.org", "role": "nurse", "password": "Sup3r-secret",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.NotContains(t, body, "temporary_password")
	assert.Equal(t, false, body["principal"].(map[string]any)["must_change_password"])
}

func TestDoctorCannotManagePrincipals(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant("t1", auth.TenantActive)
	env.addPrincipal("doc", auth.RoleDoctor, "t1")
	env.addPrincipal("nurse", auth.RoleNurse, "t1")
	access, _ := env.login("doc")

	resp, body := env.do(http.MethodPost, "/v1/tenants/t1/principals", access, map[string]any{
		"email": "x@example.org", "role": "nurse", "password": "Sup3r-secret",
	})
	requireKind(t, resp, body, http.StatusForbidden, "ROLE_DENIED")

	resp, body = env.do(http.MethodPost, "/v1/principals/p-nurse/deactivate", access, nil)
	requireKind(t, resp, body, http.StatusForbidden, "ROLE_DENIED")

	resp, body = env.do(http.MethodGet, "/v1/tenants/t1/principals", access, nil)
	requireKind(t, resp, body, http.StatusForbidden, "ROLE_DENIED")

	resp, body = env.do(http.MethodGet, "/v1/principals/p-doc", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
}

func TestPrincipalLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant("t1", auth.TenantActive)
	env.addPrincipal("boss", auth.RoleOrgAdmin, "t1")
	env.addPrincipal("tech", auth.RoleLabTech, "t1")
	access, _ := env.login("boss")

	resp, body := env.do(http.MethodPatch, "/v1/principals/p-tech", access, map[string]any{"first_name": "Grace", "role": "nurse"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "Grace", body["first_name"])
	assert.Equal(t, "nurse", body["role"])

	for i := 0; i < auth.DefaultLockoutThreshold; i++ {
		env.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"login": "tech", "password": "wrong-password"})
	}
	resp, body = env.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"login": "tech", "password": testPassword})
	requireKind(t, resp, body, http.StatusLocked, "ACCOUNT_LOCKED")

	resp, body = env.do(http.MethodPost, "/v1/principals/p-tech/unlock", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.EqualValues(t, 0, body["failed_attempts"])
	env.login("tech")

	resp, body = env.do(http.MethodPost, "/v1/principals/p-tech/deactivate", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, false, body["active"])
	resp, body = env.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"login": "tech", "password": testPassword})
	requireKind(t, resp, body, http.StatusForbidden, "ACCOUNT_INACTIVE")

	resp, body = env.do(http.MethodDelete, "/v1/principals/p-tech", access, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["deleted"])
	resp, body = env.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"login": "tech", "password": testPassword})
	requireKind(t, resp, body, http.StatusForbidden, "ACCOUNT_DELETED")

	resp, body = env.do(http.MethodDelete, "/v1/principals/p-boss", access, nil)
	requireKind(t, resp, body, http.StatusBadRequest, kindInvalidInput)
}

func TestSuspendedTenantBlocksAdministration(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant("t1", auth.TenantSuspended)
	env.addPrincipal("boss", auth.RoleOrgAdmin, "t1")
	env.addPrincipal("tech", auth.RoleLabTech, "t1")
	access, _ := env.login("boss")

	resp, body := env.do(http.MethodPost, "/v1/principals/p-tech/deactivate", access, nil)
	requireKind(t, resp, body, http.StatusForbidden, "TENANT_SUSPENDED")

	resp, body = env.do(http.MethodPost, "/v1/tenants/t1/principals", access, map[string]any{
		"email": "x@example.org", "role": "nurse", "password": "Sup3r-secret",
	})
	requireKind(t, resp, body, http.StatusForbidden, "TENANT_SUSPENDED")
}

func TestSuspendedTenantBlocksTenantRead(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant("t1", auth.TenantSuspended)
	env.addPrincipal("doc", auth.RoleDoctor, "t1")
	env.addPrincipal("root", auth.RoleSuperAdmin, "")
	access, _ := env.login("doc")

	resp, body := env.do(http.MethodGet, "/v1/tenants/t1", access, nil)
	requireKind(t, resp, body, http.StatusForbidden, "TENANT_SUSPENDED")

	rootAccess, _ := env.login("root")
	resp, body = env.do(http.MethodGet, "/v1/tenants/t1", rootAccess, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "suspended", body["status"])
}

func auditTotal(t *testing.T, env *testEnv) int {
	t.Helper()
	page, err := env.store.List(context.Background(), audit.Filter{Limit: 1})
	require.NoError(t, err)
	return page.Total
}

func TestSuccessfulReadsWriteOneEntry(t *testing.T) {
	env := newTestEnv(t)
	env.addTenant("t1", auth.TenantActive)
	env.addPrincipal("root", auth.RoleSuperAdmin, "")
	env.addPrincipal("boss", auth.RoleOrgAdmin, "t1")
	env.addPrincipal("doc", auth.RoleDoctor, "t1")
	rootAccess, _ := env.login("root")
	bossAccess, _ := env.login("boss")
	docAccess, _ := env.login("doc")

	reads := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
	}{
		{"list tenants", http.MethodGet, "/v1/tenants", rootAccess, nil},
		{"get tenant", http.MethodGet, "/v1/tenants/t1", bossAccess, nil},
		{"list principals", http.MethodGet, "/v1/tenants/t1/principals", bossAccess, nil},
		{"get principal", http.MethodGet, "/v1/principals/p-doc", bossAccess, nil},
		{"authz check", http.MethodPost, "/v1/authz/check", docAccess, map[string]any{"permission": "view_patients", "tenant_id": "t1"}},
		{"patient access", http.MethodPost, "/v1/authz/patients/pt-1", docAccess, map[string]any{"permission": "view_patients", "tenant_id": "t1"}},
	}
	for _, tc := range reads {
		t.Run(tc.name, func(t *testing.T) {
			before := auditTotal(t, env)
			resp, body := env.do(tc.method, tc.path, tc.token, tc.body)
			require.Equal(t, http.StatusOK, resp.StatusCode, body)
			require.Equal(t, before+1, auditTotal(t, env))

			page, err := env.store.List(context.Background(), audit.Filter{Limit: 1})
			require.NoError(t, err)
			entry := page.Entries[0]
			assert.True(t, entry.Success)
			assert.Equal(t, audit.ActionRead, entry.Action)
			assert.Equal(t, tc.path, entry.Path)
		})
	}
}
