package httpapi

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
	"github.com/abhayyyy25/breast-cancer-detection/internal/auth"
)

type authzCheckRequest struct {
	Roles        []string `json:"roles"`
	MinRole      string   `json:"min_role"`
	Permission   string   `json:"permission"`
	TenantID     string   `json:"tenant_id"`
	Action       string   `json:"action"`
	ResourceType string   `json:"resource_type"`
	ResourceID   string   `json:"resource_id"`
}

type patientAccessRequest struct {
	Permission string `json:"permission"`
	TenantID   string `json:"tenant_id"`
}

type decisionResponse struct {
	Allowed     bool         `json:"allowed"`
	PrincipalID string       `json:"principal_id"`
	Role        auth.Role    `json:"role"`
	Tenant      *auth.Tenant `json:"tenant,omitempty"`
}

func (req authzCheckRequest) requirement() (auth.Requirement, error) {
	out := auth.Requirement{
		TenantID:     strings.TrimSpace(req.TenantID),
		ResourceType: strings.TrimSpace(req.ResourceType),
		ResourceID:   strings.TrimSpace(req.ResourceID),
	}
	for _, raw := range req.Roles {
		role, ok := auth.ParseRole(raw)
		if !ok {
			return auth.Requirement{}, fmt.Errorf("unknown role %q", raw)
		}
		out.Roles = append(out.Roles, role)
	}
	if strings.TrimSpace(req.MinRole) != "" {
		role, ok := auth.ParseRole(req.MinRole)
		if !ok {
			return auth.Requirement{}, fmt.Errorf("unknown role %q", req.MinRole)
		}
		out.MinRole = role
	}
	perm, err := parsePermission(req.Permission)
	if err != nil {
		return auth.Requirement{}, err
	}
	out.Permission = perm
	if strings.TrimSpace(req.Action) != "" {
		action, ok := audit.ParseAction(req.Action)
		if !ok {
			return auth.Requirement{}, fmt.Errorf("unknown action %q", req.Action)
		}
		out.Action = action
	}
	return out, nil
}

func parsePermission(raw string) (auth.Permission, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return "", nil
	}
	perm := auth.Permission(raw)
	if !slices.Contains(auth.AllPermissions(), perm) {
		return "", fmt.Errorf("unknown permission %q", raw)
	}
	return perm, nil
}

// handleAuthzCheck evaluates a requirement for the calling session. A denial
// is answered with the taxonomy status, an admission with the resolved tenant.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	var body authzCheckRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	req, err := body.requirement()
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	s := sessionFrom(r)
	tenant, err := a.deps.Guard.Check(r.Context(), s, req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.deps.Guard.RecordAdmission(r.Context(), s, req, "authorization granted")
	writeJSON(w, http.StatusOK, decisionResponse{Allowed: true, PrincipalID: s.PrincipalID, Role: s.Role, Tenant: tenant})
}

func (a *API) handlePatientAccess(w http.ResponseWriter, r *http.Request) {
	var body patientAccessRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	perm, err := parsePermission(body.Permission)
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	ref := auth.PatientRef{ID: chi.URLParam(r, "patientID"), TenantID: strings.TrimSpace(body.TenantID)}
	if ref.TenantID == "" {
		badRequest(w, r, "tenant_id is required")
		return
	}
	s := sessionFrom(r)
	if err := a.deps.Guard.CheckPatient(r.Context(), s, perm, ref); err != nil {
		handleError(w, r, err)
		return
	}
	a.deps.Guard.RecordPatientAdmission(r.Context(), s, perm, ref)
	writeJSON(w, http.StatusOK, decisionResponse{Allowed: true, PrincipalID: s.PrincipalID, Role: s.Role})
}
