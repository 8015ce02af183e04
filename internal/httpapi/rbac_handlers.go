package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
	"github.com/abhayyyy25/breast-cancer-detection/internal/auth"
)

type createTenantRequest struct {
	Name             string     `json:"name"`
	Type             string     `json:"type"`
	Status           string     `json:"status"`
	ContactEmail     string     `json:"contact_email"`
	TrialEndsAt      *time.Time `json:"trial_ends_at"`
	MonthlyScanQuota int        `json:"monthly_scan_quota"`
}

type tenantStatusRequest struct {
	Status      *string    `json:"status"`
	Active      *bool      `json:"active"`
	TrialEndsAt *time.Time `json:"trial_ends_at"`
}

type createPrincipalRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	PatientID string `json:"patient_id"`
	Password  string `json:"password"`
}

type updatePrincipalRequest struct {
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Role      *string `json:"role"`
	PatientID *string `json:"patient_id"`
	Active    *bool   `json:"active"`
}

type createdPrincipalResponse struct {
	Principal         auth.Principal `json:"principal"`
	TemporaryPassword string         `json:"temporary_password,omitempty"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// inGoodStanding verifies that a tenant-bound caller's own tenant is active
// before an administrative operation. SUPER_ADMIN passes unconditionally.
func (a *API) inGoodStanding(w http.ResponseWriter, r *http.Request, action audit.Action, resourceType, resourceID string) bool {
	_, err := a.deps.Guard.Check(r.Context(), sessionFrom(r), auth.Requirement{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	})
	if err != nil {
		handleError(w, r, err)
		return false
	}
	return true
}

func (a *API) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	t, err := a.deps.Directory.CreateTenant(r.Context(), sessionFrom(r), auth.NewTenant{
		Name:             req.Name,
		Type:             auth.TenantType(strings.ToLower(strings.TrimSpace(req.Type))),
		Status:           auth.TenantStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		ContactEmail:     req.ContactEmail,
		TrialEndsAt:      req.TrialEndsAt,
		MonthlyScanQuota: req.MonthlyScanQuota,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/tenants/%s", t.ID))
	writeJSON(w, http.StatusCreated, t)
}

func (a *API) handleListTenants(w http.ResponseWriter, r *http.Request) {
	list, err := a.deps.Directory.ListTenants(r.Context(), sessionFrom(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[auth.Tenant]{Items: list, Total: len(list)})
}

func (a *API) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tenantID")
	if !a.inGoodStanding(w, r, audit.ActionRead, auth.ResourceTenant, id) {
		return
	}
	t, err := a.deps.Directory.GetTenant(r.Context(), sessionFrom(r), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleSetTenantStatus(w http.ResponseWriter, r *http.Request) {
	var req tenantStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	upd := auth.TenantStatusUpdate{Active: req.Active, TrialEndsAt: req.TrialEndsAt}
	if req.Status != nil {
		status := auth.TenantStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		upd.Status = &status
	}
	t, err := a.deps.Directory.SetTenantStatus(r.Context(), sessionFrom(r), chi.URLParam(r, "tenantID"), upd)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleListPrincipals(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if !a.inGoodStanding(w, r, audit.ActionRead, auth.ResourcePrincipal, "") {
		return
	}
	list, err := a.deps.Directory.ListPrincipals(r.Context(), sessionFrom(r), tenantID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[auth.Principal]{Items: list, Total: len(list)})
}

func (a *API) handleCreatePrincipal(w http.ResponseWriter, r *http.Request) {
	var req createPrincipalRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if !a.inGoodStanding(w, r, audit.ActionCreate, auth.ResourcePrincipal, "") {
		return
	}
	p, password, err := a.deps.Directory.CreatePrincipal(r.Context(), sessionFrom(r), auth.NewPrincipal{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      auth.Role(req.Role),
		TenantID:  chi.URLParam(r, "tenantID"),
		PatientID: req.PatientID,
		Password:  req.Password,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	resp := createdPrincipalResponse{Principal: p}
	if req.Password == "" {
		resp.TemporaryPassword = password
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/principals/%s", p.ID))
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetPrincipal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "principalID")
	if !a.inGoodStanding(w, r, audit.ActionRead, auth.ResourcePrincipal, id) {
		return
	}
	p, err := a.deps.Directory.GetPrincipal(r.Context(), sessionFrom(r), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleUpdatePrincipal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "principalID")
	var req updatePrincipalRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if !a.inGoodStanding(w, r, audit.ActionUpdate, auth.ResourcePrincipal, id) {
		return
	}
	upd := auth.PrincipalUpdate{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		PatientID: req.PatientID,
		Active:    req.Active,
	}
	if req.Role != nil {
		role := auth.Role(*req.Role)
		upd.Role = &role
	}
	p, err := a.deps.Directory.UpdatePrincipal(r.Context(), sessionFrom(r), id, upd)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleDeletePrincipal(w http.ResponseWriter, r *http.Request) {
	a.mutatePrincipal(w, r, audit.ActionDelete, a.deps.Directory.SoftDelete)
}

func (a *API) handleDeactivatePrincipal(w http.ResponseWriter, r *http.Request) {
	a.mutatePrincipal(w, r, audit.ActionUpdate, a.deps.Directory.Deactivate)
}

func (a *API) handleUnlockPrincipal(w http.ResponseWriter, r *http.Request) {
	a.mutatePrincipal(w, r, audit.ActionUpdate, a.deps.Directory.UnlockPrincipal)
}

type principalMutation func(ctx context.Context, actor auth.Session, id string) (auth.Principal, error)

func (a *API) mutatePrincipal(w http.ResponseWriter, r *http.Request, action audit.Action, fn principalMutation) {
	id := chi.URLParam(r, "principalID")
	if !a.inGoodStanding(w, r, action, auth.ResourcePrincipal, id) {
		return
	}
	p, err := fn(r.Context(), sessionFrom(r), id)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
