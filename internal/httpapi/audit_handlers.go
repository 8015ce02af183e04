package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/abhayyyy25/breast-cancer-detection/internal/audit"
	"github.com/abhayyyy25/breast-cancer-detection/internal/auth"
)

const resourceAuditLog = "audit_log"

func parseAuditFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		ActorID:      strings.TrimSpace(q.Get("actor_id")),
		TenantID:     strings.TrimSpace(q.Get("tenant_id")),
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
		ResourceID:   strings.TrimSpace(q.Get("resource_id")),
	}
	if raw := q.Get("action"); raw != "" {
		action, ok := audit.ParseAction(raw)
		if !ok {
			return audit.Filter{}, fmt.Errorf("unknown action %q", raw)
		}
		f.Action = action
	}
	if raw := q.Get("success"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return audit.Filter{}, fmt.Errorf("success must be true or false")
		}
		f.Success = &v
	}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, fmt.Errorf("%s must be an RFC 3339 timestamp", p.name)
		}
		*p.dst = t
	}
	var err error
	if f.Limit, err = parsePositiveInt("limit", q.Get("limit"), 50, 1, 200); err != nil {
		return audit.Filter{}, err
	}
	if f.Offset, err = parsePositiveInt("offset", q.Get("offset"), 0, 0, 1_000_000); err != nil {
		return audit.Filter{}, err
	}
	return f, nil
}

// handleListAudit serves the compliance trail. SUPER_ADMIN reads every
// tenant; other callers need view_org_audit_logs and are confined to their
// own tenant.
func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	f, err := parseAuditFilter(r.URL.Query())
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}

	s := sessionFrom(r)
	req := auth.Requirement{
		Permission:   auth.PermViewOrgAuditLogs,
		TenantID:     f.TenantID,
		Action:       audit.ActionRead,
		ResourceType: resourceAuditLog,
	}
	if s.Role == auth.RoleSuperAdmin {
		req.Permission = auth.PermViewAuditLogs
	}
	if _, err := a.deps.Guard.Check(r.Context(), s, req); err != nil {
		handleError(w, r, err)
		return
	}
	if s.Role != auth.RoleSuperAdmin {
		f.TenantID = s.Tenant()
	}

	page, err := a.deps.Audit.List(r.Context(), f)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.deps.Audit.Record(r.Context(), audit.Entry{
		ActorID:      s.PrincipalID,
		ActorRole:    string(s.Role),
		ActorName:    s.Username,
		TenantID:     s.Tenant(),
		Action:       audit.ActionRead,
		ResourceType: resourceAuditLog,
		Description:  fmt.Sprintf("listed %d of %d entries", len(page.Entries), page.Total),
		Success:      true,
	})
	writeJSON(w, http.StatusOK, page)
}
