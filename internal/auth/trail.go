package auth

import "github.com/abhayyyy25/breast-cancer-detection/internal/audit"

// Resource types used on audit entries written by this package.
const (
	ResourceAuth      = "auth"
	ResourcePrincipal = "principal"
	ResourceTenant    = "tenant"
	ResourcePatient   = "patient"
)

func sessionEntry(s Session, action audit.Action, resourceType, resourceID string) audit.Entry {
	return audit.Entry{
		ActorID:      s.PrincipalID,
		ActorRole:    string(s.Role),
		ActorName:    s.Username,
		TenantID:     s.Tenant(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

func principalEntry(p Principal, action audit.Action) audit.Entry {
	return audit.Entry{
		ActorID:      p.ID,
		ActorRole:    string(p.Role),
		ActorName:    p.Username,
		TenantID:     deref(p.TenantID),
		Action:       action,
		ResourceType: ResourceAuth,
		ResourceID:   p.ID,
	}
}

func failed(e audit.Entry, err error) audit.Entry {
	e.Success = false
	e.ErrorKind = string(KindOf(err))
	e.ErrorMessage = err.Error()
	return e
}

func succeeded(e audit.Entry, description string) audit.Entry {
	e.Success = true
	e.Description = description
	return e
}
