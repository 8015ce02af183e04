package auth

import "time"

// TenantType classifies the organization that owns a tenant.
type TenantType string

const (
	TenantHospital      TenantType = "hospital"
	TenantLab           TenantType = "lab"
	TenantClinic        TenantType = "clinic"
	TenantImagingCenter TenantType = "imaging_center"
)

// Valid reports whether t is a known tenant type.
func (t TenantType) Valid() bool {
	switch t {
	case TenantHospital, TenantLab, TenantClinic, TenantImagingCenter:
		return true
	}
	return false
}

// TenantStatus is the subscription state of a tenant.
type TenantStatus string

const (
	TenantTrial     TenantStatus = "trial"
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
	TenantCancelled TenantStatus = "cancelled"
	TenantExpired   TenantStatus = "expired"
)

// Valid reports whether s is a known tenant status.
func (s TenantStatus) Valid() bool {
	switch s {
	case TenantTrial, TenantActive, TenantSuspended, TenantCancelled, TenantExpired:
		return true
	}
	return false
}

// Tenant is an isolated customer organization.
type Tenant struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Type               TenantType   `json:"type"`
	Status             TenantStatus `json:"status"`
	Active             bool         `json:"active"`
	ContactEmail       string       `json:"contact_email,omitempty"`
	TrialEndsAt        *time.Time   `json:"trial_ends_at,omitempty"`
	MonthlyScanQuota   int          `json:"monthly_scan_quota"`
	CurrentPeriodScans int          `json:"current_period_scans"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Snapshot returns the audit representation of the tenant.
func (t Tenant) Snapshot() map[string]any {
	snap := map[string]any{
		"id":     t.ID,
		"name":   t.Name,
		"type":   string(t.Type),
		"status": string(t.Status),
		"active": t.Active,
	}
	if t.TrialEndsAt != nil {
		snap["trial_ends_at"] = t.TrialEndsAt.UTC().Format(time.RFC3339)
	}
	return snap
}

// Principal is an authenticated actor. PasswordHash never leaves the process.
type Principal struct {
	ID                 string     `json:"id"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	FirstName          string     `json:"first_name,omitempty"`
	LastName           string     `json:"last_name,omitempty"`
	PasswordHash       string     `json:"-"`
	PasswordChangedAt  *time.Time `json:"password_changed_at,omitempty"`
	MustChangePassword bool       `json:"must_change_password"`
	Role               Role       `json:"role"`
	TenantID           *string    `json:"tenant_id,omitempty"`
	PatientID          *string    `json:"patient_id,omitempty"`
	FailedAttempts     int        `json:"failed_attempts"`
	LockedUntil        *time.Time `json:"locked_until,omitempty"`
	Active             bool       `json:"active"`
	Deleted            bool       `json:"deleted"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
	CreatedBy          *string    `json:"created_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Locked reports whether the principal is locked out at now.
func (p Principal) Locked(now time.Time) bool {
	return p.Lockout().Locked(now)
}

// Lockout returns the principal's lockout counters.
func (p Principal) Lockout() LockoutState {
	return LockoutState{FailedAttempts: p.FailedAttempts, LockedUntil: p.LockedUntil}
}

// Snapshot returns the audit representation of the principal without secrets.
func (p Principal) Snapshot() map[string]any {
	snap := map[string]any{
		"id":                   p.ID,
		"username":             p.Username,
		"email":                p.Email,
		"role":                 string(p.Role),
		"active":               p.Active,
		"deleted":              p.Deleted,
		"failed_attempts":      p.FailedAttempts,
		"must_change_password": p.MustChangePassword,
	}
	if p.TenantID != nil {
		snap["tenant_id"] = *p.TenantID
	}
	if p.PatientID != nil {
		snap["patient_id"] = *p.PatientID
	}
	if p.LockedUntil != nil {
		snap["locked_until"] = p.LockedUntil.UTC().Format(time.RFC3339)
	}
	return snap
}

// Session is the verified content of an access or refresh token.
type Session struct {
	PrincipalID string       `json:"principal_id"`
	Username    string       `json:"username,omitempty"`
	TenantID    *string      `json:"tenant_id,omitempty"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
	PatientID   *string      `json:"patient_id,omitempty"`
	TokenID     string       `json:"token_id"`
	Kind        TokenKind    `json:"kind"`
	IssuedAt    time.Time    `json:"issued_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// Tenant returns the session tenant id or "".
func (s Session) Tenant() string {
	return deref(s.TenantID)
}

// PatientRef identifies a patient record and the tenant that owns it.
type PatientRef struct {
	ID       string
	TenantID string
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
