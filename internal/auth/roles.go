package auth

import (
	"slices"
	"strings"
)

// Role is the canonical principal classification.
type Role string

const (
	RoleSuperAdmin   Role = "super_admin"
	RoleOrgAdmin     Role = "org_admin"
	RoleDoctor       Role = "doctor"
	RoleLabTech      Role = "lab_tech"
	RoleNurse        Role = "nurse"
	RoleReceptionist Role = "receptionist"
	RolePatient      Role = "patient"
)

// Permission is a fine-grained capability string.
type Permission string

const (
	PermManageTenants       Permission = "manage_tenants"
	PermViewAllTenants      Permission = "view_all_tenants"
	PermManageUsers         Permission = "manage_users"
	PermViewSystemStats     Permission = "view_system_stats"
	PermManageSubscriptions Permission = "manage_subscriptions"
	PermViewAuditLogs       Permission = "view_audit_logs"
	PermSystemSettings      Permission = "system_settings"

	PermManageOrgUsers    Permission = "manage_org_users"
	PermViewOrgUsers      Permission = "view_org_users"
	PermManageDepartments Permission = "manage_departments"
	PermViewOrgStats      Permission = "view_org_stats"
	PermViewOrgAuditLogs  Permission = "view_org_audit_logs"
	PermOrgSettings       Permission = "org_settings"

	PermViewPatients          Permission = "view_patients"
	PermCreatePatients        Permission = "create_patients"
	PermUpdatePatients        Permission = "update_patients"
	PermViewScans             Permission = "view_scans"
	PermCreateScans           Permission = "create_scans"
	PermReviewScans           Permission = "review_scans"
	PermApproveScans          Permission = "approve_scans"
	PermCreatePrescriptions   Permission = "create_prescriptions"
	PermSignPrescriptions     Permission = "sign_prescriptions"
	PermViewAppointments      Permission = "view_appointments"
	PermManageOwnAppointments Permission = "manage_own_appointments"

	PermViewAssignedPatients Permission = "view_assigned_patients"
	PermUploadImages         Permission = "upload_images"
	PermViewPrescriptions    Permission = "view_prescriptions"
	PermManageAppointments   Permission = "manage_appointments"
	PermCreateReminders      Permission = "create_reminders"
	PermViewPatientSummary   Permission = "view_patient_summary"
	PermCheckInPatients      Permission = "check_in_patients"

	PermViewOwnProfile       Permission = "view_own_profile"
	PermViewOwnScans         Permission = "view_own_scans"
	PermViewOwnPrescriptions Permission = "view_own_prescriptions"
	PermViewOwnAppointments  Permission = "view_own_appointments"
	PermManageOwnMedications Permission = "manage_own_medications"
	PermViewOwnReminders     Permission = "view_own_reminders"
)

var roleRanks = map[Role]int{
	RoleSuperAdmin:   100,
	RoleOrgAdmin:     80,
	RoleDoctor:       60,
	RoleLabTech:      50,
	RoleNurse:        40,
	RoleReceptionist: 30,
	RolePatient:      10,
}

// rolePermissions is the single source of truth for what each role may do.
var rolePermissions = map[Role][]Permission{
	RoleSuperAdmin: {
		PermManageTenants, PermViewAllTenants, PermManageUsers, PermViewSystemStats,
		PermManageSubscriptions, PermViewAuditLogs, PermSystemSettings,
	},
	RoleOrgAdmin: {
		PermManageOrgUsers, PermViewOrgUsers, PermManageDepartments,
		PermViewOrgStats, PermViewOrgAuditLogs, PermOrgSettings,
	},
	RoleDoctor: {
		PermViewPatients, PermCreatePatients, PermUpdatePatients,
		PermViewScans, PermCreateScans, PermReviewScans, PermApproveScans,
		PermCreatePrescriptions, PermSignPrescriptions,
		PermViewAppointments, PermManageOwnAppointments,
	},
	RoleLabTech: {
		PermViewAssignedPatients, PermViewScans, PermCreateScans, PermUploadImages,
	},
	RoleNurse: {
		PermViewAssignedPatients, PermViewScans, PermViewPrescriptions,
		PermManageAppointments, PermCreateReminders,
	},
	RoleReceptionist: {
		PermViewPatientSummary, PermManageAppointments, PermCheckInPatients,
	},
	RolePatient: {
		PermViewOwnProfile, PermViewOwnScans, PermViewOwnPrescriptions,
		PermViewOwnAppointments, PermManageOwnMedications, PermViewOwnReminders,
	},
}

// roleAliases maps naming variants found in older deployments to canonical roles.
var roleAliases = map[string]Role{
	"superadmin":         RoleSuperAdmin,
	"super-admin":        RoleSuperAdmin,
	"admin":              RoleOrgAdmin,
	"organization_admin": RoleOrgAdmin,
	"organisation_admin": RoleOrgAdmin,
	"hospital_admin":     RoleOrgAdmin,
	"org-admin":          RoleOrgAdmin,
	"lab_technician":     RoleLabTech,
	"lab-tech":           RoleLabTech,
}

// Roles returns all canonical roles ordered from most to least privileged.
func Roles() []Role {
	out := make([]Role, 0, len(roleRanks))
	for r := range roleRanks {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Role) int { return roleRanks[b] - roleRanks[a] })
	return out
}

// ParseRole normalizes raw into a canonical role.
func ParseRole(raw string) (Role, bool) {
	key := strings.TrimSpace(strings.ToLower(raw))
	if _, ok := roleRanks[Role(key)]; ok {
		return Role(key), true
	}
	if r, ok := roleAliases[key]; ok {
		return r, true
	}
	return "", false
}

// Valid reports whether r is a canonical role.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// Rank returns the hierarchy rank of r, 0 for unknown roles.
func (r Role) Rank() int {
	return roleRanks[r]
}

// HasHigherRole reports whether a ranks strictly above b.
func HasHigherRole(a, b Role) bool {
	return a.Rank() > b.Rank()
}

// RoleAtLeast reports whether r ranks at or above min.
func RoleAtLeast(r, min Role) bool {
	return r.Valid() && r.Rank() >= min.Rank()
}

// PermissionsFor returns a copy of the permission set of role.
func PermissionsFor(role Role) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// RoleHasPermission reports whether the registry grants perm to role.
func RoleHasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// AllPermissions returns every permission known to the registry, sorted.
func AllPermissions() []Permission {
	seen := make(map[Permission]struct{})
	var out []Permission
	for _, perms := range rolePermissions {
		for _, p := range perms {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// CanManage reports whether manager may administer target. SUPER_ADMIN manages
// anyone, ORG_ADMIN manages non-super principals of its own tenant, nobody
// else manages anyone.
func CanManage(manager, target Principal) bool {
	switch manager.Role {
	case RoleSuperAdmin:
		return true
	case RoleOrgAdmin:
		if target.Role == RoleSuperAdmin {
			return false
		}
		return manager.TenantID != nil && target.TenantID != nil && *manager.TenantID == *target.TenantID
	default:
		return false
	}
}

func permissionStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
