package models

import (
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Permission strings carried in access tokens.
const (
	PermReadVisits      = "read:visits"
	PermCreateVisits    = "create:visits"
	PermUpdateVisits    = "update:visits"
	PermOverrideVisits  = "override:visits"
	PermReadCompanies   = "read:companies"
	PermCreateCompanies = "create:companies"
	PermUpdateCompanies = "update:companies"
	PermDeleteCompanies = "delete:companies"
	PermReadContacts    = "read:contacts"
	PermCreateContacts  = "create:contacts"
	PermUpdateContacts  = "update:contacts"
	PermDeleteContacts  = "delete:contacts"
	PermReadCalls       = "read:calls"
	PermCreateCalls     = "create:calls"
	PermUpdateCalls     = "update:calls"
	PermReadReports     = "read:reports"
	PermReadTeamReports = "read:team-reports"
	PermManageUsers     = "manage:users"
	PermManageRoles     = "manage:roles"
)

// AllPermissions lists every permission the API checks.
var AllPermissions = []string{
	PermReadVisits, PermCreateVisits, PermUpdateVisits, PermOverrideVisits,
	PermReadCompanies, PermCreateCompanies, PermUpdateCompanies, PermDeleteCompanies,
	PermReadContacts, PermCreateContacts, PermUpdateContacts, PermDeleteContacts,
	PermReadCalls, PermCreateCalls, PermUpdateCalls,
	PermReadReports, PermReadTeamReports,
	PermManageUsers, PermManageRoles,
}

// Built-in role names.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleSalesRep = "sales_rep"
)

// Role groups a set of permissions.
type Role struct {
	BaseModel
	Name        string                      `gorm:"uniqueIndex;size:50;not null" json:"name"`
	Description string                      `gorm:"size:255" json:"description"`
	Permissions datatypes.JSONSlice[string] `json:"permissions"`
}

// IsKnownPermission reports whether perm is one the API understands.
func IsKnownPermission(perm string) bool {
	for _, p := range AllPermissions {
		if p == perm {
			return true
		}
	}
	return false
}

func defaultRoles() []Role {
	salesRep := []string{
		PermReadVisits, PermCreateVisits, PermUpdateVisits,
		PermReadCompanies, PermCreateCompanies, PermUpdateCompanies,
		PermReadContacts, PermCreateContacts, PermUpdateContacts,
		PermReadCalls, PermCreateCalls, PermUpdateCalls,
		PermReadReports,
	}
	manager := append(append([]string{}, salesRep...),
		PermOverrideVisits, PermDeleteCompanies, PermDeleteContacts, PermReadTeamReports)

	return []Role{
		{Name: RoleAdmin, Description: "Full access", Permissions: append([]string{}, AllPermissions...)},
		{Name: RoleManager, Description: "Sales manager", Permissions: manager},
		{Name: RoleSalesRep, Description: "Field sales representative", Permissions: salesRep},
	}
}

// SeedDefaultRoles creates the built-in roles when they are missing.
// Existing roles are left untouched so admins can edit them.
func SeedDefaultRoles(db *gorm.DB) error {
	for _, role := range defaultRoles() {
		r := role
		if err := db.Where(Role{Name: r.Name}).Attrs(Role{Description: r.Description, Permissions: r.Permissions}).FirstOrCreate(&r).Error; err != nil {
			return fmt.Errorf("seeding role %s: %w", role.Name, err)
		}
	}
	return nil
}
