package shared

// Role strings stored on users.role.
const (
	RoleClient      = "CLIENT"
	RoleConsultant  = "CONSULTANT"
	RoleBranchAdmin = "BRANCH_ADMIN"
	RoleHQAdmin     = "HQ_ADMIN"
	RoleSuperAdmin  = "SUPER_ADMIN"
)

// Roles lists every known role in ascending privilege order.
func Roles() []string {
	return []string{RoleClient, RoleConsultant, RoleBranchAdmin, RoleHQAdmin, RoleSuperAdmin}
}

// IsValidRole reports whether role is one of Roles().
func IsValidRole(role string) bool {
	for _, r := range Roles() {
		if r == role {
			return true
		}
	}
	return false
}

// Core platform permissions.
const (
	PermUsersView = "users.view"
	PermUsersEdit = "users.edit"

	PermBranchesView = "branches.view"
	PermBranchesEdit = "branches.edit"

	PermPermissionsView = "permissions.view"
	PermPermissionsEdit = "permissions.edit"

	PermCommonCodesEdit  = "commoncodes.edit"
	PermSystemConfigView = "sysconfig.view"
	PermSystemConfigEdit = "sysconfig.edit"

	PermAuditView = "audit.view"
	PermAdminOps  = "admin.ops"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersEdit,
		PermBranchesView,
		PermBranchesEdit,
		PermPermissionsView,
		PermPermissionsEdit,
		PermCommonCodesEdit,
		PermSystemConfigView,
		PermSystemConfigEdit,
		PermAuditView,
		PermAdminOps,
	}
}
