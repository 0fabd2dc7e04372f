package shared

// Principal describes the authenticated actor of a request.
type Principal struct {
	UserID   int64  `json:"user_id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	BranchID *int64 `json:"branch_id,omitempty"`
	// MustChangePassword is set after an admin issued a temporary password.
	MustChangePassword bool `json:"must_change_password"`
}

// IsAdmin reports whether the principal has any administrative role.
func (p *Principal) IsAdmin() bool {
	if p == nil {
		return false
	}
	switch p.Role {
	case RoleBranchAdmin, RoleHQAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsHQ reports whether the principal may act across every branch.
func (p *Principal) IsHQ() bool {
	return p != nil && (p.Role == RoleHQAdmin || p.Role == RoleSuperAdmin)
}

// CanAccessBranch reports whether the principal may read or change data owned by branchID.
func (p *Principal) CanAccessBranch(branchID int64) bool {
	if p == nil {
		return false
	}
	if p.IsHQ() {
		return true
	}
	return p.BranchID != nil && *p.BranchID == branchID
}

// ScopeBranch narrows a requested branch filter to what the principal may see.
// HQ principals keep the requested filter; everyone else is pinned to their own branch.
func (p *Principal) ScopeBranch(requested *int64) *int64 {
	if p == nil || p.IsHQ() {
		return requested
	}
	if p.BranchID == nil {
		none := int64(-1)
		return &none
	}
	own := *p.BranchID
	return &own
}
