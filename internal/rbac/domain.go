package rbac

import (
	"errors"

	"github.com/counselhub/counselhub/internal/shared"
)

// Permission describes a single capability exposed in the catalog.
type Permission struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RolePermissions lists the effective permissions of a role.
type RolePermissions struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	// Overridden is true when role_permissions rows change the built-in defaults.
	Overridden bool `json:"overridden"`
}

// Override is a stored deviation from the default matrix.
type Override struct {
	Role       string
	Permission string
	Granted    bool
}

var (
	// ErrUnknownRole is returned for role strings outside shared.Roles().
	ErrUnknownRole = shared.NewUserError(shared.ErrValidation, "존재하지 않는 역할입니다.")
	// ErrUnknownPermission is returned when a permission is not in the catalog.
	ErrUnknownPermission = shared.NewUserError(shared.ErrValidation, "존재하지 않는 권한입니다.")
	// ErrImmutableRole protects SUPER_ADMIN from losing permissions.
	ErrImmutableRole = shared.NewUserError(shared.ErrForbidden, "최고 관리자 권한은 변경할 수 없습니다.")
	errNoRepository  = errors.New("rbac: repository not configured")
)

var descriptions = map[string]string{
	shared.PermUsersView:        "사용자 조회",
	shared.PermUsersEdit:        "사용자 등록/수정",
	shared.PermBranchesView:     "지점 조회",
	shared.PermBranchesEdit:     "지점 등록/수정",
	shared.PermPermissionsView:  "권한 조회",
	shared.PermPermissionsEdit:  "권한 변경",
	shared.PermCommonCodesEdit:  "공통코드 관리",
	shared.PermSystemConfigView: "시스템 설정 조회",
	shared.PermSystemConfigEdit: "시스템 설정 변경",
	shared.PermAuditView:        "감사 로그 조회",
	shared.PermAdminOps:         "운영 도구",
	shared.PermMappingsView:     "매칭 조회",
	shared.PermMappingsManage:   "매칭 관리",
	shared.PermSchedulesView:    "일정 조회",
	shared.PermSchedulesBook:    "일정 예약",
	shared.PermSchedulesManage:  "일정 관리",
	shared.PermRatingsWrite:     "상담 평가 작성",
	shared.PermRatingsModerate:  "상담 평가 관리",
	shared.PermDiscountsView:    "할인 조회/계산",
	shared.PermDiscountsManage:  "할인 관리",
	shared.PermSalaryView:       "급여 조회",
	shared.PermSalaryRun:        "급여 계산 실행",
	shared.PermSalaryManage:     "급여 승인/설정",
	shared.PermConsentsAdmin:    "동의 이력 조회",
	shared.PermStatisticsView:   "통계 조회",
}

// Catalog returns every permission with its description.
func Catalog() []Permission {
	all := shared.AllScopes()
	out := make([]Permission, 0, len(all))
	for _, name := range all {
		out = append(out, Permission{Name: name, Description: descriptions[name]})
	}
	return out
}

// DefaultPermissions returns the built-in grants for role.
func DefaultPermissions(role string) []string {
	switch role {
	case shared.RoleClient:
		return []string{
			shared.PermMappingsView,
			shared.PermSchedulesView,
			shared.PermSchedulesBook,
			shared.PermRatingsWrite,
			shared.PermDiscountsView,
		}
	case shared.RoleConsultant:
		return []string{
			shared.PermMappingsView,
			shared.PermSchedulesView,
			shared.PermSchedulesManage,
			shared.PermSalaryView,
			shared.PermStatisticsView,
		}
	case shared.RoleBranchAdmin:
		return []string{
			shared.PermUsersView,
			shared.PermUsersEdit,
			shared.PermBranchesView,
			shared.PermSystemConfigView,
			shared.PermAuditView,
			shared.PermMappingsView,
			shared.PermMappingsManage,
			shared.PermSchedulesView,
			shared.PermSchedulesBook,
			shared.PermSchedulesManage,
			shared.PermRatingsModerate,
			shared.PermDiscountsView,
			shared.PermDiscountsManage,
			shared.PermSalaryView,
			shared.PermSalaryRun,
			shared.PermConsentsAdmin,
			shared.PermStatisticsView,
		}
	case shared.RoleHQAdmin, shared.RoleSuperAdmin:
		return shared.AllScopes()
	}
	return nil
}

func isKnownPermission(name string) bool {
	_, ok := descriptions[name]
	return ok
}
