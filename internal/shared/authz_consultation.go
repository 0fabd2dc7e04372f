package shared

// Consultation permissions declared for RBAC.
const (
	PermMappingsView   = "mappings.view"
	PermMappingsManage = "mappings.manage"

	PermSchedulesView   = "schedules.view"
	PermSchedulesBook   = "schedules.book"
	PermSchedulesManage = "schedules.manage"

	PermRatingsWrite    = "ratings.write"
	PermRatingsModerate = "ratings.moderate"

	PermDiscountsView   = "discounts.view"
	PermDiscountsManage = "discounts.manage"

	PermSalaryView   = "salary.view"
	PermSalaryRun    = "salary.run"
	PermSalaryManage = "salary.manage"

	PermConsentsAdmin = "consents.admin"

	PermStatisticsView = "statistics.view"
)

// ConsultationScopes lists all permissions related to consultation operations.
func ConsultationScopes() []string {
	return []string{
		PermMappingsView,
		PermMappingsManage,
		PermSchedulesView,
		PermSchedulesBook,
		PermSchedulesManage,
		PermRatingsWrite,
		PermRatingsModerate,
		PermDiscountsView,
		PermDiscountsManage,
		PermSalaryView,
		PermSalaryRun,
		PermSalaryManage,
		PermConsentsAdmin,
		PermStatisticsView,
	}
}

// AllScopes returns every permission known to the platform.
func AllScopes() []string {
	return append(CoreScopes(), ConsultationScopes()...)
}
