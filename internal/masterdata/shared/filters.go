// Package shared holds helpers common to the master data packages.
package shared

import "strings"

// Sort directions
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// ListFilters represents standard list filters for master data tables.
type ListFilters struct {
	Page     int
	PerPage  int
	Search   string
	SortBy   string
	SortDir  string
	IsActive *bool
}

// SortClause maps a client sort key onto a whitelisted column.
func SortClause(sortBy, sortDir string, columns map[string]string, fallback string) string {
	dir := "ASC"
	if strings.EqualFold(sortDir, SortDesc) {
		dir = "DESC"
	}
	col, ok := columns[sortBy]
	if !ok {
		col = fallback
	}
	return col + " " + dir
}
