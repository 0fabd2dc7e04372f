package shared

import "math"

const (
	// DefaultPerPage is used when the client does not send a page size.
	DefaultPerPage = 20
	// MaxPerPage caps client supplied page sizes.
	MaxPerPage = 100
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// PageRequest carries the requested page window.
type PageRequest struct {
	Page    int
	PerPage int
}

// Normalize clamps the request to sane bounds.
func (p PageRequest) Normalize() PageRequest {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

// Offset returns the SQL offset for the page.
func (p PageRequest) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PerPage
}

// Limit returns the SQL limit for the page.
func (p PageRequest) Limit() int {
	return p.Normalize().PerPage
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	req := PageRequest{Page: page, PerPage: perPage}.Normalize()
	totalPages := int(math.Ceil(float64(total) / float64(req.PerPage)))
	return Pagination{Page: req.Page, PerPage: req.PerPage, Total: total, TotalPages: totalPages}
}

// PagedResult is the data payload returned by list endpoints.
type PagedResult[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// NewPagedResult builds a PagedResult, never returning a nil slice.
func NewPagedResult[T any](items []T, req PageRequest, total int) PagedResult[T] {
	if items == nil {
		items = []T{}
	}
	return PagedResult[T]{Items: items, Pagination: NewPagination(req.Page, req.PerPage, total)}
}
