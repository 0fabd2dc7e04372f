package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/counselhub/counselhub/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultRange    = 7
	maxRangeDays    = 90
	maxExportRows   = 10000
)

// Service reads the audit timeline.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates the audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// normalize fills the date window and clamps paging. Branch admins only see actors of their branch.
func (s *Service) normalize(p *shared.Principal, f Filters) (Filters, error) {
	if f.To.IsZero() {
		now := s.now().In(shared.Seoul)
		f.To = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, shared.Seoul)
	}
	if f.From.IsZero() {
		f.From = f.To.AddDate(0, 0, -defaultRange)
	}
	if f.From.After(f.To) || f.To.Sub(f.From) > maxRangeDays*24*time.Hour {
		return Filters{}, ErrInvalidRange
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	f.BranchID = p.ScopeBranch(f.BranchID)
	return f, nil
}

// Timeline returns one page of audit entries.
func (s *Service) Timeline(ctx context.Context, p *shared.Principal, f Filters) (Result, error) {
	f, err := s.normalize(p, f)
	if err != nil {
		return Result{}, err
	}
	rows, err := s.repo.Window(ctx, f, f.PageSize+1, (f.Page-1)*f.PageSize)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > f.PageSize
	if hasNext {
		rows = rows[:f.PageSize]
	}
	paging := Paging{Page: f.Page, PageSize: f.PageSize, HasNext: hasNext}
	if f.Page > 1 {
		paging.PrevPage = f.Page - 1
	}
	if hasNext {
		paging.NextPage = f.Page + 1
	}
	return Result{Entries: rows, Paging: paging}, nil
}

// Export returns every entry of the window, refusing oversized exports.
func (s *Service) Export(ctx context.Context, p *shared.Principal, f Filters) ([]Entry, error) {
	f, err := s.normalize(p, f)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.Window(ctx, f, maxExportRows+1, 0)
	if err != nil {
		return nil, fmt.Errorf("export audit: %w", err)
	}
	if len(rows) > maxExportRows {
		return nil, ErrTooManyRows
	}
	return rows, nil
}
