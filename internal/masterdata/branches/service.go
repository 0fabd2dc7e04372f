package branches

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/counselhub/counselhub/internal/masterdata/shared"
	core "github.com/counselhub/counselhub/internal/shared"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]+$`)

// Service implements branch rules on top of Repository.
type Service struct {
	repo  Repository
	audit core.AuditRecorder
}

// NewService constructs a Service.
func NewService(repo Repository, audit core.AuditRecorder) *Service {
	if audit == nil {
		audit = core.NopAuditRecorder{}
	}
	return &Service{repo: repo, audit: audit}
}

// List returns a page of branches.
func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Branch, int, error) {
	return s.repo.List(ctx, filters)
}

// Get returns one branch.
func (s *Service) Get(ctx context.Context, id int64) (Branch, error) {
	return s.repo.Get(ctx, id)
}

// ByCode resolves a branch by its code, used for signup defaults.
func (s *Service) ByCode(ctx context.Context, code string) (Branch, error) {
	return s.repo.GetByCode(ctx, normalizeCode(code))
}

// Create validates and inserts a branch.
func (s *Service) Create(ctx context.Context, actorID int64, form BranchForm) (Branch, error) {
	branch, err := fromForm(form)
	if err != nil {
		return Branch{}, err
	}
	if branch.IsHeadquarters {
		if _, err := s.repo.Headquarters(ctx); err == nil {
			return Branch{}, ErrHeadquartersExists
		}
	}
	created, err := s.repo.Create(ctx, branch)
	if err != nil {
		return Branch{}, err
	}
	s.record(ctx, actorID, "BRANCH_CREATE", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

// Update applies form to branch id using optimistic locking.
func (s *Service) Update(ctx context.Context, actorID, id int64, form BranchForm) (Branch, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Branch{}, err
	}
	branch, err := fromForm(form)
	if err != nil {
		return Branch{}, err
	}
	if form.IsActive == nil {
		branch.IsActive = current.IsActive
	}
	if current.IsHeadquarters && (!branch.IsHeadquarters || !branch.IsActive) {
		return Branch{}, ErrHeadquartersRequired
	}
	if !current.IsHeadquarters && branch.IsHeadquarters {
		return Branch{}, ErrHeadquartersExists
	}
	branch.ID = id
	updated, err := s.repo.Update(ctx, branch, form.Version)
	if err != nil {
		return Branch{}, err
	}
	s.record(ctx, actorID, "BRANCH_UPDATE", id, map[string]any{"code": updated.Code, "version": updated.Version})
	return updated, nil
}

// Delete soft deletes a branch without active members.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.IsHeadquarters {
		return ErrHeadquartersRequired
	}
	n, err := s.repo.CountActiveUsers(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrBranchInUse
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "BRANCH_DELETE", id, map[string]any{"code": current.Code})
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	_ = s.audit.Record(ctx, core.AuditLog{ActorID: actorID, Action: action, Entity: "branch", EntityID: strconv.FormatInt(id, 10), Meta: meta})
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func fromForm(form BranchForm) (Branch, error) {
	b := Branch{
		Code:           normalizeCode(form.Code),
		Name:           strings.TrimSpace(form.Name),
		Address:        strings.TrimSpace(form.Address),
		Phone:          strings.TrimSpace(form.Phone),
		IsHeadquarters: form.IsHeadquarters,
		IsActive:       true,
	}
	if form.IsActive != nil {
		b.IsActive = *form.IsActive
	}
	if b.Code == "" || !codePattern.MatchString(b.Code) {
		return Branch{}, ErrInvalidCode
	}
	if b.Name == "" {
		return Branch{}, core.NewUserError(core.ErrValidation, "지점명을 입력해 주세요.")
	}
	return b, nil
}
