package ratings

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/counselhub/counselhub/internal/schedules"
	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/users"
)

// ScheduleReader loads the rated schedule.
type ScheduleReader interface {
	Get(ctx context.Context, id int64) (schedules.Schedule, error)
}

// Accounts resolves the rated consultant.
type Accounts interface {
	Get(ctx context.Context, id int64) (users.User, error)
}

// Service implements rating rules.
type Service struct {
	repo      Repository
	schedules ScheduleReader
	accounts  Accounts
	audit     shared.AuditRecorder
	logger    *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, schedules ScheduleReader, accounts Accounts, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, schedules: schedules, accounts: accounts, audit: audit, logger: logger}
}

// Create stores the client's rating of their own completed schedule.
func (s *Service) Create(ctx context.Context, p *shared.Principal, in CreateInput) (Rating, error) {
	sc, err := s.schedules.Get(ctx, in.ScheduleID)
	if err != nil {
		return Rating{}, err
	}
	if p == nil || sc.ClientID != p.UserID {
		return Rating{}, schedules.ErrNotFound
	}
	if sc.Status != schedules.StatusCompleted {
		return Rating{}, ErrNotCompleted
	}
	created, err := s.repo.Create(ctx, Rating{
		ScheduleID:   sc.ID,
		ConsultantID: sc.ConsultantID,
		ClientID:     sc.ClientID,
		Score:        in.Score,
		Comment:      strings.TrimSpace(in.Comment),
		Tags:         NormalizeTags(in.Tags),
	})
	if err != nil {
		return Rating{}, err
	}
	s.record(ctx, p.UserID, "RATING_CREATE", created.ID, map[string]any{"consultant_id": created.ConsultantID, "score": created.Score})
	return present(p, created), nil
}

// ForConsultant returns the summary and a page of ratings. Admins of the
// consultant's branch also see hidden ratings.
func (s *Service) ForConsultant(ctx context.Context, p *shared.Principal, consultantID int64, page shared.PageRequest) (ConsultantRatings, error) {
	consultant, err := s.accounts.Get(ctx, consultantID)
	if err != nil {
		return ConsultantRatings{}, err
	}
	if consultant.Role != shared.RoleConsultant {
		return ConsultantRatings{}, users.ErrUserNotFound
	}
	includeHidden := p.IsAdmin() && consultant.BranchID != nil && p.CanAccessBranch(*consultant.BranchID)
	summary, err := s.repo.Summary(ctx, consultantID)
	if err != nil {
		return ConsultantRatings{}, err
	}
	items, total, err := s.repo.ListByConsultant(ctx, consultantID, includeHidden, page)
	if err != nil {
		return ConsultantRatings{}, err
	}
	for i := range items {
		items[i] = present(p, items[i])
	}
	return ConsultantRatings{Summary: summary, Ratings: shared.NewPagedResult(items, page, total)}, nil
}

// Hide removes a rating from public pages and summaries.
func (s *Service) Hide(ctx context.Context, p *shared.Principal, id int64, in HideInput) error {
	r, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !p.CanAccessBranch(r.BranchID) {
		return ErrNotFound
	}
	if r.IsHidden {
		return nil
	}
	if err := s.repo.Hide(ctx, id); err != nil {
		return err
	}
	s.record(ctx, p.UserID, "RATING_HIDE", id, map[string]any{"reason": strings.TrimSpace(in.Reason)})
	return nil
}

// present masks the client name for everyone but admins and the author.
func present(p *shared.Principal, r Rating) Rating {
	if p.IsAdmin() || (p != nil && p.UserID == r.ClientID) {
		return r
	}
	r.ClientName = MaskName(r.ClientName)
	return r
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "rating", EntityID: strconv.FormatInt(id, 10), Meta: meta}); err != nil {
		s.logger.Warn("audit rating", slog.Any("error", err))
	}
}
