package mappings

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/counselhub/counselhub/internal/discounts"
	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/sysconfig"
	"github.com/counselhub/counselhub/internal/users"
)

// Accounts resolves the people on a mapping.
type Accounts interface {
	Get(ctx context.Context, id int64) (users.User, error)
}

// Pricer quotes the sale amount of a package.
type Pricer interface {
	Quote(ctx context.Context, base int64, code string) (discounts.Calculation, error)
}

// Service implements mapping business rules.
type Service struct {
	repo        Repository
	accounts    Accounts
	pricer      Pricer
	settings    sysconfig.Reader
	idempotency shared.IdempotencyGuard
	audit       shared.AuditRecorder
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, accounts Accounts, pricer Pricer, settings sysconfig.Reader, idem shared.IdempotencyGuard, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, accounts: accounts, pricer: pricer, settings: settings, idempotency: idem, audit: audit, logger: logger, now: time.Now}
}

// List returns mappings visible to the principal.
func (s *Service) List(ctx context.Context, p *shared.Principal, filter ListFilter) (shared.PagedResult[View], error) {
	switch p.Role {
	case shared.RoleClient:
		filter.ClientID = &p.UserID
	case shared.RoleConsultant:
		filter.ConsultantID = &p.UserID
	default:
		filter.BranchID = p.ScopeBranch(filter.BranchID)
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return shared.PagedResult[View]{}, err
	}
	views := make([]View, 0, len(items))
	for _, m := range items {
		views = append(views, toView(m))
	}
	return shared.NewPagedResult(views, filter.Page, total), nil
}

// CanSee reports whether p may read m.
func CanSee(p *shared.Principal, m Mapping) bool {
	switch {
	case p == nil:
		return false
	case p.Role == shared.RoleClient:
		return m.ClientID == p.UserID
	case p.Role == shared.RoleConsultant:
		return m.ConsultantID == p.UserID
	default:
		return p.CanAccessBranch(m.BranchID)
	}
}

// Get loads a mapping the principal may see.
func (s *Service) Get(ctx context.Context, p *shared.Principal, id int64) (View, error) {
	m, err := s.load(ctx, p, id)
	if err != nil {
		return View{}, err
	}
	return toView(m), nil
}

func (s *Service) load(ctx context.Context, p *shared.Principal, id int64) (Mapping, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return Mapping{}, err
	}
	if !CanSee(p, m) {
		// Hide existence from other branches and other clients.
		return Mapping{}, ErrNotFound
	}
	return m, nil
}

// Create opens a PENDING_PAYMENT mapping priced through the discount calculator.
// A non-empty idempotency key makes retries of the same request fail with a duplicate error.
func (s *Service) Create(ctx context.Context, p *shared.Principal, idemKey string, in CreateInput) (View, error) {
	consultant, err := s.accounts.Get(ctx, in.ConsultantID)
	if err != nil {
		return View{}, err
	}
	if consultant.Role != shared.RoleConsultant || !consultant.IsActive {
		return View{}, ErrConsultantRole
	}
	client, err := s.accounts.Get(ctx, in.ClientID)
	if err != nil {
		return View{}, err
	}
	if client.Role != shared.RoleClient || !client.IsActive {
		return View{}, ErrClientRole
	}
	if consultant.BranchID == nil {
		return View{}, ErrBranchMismatch
	}
	branchID := *consultant.BranchID
	if client.BranchID == nil || *client.BranchID != branchID {
		return View{}, ErrBranchMismatch
	}
	if !p.CanAccessBranch(branchID) {
		return View{}, shared.ErrForbidden
	}
	open, err := s.repo.HasOpen(ctx, consultant.ID, client.ID)
	if err != nil {
		return View{}, err
	}
	if open {
		return View{}, ErrDuplicateActive
	}
	calc, err := s.pricer.Quote(ctx, in.BaseAmount, in.DiscountCode)
	if err != nil {
		return View{}, err
	}

	var created Mapping
	err = shared.RunOnce(ctx, s.idempotency, idemKey, "mappings.create", func() error {
		var err error
		created, err = s.repo.Create(ctx, Mapping{
			BranchID:       branchID,
			ConsultantID:   consultant.ID,
			ClientID:       client.ID,
			Status:         StatusPendingPayment,
			PackageName:    strings.TrimSpace(in.PackageName),
			TotalSessions:  in.TotalSessions,
			BaseAmount:     calc.BaseAmount,
			DiscountID:     calc.DiscountID,
			DiscountAmount: calc.DiscountAmount,
			FinalAmount:    calc.FinalAmount,
			SupplyAmount:   calc.SupplyAmount,
			VATAmount:      calc.VATAmount,
			Memo:           strings.TrimSpace(in.Memo),
			CreatedBy:      p.UserID,
		})
		return err
	})
	if err != nil {
		return View{}, err
	}
	s.record(ctx, p.UserID, "MAPPING_CREATE", created.ID, map[string]any{"final_amount": created.FinalAmount, "sessions": created.TotalSessions})
	return toView(created), nil
}

// ConfirmPayment activates a mapping and starts its validity window.
func (s *Service) ConfirmPayment(ctx context.Context, p *shared.Principal, id int64, in PaymentInput) (View, error) {
	m, err := s.load(ctx, p, id)
	if err != nil {
		return View{}, err
	}
	if m.Status != StatusPendingPayment {
		return View{}, ErrInvalidTransition
	}
	now := s.now()
	paidAt := now
	if in.PaidAt != nil {
		paidAt = *in.PaidAt
	}
	start := today(now)
	days := s.settings.Int(ctx, sysconfig.KeyMappingValidDays, 180)
	end := start.AddDate(0, 0, days)
	from := m.Status
	m.Status = StatusActive
	m.PaidAt = &paidAt
	m.PaymentMethod = in.PaymentMethod
	m.StartDate = &start
	m.EndDate = &end
	saved, err := s.repo.Save(ctx, m, in.Version, Event{Kind: EventStatus, FromStatus: from, ToStatus: StatusActive, ActorID: p.UserID, Note: "결제 확인 " + in.PaymentMethod})
	if err != nil {
		return View{}, err
	}
	s.record(ctx, p.UserID, "MAPPING_PAYMENT", id, map[string]any{"method": in.PaymentMethod})
	return toView(saved), nil
}

// Extend adds sessions and/or validity days to an ACTIVE or PAUSED mapping.
func (s *Service) Extend(ctx context.Context, p *shared.Principal, id int64, in ExtendInput) (View, error) {
	if in.Sessions == 0 && in.Days == 0 {
		return View{}, ErrEmptyExtension
	}
	m, err := s.load(ctx, p, id)
	if err != nil {
		return View{}, err
	}
	if m.Status != StatusActive && m.Status != StatusPaused {
		return View{}, ErrInvalidTransition
	}
	m.TotalSessions += in.Sessions
	if in.Days > 0 {
		base := today(s.now())
		if m.EndDate != nil && m.EndDate.After(base) {
			base = *m.EndDate
		}
		end := base.AddDate(0, 0, in.Days)
		m.EndDate = &end
	}
	note := strings.TrimSpace(in.Note)
	if in.Days > 0 {
		note = strings.TrimSpace(note + " (+" + strconv.Itoa(in.Days) + "일)")
	}
	saved, err := s.repo.Save(ctx, m, in.Version, Event{Kind: EventExtend, Delta: in.Sessions, ActorID: p.UserID, Note: note})
	if err != nil {
		return View{}, err
	}
	s.record(ctx, p.UserID, "MAPPING_EXTEND", id, map[string]any{"sessions": in.Sessions, "days": in.Days})
	return toView(saved), nil
}

// Pause suspends an ACTIVE mapping.
func (s *Service) Pause(ctx context.Context, p *shared.Principal, id int64, in StatusInput) (View, error) {
	return s.transition(ctx, p, id, StatusPaused, in, "MAPPING_PAUSE")
}

// Resume reactivates a PAUSED mapping.
func (s *Service) Resume(ctx context.Context, p *shared.Principal, id int64, in StatusInput) (View, error) {
	m, err := s.load(ctx, p, id)
	if err != nil {
		return View{}, err
	}
	if m.Status != StatusPaused {
		return View{}, ErrInvalidTransition
	}
	return s.transition(ctx, p, id, StatusActive, in, "MAPPING_RESUME")
}

// Terminate ends a mapping that is not final yet.
func (s *Service) Terminate(ctx context.Context, p *shared.Principal, id int64, in StatusInput) (View, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return View{}, shared.NewUserError(shared.ErrValidation, "종료 사유를 입력해 주세요.")
	}
	return s.transition(ctx, p, id, StatusTerminated, in, "MAPPING_TERMINATE")
}

func (s *Service) transition(ctx context.Context, p *shared.Principal, id int64, to string, in StatusInput, action string) (View, error) {
	m, err := s.load(ctx, p, id)
	if err != nil {
		return View{}, err
	}
	if !CanTransition(m.Status, to) {
		return View{}, ErrInvalidTransition
	}
	from := m.Status
	m.Status = to
	saved, err := s.repo.Save(ctx, m, in.Version, Event{Kind: EventStatus, FromStatus: from, ToStatus: to, ActorID: p.UserID, Note: strings.TrimSpace(in.Reason)})
	if err != nil {
		return View{}, err
	}
	s.record(ctx, p.UserID, action, id, map[string]any{"from": from, "to": to})
	return toView(saved), nil
}

// History returns the ledger of a mapping.
func (s *Service) History(ctx context.Context, p *shared.Principal, id int64) ([]Event, error) {
	if _, err := s.load(ctx, p, id); err != nil {
		return nil, err
	}
	events, err := s.repo.Events(ctx, id)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}

// Sync recomputes used sessions from session-consuming schedules and fixes drifts.
func (s *Service) Sync(ctx context.Context) (SyncReport, error) {
	checked, drifts, err := s.repo.Drifts(ctx)
	if err != nil {
		return SyncReport{}, err
	}
	report := SyncReport{Checked: checked, Drifts: drifts}
	if report.Drifts == nil {
		report.Drifts = []Drift{}
	}
	for _, d := range drifts {
		s.logger.Warn("mapping session drift", slog.Int64("mapping_id", d.MappingID), slog.Int("recorded", d.Recorded), slog.Int("actual", d.Actual))
		if err := s.repo.ApplyDrift(ctx, d); err != nil {
			if errors.Is(err, shared.ErrConflict) {
				// Changed concurrently; the next run picks it up again.
				continue
			}
			return report, err
		}
		report.Fixed++
	}
	return report, nil
}

// Expire completes ACTIVE mappings whose end date has passed.
func (s *Service) Expire(ctx context.Context) (int, error) {
	due, err := s.repo.DueForExpiry(ctx, today(s.now()))
	if err != nil {
		return 0, err
	}
	done := 0
	for _, m := range due {
		version := m.Version
		m.Status = StatusCompleted
		if _, err := s.repo.Save(ctx, m, version, Event{Kind: EventStatus, FromStatus: StatusActive, ToStatus: StatusCompleted, Note: "유효 기간 만료"}); err != nil {
			if errors.Is(err, shared.ErrConflict) {
				continue
			}
			return done, err
		}
		done++
	}
	if done > 0 {
		s.logger.Info("mappings expired", slog.Int("count", done))
	}
	return done, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "mapping", EntityID: strconv.FormatInt(id, 10), Meta: meta}); err != nil {
		s.logger.Warn("audit mapping", slog.Any("error", err))
	}
}

func today(now time.Time) time.Time {
	t := now.In(shared.Seoul)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, shared.Seoul)
}
