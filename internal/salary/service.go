package salary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/sysconfig"
	"github.com/counselhub/counselhub/internal/users"
)

// lockTTL bounds how long one calculation may hold its scope.
const lockTTL = 10 * time.Minute

// Locker guards a batch scope across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*shared.Lock, error)
}

// Enqueuer schedules the background calculation of a batch.
type Enqueuer interface {
	EnqueueSalaryRun(ctx context.Context, batchID int64) error
}

// Approvals stores the approval trail of batches.
type Approvals interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, module string, ref int64) ([]shared.ApprovalLog, error)
}

// Accounts resolves consultants.
type Accounts interface {
	Get(ctx context.Context, id int64) (users.User, error)
}

// Deps groups Service collaborators.
type Deps struct {
	Repo      Repository
	Accounts  Accounts
	Settings  sysconfig.Reader
	Locker    Locker
	Queue     Enqueuer
	Approvals Approvals
	Renderer  Renderer
	Audit     shared.AuditRecorder
	Logger    *slog.Logger
}

// Service runs salary batches.
type Service struct {
	Deps
	now func() time.Time
}

// NewService constructs a Service.
func NewService(deps Deps) *Service {
	if deps.Audit == nil {
		deps.Audit = shared.NopAuditRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{Deps: deps, now: time.Now}
}

func (s *Service) rates(ctx context.Context) Rates {
	return Rates{
		Income: s.Settings.Decimal(ctx, sysconfig.KeyIncomeTaxRate, DefaultRates.Income),
		Local:  s.Settings.Decimal(ctx, sysconfig.KeyLocalTaxRate, DefaultRates.Local),
	}
}

func (s *Service) consultant(ctx context.Context, p *shared.Principal, id int64) (users.User, error) {
	if p.Role == shared.RoleConsultant && p.UserID != id {
		return users.User{}, shared.ErrForbidden
	}
	u, err := s.Accounts.Get(ctx, id)
	if err != nil {
		return users.User{}, err
	}
	if u.Role != shared.RoleConsultant {
		return users.User{}, ErrNotConsultant
	}
	if p.IsAdmin() && !p.IsHQ() && (u.BranchID == nil || !p.CanAccessBranch(*u.BranchID)) {
		return users.User{}, shared.ErrForbidden
	}
	return u, nil
}

// Profile returns a consultant's pay terms.
func (s *Service) Profile(ctx context.Context, p *shared.Principal, consultantID int64) (Profile, error) {
	if _, err := s.consultant(ctx, p, consultantID); err != nil {
		return Profile{}, err
	}
	return s.Repo.GetProfile(ctx, consultantID)
}

// SaveProfile creates or updates a consultant's pay terms.
func (s *Service) SaveProfile(ctx context.Context, p *shared.Principal, consultantID int64, in ProfileInput) (Profile, error) {
	u, err := s.consultant(ctx, p, consultantID)
	if err != nil {
		return Profile{}, err
	}
	saved, err := s.Repo.SaveProfile(ctx, Profile{
		ConsultantID:     u.ID,
		PerSessionRate:   in.PerSessionRate,
		MonthlyIncentive: in.MonthlyIncentive,
		TaxType:          in.TaxType,
	}, in.Version)
	if err != nil {
		return Profile{}, err
	}
	s.record(ctx, p.UserID, "SALARY_PROFILE_SAVE", "salary_profile", consultantID, map[string]any{
		"per_session_rate": in.PerSessionRate, "monthly_incentive": in.MonthlyIncentive, "tax_type": in.TaxType,
	})
	return saved, nil
}

// Request queues the calculation of a period. Branch admins are pinned to their branch.
func (s *Service) Request(ctx context.Context, p *shared.Principal, in RunInput) (Batch, error) {
	start, _, err := shared.ParsePeriod(in.Period)
	if err != nil {
		return Batch{}, err
	}
	if start.After(s.now()) {
		return Batch{}, ErrFuturePeriod
	}
	branchID := p.ScopeBranch(in.BranchID)
	guard, err := s.Locker.Acquire(ctx, shared.SalaryPeriodLockKey(in.Period), time.Minute)
	if err != nil {
		return Batch{}, err
	}
	defer func() {
		if err := guard.Release(context.WithoutCancel(ctx)); err != nil {
			s.Logger.Warn("release salary period lock", slog.Any("error", err))
		}
	}()
	if err := s.checkOverlap(ctx, in.Period, branchID, 0); err != nil {
		return Batch{}, err
	}
	existing, err := s.Repo.FindBatch(ctx, in.Period, branchID)
	switch {
	case err == nil && existing.Status == BatchApproved:
		return Batch{}, ErrBatchApproved
	case err == nil && existing.Status == BatchRunning:
		return Batch{}, ErrBatchBusy
	case err != nil && !errors.Is(err, ErrBatchNotFound):
		return Batch{}, err
	}
	b, err := s.Repo.QueueBatch(ctx, in.Period, branchID, p.UserID)
	if err != nil {
		return Batch{}, err
	}
	if err := s.Queue.EnqueueSalaryRun(ctx, b.ID); err != nil {
		_ = s.Repo.FailBatch(ctx, b.ID, b.RunID, "enqueue failed")
		return Batch{}, fmt.Errorf("enqueue salary run: %w", err)
	}
	if s.Approvals != nil {
		if err := s.Approvals.Record(ctx, shared.ApprovalLog{Module: ApprovalModule, RefID: b.ID, ActorID: p.UserID, Action: shared.ApprovalSubmit}); err != nil {
			s.Logger.Warn("salary approval submit", slog.Any("error", err))
		}
	}
	s.record(ctx, p.UserID, "SALARY_BATCH_REQUEST", "salary_batch", b.ID, map[string]any{"period": b.Period, "branch_id": b.BranchID})
	return b, nil
}

// Run calculates a queued batch. It is called by the background worker.
func (s *Service) Run(ctx context.Context, batchID int64) (Batch, error) {
	b, err := s.Repo.GetBatch(ctx, batchID)
	if err != nil {
		return Batch{}, err
	}
	if b.Status == BatchApproved {
		return b, ErrBatchApproved
	}
	lock, err := s.Locker.Acquire(ctx, shared.SalaryLockKey(b.Period, b.ScopeID()), lockTTL)
	if err != nil {
		return Batch{}, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.Logger.Warn("release salary lock", slog.Any("error", err))
		}
	}()
	if err := s.checkOverlap(ctx, b.Period, b.BranchID, b.ID); err != nil {
		if ferr := s.Repo.FailBatch(ctx, b.ID, b.RunID, err.Error()); ferr != nil {
			s.Logger.Error("mark salary batch failed", slog.Int64("batch_id", b.ID), slog.Any("error", ferr))
		}
		return Batch{}, err
	}
	if err := s.Repo.StartBatch(ctx, b.ID, b.RunID); err != nil {
		return Batch{}, err
	}
	records, err := s.calculate(ctx, b)
	if err == nil {
		err = s.Repo.CompleteBatch(ctx, b.ID, b.RunID, records)
	}
	if err != nil {
		if ferr := s.Repo.FailBatch(context.WithoutCancel(ctx), b.ID, b.RunID, err.Error()); ferr != nil {
			s.Logger.Error("mark salary batch failed", slog.Int64("batch_id", b.ID), slog.Any("error", ferr))
		}
		return Batch{}, err
	}
	s.Logger.Info("salary batch calculated", slog.Int64("batch_id", b.ID), slog.String("period", b.Period), slog.Int("records", len(records)))
	return s.Repo.GetBatch(ctx, b.ID)
}

// checkOverlap refuses a scope that would count the same schedules as another
// batch of the period. Failed batches without records do not count.
func (s *Service) checkOverlap(ctx context.Context, period string, branchID *int64, self int64) error {
	others, err := s.Repo.OverlappingBatches(ctx, period, branchID)
	if err != nil {
		return err
	}
	for _, o := range others {
		if o.ID == self || (o.Status == BatchFailed && o.RecordCount == 0) {
			continue
		}
		return ErrScopeOverlap
	}
	return nil
}

func (s *Service) calculate(ctx context.Context, b Batch) ([]Record, error) {
	from, to, err := shared.ParsePeriod(b.Period)
	if err != nil {
		return nil, err
	}
	counts, err := s.Repo.WorkCounts(ctx, from, to, b.BranchID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(counts))
	for _, c := range counts {
		ids = append(ids, c.ConsultantID)
	}
	profiles, err := s.Repo.ProfilesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	rates := s.rates(ctx)
	records := make([]Record, 0, len(counts))
	for _, c := range counts {
		profile, ok := profiles[c.ConsultantID]
		if !ok {
			s.Logger.Warn("salary profile missing", slog.Int64("consultant_id", c.ConsultantID), slog.String("period", b.Period))
			continue
		}
		records = append(records, Compute(profile, c, rates))
	}
	return records, nil
}

// Approve freezes a calculated batch.
func (s *Service) Approve(ctx context.Context, p *shared.Principal, id int64, in ApproveInput) (Batch, error) {
	b, err := s.batch(ctx, p, id)
	if err != nil {
		return Batch{}, err
	}
	if b.Status != BatchCalculated {
		return Batch{}, ErrNotCalculated
	}
	approved, err := s.Repo.ApproveBatch(ctx, id, p.UserID)
	if err != nil {
		return Batch{}, err
	}
	if s.Approvals != nil {
		if err := s.Approvals.Record(ctx, shared.ApprovalLog{Module: ApprovalModule, RefID: id, ActorID: p.UserID, Action: shared.ApprovalApprove, Note: in.Note}); err != nil {
			s.Logger.Warn("salary approval", slog.Any("error", err))
		}
	}
	s.record(ctx, p.UserID, "SALARY_BATCH_APPROVE", "salary_batch", id, map[string]any{"total_net": approved.TotalNet})
	return approved, nil
}

func (s *Service) batch(ctx context.Context, p *shared.Principal, id int64) (Batch, error) {
	b, err := s.Repo.GetBatch(ctx, id)
	if err != nil {
		return Batch{}, err
	}
	if !p.IsHQ() && (b.BranchID == nil || !p.CanAccessBranch(*b.BranchID)) {
		return Batch{}, ErrBatchNotFound
	}
	return b, nil
}

// Batch returns a batch with its approval trail.
func (s *Service) Batch(ctx context.Context, p *shared.Principal, id int64) (BatchDetail, error) {
	b, err := s.batch(ctx, p, id)
	if err != nil {
		return BatchDetail{}, err
	}
	detail := BatchDetail{Batch: b, Approvals: []shared.ApprovalLog{}}
	if s.Approvals != nil {
		logs, err := s.Approvals.List(ctx, ApprovalModule, id)
		if err != nil {
			return BatchDetail{}, err
		}
		detail.Approvals = logs
	}
	return detail, nil
}

// Batches lists batches visible to the principal.
func (s *Service) Batches(ctx context.Context, p *shared.Principal, filter BatchFilter) (shared.PagedResult[Batch], error) {
	filter.BranchID = p.ScopeBranch(filter.BranchID)
	items, total, err := s.Repo.ListBatches(ctx, filter)
	if err != nil {
		return shared.PagedResult[Batch]{}, err
	}
	return shared.NewPagedResult(items, filter.Page, total), nil
}

// Records lists pay records. Consultants only see their own.
func (s *Service) Records(ctx context.Context, p *shared.Principal, filter RecordFilter) (shared.PagedResult[Record], error) {
	if p.Role == shared.RoleConsultant {
		filter.ConsultantID = &p.UserID
	} else {
		filter.BranchID = p.ScopeBranch(filter.BranchID)
	}
	items, total, err := s.Repo.ListRecords(ctx, filter)
	if err != nil {
		return shared.PagedResult[Record]{}, err
	}
	return shared.NewPagedResult(items, filter.Page, total), nil
}

func canSeeRecord(p *shared.Principal, rec Record) bool {
	switch {
	case p == nil:
		return false
	case p.Role == shared.RoleConsultant:
		return rec.ConsultantID == p.UserID
	case p.IsHQ():
		return true
	case p.IsAdmin():
		return rec.BranchID != nil && p.CanAccessBranch(*rec.BranchID)
	}
	return false
}

// Statement renders the PDF statement of a record.
func (s *Service) Statement(ctx context.Context, p *shared.Principal, recordID int64) ([]byte, string, error) {
	rec, err := s.Repo.GetRecord(ctx, recordID)
	if err != nil {
		return nil, "", err
	}
	if !canSeeRecord(p, rec) {
		return nil, "", ErrRecordNotFound
	}
	html, err := StatementHTML(rec, s.now())
	if err != nil {
		return nil, "", err
	}
	pdf, err := s.Renderer.RenderHTML(ctx, html)
	if err != nil {
		return nil, "", fmt.Errorf("render salary statement: %w", err)
	}
	return pdf, StatementFilename(rec), nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if err := s.Audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: strconv.FormatInt(id, 10), Meta: meta}); err != nil {
		s.Logger.Warn("audit salary", slog.Any("error", err))
	}
}
