package discounts

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/counselhub/counselhub/internal/shared"
)

// Service manages discounts and price quotes.
type Service struct {
	repo   Repository
	audit  shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAuditRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// List returns a page of discounts.
func (s *Service) List(ctx context.Context, filter ListFilter) (shared.PagedResult[Discount], error) {
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return shared.PagedResult[Discount]{}, err
	}
	return shared.NewPagedResult(items, filter.Page, total), nil
}

// Get loads one discount.
func (s *Service) Get(ctx context.Context, id int64) (Discount, error) {
	return s.repo.Get(ctx, id)
}

// Resolve looks a discount code up. An empty code resolves to nil.
func (s *Service) Resolve(ctx context.Context, code string) (*Discount, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, nil
	}
	d, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Quote prices base with an optional discount code.
func (s *Service) Quote(ctx context.Context, base int64, code string) (Calculation, error) {
	d, err := s.Resolve(ctx, code)
	if err != nil {
		return Calculation{}, err
	}
	return Calculate(base, d, s.now())
}

// Verify checks an amount breakdown against a fresh calculation.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (VerifyResult, error) {
	var d *Discount
	switch {
	case in.DiscountCode != "":
		found, err := s.Resolve(ctx, in.DiscountCode)
		if err != nil {
			return VerifyResult{}, err
		}
		d = found
	case in.DiscountID != nil:
		found, err := s.repo.Get(ctx, *in.DiscountID)
		if err != nil {
			return VerifyResult{}, err
		}
		d = &found
	}
	res := Verify(in.Calculation, d)
	if !res.Consistent {
		s.logger.Warn("amount verification mismatch", slog.Int64("base", in.BaseAmount), slog.Int("fields", len(res.Mismatches)))
	}
	return res, nil
}

// Create validates and stores a discount.
func (s *Service) Create(ctx context.Context, actorID int64, form Form) (Discount, error) {
	d, err := fromForm(form)
	if err != nil {
		return Discount{}, err
	}
	created, err := s.repo.Create(ctx, d)
	if err != nil {
		return Discount{}, err
	}
	s.record(ctx, actorID, "DISCOUNT_CREATE", created.ID, map[string]any{"code": created.Code})
	return created, nil
}

// Update changes a discount using optimistic locking.
func (s *Service) Update(ctx context.Context, actorID, id int64, form Form) (Discount, error) {
	if form.Version <= 0 {
		return Discount{}, shared.NewUserError(shared.ErrValidation, "버전 정보가 필요합니다.")
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Discount{}, err
	}
	d, err := fromForm(form)
	if err != nil {
		return Discount{}, err
	}
	if d.UsageLimit != nil && *d.UsageLimit < current.UsageCount {
		return Discount{}, shared.NewUserError(shared.ErrValidation, "사용 한도는 이미 사용된 횟수보다 작을 수 없습니다.")
	}
	d.ID = id
	updated, err := s.repo.Update(ctx, d, form.Version)
	if err != nil {
		return Discount{}, err
	}
	s.record(ctx, actorID, "DISCOUNT_UPDATE", id, nil)
	return updated, nil
}

// Delete soft deletes a discount.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "DISCOUNT_DELETE", id, nil)
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "discount", EntityID: strconv.FormatInt(id, 10), Meta: meta}); err != nil {
		s.logger.Warn("audit discount", slog.Any("error", err))
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func fromForm(form Form) (Discount, error) {
	if form.Type == TypePercent && (form.Value < 1 || form.Value > 100) {
		return Discount{}, ErrInvalidPercent
	}
	if form.ValidFrom != nil && form.ValidTo != nil && !form.ValidTo.After(*form.ValidFrom) {
		return Discount{}, ErrInvalidWindow
	}
	active := true
	if form.IsActive != nil {
		active = *form.IsActive
	}
	d := Discount{
		Code:        normalizeCode(form.Code),
		Name:        strings.TrimSpace(form.Name),
		Type:        form.Type,
		Value:       form.Value,
		MaxDiscount: form.MaxDiscount,
		MinAmount:   form.MinAmount,
		ValidFrom:   form.ValidFrom,
		ValidTo:     form.ValidTo,
		UsageLimit:  form.UsageLimit,
		IsActive:    active,
	}
	if d.Code == "" {
		return Discount{}, shared.NewUserError(shared.ErrValidation, "할인 코드를 입력해 주세요.")
	}
	return d, nil
}
