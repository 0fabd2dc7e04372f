package discounts

import (
	"time"

	"github.com/counselhub/counselhub/internal/shared"
)

// Discount types.
const (
	TypePercent = "PERCENT"
	TypeFixed   = "FIXED"
)

// Discount is a reusable price reduction applied when a mapping is sold.
type Discount struct {
	ID          int64      `json:"id"`
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Value       int64      `json:"value"`
	MaxDiscount *int64     `json:"max_discount,omitempty"`
	MinAmount   int64      `json:"min_amount"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"`
	ValidTo     *time.Time `json:"valid_to,omitempty"`
	UsageLimit  *int       `json:"usage_limit,omitempty"`
	UsageCount  int        `json:"usage_count"`
	IsActive    bool       `json:"is_active"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Applicable reports whether d can be used for base at the given time.
func (d Discount) Applicable(base int64, at time.Time) error {
	switch {
	case !d.IsActive:
		return ErrInactive
	case d.ValidFrom != nil && at.Before(*d.ValidFrom):
		return ErrNotStarted
	case d.ValidTo != nil && !at.Before(*d.ValidTo):
		return ErrExpired
	case d.UsageLimit != nil && d.UsageCount >= *d.UsageLimit:
		return ErrUsageExhausted
	case base < d.MinAmount:
		return ErrBelowMinimum
	}
	return nil
}

// Form is the create/update payload.
type Form struct {
	Code        string     `json:"code" validate:"required,max=30"`
	Name        string     `json:"name" validate:"required,max=100"`
	Type        string     `json:"type" validate:"required,oneof=PERCENT FIXED"`
	Value       int64      `json:"value" validate:"required,gt=0"`
	MaxDiscount *int64     `json:"max_discount" validate:"omitempty,gt=0"`
	MinAmount   int64      `json:"min_amount" validate:"gte=0"`
	ValidFrom   *time.Time `json:"valid_from"`
	ValidTo     *time.Time `json:"valid_to"`
	UsageLimit  *int       `json:"usage_limit" validate:"omitempty,gt=0"`
	IsActive    *bool      `json:"is_active"`
	Version     int        `json:"version"`
}

// ListFilter narrows the discount list.
type ListFilter struct {
	Search string
	Active *bool
	Page   shared.PageRequest
}

// CalculateInput asks for a price quote.
type CalculateInput struct {
	BaseAmount   int64  `json:"base_amount" validate:"required,gt=0"`
	DiscountCode string `json:"discount_code" validate:"omitempty,max=30"`
}

// VerifyInput checks a stored or client-computed amount set.
type VerifyInput struct {
	Calculation
	DiscountCode string `json:"discount_code" validate:"omitempty,max=30"`
}

// Calculation is the amount breakdown of one sale in whole won.
type Calculation struct {
	BaseAmount     int64  `json:"base_amount" validate:"required,gt=0"`
	DiscountID     *int64 `json:"discount_id,omitempty"`
	DiscountAmount int64  `json:"discount_amount" validate:"gte=0"`
	FinalAmount    int64  `json:"final_amount" validate:"gte=0"`
	SupplyAmount   int64  `json:"supply_amount" validate:"gte=0"`
	VATAmount      int64  `json:"vat_amount" validate:"gte=0"`
}

// Mismatch describes a field that differs from the recomputed value.
type Mismatch struct {
	Field    string `json:"field"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
}

// VerifyResult is returned by Verify.
type VerifyResult struct {
	Consistent bool        `json:"consistent"`
	Expected   Calculation `json:"expected"`
	Mismatches []Mismatch  `json:"mismatches"`
}

var (
	ErrNotFound       = shared.NewUserError(shared.ErrNotFound, "할인을 찾을 수 없습니다.")
	ErrDuplicateCode  = shared.NewUserError(shared.ErrDuplicate, "이미 사용 중인 할인 코드입니다.")
	ErrInactive       = shared.NewUserError(shared.ErrValidation, "사용할 수 없는 할인입니다.")
	ErrNotStarted     = shared.NewUserError(shared.ErrValidation, "아직 사용 기간이 아닌 할인입니다.")
	ErrExpired        = shared.NewUserError(shared.ErrValidation, "사용 기간이 지난 할인입니다.")
	ErrUsageExhausted = shared.NewUserError(shared.ErrConflict, "할인 사용 한도를 초과했습니다.")
	ErrBelowMinimum   = shared.NewUserError(shared.ErrValidation, "할인 적용 최소 금액에 미달합니다.")
	ErrInvalidPercent = shared.NewUserError(shared.ErrValidation, "정률 할인은 1~100 사이여야 합니다.")
	ErrInvalidWindow  = shared.NewUserError(shared.ErrValidation, "할인 종료일은 시작일 이후여야 합니다.")
	ErrInvalidAmount  = shared.NewUserError(shared.ErrValidation, "금액은 0보다 커야 합니다.")
)
