package mappings

import (
	"time"

	"github.com/counselhub/counselhub/internal/shared"
)

// Mapping statuses.
const (
	StatusPendingPayment = "PENDING_PAYMENT"
	StatusActive         = "ACTIVE"
	StatusPaused         = "PAUSED"
	StatusCompleted      = "COMPLETED"
	StatusTerminated     = "TERMINATED"
)

var transitions = map[string][]string{
	StatusPendingPayment: {StatusActive, StatusTerminated},
	StatusActive:         {StatusPaused, StatusCompleted, StatusTerminated},
	StatusPaused:         {StatusActive, StatusTerminated},
}

// CanTransition reports whether a mapping may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsFinal reports whether status accepts no further transitions.
func IsFinal(status string) bool {
	return status == StatusCompleted || status == StatusTerminated
}

// CanConsume reports whether a booked schedule may still draw a session from
// a mapping in status. Booking requires ACTIVE, so PAUSED and expired
// mappings only serve schedules made before the change.
func CanConsume(status string) bool {
	return status == StatusActive || status == StatusPaused || status == StatusCompleted
}

// AfterConsume returns the status once one more session has been used.
func AfterConsume(status string, used, total int) string {
	if used+1 >= total && (status == StatusActive || status == StatusPaused) {
		return StatusCompleted
	}
	return status
}

// Event kinds written to the mapping ledger.
const (
	EventCreated = "CREATED"
	EventStatus  = "STATUS"
	EventConsume = "CONSUME"
	EventRestore = "RESTORE"
	EventExtend  = "EXTEND"
)

// Mapping assigns a client to a consultant with a prepaid session balance.
type Mapping struct {
	ID             int64      `json:"id"`
	BranchID       int64      `json:"branch_id"`
	ConsultantID   int64      `json:"consultant_id"`
	ConsultantName string     `json:"consultant_name"`
	ClientID       int64      `json:"client_id"`
	ClientName     string     `json:"client_name"`
	Status         string     `json:"status"`
	PackageName    string     `json:"package_name"`
	TotalSessions  int        `json:"total_sessions"`
	UsedSessions   int        `json:"used_sessions"`
	BaseAmount     int64      `json:"base_amount"`
	DiscountID     *int64     `json:"discount_id,omitempty"`
	DiscountAmount int64      `json:"discount_amount"`
	FinalAmount    int64      `json:"final_amount"`
	SupplyAmount   int64      `json:"supply_amount"`
	VATAmount      int64      `json:"vat_amount"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	PaymentMethod  string     `json:"payment_method"`
	Memo           string     `json:"memo"`
	Version        int        `json:"version"`
	CreatedBy      int64      `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Remaining returns the unused session balance, never negative.
func (m Mapping) Remaining() int {
	if r := m.TotalSessions - m.UsedSessions; r > 0 {
		return r
	}
	return 0
}

// View adds derived fields for API responses.
type View struct {
	Mapping
	RemainingSessions int `json:"remaining_sessions"`
}

func toView(m Mapping) View { return View{Mapping: m, RemainingSessions: m.Remaining()} }

// Event is one ledger row of a mapping.
type Event struct {
	ID         int64     `json:"id"`
	MappingID  int64     `json:"mapping_id"`
	Kind       string    `json:"kind"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	Delta      int       `json:"delta"`
	ScheduleID *int64    `json:"schedule_id,omitempty"`
	ActorID    int64     `json:"actor_id"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListFilter narrows mapping lists.
type ListFilter struct {
	BranchID     *int64
	ConsultantID *int64
	ClientID     *int64
	Status       string
	Page         shared.PageRequest
}

// CreateInput opens a new mapping awaiting payment.
type CreateInput struct {
	ConsultantID  int64  `json:"consultant_id" validate:"required"`
	ClientID      int64  `json:"client_id" validate:"required"`
	PackageName   string `json:"package_name" validate:"max=100"`
	TotalSessions int    `json:"total_sessions" validate:"required,min=1,max=200"`
	BaseAmount    int64  `json:"base_amount" validate:"required,gt=0"`
	DiscountCode  string `json:"discount_code" validate:"omitempty,max=30"`
	Memo          string `json:"memo" validate:"max=1000"`
}

// PaymentInput records an offline payment.
type PaymentInput struct {
	PaymentMethod string     `json:"payment_method" validate:"required,oneof=CARD CASH TRANSFER"`
	PaidAt        *time.Time `json:"paid_at"`
	Version       int        `json:"version" validate:"required"`
}

// ExtendInput adds sessions and/or validity days.
type ExtendInput struct {
	Sessions int    `json:"sessions" validate:"gte=0,max=200"`
	Days     int    `json:"days" validate:"gte=0,max=730"`
	Note     string `json:"note" validate:"max=500"`
	Version  int    `json:"version" validate:"required"`
}

// StatusInput moves a mapping between statuses.
type StatusInput struct {
	Reason  string `json:"reason" validate:"max=500"`
	Version int    `json:"version" validate:"required"`
}

// Drift is a mapping whose recorded usage differs from its completed schedules.
type Drift struct {
	MappingID int64 `json:"mapping_id"`
	Recorded  int   `json:"recorded"`
	Actual    int   `json:"actual"`
	Total     int   `json:"total"`
}

// SyncReport summarises a sync run.
type SyncReport struct {
	Checked int     `json:"checked"`
	Fixed   int     `json:"fixed"`
	Drifts  []Drift `json:"drifts"`
}

var (
	ErrNotFound          = shared.NewUserError(shared.ErrNotFound, "매칭 정보를 찾을 수 없습니다.")
	ErrInvalidTransition = shared.NewUserError(shared.ErrInvalidState, "현재 매칭 상태에서는 처리할 수 없습니다.")
	ErrNoSessionsLeft    = shared.NewUserError(shared.ErrInvalidState, "남은 상담 회기가 없습니다.")
	ErrNotActive         = shared.NewUserError(shared.ErrInvalidState, "진행 중인 매칭이 아닙니다.")
	ErrClosed            = shared.NewUserError(shared.ErrInvalidState, "종료되었거나 결제 전인 매칭의 회기는 차감할 수 없습니다.")
	ErrConsultantRole    = shared.NewUserError(shared.ErrValidation, "상담사 계정이 아닙니다.")
	ErrClientRole        = shared.NewUserError(shared.ErrValidation, "내담자 계정이 아닙니다.")
	ErrBranchMismatch    = shared.NewUserError(shared.ErrValidation, "상담사와 내담자의 소속 지점이 다릅니다.")
	ErrDuplicateActive   = shared.NewUserError(shared.ErrDuplicate, "이미 진행 중인 매칭이 있습니다.")
	ErrEmptyExtension    = shared.NewUserError(shared.ErrValidation, "추가할 회기 또는 기간을 입력해 주세요.")
)
