package schedules

import (
	"time"

	"github.com/counselhub/counselhub/internal/shared"
)

// Schedule statuses.
const (
	StatusBooked    = "BOOKED"
	StatusConfirmed = "CONFIRMED"
	StatusCompleted = "COMPLETED"
	StatusNoShow    = "NO_SHOW"
	StatusCancelled = "CANCELLED"
)

var transitions = map[string][]string{
	StatusBooked:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusNoShow, StatusCancelled},
}

// CanTransition reports whether a schedule may move between statuses.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsOpen reports whether status still holds a future booking.
func IsOpen(status string) bool {
	return status == StatusBooked || status == StatusConfirmed
}

// Schedule is one counselling session slot.
type Schedule struct {
	ID              int64      `json:"id"`
	MappingID       int64      `json:"mapping_id"`
	BranchID        int64      `json:"branch_id"`
	ConsultantID    int64      `json:"consultant_id"`
	ConsultantName  string     `json:"consultant_name"`
	ClientID        int64      `json:"client_id"`
	ClientName      string     `json:"client_name"`
	StartsAt        time.Time  `json:"starts_at"`
	EndsAt          time.Time  `json:"ends_at"`
	Status          string     `json:"status"`
	Notes           string     `json:"notes"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	ConsumedSession bool       `json:"consumed_session"`
	RemindedAt      *time.Time `json:"reminded_at,omitempty"`
	Version         int        `json:"version"`
	CreatedBy       int64      `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals intersect.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Slot is one bookable period of a consultant's day.
type Slot struct {
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Available bool      `json:"available"`
}

// ListFilter narrows schedule lists.
type ListFilter struct {
	BranchID     *int64
	ConsultantID *int64
	ClientID     *int64
	MappingID    *int64
	Status       string
	From         *time.Time
	To           *time.Time
	Page         shared.PageRequest
}

// BookInput books a session against a mapping.
type BookInput struct {
	MappingID int64     `json:"mapping_id" validate:"required"`
	StartsAt  time.Time `json:"starts_at" validate:"required"`
	Minutes   int       `json:"minutes" validate:"omitempty,min=10,max=240"`
	Notes     string    `json:"notes" validate:"max=1000"`
}

// RescheduleInput moves an open schedule.
type RescheduleInput struct {
	StartsAt time.Time `json:"starts_at" validate:"required"`
	Minutes  int       `json:"minutes" validate:"omitempty,min=10,max=240"`
	Notes    *string   `json:"notes" validate:"omitempty,max=1000"`
	Version  int       `json:"version" validate:"required"`
}

// ActionInput carries a status change.
type ActionInput struct {
	Reason  string `json:"reason" validate:"max=500"`
	Version int    `json:"version" validate:"required"`
}

// Reminder is a schedule due for a reminder message.
type Reminder struct {
	ScheduleID     int64
	ClientName     string
	ClientPhone    string
	ConsultantName string
	StartsAt       time.Time
}

var (
	ErrNotFound          = shared.NewUserError(shared.ErrNotFound, "상담 일정을 찾을 수 없습니다.")
	ErrInvalidTransition = shared.NewUserError(shared.ErrInvalidState, "현재 일정 상태에서는 처리할 수 없습니다.")
	ErrOverlap           = shared.NewUserError(shared.ErrDuplicate, "해당 시간에 이미 다른 일정이 있습니다.")
	ErrOutsideHours      = shared.NewUserError(shared.ErrValidation, "운영 시간 내에서만 예약할 수 있습니다.")
	ErrInPast            = shared.NewUserError(shared.ErrValidation, "지난 시간으로는 예약할 수 없습니다.")
	ErrMappingNotActive  = shared.NewUserError(shared.ErrInvalidState, "진행 중인 매칭에서만 예약할 수 있습니다.")
	ErrMappingExpired    = shared.NewUserError(shared.ErrInvalidState, "매칭 유효 기간이 지난 날짜입니다.")
	ErrNoSessionsLeft    = shared.NewUserError(shared.ErrInvalidState, "예약 가능한 잔여 회기가 없습니다.")
	ErrCancelDeadline    = shared.NewUserError(shared.ErrInvalidState, "취소 가능 기한이 지났습니다. 센터로 문의해 주세요.")
	ErrNotStarted        = shared.NewUserError(shared.ErrInvalidState, "상담 시작 시간 이후에 처리할 수 있습니다.")
)
