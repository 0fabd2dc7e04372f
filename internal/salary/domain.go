package salary

import (
	"time"

	"github.com/google/uuid"

	"github.com/counselhub/counselhub/internal/shared"
)

// Tax types of a consultant profile.
const (
	TaxBusinessIncome = "BUSINESS_INCOME"
	TaxNone           = "NONE"
)

// Batch statuses.
const (
	BatchQueued     = "QUEUED"
	BatchRunning    = "RUNNING"
	BatchCalculated = "CALCULATED"
	BatchApproved   = "APPROVED"
	BatchFailed     = "FAILED"
)

// ApprovalModule tags salary batches in the approvals table.
const ApprovalModule = "salary_batch"

// Profile holds the pay terms of a consultant.
type Profile struct {
	ConsultantID     int64     `json:"consultant_id"`
	ConsultantName   string    `json:"consultant_name"`
	PerSessionRate   int64     `json:"per_session_rate"`
	MonthlyIncentive int64     `json:"monthly_incentive"`
	TaxType          string    `json:"tax_type"`
	Version          int       `json:"version"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ProfileInput updates a profile. Version 0 creates it.
type ProfileInput struct {
	PerSessionRate   int64  `json:"per_session_rate" validate:"gte=0"`
	MonthlyIncentive int64  `json:"monthly_incentive" validate:"gte=0"`
	TaxType          string `json:"tax_type" validate:"required,oneof=BUSINESS_INCOME NONE"`
	Version          int    `json:"version" validate:"gte=0"`
}

// Batch is one salary calculation run for a period and optional branch.
type Batch struct {
	ID          int64      `json:"id"`
	RunID       uuid.UUID  `json:"run_id"`
	Period      string     `json:"period"`
	BranchID    *int64     `json:"branch_id,omitempty"`
	Status      string     `json:"status"`
	RequestedBy int64      `json:"requested_by"`
	ApprovedBy  *int64     `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	RecordCount int        `json:"record_count"`
	TotalGross  int64      `json:"total_gross"`
	TotalTax    int64      `json:"total_tax"`
	TotalNet    int64      `json:"total_net"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ScopeID is the branch the batch lock and uniqueness are keyed on; 0 means every branch.
func (b Batch) ScopeID() int64 {
	if b.BranchID == nil {
		return 0
	}
	return *b.BranchID
}

// BatchDetail adds the approval trail.
type BatchDetail struct {
	Batch
	Approvals []shared.ApprovalLog `json:"approvals"`
}

// Record is the computed pay of one consultant in a batch.
type Record struct {
	ID             int64     `json:"id"`
	BatchID        int64     `json:"batch_id"`
	Period         string    `json:"period"`
	BatchStatus    string    `json:"batch_status"`
	ConsultantID   int64     `json:"consultant_id"`
	ConsultantName string    `json:"consultant_name"`
	BranchID       *int64    `json:"branch_id,omitempty"`
	SessionCount   int       `json:"session_count"`
	PerSessionRate int64     `json:"per_session_rate"`
	Incentive      int64     `json:"incentive"`
	Gross          int64     `json:"gross"`
	IncomeTax      int64     `json:"income_tax"`
	LocalTax       int64     `json:"local_tax"`
	Net            int64     `json:"net"`
	CreatedAt      time.Time `json:"created_at"`
}

// WorkCount is the number of session-consuming schedules of a consultant.
type WorkCount struct {
	ConsultantID int64
	BranchID     *int64
	Sessions     int
}

// RunInput requests a batch.
type RunInput struct {
	Period   string `json:"period" validate:"required,len=7"`
	BranchID *int64 `json:"branch_id"`
}

// ApproveInput approves a calculated batch.
type ApproveInput struct {
	Note string `json:"note" validate:"max=500"`
}

// BatchFilter narrows batch lists.
type BatchFilter struct {
	Period   string
	BranchID *int64
	Status   string
	Page     shared.PageRequest
}

// RecordFilter narrows record lists.
type RecordFilter struct {
	BatchID      *int64
	ConsultantID *int64
	BranchID     *int64
	Period       string
	Page         shared.PageRequest
}

var (
	ErrBatchNotFound   = shared.NewUserError(shared.ErrNotFound, "급여 정산 내역을 찾을 수 없습니다.")
	ErrRecordNotFound  = shared.NewUserError(shared.ErrNotFound, "급여 명세를 찾을 수 없습니다.")
	ErrProfileNotFound = shared.NewUserError(shared.ErrNotFound, "급여 기준 정보가 등록되지 않았습니다.")
	ErrBatchApproved   = shared.NewUserError(shared.ErrInvalidState, "승인된 정산은 다시 계산할 수 없습니다.")
	ErrBatchBusy       = shared.NewUserError(shared.ErrConflict, "이미 계산 중인 정산입니다. 잠시 후 다시 시도해 주세요.")
	ErrScopeOverlap    = shared.NewUserError(shared.ErrConflict, "같은 기간에 전체 정산과 지점 정산을 함께 진행할 수 없습니다.")
	ErrNotCalculated   = shared.NewUserError(shared.ErrInvalidState, "계산이 완료된 정산만 승인할 수 있습니다.")
	ErrFuturePeriod    = shared.NewUserError(shared.ErrValidation, "아직 시작되지 않은 기간은 정산할 수 없습니다.")
	ErrNotConsultant   = shared.NewUserError(shared.ErrValidation, "상담사 계정이 아닙니다.")
)
