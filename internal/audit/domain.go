package audit

import (
	"encoding/json"
	"time"

	"github.com/counselhub/counselhub/internal/shared"
)

// Filters narrows the audit timeline. From and To are inclusive calendar days in Seoul time.
type Filters struct {
	From     time.Time
	To       time.Time
	ActorID  *int64
	Entity   string
	EntityID string
	Action   string
	BranchID *int64
	Page     int
	PageSize int
}

// Entry is one audit row with the actor resolved.
type Entry struct {
	ID         int64           `json:"id"`
	At         time.Time       `json:"at"`
	ActorID    int64           `json:"actor_id"`
	ActorName  string          `json:"actor_name"`
	ActorEmail string          `json:"actor_email"`
	Action     string          `json:"action"`
	Entity     string          `json:"entity"`
	EntityID   string          `json:"entity_id"`
	Meta       json.RawMessage `json:"meta,omitempty"`
}

// Paging describes a window of the timeline without a total count.
type Paging struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Result is one page of the timeline.
type Result struct {
	Entries []Entry `json:"entries"`
	Paging  Paging  `json:"paging"`
}

var (
	ErrInvalidRange = shared.NewUserError(shared.ErrValidation, "조회 기간이 올바르지 않습니다. (최대 90일)")
	ErrTooManyRows  = shared.NewUserError(shared.ErrValidation, "내보낼 감사 기록이 너무 많습니다. 기간을 줄여 주세요.")
)
