package commoncodes

import (
	"encoding/json"
	"time"

	"github.com/counselhub/counselhub/internal/shared"
)

// Group is a named collection of codes, e.g. CONSULT_TYPE.
type Group struct {
	GroupCode   string    `json:"group_code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CodeCount   int       `json:"code_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Code is one reference value inside a group.
type Code struct {
	ID        int64           `json:"id"`
	GroupCode string          `json:"group_code"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	SortOrder int             `json:"sort_order"`
	IsActive  bool            `json:"is_active"`
	Extra     json.RawMessage `json:"extra"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GroupForm creates a group.
type GroupForm struct {
	GroupCode   string `json:"group_code" validate:"required,max=50"`
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=255"`
}

// CodeForm creates or updates a code.
type CodeForm struct {
	GroupCode string          `json:"group_code" validate:"required,max=50"`
	Code      string          `json:"code" validate:"required,max=50"`
	Name      string          `json:"name" validate:"required,max=100"`
	SortOrder int             `json:"sort_order" validate:"gte=0"`
	IsActive  *bool           `json:"is_active"`
	Extra     json.RawMessage `json:"extra"`
	Version   int             `json:"version"`
}

var (
	ErrGroupNotFound  = shared.NewUserError(shared.ErrNotFound, "공통코드 그룹을 찾을 수 없습니다.")
	ErrCodeNotFound   = shared.NewUserError(shared.ErrNotFound, "공통코드를 찾을 수 없습니다.")
	ErrDuplicateGroup = shared.NewUserError(shared.ErrDuplicate, "이미 존재하는 그룹 코드입니다.")
	ErrDuplicateCode  = shared.NewUserError(shared.ErrDuplicate, "그룹 내에 이미 존재하는 코드입니다.")
	ErrInvalidExtra   = shared.NewUserError(shared.ErrValidation, "추가 정보는 JSON 객체여야 합니다.")
	ErrInvalidKey     = shared.NewUserError(shared.ErrValidation, "코드는 영문 대문자, 숫자, '_'만 사용할 수 있습니다.")
)
