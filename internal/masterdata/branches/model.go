package branches

import (
	"time"

	"github.com/counselhub/counselhub/internal/shared"
)

// Branch represents a counselling center location.
type Branch struct {
	ID             int64     `json:"id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Address        string    `json:"address"`
	Phone          string    `json:"phone"`
	IsHeadquarters bool      `json:"is_headquarters"`
	IsActive       bool      `json:"is_active"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BranchForm is the create/update payload.
type BranchForm struct {
	Code           string `json:"code" validate:"required,max=20"`
	Name           string `json:"name" validate:"required,max=100"`
	Address        string `json:"address" validate:"max=255"`
	Phone          string `json:"phone" validate:"max=30"`
	IsHeadquarters bool   `json:"is_headquarters"`
	IsActive       *bool  `json:"is_active"`
	Version        int    `json:"version"`
}

var (
	// ErrHeadquartersExists is returned when a second HQ would be created.
	ErrHeadquartersExists = shared.NewUserError(shared.ErrConflict, "본사는 하나만 등록할 수 있습니다.")
	// ErrHeadquartersRequired protects the HQ flag and row from removal.
	ErrHeadquartersRequired = shared.NewUserError(shared.ErrInvalidState, "본사 지점은 삭제하거나 본사 지정을 해제할 수 없습니다.")
	// ErrBranchInUse is returned when active users still belong to the branch.
	ErrBranchInUse = shared.NewUserError(shared.ErrInvalidState, "소속된 활성 사용자가 있어 지점을 삭제할 수 없습니다.")
	// ErrDuplicateCode is returned when the branch code is taken.
	ErrDuplicateCode = shared.NewUserError(shared.ErrDuplicate, "이미 사용 중인 지점 코드입니다.")
	// ErrBranchNotFound is returned when the branch does not exist.
	ErrBranchNotFound = shared.NewUserError(shared.ErrNotFound, "지점을 찾을 수 없습니다.")
	// ErrInvalidCode rejects codes outside A-Z, 0-9, '-' and '_'.
	ErrInvalidCode = shared.NewUserError(shared.ErrValidation, "지점 코드는 영문 대문자, 숫자, '-', '_'만 사용할 수 있습니다.")
)
