package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/counselhub/counselhub/internal/shared"
)

// User represents an account of any role.
type User struct {
	ID                 int64      `json:"id"`
	Email              string     `json:"email"`
	Name               string     `json:"name"`
	Phone              string     `json:"phone"`
	Role               string     `json:"role"`
	BranchID           *int64     `json:"branch_id,omitempty"`
	BranchName         string     `json:"branch_name,omitempty"`
	IsActive           bool       `json:"is_active"`
	MustChangePassword bool       `json:"must_change_password"`
	PhoneVerifiedAt    *time.Time `json:"phone_verified_at,omitempty"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
	Version            int        `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	PasswordHash   string    `json:"-"`
	WebAuthnHandle uuid.UUID `json:"-"`
}

// Principal converts the account into a request principal.
func (u User) Principal() *shared.Principal {
	return &shared.Principal{
		UserID:             u.ID,
		Email:              u.Email,
		Name:               u.Name,
		Role:               u.Role,
		BranchID:           u.BranchID,
		MustChangePassword: u.MustChangePassword,
	}
}

// Status filter values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// ListFilter narrows the account list.
type ListFilter struct {
	Role     string
	BranchID *int64
	Status   string
	Search   string
	Page     shared.PageRequest
}

// CreateInput is the admin create payload.
type CreateInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Name     string `json:"name" validate:"required,max=50"`
	Phone    string `json:"phone" validate:"omitempty,max=20"`
	Role     string `json:"role" validate:"required"`
	BranchID *int64 `json:"branch_id"`
	Password string `json:"password" validate:"omitempty,max=64"`
}

// UpdateInput is the admin update payload.
type UpdateInput struct {
	Name     string `json:"name" validate:"required,max=50"`
	Phone    string `json:"phone" validate:"omitempty,max=20"`
	BranchID *int64 `json:"branch_id"`
	Version  int    `json:"version" validate:"required"`
}

// RoleInput changes the role of an account.
type RoleInput struct {
	Role     string `json:"role" validate:"required"`
	BranchID *int64 `json:"branch_id"`
	Version  int    `json:"version" validate:"required"`
}

// ProfileInput is the self-service profile payload.
type ProfileInput struct {
	Name    string `json:"name" validate:"required,max=50"`
	Phone   string `json:"phone" validate:"omitempty,max=20"`
	Version int    `json:"version" validate:"required"`
}

// TemporaryPassword is returned once after an admin reset.
type TemporaryPassword struct {
	UserID   int64  `json:"user_id"`
	Password string `json:"temporary_password"`
}

var (
	ErrUserNotFound    = shared.NewUserError(shared.ErrNotFound, "사용자를 찾을 수 없습니다.")
	ErrDuplicateEmail  = shared.NewUserError(shared.ErrDuplicate, "이미 가입된 이메일입니다.")
	ErrInvalidRole     = shared.NewUserError(shared.ErrValidation, "올바르지 않은 역할입니다.")
	ErrBranchRequired  = shared.NewUserError(shared.ErrValidation, "지점을 선택해 주세요.")
	ErrRoleNotAllowed  = shared.NewUserError(shared.ErrForbidden, "해당 역할의 계정을 관리할 권한이 없습니다.")
	ErrBranchForbidden = shared.NewUserError(shared.ErrForbidden, "다른 지점의 사용자는 관리할 수 없습니다.")
	ErrSelfAction      = shared.NewUserError(shared.ErrInvalidState, "본인 계정에는 수행할 수 없는 작업입니다.")
	ErrPhoneChange     = shared.NewUserError(shared.ErrValidation, "휴대폰 번호 변경은 SMS 인증 후에 가능합니다.")
)
