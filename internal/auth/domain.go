package auth

import (
	"time"

	"github.com/counselhub/counselhub/internal/consents"
	"github.com/counselhub/counselhub/internal/shared"
)

// Login methods recorded on login sessions and metrics.
const (
	MethodPassword = "PASSWORD"
	MethodSMS      = "SMS"
	MethodPasskey  = "PASSKEY"
	MethodOAuth    = "OAUTH"
)

// LoginSession is the audit row of one authenticated session.
type LoginSession struct {
	ID        string     `json:"id"`
	UserID    int64      `json:"user_id"`
	Method    string     `json:"method"`
	IP        string     `json:"ip"`
	UserAgent string     `json:"user_agent"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Client describes the caller of an auth request.
type Client struct {
	IP        string
	UserAgent string
}

// LoginInput is the e-mail login payload.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignupInput is the client self-signup payload.
type SignupInput struct {
	Email      string          `json:"email" validate:"required,email,max=255"`
	Password   string          `json:"password" validate:"required"`
	Name       string          `json:"name" validate:"required,max=50"`
	Phone      string          `json:"phone" validate:"required,max=20"`
	BranchCode string          `json:"branch_code" validate:"omitempty,max=20"`
	Consents   []consents.Item `json:"consents" validate:"required,min=1,dive"`
	LinkToken  string          `json:"link_token"`
}

// ChangePasswordInput changes the caller's password.
type ChangePasswordInput struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// PolicyCheckInput asks for a password policy evaluation.
type PolicyCheckInput struct {
	Password string `json:"password" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
}

// ResetRequestInput starts a password reset.
type ResetRequestInput struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetConfirmInput completes a password reset.
type ResetConfirmInput struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// Purpose scopes an SMS verification code.
type Purpose string

// SMS purposes.
const (
	PurposeSignup      Purpose = "SIGNUP"
	PurposeLogin       Purpose = "LOGIN"
	PurposeReset       Purpose = "RESET"
	PurposePhoneChange Purpose = "PHONE_CHANGE"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeSignup, PurposeLogin, PurposeReset, PurposePhoneChange:
		return true
	}
	return false
}

// SMSSendInput requests a verification code.
type SMSSendInput struct {
	Phone   string  `json:"phone" validate:"required,max=20"`
	Purpose Purpose `json:"purpose" validate:"required,oneof=SIGNUP LOGIN RESET PHONE_CHANGE"`
}

// SMSVerifyInput checks a verification code.
type SMSVerifyInput struct {
	Phone   string  `json:"phone" validate:"required,max=20"`
	Purpose Purpose `json:"purpose" validate:"required,oneof=SIGNUP LOGIN RESET PHONE_CHANGE"`
	Code    string  `json:"code" validate:"required,len=6,numeric"`
}

// SMSLoginInput logs in with a phone number and code.
type SMSLoginInput struct {
	Phone string `json:"phone" validate:"required,max=20"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

var (
	ErrInactiveAccount     = shared.NewUserError(shared.ErrInvalidCredentials, "비활성화된 계정입니다. 관리자에게 문의해 주세요.")
	ErrPhoneNotVerified    = shared.NewUserError(shared.ErrValidation, "휴대폰 인증을 먼저 완료해 주세요.")
	ErrWrongPassword       = shared.NewUserError(shared.ErrValidation, "현재 비밀번호가 올바르지 않습니다.")
	ErrSamePassword        = shared.NewUserError(shared.ErrValidation, "새 비밀번호가 현재 비밀번호와 같습니다.")
	ErrTokenInvalid        = shared.NewUserError(shared.ErrValidation, "유효하지 않거나 만료된 링크입니다.")
	ErrTokenUsed           = shared.NewUserError(shared.ErrValidation, "이미 사용된 링크입니다.")
	ErrCodeExpired         = shared.NewUserError(shared.ErrValidation, "인증번호가 만료되었습니다. 다시 요청해 주세요.")
	ErrCodeMismatch        = shared.NewUserError(shared.ErrValidation, "인증번호가 일치하지 않습니다.")
	ErrCodeAttempts        = shared.NewUserError(shared.ErrTooManyRequests, "인증 시도 횟수를 초과했습니다. 인증번호를 다시 요청해 주세요.")
	ErrResendCooldown      = shared.NewUserError(shared.ErrTooManyRequests, "잠시 후 다시 요청해 주세요.")
	ErrDailyLimit          = shared.NewUserError(shared.ErrTooManyRequests, "오늘 요청 가능한 인증번호 발송 횟수를 초과했습니다.")
	ErrPhoneNotRegistered  = shared.NewUserError(shared.ErrInvalidCredentials, "등록되지 않은 휴대폰 번호입니다.")
	ErrProviderUnavailable = shared.NewUserError(shared.ErrNotFound, "지원하지 않는 로그인 방식입니다.")
	ErrOAuthState          = shared.NewUserError(shared.ErrValidation, "소셜 로그인 요청이 만료되었습니다. 다시 시도해 주세요.")
	ErrPasskeyFailed       = shared.NewUserError(shared.ErrInvalidCredentials, "패스키 인증에 실패했습니다.")
	ErrPasskeyNotFound     = shared.NewUserError(shared.ErrNotFound, "패스키를 찾을 수 없습니다.")
	ErrSessionNotFound     = shared.NewUserError(shared.ErrNotFound, "세션을 찾을 수 없습니다.")
)
