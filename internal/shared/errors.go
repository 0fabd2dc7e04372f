package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate indicates a unique constraint was hit.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates an optimistic lock version mismatch.
	ErrConflict = errors.New("version conflict")
	// ErrInvalidState indicates a status transition that is not allowed.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrUnauthorized indicates the request carries no authenticated principal.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the principal lacks permission.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked indicates too many failed logins.
	ErrAccountLocked = errors.New("account locked")
	// ErrTooManyRequests indicates a per-user throttle was hit.
	ErrTooManyRequests = errors.New("too many requests")
	// ErrUnavailable indicates a dependency is not reachable.
	ErrUnavailable = errors.New("service unavailable")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// UserError pairs a sentinel kind with a message that is safe to show to end users.
type UserError struct {
	Kind    error
	Message string
}

// NewUserError wraps kind with a user facing message.
func NewUserError(kind error, message string) *UserError {
	return &UserError{Kind: kind, Message: message}
}

func (e *UserError) Error() string {
	if e.Kind == nil {
		return e.Message
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *UserError) Unwrap() error {
	return e.Kind
}

var defaultMessages = []struct {
	kind error
	msg  string
}{
	{ErrInvalidCredentials, "이메일 또는 비밀번호가 올바르지 않습니다."},
	{ErrAccountLocked, "로그인 시도 횟수를 초과했습니다. 잠시 후 다시 시도해 주세요."},
	{ErrUnauthorized, "로그인이 필요합니다."},
	{ErrForbidden, "접근 권한이 없습니다."},
	{ErrNotFound, "요청한 정보를 찾을 수 없습니다."},
	{ErrDuplicate, "이미 등록된 정보입니다."},
	{ErrConflict, "다른 사용자가 먼저 수정했습니다. 새로고침 후 다시 시도해 주세요."},
	{ErrInvalidState, "현재 상태에서는 처리할 수 없습니다."},
	{ErrValidation, "입력값이 올바르지 않습니다."},
	{ErrTooManyRequests, "요청이 너무 많습니다. 잠시 후 다시 시도해 주세요."},
	{ErrUnavailable, "일시적으로 서비스를 이용할 수 없습니다."},
	{ErrCSRFTokenMissing, "보안 토큰이 없습니다. 새로고침 후 다시 시도해 주세요."},
	{ErrCSRFTokenMismatch, "보안 토큰이 일치하지 않습니다. 새로고침 후 다시 시도해 주세요."},
}

// GenericErrorMessage is returned for errors that carry no safe message.
const GenericErrorMessage = "서버 오류가 발생했습니다. 잠시 후 다시 시도해 주세요."

// UserSafeMessage returns a message suitable for API clients.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	var userErr *UserError
	if errors.As(err, &userErr) && userErr.Message != "" {
		return userErr.Message
	}
	for _, m := range defaultMessages {
		if errors.Is(err, m.kind) {
			return m.msg
		}
	}
	return GenericErrorMessage
}
