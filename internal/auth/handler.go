package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/counselhub/counselhub/internal/auth/password"
	"github.com/counselhub/counselhub/internal/platform/httpx"
	"github.com/counselhub/counselhub/internal/rbac"
	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/users"
)

const (
	sessionOAuthNonce      = "oauth_nonce"
	sessionPasskeyRegister = "passkey_register"
	sessionPasskeyLogin    = "passkey_login"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	rbac           rbac.Middleware
	limiter        func(http.Handler) http.Handler
}

// NewHandler constructs a Handler instance. limiter guards credential and SMS endpoints.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, rbac rbac.Middleware, limiter func(http.Handler) http.Handler) *Handler {
	if limiter == nil {
		limiter = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		rbac:           rbac,
		limiter:        limiter,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.csrf)
	r.Post("/logout", h.logout)
	r.Post("/password/policy-check", h.policyCheck)
	r.Get("/oauth/{provider}/start", h.oauthStart)
	r.Get("/oauth/{provider}/callback", h.oauthCallback)

	r.Group(func(r chi.Router) {
		r.Use(h.limiter)
		r.Post("/login", h.login)
		r.Post("/signup", h.signup)
		r.Post("/password/reset/request", h.resetRequest)
		r.Post("/password/reset/confirm", h.resetConfirm)
		r.Post("/sms/send", h.smsSend)
		r.Post("/sms/verify", h.smsVerify)
		r.Post("/sms/login", h.smsLogin)
		r.Post("/passkey/login/begin", h.passkeyLoginBegin)
		r.Post("/passkey/login/finish", h.passkeyLoginFinish)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuth())
		r.Get("/me", h.me)
		r.Post("/password/change", h.changePassword)
		r.Post("/phone/verify", h.verifyPhone)
		r.Get("/passkey", h.listPasskeys)
		r.Post("/passkey/register/begin", h.passkeyRegisterBegin)
		r.Post("/passkey/register/finish", h.passkeyRegisterFinish)
		r.Delete("/passkey/{id}", h.deletePasskey)
	})
}

func client(r *http.Request) Client {
	return Client{IP: httpx.ClientIP(r), UserAgent: r.UserAgent()}
}

type loginResponse struct {
	User               users.User `json:"user"`
	CSRFToken          string     `json:"csrf_token"`
	MustChangePassword bool       `json:"must_change_password"`
}

// establish rotates the session id, binds the user and issues a fresh CSRF token.
func (h *Handler) establish(w http.ResponseWriter, r *http.Request, user users.User, method string) (string, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, h.logger, shared.ErrUnavailable)
		return "", false
	}
	h.sessionManager.Renew(sess)
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	sess.Delete(shared.CSRFSessionKey)
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return "", false
	}
	h.service.StartSession(r.Context(), sess.ID, user, method, client(r))
	return token, true
}

func (h *Handler) respondLogin(w http.ResponseWriter, r *http.Request, user users.User, method string) {
	token, ok := h.establish(w, r, user, method)
	if !ok {
		return
	}
	httpx.OK(w, "로그인되었습니다.", loginResponse{User: user, CSRFToken: token, MustChangePassword: user.MustChangePassword})
}

func (h *Handler) csrf(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		httpx.RespondError(w, h.logger, shared.ErrUnavailable)
		return
	}
	httpx.OK(w, "CSRF 토큰을 발급했습니다.", map[string]string{"csrf_token": token})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	user, err := h.service.Authenticate(r.Context(), in.Email, in.Password)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.respondLogin(w, r, user, MethodPassword)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if sess.User() != "" {
			h.service.EndSession(r.Context(), sess.ID)
		}
		h.sessionManager.Destroy(sess)
	}
	httpx.OK(w, "로그아웃되었습니다.", nil)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	user, err := h.service.Users.Get(r.Context(), principal.UserID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "로그인 정보를 조회했습니다.", user)
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var in SignupInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	user, err := h.service.Signup(r.Context(), in, client(r))
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Created(w, "회원가입이 완료되었습니다.", user)
}

func (h *Handler) policyCheck(w http.ResponseWriter, r *http.Request) {
	var in PolicyCheckInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "비밀번호 정책을 확인했습니다.", password.Check(in.Password, in.Email))
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var in ChangePasswordInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	if err := h.service.ChangePassword(r.Context(), principal.UserID, in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "비밀번호가 변경되었습니다.", nil)
}

func (h *Handler) resetRequest(w http.ResponseWriter, r *http.Request) {
	var in ResetRequestInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.RequestReset(r.Context(), in.Email); err != nil {
		// The caller always sees success.
		h.logger.Error("password reset request", slog.Any("error", err))
	}
	httpx.OK(w, "입력하신 이메일로 비밀번호 재설정 안내를 보냈습니다.", nil)
}

func (h *Handler) resetConfirm(w http.ResponseWriter, r *http.Request) {
	var in ResetConfirmInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.ConfirmReset(r.Context(), in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "비밀번호가 재설정되었습니다. 새 비밀번호로 로그인해 주세요.", nil)
}

func (h *Handler) smsSend(w http.ResponseWriter, r *http.Request) {
	var in SMSSendInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	sent, err := h.service.SMS.Send(r.Context(), users.NormalizePhone(in.Phone), in.Purpose)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "인증번호를 발송했습니다.", sent)
}

func (h *Handler) smsVerify(w http.ResponseWriter, r *http.Request) {
	var in SMSVerifyInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if err := h.service.SMS.Verify(r.Context(), users.NormalizePhone(in.Phone), in.Purpose, in.Code); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "휴대폰 인증이 완료되었습니다.", map[string]any{"verified": true, "valid_for": int(VerifiedTTL.Seconds())})
}

func (h *Handler) smsLogin(w http.ResponseWriter, r *http.Request) {
	var in SMSLoginInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	user, err := h.service.LoginWithSMS(r.Context(), in.Phone, in.Code)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.respondLogin(w, r, user, MethodSMS)
}

func (h *Handler) verifyPhone(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Phone string `json:"phone" validate:"required,max=20"`
	}
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	if err := h.service.VerifyPhone(r.Context(), principal.UserID, in.Phone); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "휴대폰 번호가 변경되었습니다.", nil)
}

func (h *Handler) oauthStart(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, h.logger, shared.ErrUnavailable)
		return
	}
	nonce := uuid.NewString()
	target, err := h.service.OAuthStart(chi.URLParam(r, "provider"), nonce)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	sess.Set(sessionOAuthNonce, nonce)
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()
	fail := func(reason string) {
		http.Redirect(w, r, h.service.FrontendRedirect("/login", url.Values{"status": {"error"}, "reason": {reason}, "provider": {provider}}), http.StatusFound)
	}
	if sess == nil {
		fail("session")
		return
	}
	nonce := sess.Pop(sessionOAuthNonce)
	if q.Get("error") != "" {
		fail("denied")
		return
	}
	result, err := h.service.OAuthCallback(r.Context(), provider, q.Get("code"), q.Get("state"), nonce)
	if err != nil {
		h.logger.Warn("oauth callback failed", slog.String("provider", provider), slog.Any("error", err))
		switch {
		case errors.Is(err, ErrOAuthState):
			fail("state")
		case errors.Is(err, ErrInactiveAccount):
			fail("inactive")
		default:
			fail("provider")
		}
		return
	}
	if result.User == nil {
		http.Redirect(w, r, h.service.FrontendRedirect("/signup", url.Values{
			"status":     {"link_required"},
			"provider":   {provider},
			"link_token": {result.LinkToken},
			"email":      {result.Identity.Email},
		}), http.StatusFound)
		return
	}
	if _, ok := h.establish(w, r, *result.User, MethodOAuth); !ok {
		return
	}
	http.Redirect(w, r, h.service.FrontendRedirect("/", url.Values{"status": {"success"}, "provider": {provider}}), http.StatusFound)
}

func (h *Handler) passkeyRegisterBegin(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	creation, state, err := h.service.BeginPasskeyRegistration(r.Context(), principal.UserID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	shared.SessionFromContext(r.Context()).Set(sessionPasskeyRegister, state)
	httpx.OK(w, "패스키 등록을 시작합니다.", creation)
}

func (h *Handler) passkeyRegisterFinish(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	state := shared.SessionFromContext(r.Context()).Pop(sessionPasskeyRegister)
	key, err := h.service.FinishPasskeyRegistration(r.Context(), principal.UserID, r.URL.Query().Get("name"), state, r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.Created(w, "패스키가 등록되었습니다.", key)
}

func (h *Handler) passkeyLoginBegin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, h.logger, shared.ErrUnavailable)
		return
	}
	assertion, state, err := h.service.BeginPasskeyLogin()
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	sess.Set(sessionPasskeyLogin, state)
	httpx.OK(w, "패스키 로그인을 시작합니다.", assertion)
}

func (h *Handler) passkeyLoginFinish(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, h.logger, shared.ErrUnavailable)
		return
	}
	user, err := h.service.FinishPasskeyLogin(r.Context(), sess.Pop(sessionPasskeyLogin), r)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	h.respondLogin(w, r, user, MethodPasskey)
}

func (h *Handler) listPasskeys(w http.ResponseWriter, r *http.Request) {
	principal := shared.PrincipalFromContext(r.Context())
	keys, err := h.service.Passkeys(r.Context(), principal.UserID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if keys == nil {
		keys = []Passkey{}
	}
	httpx.OK(w, "패스키 목록을 조회했습니다.", keys)
}

func (h *Handler) deletePasskey(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	if err := h.service.DeletePasskey(r.Context(), principal.UserID, id); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.OK(w, "패스키가 삭제되었습니다.", nil)
}
