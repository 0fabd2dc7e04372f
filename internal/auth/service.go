package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/counselhub/counselhub/internal/auth/password"
	"github.com/counselhub/counselhub/internal/consents"
	"github.com/counselhub/counselhub/internal/masterdata/branches"
	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/sysconfig"
	"github.com/counselhub/counselhub/internal/users"
)

// UserStore is the account persistence auth relies on.
type UserStore interface {
	Get(ctx context.Context, id int64) (users.User, error)
	GetByEmail(ctx context.Context, email string) (users.User, error)
	GetByPhone(ctx context.Context, phone string) (users.User, error)
	GetByWebAuthnHandle(ctx context.Context, handle uuid.UUID) (users.User, error)
	Create(ctx context.Context, u users.User) (users.User, error)
	SetPassword(ctx context.Context, id int64, hash string, mustChange bool) error
	RecentPasswordHashes(ctx context.Context, id int64, n int) ([]string, error)
	MarkPhoneVerified(ctx context.Context, id int64, phone string, at time.Time) error
	TouchLogin(ctx context.Context, id int64, at time.Time) error
	RevokeLoginSessions(ctx context.Context, userID int64) ([]string, error)
	SoftDelete(ctx context.Context, id int64) error
}

// ConsentRecorder stores signup consents.
type ConsentRecorder interface {
	RecordSignup(ctx context.Context, userID int64, items []consents.Item, meta consents.Meta) error
}

// BranchResolver finds the branch a self-signup belongs to.
type BranchResolver interface {
	ByCode(ctx context.Context, code string) (branches.Branch, error)
}

// SessionStore drops server-side sessions.
type SessionStore interface {
	Revoke(ctx context.Context, id string) error
}

// Options tune the auth service.
type Options struct {
	DefaultBranchCode string
	FrontendURL       string
	ResetTTL          time.Duration
	SessionTTL        time.Duration
}

// Deps aggregates the collaborators of Service.
type Deps struct {
	Users    UserStore
	Repo     Repository
	Lockout  *Lockout
	Tokens   *Tokens
	SMS      *SMSVerifier
	Consents ConsentRecorder
	Branches BranchResolver
	Notifier Notifier
	WebAuthn *webauthn.WebAuthn
	Settings sysconfig.Reader
	Revoker  SessionStore
	Events   EventRecorder
	Audit    shared.AuditRecorder
	Logger   *slog.Logger
}

// Service wraps authentication business rules.
type Service struct {
	Deps
	opts      Options
	providers map[string]*Provider
	now       func() time.Time
}

// NewService constructs a new Service.
func NewService(deps Deps, opts Options) *Service {
	if deps.Audit == nil {
		deps.Audit = shared.NopAuditRecorder{}
	}
	if deps.Events == nil {
		deps.Events = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = 30 * time.Minute
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 12 * time.Hour
	}
	if opts.DefaultBranchCode == "" {
		opts.DefaultBranchCode = "HQ"
	}
	return &Service{Deps: deps, opts: opts, now: time.Now}
}

// Authenticate validates email/password credentials and applies the lockout policy.
func (s *Service) Authenticate(ctx context.Context, email, pw string) (users.User, error) {
	if err := s.Lockout.Check(ctx, email); err != nil {
		s.Events.RecordAuth(MethodPassword, "locked")
		return users.User{}, err
	}
	user, err := s.Users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return users.User{}, err
	}
	if err != nil || !password.Matches(user.PasswordHash, pw) {
		locked, lerr := s.Lockout.Fail(ctx, email)
		if lerr != nil {
			s.Logger.Warn("record login failure", slog.Any("error", lerr))
		}
		s.Events.RecordAuth(MethodPassword, "failure")
		if locked {
			return users.User{}, s.Lockout.Check(ctx, email)
		}
		return users.User{}, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		s.Events.RecordAuth(MethodPassword, "inactive")
		return users.User{}, ErrInactiveAccount
	}
	if err := s.Lockout.Reset(ctx, email); err != nil {
		s.Logger.Warn("reset login failures", slog.Any("error", err))
	}
	s.Events.RecordAuth(MethodPassword, "success")
	return user, nil
}

// LoginWithSMS verifies a LOGIN code and resolves the account by phone.
func (s *Service) LoginWithSMS(ctx context.Context, phone, code string) (users.User, error) {
	phone = users.NormalizePhone(phone)
	if err := s.SMS.Verify(ctx, phone, PurposeLogin, code); err != nil {
		s.Events.RecordAuth(MethodSMS, "failure")
		return users.User{}, err
	}
	_ = s.SMS.ConsumeVerified(ctx, phone, PurposeLogin)
	user, err := s.Users.GetByPhone(ctx, phone)
	if errors.Is(err, shared.ErrNotFound) {
		s.Events.RecordAuth(MethodSMS, "failure")
		return users.User{}, ErrPhoneNotRegistered
	}
	if err != nil {
		return users.User{}, err
	}
	if !user.IsActive {
		return users.User{}, ErrInactiveAccount
	}
	s.Events.RecordAuth(MethodSMS, "success")
	return user, nil
}

// StartSession records a login session row for a freshly authenticated session id.
func (s *Service) StartSession(ctx context.Context, sessionID string, user users.User, method string, client Client) {
	now := s.now()
	if err := s.Repo.CreateSession(ctx, LoginSession{
		ID:        sessionID,
		UserID:    user.ID,
		Method:    method,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		ExpiresAt: now.Add(s.opts.SessionTTL),
	}); err != nil {
		s.Logger.Warn("register session", slog.Any("error", err))
	}
	if err := s.Users.TouchLogin(ctx, user.ID, now); err != nil {
		s.Logger.Warn("touch login", slog.Any("error", err))
	}
	_ = s.Audit.Record(ctx, shared.AuditLog{ActorID: user.ID, Action: "LOGIN", Entity: "user", EntityID: strconv.FormatInt(user.ID, 10), Meta: map[string]any{"method": method, "ip": client.IP}})
}

// EndSession marks a login session revoked.
func (s *Service) EndSession(ctx context.Context, sessionID string) {
	if err := s.Repo.RevokeSession(ctx, sessionID); err != nil {
		s.Logger.Warn("remove session", slog.Any("error", err))
	}
}

// Sessions lists recent login sessions of a user.
func (s *Service) Sessions(ctx context.Context, userID int64) ([]LoginSession, error) {
	return s.Repo.ListSessions(ctx, userID, 50)
}

// ForceLogout revokes a login session and its server-side session.
func (s *Service) ForceLogout(ctx context.Context, actorID int64, sessionID string) error {
	sess, err := s.Repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.Repo.RevokeSession(ctx, sessionID); err != nil {
		return err
	}
	if s.Revoker != nil {
		if err := s.Revoker.Revoke(ctx, sessionID); err != nil {
			return err
		}
	}
	_ = s.Audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: "SESSION_REVOKE", Entity: "user", EntityID: strconv.FormatInt(sess.UserID, 10), Meta: map[string]any{"session_id": sessionID}})
	return nil
}

// Signup registers a CLIENT account. The phone must have passed SMS verification for SIGNUP.
func (s *Service) Signup(ctx context.Context, in SignupInput, client Client) (users.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	phone := users.NormalizePhone(in.Phone)
	if err := password.Validate(in.Password, email); err != nil {
		return users.User{}, err
	}
	if err := consents.CheckRequired(in.Consents); err != nil {
		return users.User{}, err
	}
	var link *Claims
	if in.LinkToken != "" {
		claims, err := s.Tokens.Parse(in.LinkToken, purposeOAuthLink)
		if err != nil {
			return users.User{}, err
		}
		link = claims
	}
	code := strings.TrimSpace(in.BranchCode)
	if code == "" {
		code = s.opts.DefaultBranchCode
	}
	branch, err := s.Branches.ByCode(ctx, code)
	if err != nil {
		return users.User{}, err
	}
	if !branch.IsActive {
		return users.User{}, shared.NewUserError(shared.ErrValidation, "현재 가입할 수 없는 지점입니다.")
	}
	if _, err := s.Users.GetByEmail(ctx, email); err == nil {
		return users.User{}, users.ErrDuplicateEmail
	} else if !errors.Is(err, shared.ErrNotFound) {
		return users.User{}, err
	}
	if err := s.SMS.CheckVerified(ctx, phone, PurposeSignup); err != nil {
		return users.User{}, err
	}
	hash, err := password.Hash(in.Password)
	if err != nil {
		return users.User{}, err
	}
	now := s.now()
	branchID := branch.ID
	user, err := s.Users.Create(ctx, users.User{
		Email:           email,
		Name:            strings.TrimSpace(in.Name),
		Phone:           phone,
		Role:            shared.RoleClient,
		BranchID:        &branchID,
		IsActive:        true,
		PhoneVerifiedAt: &now,
		PasswordHash:    hash,
	})
	if err != nil {
		return users.User{}, err
	}
	if err := s.Consents.RecordSignup(ctx, user.ID, in.Consents, consents.Meta{IP: client.IP, UserAgent: client.UserAgent}); err != nil {
		s.discardSignup(ctx, user.ID)
		return users.User{}, err
	}
	// Spent last. A concurrent signup for the same phone loses here.
	if err := s.SMS.ConsumeVerified(ctx, phone, PurposeSignup); err != nil {
		s.discardSignup(ctx, user.ID)
		return users.User{}, err
	}
	if link != nil {
		if err := s.Repo.LinkIdentity(ctx, user.ID, link.Data["provider"], link.Subject, link.Data["email"]); err != nil {
			s.Logger.Warn("link social identity after signup", slog.Any("error", err))
		}
	}
	_ = s.Audit.Record(ctx, shared.AuditLog{ActorID: user.ID, Action: "SIGNUP", Entity: "user", EntityID: strconv.FormatInt(user.ID, 10), Meta: map[string]any{"branch": branch.Code}})
	return user, nil
}

func (s *Service) discardSignup(ctx context.Context, userID int64) {
	if err := s.Users.SoftDelete(ctx, userID); err != nil {
		s.Logger.Warn("discard incomplete signup", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// ChangePassword replaces the caller's password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID int64, in ChangePasswordInput) error {
	user, err := s.Users.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !password.Matches(user.PasswordHash, in.CurrentPassword) {
		return ErrWrongPassword
	}
	if in.CurrentPassword == in.NewPassword {
		return ErrSamePassword
	}
	if err := s.storePassword(ctx, user, in.NewPassword); err != nil {
		return err
	}
	_ = s.Audit.Record(ctx, shared.AuditLog{ActorID: userID, Action: "PASSWORD_CHANGE", Entity: "user", EntityID: strconv.FormatInt(userID, 10)})
	return nil
}

// RequestReset mails a reset link when the e-mail belongs to an active account.
// It reports success either way so callers cannot probe for accounts.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	user, err := s.Users.GetByEmail(ctx, email)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !user.IsActive {
		return nil
	}
	token, err := s.Tokens.Issue(purposeReset, strconv.FormatInt(user.ID, 10), s.opts.ResetTTL, nil)
	if err != nil {
		return err
	}
	link := strings.TrimRight(s.opts.FrontendURL, "/") + "/reset-password?token=" + token
	body := user.Name + "님, 아래 링크에서 비밀번호를 재설정해 주세요. 링크는 " +
		strconv.Itoa(int(s.opts.ResetTTL.Minutes())) + "분 동안 한 번만 사용할 수 있습니다.\n\n" + link
	return s.Notifier.SendMail(ctx, user.Email, "[CounselHub] 비밀번호 재설정 안내", body)
}

// ConfirmReset sets a new password using a single-use reset token.
func (s *Service) ConfirmReset(ctx context.Context, in ResetConfirmInput) error {
	claims, err := s.Tokens.Parse(in.Token, purposeReset)
	if err != nil {
		return err
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return ErrTokenInvalid
	}
	user, err := s.Users.Get(ctx, userID)
	if err != nil {
		return ErrTokenInvalid
	}
	hash, err := s.preparePassword(ctx, user, in.NewPassword)
	if err != nil {
		return err
	}
	if err := s.Tokens.Consume(ctx, claims); err != nil {
		return err
	}
	if err := s.Users.SetPassword(ctx, user.ID, hash, false); err != nil {
		if rerr := s.Tokens.Release(ctx, claims); rerr != nil {
			s.Logger.Warn("release reset token", slog.Any("error", rerr))
		}
		return err
	}
	if err := s.Lockout.Reset(ctx, user.Email); err != nil {
		s.Logger.Warn("reset lockout", slog.Any("error", err))
	}
	ids, err := s.Users.RevokeLoginSessions(ctx, userID)
	if err != nil {
		s.Logger.Warn("revoke sessions after reset", slog.Any("error", err))
	}
	for _, id := range ids {
		if s.Revoker != nil {
			_ = s.Revoker.Revoke(ctx, id)
		}
	}
	_ = s.Audit.Record(ctx, shared.AuditLog{ActorID: userID, Action: "PASSWORD_RESET", Entity: "user", EntityID: strconv.FormatInt(userID, 10)})
	return nil
}

// VerifyPhone confirms a PHONE_CHANGE code and stores the new number.
func (s *Service) VerifyPhone(ctx context.Context, userID int64, phone string) error {
	phone = users.NormalizePhone(phone)
	if err := s.SMS.ConsumeVerified(ctx, phone, PurposePhoneChange); err != nil {
		return err
	}
	return s.Users.MarkPhoneVerified(ctx, userID, phone, s.now())
}

func (s *Service) storePassword(ctx context.Context, user users.User, pw string) error {
	hash, err := s.preparePassword(ctx, user, pw)
	if err != nil {
		return err
	}
	return s.Users.SetPassword(ctx, user.ID, hash, false)
}

// preparePassword applies the policy and history checks and returns the new hash.
func (s *Service) preparePassword(ctx context.Context, user users.User, pw string) (string, error) {
	if err := password.Validate(pw, user.Email); err != nil {
		return "", err
	}
	depth := s.Settings.Int(ctx, sysconfig.KeyPasswordHistoryLength, password.HistoryDepth)
	recent, err := s.Users.RecentPasswordHashes(ctx, user.ID, depth)
	if err != nil {
		return "", err
	}
	if password.Reused(recent, pw) {
		return "", password.ErrReused
	}
	return password.Hash(pw)
}
