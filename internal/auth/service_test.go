package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhub/counselhub/internal/auth/password"
	"github.com/counselhub/counselhub/internal/consents"
	"github.com/counselhub/counselhub/internal/masterdata/branches"
	"github.com/counselhub/counselhub/internal/rbac"
	"github.com/counselhub/counselhub/internal/shared"
	"github.com/counselhub/counselhub/internal/sysconfig"
	"github.com/counselhub/counselhub/internal/users"
)

type memoryUsers struct {
	byID    map[int64]users.User
	history map[int64][]string
	nextID  int64
	setErr  error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: map[int64]users.User{}, history: map[int64][]string{}}
}

func (m *memoryUsers) Get(_ context.Context, id int64) (users.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return users.User{}, users.ErrUserNotFound
	}
	return u, nil
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (users.User, error) {
	for _, u := range m.byID {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return users.User{}, users.ErrUserNotFound
}

func (m *memoryUsers) GetByPhone(_ context.Context, phone string) (users.User, error) {
	for _, u := range m.byID {
		if u.Phone == phone && u.PhoneVerifiedAt != nil {
			return u, nil
		}
	}
	return users.User{}, users.ErrUserNotFound
}

func (m *memoryUsers) GetByWebAuthnHandle(_ context.Context, handle uuid.UUID) (users.User, error) {
	for _, u := range m.byID {
		if u.WebAuthnHandle == handle {
			return u, nil
		}
	}
	return users.User{}, users.ErrUserNotFound
}

func (m *memoryUsers) Create(_ context.Context, u users.User) (users.User, error) {
	for _, existing := range m.byID {
		if existing.Email == u.Email {
			return users.User{}, users.ErrDuplicateEmail
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.Version = 1
	u.WebAuthnHandle = uuid.New()
	m.byID[u.ID] = u
	if u.PasswordHash != "" {
		m.history[u.ID] = append(m.history[u.ID], u.PasswordHash)
	}
	return u, nil
}

func (m *memoryUsers) SetPassword(_ context.Context, id int64, hash string, mustChange bool) error {
	if m.setErr != nil {
		return m.setErr
	}
	u := m.byID[id]
	u.PasswordHash = hash
	u.MustChangePassword = mustChange
	m.byID[id] = u
	m.history[id] = append(m.history[id], hash)
	return nil
}

func (m *memoryUsers) RecentPasswordHashes(_ context.Context, id int64, n int) ([]string, error) {
	h := m.history[id]
	if len(h) > n {
		h = h[len(h)-n:]
	}
	return h, nil
}

func (m *memoryUsers) MarkPhoneVerified(_ context.Context, id int64, phone string, at time.Time) error {
	u := m.byID[id]
	u.Phone = phone
	u.PhoneVerifiedAt = &at
	m.byID[id] = u
	return nil
}

func (m *memoryUsers) TouchLogin(_ context.Context, id int64, at time.Time) error {
	u := m.byID[id]
	u.LastLoginAt = &at
	m.byID[id] = u
	return nil
}

func (m *memoryUsers) SoftDelete(_ context.Context, id int64) error {
	delete(m.byID, id)
	return nil
}

func (m *memoryUsers) RevokeLoginSessions(context.Context, int64) ([]string, error) {
	return []string{"old-session"}, nil
}

type memoryAuthRepo struct {
	sessions   map[string]LoginSession
	identities map[string]int64
}

func newMemoryAuthRepo() *memoryAuthRepo {
	return &memoryAuthRepo{sessions: map[string]LoginSession{}, identities: map[string]int64{}}
}

func (m *memoryAuthRepo) CreateSession(_ context.Context, s LoginSession) error {
	m.sessions[s.ID] = s
	return nil
}

func (m *memoryAuthRepo) GetSession(_ context.Context, id string) (LoginSession, error) {
	s, ok := m.sessions[id]
	if !ok {
		return LoginSession{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *memoryAuthRepo) RevokeSession(_ context.Context, id string) error {
	s, ok := m.sessions[id]
	if ok {
		now := time.Now()
		s.RevokedAt = &now
		m.sessions[id] = s
	}
	return nil
}

func (m *memoryAuthRepo) ListSessions(_ context.Context, userID int64, _ int) ([]LoginSession, error) {
	var out []LoginSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryAuthRepo) FindIdentity(_ context.Context, provider, subject string) (int64, error) {
	id, ok := m.identities[provider+":"+subject]
	if !ok {
		return 0, shared.ErrNotFound
	}
	return id, nil
}

func (m *memoryAuthRepo) LinkIdentity(_ context.Context, userID int64, provider, subject, _ string) error {
	m.identities[provider+":"+subject] = userID
	return nil
}

func (m *memoryAuthRepo) ListPasskeys(context.Context, int64) ([]Passkey, error) { return nil, nil }
func (m *memoryAuthRepo) SavePasskey(_ context.Context, p Passkey) (Passkey, error) {
	return p, nil
}
func (m *memoryAuthRepo) TouchPasskey(context.Context, []byte, uint32, time.Time) error { return nil }
func (m *memoryAuthRepo) DeletePasskey(context.Context, int64, int64) error          { return ErrPasskeyNotFound }

type recordedConsents struct {
	items map[int64][]consents.Item
	err   error
}

func (r *recordedConsents) RecordSignup(_ context.Context, userID int64, items []consents.Item, _ consents.Meta) error {
	if err := consents.CheckRequired(items); err != nil {
		return err
	}
	if r.err != nil {
		return r.err
	}
	r.items[userID] = items
	return nil
}

type branchDirectory map[string]branches.Branch

func (d branchDirectory) ByCode(_ context.Context, code string) (branches.Branch, error) {
	b, ok := d[code]
	if !ok {
		return branches.Branch{}, shared.ErrNotFound
	}
	return b, nil
}

type revoked struct{ ids []string }

func (r *revoked) Revoke(_ context.Context, id string) error {
	r.ids = append(r.ids, id)
	return nil
}

type fixture struct {
	svc      *Service
	users    *memoryUsers
	repo     *memoryAuthRepo
	box      *outbox
	consents *recordedConsents
	revoked  *revoked
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	_, client := newRedis(t)
	box := &outbox{}
	settings := sysconfig.Static{sysconfig.KeyLoginMaxFailures: "3"}
	sms := NewSMSVerifier(client, settings, box)
	sms.generate = func() (string, error) { return "654321", nil }
	f := fixture{
		users:    newMemoryUsers(),
		repo:     newMemoryAuthRepo(),
		box:      box,
		consents: &recordedConsents{items: map[int64][]consents.Item{}},
		revoked:  &revoked{},
	}
	f.svc = NewService(Deps{
		Users:    f.users,
		Repo:     f.repo,
		Lockout:  NewLockout(client, settings),
		Tokens:   NewTokens("0123456789abcdef0123456789abcdef", client),
		SMS:      sms,
		Consents: f.consents,
		Branches: branchDirectory{
			"HQ":  {ID: 1, Code: "HQ", IsHeadquarters: true, IsActive: true},
			"GN":  {ID: 2, Code: "GN", IsActive: true},
			"OLD": {ID: 3, Code: "OLD"},
		},
		Notifier: box,
		Settings: settings,
		Revoker:  f.revoked,
	}, Options{FrontendURL: "https://app.example.com"})
	return f
}

func (f fixture) seedUser(t *testing.T, email, pw string, active bool) users.User {
	t.Helper()
	hash, err := password.Hash(pw)
	require.NoError(t, err)
	u, err := f.users.Create(context.Background(), users.User{Email: email, Name: "홍길동", Role: shared.RoleClient, IsActive: active, PasswordHash: hash})
	require.NoError(t, err)
	return u
}

func requiredConsents() []consents.Item {
	return []consents.Item{
		{Type: consents.TypeTerms, Agreed: true},
		{Type: consents.TypePrivacyCollection, Agreed: true},
		{Type: consents.TypeSensitiveInfo, Agreed: true},
		{Type: consents.TypeMarketingSMS, Agreed: false},
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "client@example.com", "Secure#Pass91", true)
	f.seedUser(t, "gone@example.com", "Secure#Pass91", false)

	u, err := f.svc.Authenticate(ctx, "client@example.com", "Secure#Pass91")
	require.NoError(t, err)
	assert.Equal(t, "client@example.com", u.Email)

	_, err = f.svc.Authenticate(ctx, "client@example.com", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, "nobody@example.com", "whatever")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, "gone@example.com", "Secure#Pass91")
	require.ErrorIs(t, err, ErrInactiveAccount)
}

func TestAuthenticateLocksAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "client@example.com", "Secure#Pass91", true)

	for i := 0; i < 2; i++ {
		_, err := f.svc.Authenticate(ctx, "client@example.com", "bad")
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	}
	_, err := f.svc.Authenticate(ctx, "client@example.com", "bad")
	require.ErrorIs(t, err, shared.ErrAccountLocked)

	_, err = f.svc.Authenticate(ctx, "client@example.com", "Secure#Pass91")
	require.ErrorIs(t, err, shared.ErrAccountLocked)
}

func TestSignup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := SignupInput{
		Email:    "New@Example.com",
		Password: "Secure#Pass91",
		Name:     "김상담",
		Phone:    "010-1234-5678",
		Consents: requiredConsents(),
	}

	_, err := f.svc.Signup(ctx, in, Client{IP: "10.0.0.1"})
	require.ErrorIs(t, err, ErrPhoneNotVerified)

	_, err = f.svc.SMS.Send(ctx, "01012345678", PurposeSignup)
	require.NoError(t, err)
	require.NoError(t, f.svc.SMS.Verify(ctx, "01012345678", PurposeSignup, "654321"))

	user, err := f.svc.Signup(ctx, in, Client{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, shared.RoleClient, user.Role)
	require.NotNil(t, user.BranchID)
	assert.Equal(t, int64(1), *user.BranchID)
	assert.NotNil(t, user.PhoneVerifiedAt)
	assert.Len(t, f.consents.items[user.ID], 4)
}

func TestSignupRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := SignupInput{Email: "x@example.com", Password: "Secure#Pass91", Name: "x", Phone: "01000000000", Consents: requiredConsents()}

	weak := base
	weak.Password = "short"
	_, err := f.svc.Signup(ctx, weak, Client{})
	require.ErrorIs(t, err, shared.ErrValidation)

	missing := base
	missing.Consents = []consents.Item{{Type: consents.TypeTerms, Agreed: true}}
	_, err = f.svc.Signup(ctx, missing, Client{})
	require.ErrorIs(t, err, consents.ErrRequiredMissing)

	closed := base
	closed.BranchCode = "OLD"
	_, err = f.svc.Signup(ctx, closed, Client{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func verifyPhone(t *testing.T, f fixture, phone string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.SMS.Send(ctx, phone, PurposeSignup)
	require.NoError(t, err)
	require.NoError(t, f.svc.SMS.Verify(ctx, phone, PurposeSignup, "654321"))
}

func TestSignupKeepsPhoneVerificationOnDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUser(t, "taken@example.com", "Secure#Pass91", true)
	verifyPhone(t, f, "01022223333")

	in := SignupInput{Email: "Taken@example.com", Password: "Secure#Pass91", Name: "이중", Phone: "010-2222-3333", Consents: requiredConsents()}
	_, err := f.svc.Signup(ctx, in, Client{})
	require.ErrorIs(t, err, users.ErrDuplicateEmail)

	in.Email = "fresh@example.com"
	user, err := f.svc.Signup(ctx, in, Client{})
	require.NoError(t, err)
	assert.Equal(t, "fresh@example.com", user.Email)

	in.Email = "third@example.com"
	_, err = f.svc.Signup(ctx, in, Client{})
	require.ErrorIs(t, err, ErrPhoneNotVerified)
}

func TestSignupRollsBackWhenConsentsFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	verifyPhone(t, f, "01044445555")
	f.consents.err = consents.ErrDocumentNotFound

	in := SignupInput{Email: "retry@example.com", Password: "Secure#Pass91", Name: "재시도", Phone: "01044445555", Consents: requiredConsents()}
	_, err := f.svc.Signup(ctx, in, Client{})
	require.ErrorIs(t, err, consents.ErrDocumentNotFound)
	_, err = f.users.GetByEmail(ctx, "retry@example.com")
	require.ErrorIs(t, err, shared.ErrNotFound)

	f.consents.err = nil
	user, err := f.svc.Signup(ctx, in, Client{})
	require.NoError(t, err)
	assert.Len(t, f.consents.items[user.ID], 4)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "client@example.com", "Secure#Pass91", true)

	err := f.svc.ChangePassword(ctx, u.ID, ChangePasswordInput{CurrentPassword: "nope", NewPassword: "Another#Pass72"})
	require.ErrorIs(t, err, ErrWrongPassword)

	err = f.svc.ChangePassword(ctx, u.ID, ChangePasswordInput{CurrentPassword: "Secure#Pass91", NewPassword: "Secure#Pass91"})
	require.ErrorIs(t, err, ErrSamePassword)

	require.NoError(t, f.svc.ChangePassword(ctx, u.ID, ChangePasswordInput{CurrentPassword: "Secure#Pass91", NewPassword: "Another#Pass72"}))
	require.NoError(t, f.svc.ChangePassword(ctx, u.ID, ChangePasswordInput{CurrentPassword: "Another#Pass72", NewPassword: "Third#Pass83"}))

	err = f.svc.ChangePassword(ctx, u.ID, ChangePasswordInput{CurrentPassword: "Third#Pass83", NewPassword: "Secure#Pass91"})
	require.ErrorIs(t, err, password.ErrReused)
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "client@example.com", "Secure#Pass91", true)

	require.NoError(t, f.svc.RequestReset(ctx, "unknown@example.com"))
	assert.Empty(t, f.box.mails)

	require.NoError(t, f.svc.RequestReset(ctx, "client@example.com"))
	require.Len(t, f.box.mails, 1)
	idx := strings.Index(f.box.mails[0], "token=")
	require.Greater(t, idx, 0)
	token := f.box.mails[0][idx+len("token="):]
	assert.Contains(t, f.box.mails[0], "https://app.example.com/reset-password")

	require.NoError(t, f.svc.ConfirmReset(ctx, ResetConfirmInput{Token: token, NewPassword: "Brand#New582"}))
	assert.True(t, password.Matches(f.users.byID[u.ID].PasswordHash, "Brand#New582"))
	assert.Equal(t, []string{"old-session"}, f.revoked.ids)

	err := f.svc.ConfirmReset(ctx, ResetConfirmInput{Token: token, NewPassword: "Other#Pass391"})
	require.ErrorIs(t, err, ErrTokenUsed)
}

func resetToken(t *testing.T, f fixture, email string) string {
	t.Helper()
	require.NoError(t, f.svc.RequestReset(context.Background(), email))
	last := f.box.mails[len(f.box.mails)-1]
	idx := strings.Index(last, "token=")
	require.Greater(t, idx, 0)
	return last[idx+len("token="):]
}

func TestConfirmResetKeepsTokenAfterRejectedPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "client@example.com", "Secure#Pass91", true)
	token := resetToken(t, f, "client@example.com")

	err := f.svc.ConfirmReset(ctx, ResetConfirmInput{Token: token, NewPassword: "Secure#Pass91"})
	require.ErrorIs(t, err, password.ErrReused)

	f.users.setErr = errors.New("connection reset")
	err = f.svc.ConfirmReset(ctx, ResetConfirmInput{Token: token, NewPassword: "Brand#New582"})
	require.Error(t, err)
	f.users.setErr = nil

	require.NoError(t, f.svc.ConfirmReset(ctx, ResetConfirmInput{Token: token, NewPassword: "Brand#New582"}))
	assert.True(t, password.Matches(f.users.byID[u.ID].PasswordHash, "Brand#New582"))

	err = f.svc.ConfirmReset(ctx, ResetConfirmInput{Token: token, NewPassword: "Other#Pass391"})
	require.ErrorIs(t, err, ErrTokenUsed)
}

func TestLoginWithSMS(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "client@example.com", "Secure#Pass91", true)
	require.NoError(t, f.users.MarkPhoneVerified(ctx, u.ID, "01099998888", time.Now()))

	_, err := f.svc.SMS.Send(ctx, "01099998888", PurposeLogin)
	require.NoError(t, err)
	got, err := f.svc.LoginWithSMS(ctx, "010-9999-8888", "654321")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = f.svc.SMS.Send(ctx, "01077776666", PurposeLogin)
	require.NoError(t, err)
	_, err = f.svc.LoginWithSMS(ctx, "01077776666", "654321")
	require.ErrorIs(t, err, ErrPhoneNotRegistered)
}

func TestOAuthResolveIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "client@example.com", "Secure#Pass91", true)

	got, err := f.svc.resolveIdentity(ctx, Identity{Provider: ProviderKakao, Subject: "k1", Email: "client@example.com", EmailVerified: false})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = f.svc.resolveIdentity(ctx, Identity{Provider: ProviderKakao, Subject: "k1", Email: "client@example.com", EmailVerified: true})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)

	got, err = f.svc.resolveIdentity(ctx, Identity{Provider: ProviderKakao, Subject: "k1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
}

func TestOAuthStartAndState(t *testing.T) {
	f := newFixture(t)
	p, err := NewProvider(ProviderConfig{Name: ProviderNaver, ClientID: "cid", ClientSecret: "sec", RedirectURL: "https://api.example.com/api/auth/oauth/naver/callback"})
	require.NoError(t, err)
	f.svc.RegisterProvider(p)

	_, err = f.svc.OAuthStart("github", "n")
	require.ErrorIs(t, err, ErrProviderUnavailable)

	target, err := f.svc.OAuthStart(ProviderNaver, "nonce-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(target, "https://nid.naver.com/oauth2.0/authorize?"))

	_, err = f.svc.OAuthCallback(context.Background(), ProviderNaver, "code", "garbage", "nonce-1")
	require.ErrorIs(t, err, ErrOAuthState)
}

func TestParseProviderProfiles(t *testing.T) {
	id, err := parseKakao([]byte(`{"id":123,"kakao_account":{"email":"a@b.com","is_email_verified":true,"is_email_valid":true,"profile":{"nickname":"길동"}}}`))
	require.NoError(t, err)
	assert.Equal(t, Identity{Provider: ProviderKakao, Subject: "123", Email: "a@b.com", EmailVerified: true, Name: "길동"}, id)

	_, err = parseNaver([]byte(`{"resultcode":"024","response":{}}`))
	require.Error(t, err)

	id, err = parseGoogle([]byte(`{"sub":"g-1","email":"a@b.com","email_verified":false}`))
	require.NoError(t, err)
	assert.False(t, id.EmailVerified)
}

func TestForceLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.seedUser(t, "client@example.com", "Secure#Pass91", true)
	f.svc.StartSession(ctx, "sess-1", u, MethodPassword, Client{IP: "1.2.3.4"})

	list, err := f.svc.Sessions(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, f.svc.ForceLogout(ctx, 99, "sess-1"))
	assert.NotNil(t, f.repo.sessions["sess-1"].RevokedAt)
	assert.Equal(t, []string{"sess-1"}, f.revoked.ids)

	require.ErrorIs(t, f.svc.ForceLogout(ctx, 99, "missing"), ErrSessionNotFound)
}

func TestHandlerLoginIssuesSession(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "client@example.com", "Secure#Pass91", true)
	_, client := newRedis(t)
	sessions := shared.NewSessionManager(client, "counselhub_session", time.Hour, false)
	csrf := shared.NewCSRFManager("secret")
	handler := NewHandler(f.svc.Logger, f.svc, sessions, csrf, rbac.Middleware{Service: rbac.NewService(rbac.Defaults{}, nil, nil, nil)}, nil)

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := sessions.Load(r.Context(), r)
			require.NoError(t, err)
			next.ServeHTTP(w, r.WithContext(shared.ContextWithSession(r.Context(), sess)))
		})
	})
	router.Route("/auth", handler.MountRoutes)

	body, _ := json.Marshal(LoginInput{Email: "client@example.com", Password: "wrong-pass"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body, _ = json.Marshal(LoginInput{Email: "client@example.com", Password: "Secure#Pass91"})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool          `json:"success"`
		Data    loginResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Data.CSRFToken)
	assert.Len(t, f.repo.sessions, 1)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerPolicyCheck(t *testing.T) {
	f := newFixture(t)
	handler := NewHandler(f.svc.Logger, f.svc, nil, nil, rbac.Middleware{}, nil)
	router := chi.NewRouter()
	router.Route("/auth", handler.MountRoutes)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/password/policy-check", strings.NewReader(`{"password":"aaa111"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data password.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Data.Valid)
	assert.NotEmpty(t, resp.Data.Violations)
}
