package users

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhub/counselhub/internal/auth/password"
	"github.com/counselhub/counselhub/internal/rbac"
	"github.com/counselhub/counselhub/internal/shared"
	_ "github.com/counselhub/counselhub/testing"
)

type memoryRepo struct {
	users    map[int64]User
	nextID   int64
	sessions map[int64][]string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: map[int64]User{}, sessions: map[int64][]string{}}
}

func (m *memoryRepo) List(_ context.Context, f ListFilter) ([]User, int, error) {
	var out []User
	for _, u := range m.users {
		if f.BranchID != nil && (u.BranchID == nil || *u.BranchID != *f.BranchID) {
			continue
		}
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		out = append(out, u)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (User, error) {
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memoryRepo) GetByEmail(_ context.Context, email string) (User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (m *memoryRepo) Create(_ context.Context, u User) (User, error) {
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return User{}, ErrDuplicateEmail
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.Version = 1
	m.users[u.ID] = u
	return u, nil
}

func (m *memoryRepo) Update(_ context.Context, u User, version int) (User, error) {
	cur, ok := m.users[u.ID]
	if !ok || cur.Version != version {
		return User{}, shared.ErrConflict
	}
	u.Version = version + 1
	m.users[u.ID] = u
	return u, nil
}

func (m *memoryRepo) UpdateRole(_ context.Context, id int64, role string, branchID *int64, version int) (User, error) {
	cur, ok := m.users[id]
	if !ok || cur.Version != version {
		return User{}, shared.ErrConflict
	}
	cur.Role, cur.BranchID, cur.Version = role, branchID, version+1
	m.users[id] = cur
	return cur, nil
}

func (m *memoryRepo) SetActive(_ context.Context, id int64, active bool) error {
	cur := m.users[id]
	cur.IsActive = active
	m.users[id] = cur
	return nil
}

func (m *memoryRepo) SoftDelete(_ context.Context, id int64) error {
	delete(m.users, id)
	return nil
}

func (m *memoryRepo) SetPassword(_ context.Context, id int64, hash string, mustChange bool) error {
	cur := m.users[id]
	cur.PasswordHash, cur.MustChangePassword = hash, mustChange
	m.users[id] = cur
	return nil
}

func (m *memoryRepo) RevokeLoginSessions(_ context.Context, userID int64) ([]string, error) {
	ids := m.sessions[userID]
	delete(m.sessions, userID)
	return ids, nil
}

type revoker struct{ revoked []string }

func (r *revoker) Revoke(_ context.Context, id string) error {
	r.revoked = append(r.revoked, id)
	return nil
}

func ptr(v int64) *int64 { return &v }

var (
	hq          = &shared.Principal{UserID: 100, Role: shared.RoleHQAdmin}
	branchAdmin = &shared.Principal{UserID: 200, Role: shared.RoleBranchAdmin, BranchID: ptr(1)}
)

func TestCreateRules(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	ctx := context.Background()

	u, temp, err := svc.Create(ctx, branchAdmin, CreateInput{Email: "Client@Example.com", Name: "김내담", Phone: "010-1234-5678", Role: "client", BranchID: ptr(9)})
	require.NoError(t, err)
	assert.Equal(t, "client@example.com", u.Email)
	assert.Equal(t, "01012345678", u.Phone)
	assert.Equal(t, int64(1), *u.BranchID, "branch admins always create inside their own branch")
	require.NotNil(t, temp)
	assert.True(t, u.MustChangePassword)
	assert.True(t, password.Matches(u.PasswordHash, temp.Password))

	_, _, err = svc.Create(ctx, branchAdmin, CreateInput{Email: "boss@example.com", Name: "관리자", Role: shared.RoleHQAdmin})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, _, err = svc.Create(ctx, hq, CreateInput{Email: "root@example.com", Name: "루트", Role: shared.RoleSuperAdmin})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, _, err = svc.Create(ctx, hq, CreateInput{Email: "c@example.com", Name: "상담사", Role: shared.RoleConsultant})
	assert.ErrorIs(t, err, ErrBranchRequired)

	_, _, err = svc.Create(ctx, hq, CreateInput{Email: "c@example.com", Name: "상담사", Role: "GUEST"})
	assert.ErrorIs(t, err, ErrInvalidRole)

	u, temp, err = svc.Create(ctx, hq, CreateInput{Email: "c@example.com", Name: "상담사", Role: shared.RoleConsultant, BranchID: ptr(2), Password: "Mint#Tree71"})
	require.NoError(t, err)
	assert.Nil(t, temp)
	assert.False(t, u.MustChangePassword)

	_, _, err = svc.Create(ctx, hq, CreateInput{Email: "weak@example.com", Name: "약함", Role: shared.RoleClient, BranchID: ptr(2), Password: "password"})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestBranchScopingAndSelfProtection(t *testing.T) {
	repo := newMemoryRepo()
	sessions := &revoker{}
	svc := NewService(repo, sessions, nil, nil)
	ctx := context.Background()

	other, _, err := svc.Create(ctx, hq, CreateInput{Email: "o@example.com", Name: "타지점", Role: shared.RoleClient, BranchID: ptr(2)})
	require.NoError(t, err)
	mine, _, err := svc.Create(ctx, hq, CreateInput{Email: "m@example.com", Name: "우리지점", Role: shared.RoleClient, BranchID: ptr(1)})
	require.NoError(t, err)

	_, err = svc.Get(ctx, branchAdmin, other.ID)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	page, err := svc.List(ctx, branchAdmin, ListFilter{BranchID: ptr(2)})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, mine.ID, page.Items[0].ID)

	_, err = svc.SetActive(ctx, branchAdmin, branchAdmin.UserID, false)
	assert.ErrorIs(t, err, ErrSelfAction)

	repo.sessions[mine.ID] = []string{"s1", "s2"}
	u, err := svc.SetActive(ctx, branchAdmin, mine.ID, false)
	require.NoError(t, err)
	assert.False(t, u.IsActive)
	assert.Equal(t, []string{"s1", "s2"}, sessions.revoked)

	_, err = svc.LoadPrincipal(ctx, mine.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateAndRoleChange(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	ctx := context.Background()

	u, _, err := svc.Create(ctx, hq, CreateInput{Email: "c@example.com", Name: "상담사", Phone: "01011112222", Role: shared.RoleConsultant, BranchID: ptr(1)})
	require.NoError(t, err)

	_, err = svc.Update(ctx, branchAdmin, u.ID, UpdateInput{Name: "새이름", Version: u.Version + 1})
	assert.ErrorIs(t, err, shared.ErrConflict)

	updated, err := svc.Update(ctx, branchAdmin, u.ID, UpdateInput{Name: "새이름", Phone: "01099998888", Version: u.Version})
	require.NoError(t, err)
	assert.Equal(t, "새이름", updated.Name)
	assert.Nil(t, updated.PhoneVerifiedAt)

	_, err = svc.ChangeRole(ctx, branchAdmin, u.ID, RoleInput{Role: shared.RoleBranchAdmin, Version: updated.Version})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	promoted, err := svc.ChangeRole(ctx, hq, u.ID, RoleInput{Role: shared.RoleBranchAdmin, Version: updated.Version})
	require.NoError(t, err)
	assert.Equal(t, shared.RoleBranchAdmin, promoted.Role)
	assert.Equal(t, int64(1), *promoted.BranchID)
}

func TestResetPasswordForcesChange(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	u, _, err := svc.Create(ctx, hq, CreateInput{Email: "c@example.com", Name: "내담자", Role: shared.RoleClient, BranchID: ptr(1), Password: "Mint#Tree71"})
	require.NoError(t, err)
	temp, err := svc.ResetPassword(ctx, branchAdmin, u.ID)
	require.NoError(t, err)

	stored := repo.users[u.ID]
	assert.True(t, stored.MustChangePassword)
	assert.True(t, password.Matches(stored.PasswordHash, temp.Password))

	p, err := svc.LoadPrincipal(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, p.MustChangePassword)
}

func TestHandlerGating(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	mw := rbac.Middleware{Service: rbac.NewService(rbac.Defaults{}, nil, nil, nil)}
	r := chi.NewRouter()
	r.Route("/users", NewHandler(nil, svc, mw).MountRoutes)

	do := func(method, path string, principal *shared.Principal, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if principal != nil {
			req = req.WithContext(shared.ContextWithPrincipal(req.Context(), principal))
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	client := &shared.Principal{UserID: 5, Role: shared.RoleClient, BranchID: ptr(1)}
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/users/", nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, do(http.MethodGet, "/users/", client, nil).Code)

	rec := do(http.MethodPost, "/users/", branchAdmin, map[string]any{"email": "bad", "name": "x", "role": "CLIENT"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var env struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Contains(t, env.Data, "email")

	rec = do(http.MethodPost, "/users/", branchAdmin, map[string]any{"email": "new@example.com", "name": "신규", "role": "CLIENT"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "temporary_password")

	repo.users[5] = User{ID: 5, Email: "me@example.com", Name: "나", Role: shared.RoleClient, Version: 1, IsActive: true}
	rec = do(http.MethodGet, "/users/me/profile", client, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "me@example.com")
	assert.NotContains(t, rec.Body.String(), "password_hash")
}
