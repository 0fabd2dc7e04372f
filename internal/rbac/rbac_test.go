package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhub/counselhub/internal/platform/cache"
	"github.com/counselhub/counselhub/internal/shared"
)

type memoryRepo struct {
	overrides map[string][]Override
	lists     int
}

func (m *memoryRepo) ListOverrides(_ context.Context, role string) ([]Override, error) {
	m.lists++
	return append([]Override(nil), m.overrides[role]...), nil
}

func (m *memoryRepo) ReplaceOverrides(_ context.Context, role string, overrides []Override) error {
	m.overrides[role] = append([]Override(nil), overrides...)
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := &memoryRepo{overrides: map[string][]Override{}}
	return NewService(repo, cache.NewJSONCache(client, "rbac:role", time.Minute), nil, nil), repo
}

func TestPermissionsForRoleDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	rp, err := svc.PermissionsForRole(ctx, shared.RoleClient)
	require.NoError(t, err)
	assert.Contains(t, rp.Permissions, shared.PermSchedulesBook)
	assert.NotContains(t, rp.Permissions, shared.PermUsersView)
	assert.False(t, rp.Overridden)

	_, err = svc.PermissionsForRole(ctx, "GUEST")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestSetRolePermissionsStoresOnlyDifferences(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	perms := append(DefaultPermissions(shared.RoleConsultant), shared.PermRatingsModerate)
	perms = removeString(perms, shared.PermStatisticsView)

	rp, err := svc.SetRolePermissions(ctx, 1, shared.RoleConsultant, perms)
	require.NoError(t, err)
	assert.True(t, rp.Overridden)
	assert.Contains(t, rp.Permissions, shared.PermRatingsModerate)
	assert.NotContains(t, rp.Permissions, shared.PermStatisticsView)
	assert.ElementsMatch(t, []Override{
		{Role: shared.RoleConsultant, Permission: shared.PermRatingsModerate, Granted: true},
		{Role: shared.RoleConsultant, Permission: shared.PermStatisticsView, Granted: false},
	}, repo.overrides[shared.RoleConsultant])
}

func TestSetRolePermissionsRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetRolePermissions(ctx, 1, shared.RoleSuperAdmin, nil)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.SetRolePermissions(ctx, 1, shared.RoleClient, []string{"payments.refund"})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestPermissionsAreCached(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.PermissionsForRole(ctx, shared.RoleBranchAdmin)
	require.NoError(t, err)
	_, err = svc.PermissionsForRole(ctx, shared.RoleBranchAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.lists)
}

func TestMiddleware(t *testing.T) {
	svc, _ := newTestService(t)
	mw := Middleware{Service: svc}

	r := chi.NewRouter()
	r.With(mw.RequireAny(shared.PermUsersView)).Get("/users", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.With(mw.RequireRoles(shared.RoleHQAdmin)).Get("/hq", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name      string
		path      string
		principal *shared.Principal
		status    int
	}{
		{"anonymous", "/users", nil, http.StatusUnauthorized},
		{"client forbidden", "/users", &shared.Principal{UserID: 1, Role: shared.RoleClient}, http.StatusForbidden},
		{"branch admin allowed", "/users", &shared.Principal{UserID: 2, Role: shared.RoleBranchAdmin}, http.StatusNoContent},
		{"branch admin not hq", "/hq", &shared.Principal{UserID: 2, Role: shared.RoleBranchAdmin}, http.StatusForbidden},
		{"hq allowed", "/hq", &shared.Principal{UserID: 3, Role: shared.RoleHQAdmin}, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.principal != nil {
				req = req.WithContext(shared.ContextWithPrincipal(req.Context(), tc.principal))
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status >= 400 {
				assert.True(t, strings.Contains(rec.Body.String(), `"success":false`))
			}
		})
	}
}

func removeString(list []string, target string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
