package shared_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhub/counselhub/internal/shared"
)

func TestUserSafeMessage(t *testing.T) {
	assert.Equal(t, "", shared.UserSafeMessage(nil))
	assert.Equal(t, "접근 권한이 없습니다.", shared.UserSafeMessage(fmt.Errorf("wrap: %w", shared.ErrForbidden)))
	custom := shared.NewUserError(shared.ErrValidation, "전화번호를 확인해 주세요.")
	assert.Equal(t, "전화번호를 확인해 주세요.", shared.UserSafeMessage(fmt.Errorf("svc: %w", custom)))
	assert.ErrorIs(t, custom, shared.ErrValidation)
	assert.Equal(t, shared.GenericErrorMessage, shared.UserSafeMessage(errors.New("pq: boom")))
}

func TestPrincipalBranchScope(t *testing.T) {
	branch := int64(3)
	other := int64(9)

	hq := &shared.Principal{Role: shared.RoleHQAdmin}
	assert.True(t, hq.CanAccessBranch(other))
	assert.Nil(t, hq.ScopeBranch(nil))
	assert.Equal(t, &other, hq.ScopeBranch(&other))

	admin := &shared.Principal{Role: shared.RoleBranchAdmin, BranchID: &branch}
	assert.True(t, admin.IsAdmin())
	assert.False(t, admin.IsHQ())
	assert.True(t, admin.CanAccessBranch(branch))
	assert.False(t, admin.CanAccessBranch(other))
	assert.Equal(t, branch, *admin.ScopeBranch(&other))

	orphan := &shared.Principal{Role: shared.RoleConsultant}
	assert.Equal(t, int64(-1), *orphan.ScopeBranch(nil))

	var anon *shared.Principal
	assert.False(t, anon.IsAdmin())
	assert.False(t, anon.CanAccessBranch(branch))
}

func TestPagination(t *testing.T) {
	req := shared.PageRequest{Page: 0, PerPage: 500}.Normalize()
	assert.Equal(t, 1, req.Page)
	assert.Equal(t, shared.MaxPerPage, req.PerPage)
	assert.Equal(t, 40, shared.PageRequest{Page: 3, PerPage: 20}.Offset())

	res := shared.NewPagedResult[int](nil, shared.PageRequest{Page: 1, PerPage: 20}, 41)
	assert.NotNil(t, res.Items)
	assert.Equal(t, 3, res.Pagination.TotalPages)
}

func TestParsePeriod(t *testing.T) {
	start, end, err := shared.ParsePeriod("2024-02")
	require.NoError(t, err)
	assert.Equal(t, 1, start.Day())
	assert.Equal(t, time.March, end.Month())

	_, _, err = shared.ParsePeriod("2024/02")
	assert.ErrorIs(t, err, shared.ErrValidation)

	ref := time.Date(2024, time.January, 15, 12, 0, 0, 0, shared.Seoul)
	assert.Equal(t, "2023-12", shared.PreviousPeriod(ref))
}

func TestLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := shared.NewLocker(client)
	ctx := context.Background()
	key := shared.SalaryLockKey("2024-05", 0)

	lock, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, shared.ErrConflict)

	require.NoError(t, lock.Release(ctx))
	assert.False(t, mr.Exists(key))

	again, err := locker.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	// A stale holder must not release a lock it no longer owns.
	require.NoError(t, lock.Release(ctx))
	assert.True(t, mr.Exists(key))
	require.NoError(t, again.Release(ctx))
}

type memGuard struct{ keys map[string]bool }

func (g *memGuard) CheckAndInsert(_ context.Context, key, _ string) error {
	if g.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	g.keys[key] = true
	return nil
}

func (g *memGuard) Delete(_ context.Context, key string) error {
	delete(g.keys, key)
	return nil
}

func TestRunOnce(t *testing.T) {
	guard := &memGuard{keys: map[string]bool{}}
	ctx := context.Background()
	calls := 0
	ok := func() error { calls++; return nil }

	require.NoError(t, shared.RunOnce(ctx, guard, "k1", "mappings", ok))
	assert.ErrorIs(t, shared.RunOnce(ctx, guard, "k1", "mappings", ok), shared.ErrDuplicate)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	assert.ErrorIs(t, shared.RunOnce(ctx, guard, "k2", "mappings", func() error { return boom }), boom)
	assert.False(t, guard.keys["k2"])

	require.NoError(t, shared.RunOnce(ctx, guard, "", "mappings", ok))
	assert.Equal(t, 2, calls)
}
