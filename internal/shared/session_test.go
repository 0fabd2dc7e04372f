package shared_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/counselhub/counselhub/internal/shared"
	_ "github.com/counselhub/counselhub/testing"
)

func newSessionManager(t *testing.T) (*shared.SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return shared.NewSessionManager(client, "chsid", time.Hour, false), mr
}

func TestSessionAnonymousEmptyIsNotStored(t *testing.T) {
	sm, mr := newSessionManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)

	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), res, sess))
	assert.Empty(t, res.Result().Cookies())
	assert.Empty(t, mr.Keys())
}

func TestSessionRoundTrip(t *testing.T) {
	sm, mr := newSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("42")
	sess.Set("k", "v")
	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, res, sess))
	require.True(t, mr.Exists("session:"+sess.ID))

	cookies := res.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, "42", loaded.User())
	assert.Equal(t, "v", loaded.Pop("k"))
	assert.Equal(t, "", loaded.Get("k"))
}

func TestSessionUnknownCookieGetsFreshID(t *testing.T) {
	sm, _ := newSessionManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: "attacker-chosen"})
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, "attacker-chosen", sess.ID)
}

func TestSessionRenewDropsPreviousRecord(t *testing.T) {
	sm, mr := newSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.Set("csrf_token", "x")
	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, res, sess))
	oldID := sess.ID

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(res.Result().Cookies()[0])
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sm.Renew(loaded)
	loaded.SetUser("7")
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), loaded))

	assert.NotEqual(t, oldID, loaded.ID)
	assert.False(t, mr.Exists("session:"+oldID))
	assert.True(t, mr.Exists("session:"+loaded.ID))
}

func TestSessionDestroyAndRevoke(t *testing.T) {
	sm, mr := newSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("1")
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), sess))

	require.NoError(t, sm.Revoke(ctx, sess.ID))
	assert.False(t, mr.Exists("session:"+sess.ID))

	sm.Destroy(sess)
	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, res, sess))
	cookies := res.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestCSRFTokenLifecycle(t *testing.T) {
	sm, _ := newSessionManager(t)
	csrf := shared.NewCSRFManager("secret")
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	token, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	again, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, csrf.VerifyToken(ctx, sess, token))
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, "other"), shared.ErrCSRFTokenMismatch)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, ""), shared.ErrCSRFTokenMissing)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, nil, token), shared.ErrCSRFTokenMissing)
}
