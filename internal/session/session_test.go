package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/auth/token"
	"github.com/SspStark/adminsphere-server/internal/redis"
)

func newCache(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return redis.NewWithClient(rdb), mr
}

func TestRegistrySetReplacesPrevious(t *testing.T) {
	t.Parallel()

	cache, mr := newCache(t)
	reg := NewRegistry(cache)
	ctx := context.Background()

	first, err := reg.Set(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, first.Token)
	assert.Empty(t, first.Previous)
	assert.False(t, first.Degraded)

	ttl := mr.TTL(SessionKey("u1"))
	assert.InDelta(t, SessionTTL.Seconds(), ttl.Seconds(), 1)

	second, err := reg.Set(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Previous)
	assert.NotEqual(t, first.Token, second.Token)

	assert.Equal(t, StateInvalid, reg.Validate(ctx, "u1", first.Token))
	assert.Equal(t, StateValid, reg.Validate(ctx, "u1", second.Token))
}

func TestRegistryValidateRequiresEquality(t *testing.T) {
	t.Parallel()

	cache, _ := newCache(t)
	reg := NewRegistry(cache)
	ctx := context.Background()

	assert.Equal(t, StateInvalid, reg.Validate(ctx, "u1", "anything"))

	rep, err := reg.Set(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StateInvalid, reg.Validate(ctx, "u1", rep.Token+"x"))
	assert.Equal(t, StateInvalid, reg.Validate(ctx, "u2", rep.Token))
}

func TestRegistryRevokeIsCompareAndDelete(t *testing.T) {
	t.Parallel()

	cache, mr := newCache(t)
	reg := NewRegistry(cache)
	ctx := context.Background()

	old, err := reg.Set(ctx, "u1")
	require.NoError(t, err)
	current, err := reg.Set(ctx, "u1")
	require.NoError(t, err)

	revoked, err := reg.Revoke(ctx, "u1", old.Token)
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.True(t, mr.Exists(SessionKey("u1")))

	revoked, err = reg.Revoke(ctx, "u1", current.Token)
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.False(t, mr.Exists(SessionKey("u1")))
}

func TestRegistryClear(t *testing.T) {
	t.Parallel()

	cache, mr := newCache(t)
	reg := NewRegistry(cache)
	ctx := context.Background()

	_, err := reg.Set(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, reg.Clear(ctx, "u1"))
	assert.False(t, mr.Exists(SessionKey("u1")))
}

func TestRegistryDegradesWhenCacheDown(t *testing.T) {
	t.Parallel()

	cache, mr := newCache(t)
	reg := NewRegistry(cache)
	ctx := context.Background()

	mr.Close()

	rep, err := reg.Set(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rep.Degraded)
	assert.Empty(t, rep.Token)
	assert.False(t, cache.Available())

	assert.Equal(t, StateUnavailable, reg.Validate(ctx, "u1", "tok"))

	_, err = reg.Revoke(ctx, "u1", "tok")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, reg.Clear(ctx, "u1"), ErrUnavailable)
}

func newResetStore(t *testing.T) (*ResetStore, *token.Issuer, *redis.Client, *miniredis.Miniredis) {
	t.Helper()

	cache, mr := newCache(t)
	iss, err := token.NewIssuer("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	return NewResetStore(cache, iss), iss, cache, mr
}

func TestResetIssueAndConsumeOnce(t *testing.T) {
	t.Parallel()

	store, iss, _, mr := newResetStore(t)
	ctx := context.Background()

	raw, err := store.Issue(ctx, "u1")
	require.NoError(t, err)

	ttl := mr.TTL(ResetKey("u1"))
	assert.InDelta(t, ResetTTL.Seconds(), ttl.Seconds(), 1)

	claims, err := iss.VerifyReset(raw)
	require.NoError(t, err)

	ok, err := store.Consume(ctx, "u1", claims.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Consume(ctx, "u1", claims.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResetOnlyLatestTokenConsumes(t *testing.T) {
	t.Parallel()

	store, iss, _, _ := newResetStore(t)
	ctx := context.Background()

	first, err := store.Issue(ctx, "u1")
	require.NoError(t, err)
	second, err := store.Issue(ctx, "u1")
	require.NoError(t, err)

	firstClaims, err := iss.VerifyReset(first)
	require.NoError(t, err)
	secondClaims, err := iss.VerifyReset(second)
	require.NoError(t, err)

	ok, err := store.Consume(ctx, "u1", firstClaims.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Consume(ctx, "u1", secondClaims.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResetExpiredMarker(t *testing.T) {
	t.Parallel()

	store, iss, _, mr := newResetStore(t)
	ctx := context.Background()

	raw, err := store.Issue(ctx, "u1")
	require.NoError(t, err)
	claims, err := iss.VerifyReset(raw)
	require.NoError(t, err)

	mr.FastForward(ResetTTL + time.Second)

	ok, err := store.Consume(ctx, "u1", claims.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResetFailsClosedWhenCacheDown(t *testing.T) {
	t.Parallel()

	store, _, cache, _ := newResetStore(t)
	require.Error(t, cache.Observe(assert.AnError))

	_, err := store.Issue(context.Background(), "u1")
	assert.True(t, apperr.Is(err, apperr.KindServiceUnavailable))

	_, err = store.Consume(context.Background(), "u1", "jti")
	assert.True(t, apperr.Is(err, apperr.KindServiceUnavailable))
}

func TestCookieAttributes(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	SetCookie(rec, "signed", CookieOptions{Secure: true})

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, CookieName, c.Name)
	assert.Equal(t, "signed", c.Value)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 86400, c.MaxAge)

	rec = httptest.NewRecorder()
	ClearCookie(rec, CookieOptions{})
	cookies = rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestTokenFromRequest(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", TokenFromRequest(r))
}
