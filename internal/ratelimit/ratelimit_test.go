package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SspStark/adminsphere-server/internal/redis"
)

func newLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	return New(cache, nil), mr, cache
}

func TestAllowCountsWithinWindow(t *testing.T) {
	l, mr, _ := newLimiter(t)
	rule := Rule{Bucket: "login", Limit: 2, Window: time.Minute}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, rule, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, rule, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, rule, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok, "other clients have their own counter")

	assert.Equal(t, time.Minute, mr.TTL(Key("login", "10.0.0.1")))

	mr.FastForward(time.Minute)
	ok, err = l.Allow(ctx, rule, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok, "window expired")
}

func TestAllowRestoresMissingExpiry(t *testing.T) {
	l, mr, _ := newLimiter(t)
	rule := Rule{Bucket: "login", Limit: 2, Window: time.Minute}
	key := Key("login", "10.0.0.1")

	// a counter stranded without a TTL must not block the client forever
	require.NoError(t, mr.Set(key, "5"))
	require.Zero(t, mr.TTL(key))

	ok, err := l.Allow(context.Background(), rule, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(time.Minute)
	ok, err = l.Allow(context.Background(), rule, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowFailsOpen(t *testing.T) {
	l, mr, cache := newLimiter(t)
	mr.SetError("boom")

	ok, err := l.Allow(context.Background(), Rule{Bucket: "login", Limit: 1, Window: time.Minute}, "10.0.0.1")
	assert.Error(t, err)
	assert.True(t, ok)
	assert.False(t, cache.Available())

	ok, err = l.Allow(context.Background(), Rule{Bucket: "login", Limit: 1, Window: time.Minute}, "10.0.0.1")
	assert.ErrorIs(t, err, redis.ErrUnavailable)
	assert.True(t, ok)
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _, _ := newLimiter(t)

	r := gin.New()
	r.POST("/forgot-password", l.Middleware(Rule{Bucket: "forgot", Limit: 1, Window: 15 * time.Minute}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/forgot-password", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do().Code)

	w := do()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "900", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "Too many requests. Please try again later.")
}
