package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewWithClient(rdb), mr
}

func TestObserveIgnoresMissingKey(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t)

	err := c.Observe(c.Get(context.Background(), "absent").Err())
	require.ErrorIs(t, err, Nil)
	assert.True(t, c.Available())
}

func TestObserveMarksUnavailable(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t)

	var flips []bool
	c.onStateChange = func(up bool) { flips = append(flips, up) }

	err := c.Observe(errors.New("connection refused"))
	require.Error(t, err)
	assert.False(t, c.Available())

	// second failure does not fire the hook again
	_ = c.Observe(errors.New("connection refused"))
	assert.Equal(t, []bool{false}, flips)
}

func TestPingRestoresAvailability(t *testing.T) {
	t.Parallel()

	c, mr := newTestClient(t)
	ctx := context.Background()

	mr.SetError("LOADING")
	require.Error(t, c.Ping(ctx))
	assert.False(t, c.Available())

	mr.SetError("")
	require.NoError(t, c.Ping(ctx))
	assert.True(t, c.Available())
}

func TestMonitorStopsOnCancel(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, c.Monitor(ctx, 0))
}
