// Package redis wraps the shared cache handle together with its
// availability flag. Callers check Available before relying on the cache
// and report failures back through Observe.
package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	goredis "github.com/redis/go-redis/v9"

	"github.com/SspStark/adminsphere-server/internal/logger"
)

// Nil is returned by the cache when a key does not exist.
const Nil = goredis.Nil

// ErrUnavailable is reported when the cache is marked down.
var ErrUnavailable = errors.New("redis: cache unavailable")

type Options struct {
	Addr     string
	Password string
	DB       int

	// ConnectTries bounds the startup ping retries. Zero means 5.
	ConnectTries uint

	// OnStateChange, when set, is called each time availability flips.
	OnStateChange func(available bool)
}

type Client struct {
	goredis.UniversalClient

	available     atomic.Bool
	onStateChange func(bool)
}

// New dials the cache and retries the first ping with exponential backoff.
// If the cache never answers the client is still returned, marked
// unavailable, so the service can start in degraded mode.
func New(ctx context.Context, opts Options) *Client {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	c := &Client{UniversalClient: rdb, onStateChange: opts.OnStateChange}

	tries := opts.ConnectTries
	if tries == 0 {
		tries = 5
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, rdb.Ping(ctx).Err()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Warn("redis ping failed, retrying", map[string]any{
				"addr":  opts.Addr,
				"error": err.Error(),
				"in":    d.String(),
			})
		}),
	)
	if err != nil {
		logger.Warn("redis unavailable at startup, session enforcement disabled", map[string]any{
			"addr":  opts.Addr,
			"error": err.Error(),
		})
		return c
	}

	c.available.Store(true)
	return c
}

// NewWithClient wraps a pre-configured client and marks it available.
// Tests use it with miniredis.
func NewWithClient(rdb goredis.UniversalClient) *Client {
	c := &Client{UniversalClient: rdb}
	c.available.Store(true)
	return c
}

// Available reports whether the last known cache interaction succeeded.
func (c *Client) Available() bool {
	return c.available.Load()
}

// Observe inspects the result of a cache call. Any error other than a
// missing key marks the cache unavailable. The error is returned unchanged.
func (c *Client) Observe(err error) error {
	if err != nil && !errors.Is(err, goredis.Nil) {
		c.setAvailable(false, err)
	}
	return err
}

func (c *Client) setAvailable(up bool, cause error) {
	if c.available.Swap(up) == up {
		return
	}

	fields := map[string]any{"available": up}
	if cause != nil {
		fields["error"] = cause.Error()
	}
	if up {
		logger.Info("redis connection restored", fields)
	} else {
		logger.Warn("redis marked unavailable", fields)
	}

	if c.onStateChange != nil {
		c.onStateChange(up)
	}
}

// Ping checks the connection once and updates availability.
func (c *Client) Ping(ctx context.Context) error {
	err := c.UniversalClient.Ping(ctx).Err()
	c.setAvailable(err == nil, err)
	return err
}

// Monitor pings the cache every interval until ctx is done.
func (c *Client) Monitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			_ = c.Ping(pingCtx)
			cancel()
		}
	}
}
