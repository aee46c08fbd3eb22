// Package ratelimit implements a per-IP fixed window counter in Redis.
// Cache failures let the request through.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/SspStark/adminsphere-server/internal/apperr"
	"github.com/SspStark/adminsphere-server/internal/logger"
	"github.com/SspStark/adminsphere-server/internal/metrics"
	"github.com/SspStark/adminsphere-server/internal/redis"
)

const message = "Too many requests. Please try again later."

// Rule limits one bucket to Limit hits per Window per client IP.
type Rule struct {
	Bucket string
	Limit  int
	Window time.Duration
}

func Key(bucket, ip string) string {
	return fmt.Sprintf("rate::%s:%s", bucket, ip)
}

// incrWindow counts a hit on KEYS[1] and makes sure the counter expires
// after ARGV[1] milliseconds. A counter left without a TTL gets one here.
var incrWindow = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

type Limiter struct {
	cache   *redis.Client
	metrics *metrics.Metrics
}

func New(cache *redis.Client, m *metrics.Metrics) *Limiter {
	return &Limiter{cache: cache, metrics: m}
}

// Allow counts a hit and reports whether it is within the rule.
func (l *Limiter) Allow(ctx context.Context, rule Rule, ip string) (bool, error) {
	if !l.cache.Available() {
		return true, redis.ErrUnavailable
	}

	n, err := incrWindow.Run(ctx, l.cache.UniversalClient, []string{Key(rule.Bucket, ip)}, rule.Window.Milliseconds()).Int64()
	if err != nil {
		return true, l.cache.Observe(err)
	}
	return n <= int64(rule.Limit), nil
}

// Middleware rejects requests over the rule with 429 and Retry-After.
func (l *Limiter) Middleware(rule Rule) gin.HandlerFunc {
	retryAfter := strconv.Itoa(int(rule.Window.Seconds()))

	return func(c *gin.Context) {
		ok, err := l.Allow(c.Request.Context(), rule, c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", map[string]any{
				"bucket": rule.Bucket,
				"error":  err.Error(),
			})
		}
		if !ok {
			l.metrics.RateLimited(rule.Bucket)
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": message,
				"code":    apperr.KindRateLimited,
			})
			return
		}
		c.Next()
	}
}
