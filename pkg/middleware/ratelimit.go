package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/hallcall/hallcall-api/pkg/errors"
)

// RateLimiter is a fixed one minute window per authenticated user (or IP).
type RateLimiter struct {
	client      *redis.Client
	maxRequests int
	windowSec   int
}

func NewRateLimiter(client *redis.Client, maxRequestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		client:      client,
		maxRequests: maxRequestsPerMinute,
		windowSec:   60,
	}
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.GetString("user_id")
		if subject == "" {
			subject = c.ClientIP()
		}

		key := fmt.Sprintf("ratelimit:%s", subject)
		ctx := c.Request.Context()

		count, err := rl.client.Incr(ctx, key).Result()
		if err != nil {
			errors.ErrorResponse(c, 500, "Internal Server Error", "rate limit check failed")
			return
		}
		if count == 1 {
			rl.client.Expire(ctx, key, time.Duration(rl.windowSec)*time.Second)
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", rl.maxRequests))
		if count > int64(rl.maxRequests) {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", fmt.Sprintf("%d", rl.windowSec))
			errors.TooManyRequests(c, "rate limit exceeded")
			return
		}

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", rl.maxRequests-int(count)))
		c.Next()
	}
}

// TokenBucket is a Redis token bucket shared by every replica. Refill and take
// run in one script so concurrent requests cannot overdraw the bucket.
type TokenBucket struct {
	client       *redis.Client
	prefix       string
	capacity     int64
	refillRate   int64
	refillPeriod time.Duration
}

func NewTokenBucket(client *redis.Client, prefix string, capacity int64, refillRate int64, refillPeriod time.Duration) *TokenBucket {
	return &TokenBucket{
		client:       client,
		prefix:       prefix,
		capacity:     capacity,
		refillRate:   refillRate,
		refillPeriod: refillPeriod,
	}
}

// KEYS[1] bucket hash; ARGV: capacity, refill rate, refill period ms, now ms.
var takeTokenScript = redis.NewScript(`
local cap = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local period = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local b = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(b[1])
local ts = tonumber(b[2])
if tokens == nil then
  tokens = cap
  ts = now
end
local periods = math.floor((now - ts) / period)
if periods > 0 then
  tokens = math.min(cap, tokens + periods * rate)
  ts = ts + periods * period
end
local ok = 0
if tokens > 0 then
  tokens = tokens - 1
  ok = 1
end
redis.call("HSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], math.ceil(cap / rate) * period + period)
return ok
`)

func (tb *TokenBucket) TakeToken(ctx context.Context, key string) (bool, error) {
	res, err := takeTokenScript.Run(ctx, tb.client,
		[]string{fmt.Sprintf("token_bucket:%s:%s", tb.prefix, key)},
		tb.capacity, tb.refillRate, tb.refillPeriod.Milliseconds(), time.Now().UnixMilli(),
	).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Middleware throttles per authenticated user.
func (tb *TokenBucket) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.GetString("user_id")
		if subject == "" {
			subject = c.ClientIP()
		}
		ok, err := tb.TakeToken(c.Request.Context(), subject)
		if err == nil && !ok {
			c.Header("Retry-After", fmt.Sprintf("%d", int(tb.refillPeriod.Seconds())))
			errors.TooManyRequests(c, "too many requests, slow down")
			return
		}
		c.Next()
	}
}
