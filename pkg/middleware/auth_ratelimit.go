package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// AuthRateLimiter provides stricter rate limiting for authentication and OTP
// endpoints. Each scope keeps its own counters.
type AuthRateLimiter struct {
	client      *redis.Client
	scope       string
	maxAttempts int
	windowSec   int
	blockSec    int
}

// NewAuthRateLimiter creates a new auth rate limiter
// maxAttempts: number of attempts allowed in window
// windowSec: time window in seconds
// blockSec: time to block after exceeding limit
func NewAuthRateLimiter(client *redis.Client, scope string, maxAttempts, windowSec, blockSec int) *AuthRateLimiter {
	return &AuthRateLimiter{
		client:      client,
		scope:       scope,
		maxAttempts: maxAttempts,
		windowSec:   windowSec,
		blockSec:    blockSec,
	}
}

func (arl *AuthRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		key := fmt.Sprintf("auth_ratelimit:%s:%s", arl.scope, ip)
		blockKey := fmt.Sprintf("auth_blocked:%s:%s", arl.scope, ip)
		ctx := c.Request.Context()

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", arl.maxAttempts))

		if ttl, err := arl.client.TTL(ctx, blockKey).Result(); err == nil && ttl > 0 {
			arl.reject(c, int(ttl.Seconds()))
			return
		}

		count, err := arl.client.Incr(ctx, key).Result()
		if err != nil {
			// fail open
			c.Next()
			return
		}
		if count == 1 {
			arl.client.Expire(ctx, key, time.Duration(arl.windowSec)*time.Second)
		}

		if count > int64(arl.maxAttempts) {
			arl.client.Set(ctx, blockKey, "1", time.Duration(arl.blockSec)*time.Second)
			arl.reject(c, arl.blockSec)
			return
		}

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", arl.maxAttempts-int(count)))
		c.Next()
	}
}

func (arl *AuthRateLimiter) reject(c *gin.Context, retryAfter int) {
	c.Header("X-RateLimit-Remaining", "0")
	c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":       "too many authentication attempts",
		"status":      http.StatusTooManyRequests,
		"retry_after": retryAfter,
	})
}
