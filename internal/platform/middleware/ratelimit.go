package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// bucket is one token bucket. Tokens refill continuously at the configured
// rate up to the burst size.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	lastSeen time.Time
}

// take refills the bucket for the time elapsed since the last call, then
// attempts to spend one token. It reports whether the request may proceed
// and, when it may not, how many whole seconds until a token is available.
func (b *bucket) take(rate, burst float64, now time.Time) (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.lastSeen).Seconds() * rate
	if b.tokens > burst {
		b.tokens = burst
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	if rate <= 0 {
		return false, 1
	}
	return false, int((1-b.tokens)/rate) + 1
}

// RateLimit returns a middleware enforcing a per-key token bucket. The key
// is the caller's IP, prefixed with the center id once auth has run so one
// busy center cannot starve another behind the same proxy IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	var (
		mu      sync.Mutex
		buckets = make(map[string]*bucket)
	)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if centerID, ok := c.Get("center_id").(string); ok && centerID != "" {
				key = centerID + ":" + key
			}

			now := time.Now()
			mu.Lock()
			bkt, ok := buckets[key]
			if !ok {
				bkt = &bucket{tokens: float64(cfg.BurstSize), lastSeen: now}
				buckets[key] = bkt
			}
			mu.Unlock()

			allowed, retryAfter := bkt.take(cfg.RequestsPerSecond, float64(cfg.BurstSize), now)
			c.Response().Header().Set("X-RateLimit-Limit", limitHeader)
			if !allowed {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
