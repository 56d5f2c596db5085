package admission

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"famagpt-fabric/internal/observability"
)

// RateLimiter implements a sliding-window counter per client, using a
// Redis sorted set keyed by client id: each request trims the window and
// counts it, and an allowed request then adds a member scored by its
// arrival time. Rejected requests add no member.
type RateLimiter struct {
	rdb        *redis.Client
	limit      int
	window     time.Duration
	metrics    *observability.Metrics
}

func NewRateLimiter(rdb *redis.Client, limitPerMinute int, metrics *observability.Metrics) *RateLimiter {
	return &RateLimiter{
		rdb:     rdb,
		limit:   limitPerMinute,
		window:  time.Minute,
		metrics: metrics,
	}
}

func clientIDFor(c *fiber.Ctx) string {
	if v := c.Get("X-Client-ID"); v != "" {
		return v
	}
	if v := c.Get("X-API-Key"); v != "" {
		return "api:" + v[:min(len(v), 8)]
	}
	if v := c.Get("Authorization"); len(v) > 7 && v[:7] == "Bearer " {
		token := v[7:]
		return "bearer:" + token[:min(len(token), 8)]
	}
	return c.IP()
}

func (r *RateLimiter) checkRateLimit(ctx context.Context, clientID string) (allowed bool, remaining int, err error) {
	key := "ratelimit:" + clientID
	now := time.Now()
	windowStart := now.Add(-r.window)

	pipe := r.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	count := card.Val()
	if count >= int64(r.limit) {
		return false, 0, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	pipe2 := r.rdb.TxPipeline()
	pipe2.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe2.Expire(ctx, key, r.window)
	if _, err := pipe2.Exec(ctx); err != nil {
		return false, 0, err
	}

	return true, r.limit - int(count) - 1, nil
}

// Middleware returns the Fiber handler enforcing the per-client sliding
// window, replying 429 with Retry-After when exceeded.
func (r *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := clientIDFor(c)
		allowed, remaining, err := r.checkRateLimit(c.UserContext(), clientID)
		if err != nil {
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(r.limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, remaining)))

		if !allowed {
			c.Set("Retry-After", "60")
			if r.metrics != nil {
				r.metrics.AdmissionRejects.WithLabelValues("rate_limited").Inc()
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}
