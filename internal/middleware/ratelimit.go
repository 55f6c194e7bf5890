package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimits are applied to operators whose key carries no limit of its own
type RateLimits struct {
	PerSecond int
	PerDay    int
}

// DefaultRateLimits match the operator_key column default
var DefaultRateLimits = RateLimits{PerSecond: 10, PerDay: 50000}

func secondKey(keyID string, now time.Time) string {
	return fmt.Sprintf("rl:operator:%s:second:%d", keyID, now.Unix())
}

func dayKey(keyID string, now time.Time) string {
	return fmt.Sprintf("rl:operator:%s:day:%s", keyID, now.Format("2006-01-02"))
}

// RateLimitMiddleware limits each operator per second and per day.
// Requests pass when Redis is unreachable.
func RateLimitMiddleware(rdb *redis.Client, limits RateLimits) fiber.Handler {
	return func(c *fiber.Ctx) error {
		op, ok := Operator(c)
		if !ok {
			// no operator, nothing to count against
			return c.Next()
		}

		perSecond := limits.PerSecond
		if op.RateLimitPerSecond > 0 {
			perSecond = op.RateLimitPerSecond
		}

		ctx := context.Background()
		now := time.Now()

		if perSecond > 0 {
			key := secondKey(op.KeyID, now)
			count, err := rdb.Incr(ctx, key).Result()
			if err == nil {
				rdb.Expire(ctx, key, 2*time.Second)

				if count > int64(perSecond) {
					c.Set("X-RateLimit-Limit-Second", strconv.Itoa(perSecond))
					c.Set("X-RateLimit-Remaining-Second", "0")
					c.Set("Retry-After", "1")

					return c.Status(429).JSON(fiber.Map{
						"error":       "rate_limit_exceeded",
						"message":     "Too many requests per second",
						"limit_type":  "per_second",
						"limit":       perSecond,
						"retry_after": 1,
					})
				}
			}
		}

		if limits.PerDay > 0 {
			key := dayKey(op.KeyID, now)
			count, err := rdb.Incr(ctx, key).Result()
			if err == nil {
				rdb.Expire(ctx, key, 25*time.Hour) // 25 hours to handle timezone differences

				if count > int64(limits.PerDay) {
					tomorrow := now.AddDate(0, 0, 1)
					midnight := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, tomorrow.Location())
					retryAfter := int64(midnight.Sub(now).Seconds())

					c.Set("X-RateLimit-Limit-Day", strconv.Itoa(limits.PerDay))
					c.Set("X-RateLimit-Remaining-Day", "0")
					c.Set("Retry-After", strconv.FormatInt(retryAfter, 10))

					return c.Status(429).JSON(fiber.Map{
						"error":       "daily_quota_exceeded",
						"message":     "Daily quota exceeded",
						"limit_type":  "per_day",
						"limit":       limits.PerDay,
						"used":        count,
						"retry_after": retryAfter,
						"reset_at":    midnight.Format(time.RFC3339),
					})
				}

				c.Set("X-RateLimit-Remaining-Day", strconv.FormatInt(int64(limits.PerDay)-count, 10))
			}
		}

		c.Set("X-RateLimit-Limit-Second", strconv.Itoa(perSecond))
		c.Set("X-RateLimit-Limit-Day", strconv.Itoa(limits.PerDay))

		return c.Next()
	}
}
