package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/boomerdev01-max/linkaia-sub001/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "rl:"

type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, count int64, err error)
}

// RedisLimiter counts hits per fixed window. The window start is part of the
// key so a burst never extends the window it landed in.
type RedisLimiter struct {
	client redis.UniversalClient
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, limit int64, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, int64, error) {
	bucket := l.now().UnixMilli() / l.window.Milliseconds()
	k := keyPrefix + key + ":" + strconv.FormatInt(bucket, 10)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", key, err)
	}

	n := incr.Val()
	return n <= l.limit, n, nil
}

// Middleware limits the authenticated caller. Limiter outages let the request
// through; only an exceeded budget is rejected.
func Middleware(limiter Limiter, scope string, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		userID, ok := c.Locals("user_id").(int64)
		if !ok || userID <= 0 {
			return c.Next()
		}

		allowed, count, err := limiter.Allow(c.UserContext(), scope+":"+strconv.FormatInt(userID, 10))
		if err != nil {
			log.Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			return c.Next()
		}
		if !allowed {
			log.Debug("rate limited",
				zap.String("scope", scope),
				zap.Int64("user_id", userID),
				zap.Int64("count", count),
			)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": services.ErrRateLimited.Message,
				"code":  services.CodeRateLimited,
			})
		}
		return c.Next()
	}
}
