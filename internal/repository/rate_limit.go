package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"messenger/pkg/logger"
)

type RateLimitRepository interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type rateLimitRepository struct {
	redis *redis.Client
	log   logger.Logger
}

func NewRateLimitRepository(redis *redis.Client, log logger.Logger) RateLimitRepository {
	return &rateLimitRepository{redis: redis, log: log}
}

// Allow реализует фиксированное окно: INCR счетчика с установкой TTL
// на первом инкременте окна.
func (r *rateLimitRepository) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := r.redis.Incr(ctx, key).Result()
	if err != nil {
		r.log.Error("Failed to increment rate limit counter", "error", err)
		return false, err
	}

	if count == 1 {
		r.redis.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}
