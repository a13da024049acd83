package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter keeps counters in Redis so every instance shares one budget.
type RedisLimiter struct {
	redis  redis.UniversalClient
	config Config
	now    func() time.Time
}

// NewRedis creates a [RedisLimiter] backed by the given client.
func NewRedis(client redis.UniversalClient, cfg Config) (*RedisLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("rate: redis client is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &RedisLimiter{redis: client, config: cfg, now: time.Now}, nil
}

// Allow increments the counter for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.config.Prefix + key

	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, k, l.config.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return decide(l.config, count, l.now().Add(l.config.Window)), nil
	}

	ttl, err := l.redis.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if ttl < 0 {
		// A previous EXPIRE was lost; re-arm so the key cannot live forever.
		if err := l.redis.Expire(ctx, k, l.config.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		ttl = l.config.Window
	}

	return decide(l.config, count, l.now().Add(ttl)), nil
}

// Reset drops the counter for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.config.Prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
