package limiter

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisCommander is the subset of *goredis.Client used by Redis.
type RedisCommander interface {
	Incr(ctx context.Context, key string) *goredis.IntCmd
	PExpire(ctx context.Context, key string, expiration time.Duration) *goredis.BoolCmd
	PTTL(ctx context.Context, key string) *goredis.DurationCmd
}

// Redis is a fixed-window counter shared by every server instance.
type Redis struct {
	rdb    RedisCommander
	prefix string
	rule   Rule
}

var _ Limiter = (*Redis)(nil)

// NewRedis constructs a Redis-backed limiter.
func NewRedis(rdb RedisCommander, prefix string, rule Rule) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, rule: rule}
}

// Allow increments the key's counter for the current window.
func (l *Redis) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := l.prefix + key
	n, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("limiter incr: %w", err)
	}
	if n == 1 {
		if err := l.rdb.PExpire(ctx, k, l.rule.Window).Err(); err != nil {
			return false, 0, fmt.Errorf("limiter expire: %w", err)
		}
	}
	if n <= int64(l.rule.Limit) {
		return true, 0, nil
	}
	ttl, err := l.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("limiter ttl: %w", err)
	}
	if ttl < 0 {
		// counter lost its expiry; restore it so the key cannot block forever
		_ = l.rdb.PExpire(ctx, k, l.rule.Window).Err()
		ttl = l.rule.Window
	}
	return false, ttl, nil
}
