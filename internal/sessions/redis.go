package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/and161185/virtual-atelier/internal/errs"
)

const keyPrefix = "atelier:session:"

// Commander is the subset of *goredis.Client used by Redis.
type Commander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// Redis is a Store shared by every server instance.
type Redis struct {
	rdb Commander
	now func() time.Time
}

var _ Store = (*Redis)(nil)

// NewRedis wraps a Redis client.
func NewRedis(rdb Commander) *Redis { return &Redis{rdb: rdb, now: time.Now} }

// Put stores the session as JSON with a TTL.
func (r *Redis) Put(ctx context.Context, s Session) error {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("%w: session already expired", errs.ErrInvalidInput)
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, keyPrefix+s.ID, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Get loads a session.
func (r *Redis) Get(ctx context.Context, id string) (Session, error) {
	raw, err := r.rdb.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Session{}, errs.ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("redis get session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if s.Expired(r.now()) {
		return Session{}, errs.ErrNotFound
	}
	return s, nil
}

// Delete removes a session.
func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redis del session: %w", err)
	}
	return nil
}
