package limiter

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed fixed-window limiter.
type PG struct {
	pool   pgxQuerier
	prefix string
	rule   Rule
	now    func() time.Time
}

var _ Limiter = (*PG)(nil)

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(q pgxQuerier, prefix string, rule Rule) *PG {
	return &PG{pool: q, prefix: prefix, rule: rule, now: time.Now}
}

// Allow counts the request in the key's current window, opening a new window when the
// previous one has elapsed.
func (l *PG) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	const q = `
INSERT INTO request_limits (key, window_start, hits)
VALUES ($1, now(), 1)
ON CONFLICT (key) DO UPDATE
SET
  window_start = CASE WHEN now() - request_limits.window_start >= $2::interval THEN now() ELSE request_limits.window_start END,
  hits = CASE WHEN now() - request_limits.window_start >= $2::interval THEN 1 ELSE request_limits.hits + 1 END
RETURNING hits, window_start`
	var hits int
	var windowStart time.Time
	if err := l.pool.QueryRow(ctx, q, l.prefix+key, l.rule.Window).Scan(&hits, &windowStart); err != nil {
		return false, 0, err
	}
	if hits <= l.rule.Limit {
		return true, 0, nil
	}
	retry := windowStart.Add(l.rule.Window).Sub(l.now())
	if retry < 0 {
		retry = 0
	}
	return false, retry, nil
}

// Prune removes windows that ended before olderThan ago.
func (l *PG) Prune(ctx context.Context, olderThan time.Duration) error {
	const q = `DELETE FROM request_limits WHERE window_start < now() - $1::interval`
	_, err := l.pool.Exec(ctx, q, olderThan)
	return err
}
