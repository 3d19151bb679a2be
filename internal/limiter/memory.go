package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// Memory is a per-process token bucket per key. Idle buckets are evicted after a few windows.
type Memory struct {
	rule Rule
	mu   sync.Mutex
	c    *cache.Cache
	now  func() time.Time
}

var _ Limiter = (*Memory)(nil)

// NewMemory constructs an in-memory limiter for rule.
func NewMemory(rule Rule) *Memory {
	return &Memory{
		rule: rule,
		c:    cache.New(4*rule.Window, 2*rule.Window),
		now:  time.Now,
	}
}

// Allow takes one token from key's bucket.
func (m *Memory) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lim *rate.Limiter
	if v, ok := m.c.Get(key); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(rate.Every(m.rule.Window/time.Duration(m.rule.Limit)), m.rule.Limit)
	}
	m.c.SetDefault(key, lim)

	now := m.now()
	if lim.AllowN(now, 1) {
		return true, 0, nil
	}
	r := lim.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, delay, nil
}
