package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/and161185/virtual-atelier/internal/errs"
)

const cleanupInterval = 10 * time.Minute

// Memory is a single-process Store with background expiry.
type Memory struct {
	c   *cache.Cache
	now func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{c: cache.New(cache.NoExpiration, cleanupInterval), now: time.Now}
}

func (m *Memory) Put(_ context.Context, s Session) error {
	ttl := s.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return fmt.Errorf("%w: session already expired", errs.ErrInvalidInput)
	}
	m.c.Set(s.ID, s, ttl)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Session, error) {
	v, ok := m.c.Get(id)
	if !ok {
		return Session{}, errs.ErrNotFound
	}
	s := v.(Session)
	if s.Expired(m.now()) {
		m.c.Delete(id)
		return Session{}, errs.ErrNotFound
	}
	return s, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.c.Delete(id)
	return nil
}
