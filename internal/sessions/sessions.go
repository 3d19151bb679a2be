// Package sessions stores bearer sessions: in process memory or shared through Redis.
package sessions

import (
	"context"
	"time"
)

// Session binds an opaque session id to an identity.
type Session struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// Store keeps sessions until they expire.
type Store interface {
	// Put stores s until s.ExpiresAt.
	Put(ctx context.Context, s Session) error
	// Get loads a live session; errs.ErrNotFound when missing or expired.
	Get(ctx context.Context, id string) (Session, error)
	// Delete removes a session; deleting a missing one succeeds.
	Delete(ctx context.Context, id string) error
}
