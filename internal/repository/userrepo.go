package repository

import (
	"context"

	"github.com/and161185/virtual-atelier/internal/model"
)

// UserRepository provides access to the allow-list and usage counters.
// Emails are compared case-insensitively.
type UserRepository interface {
	// Get loads a user; errs.ErrNotFound if the email is not allow-listed.
	Get(ctx context.Context, email string) (*model.User, error)
	// List returns every user.
	List(ctx context.Context) ([]model.User, error)
	// Add allow-lists an email; adding an existing email is a no-op.
	Add(ctx context.Context, email string) error
	// IncrementUsage bumps the request counter and returns the new value.
	IncrementUsage(ctx context.Context, email string) (int, error)
	// Delete removes a user; errs.ErrNotFound if absent.
	Delete(ctx context.Context, email string) error
}
