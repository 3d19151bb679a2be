package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/model"
	"github.com/and161185/virtual-atelier/internal/repository"
)

// UserService manages the allow-list, usage counters and the admin identity.
type UserService interface {
	IsAdmin(email string) bool
	List(ctx context.Context) ([]model.User, error)
	Add(ctx context.Context, email string) error
	Delete(ctx context.Context, email string) error
	IncrementUsage(ctx context.Context, email string) (int, error)
}

type UserServiceImpl struct {
	users repository.UserRepository
	admin string
	log   *zap.Logger
}

// NewUserService constructs UserService; admin is the initial admin email.
func NewUserService(users repository.UserRepository, admin string, log *zap.Logger) *UserServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserServiceImpl{users: users, admin: model.NormalizeEmail(admin), log: log}
}

// IsAdmin reports whether email is the initial admin.
func (s *UserServiceImpl) IsAdmin(email string) bool {
	return s.admin != "" && model.SameIdentity(email, s.admin)
}

// SeedAdmin allow-lists the initial admin.
func (s *UserServiceImpl) SeedAdmin(ctx context.Context) error {
	if s.admin == "" {
		return nil
	}
	if err := s.users.Add(ctx, s.admin); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	s.log.Info("admin seeded", zap.String("email", s.admin))
	return nil
}

// List returns every user, heaviest users first.
func (s *UserServiceImpl) List(ctx context.Context) ([]model.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(users, func(i, j int) bool { return users[i].RequestCount > users[j].RequestCount })
	return users, nil
}

// Add allow-lists email.
func (s *UserServiceImpl) Add(ctx context.Context, email string) error {
	e, err := ValidateEmail(email)
	if err != nil {
		return err
	}
	return s.users.Add(ctx, e)
}

// Delete removes email from the allow-list. The initial admin cannot be removed.
func (s *UserServiceImpl) Delete(ctx context.Context, email string) error {
	e := model.NormalizeEmail(email)
	if e == "" {
		return fmt.Errorf("%w: email", errs.ErrInvalidInput)
	}
	if s.IsAdmin(e) {
		return fmt.Errorf("%w: the initial admin cannot be deleted", errs.ErrForbidden)
	}
	return s.users.Delete(ctx, e)
}

// IncrementUsage bumps the request counter of email.
func (s *UserServiceImpl) IncrementUsage(ctx context.Context, email string) (int, error) {
	return s.users.IncrementUsage(ctx, model.NormalizeEmail(email))
}
