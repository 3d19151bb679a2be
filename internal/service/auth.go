// Package service contains application services for authentication, the allow-list and the studio.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/model"
	"github.com/and161185/virtual-atelier/internal/repository"
	"github.com/and161185/virtual-atelier/internal/sessions"
)

// DefaultSessionTTL is how long a verified login stays valid.
const DefaultSessionTTL = 8 * time.Hour

const maxEmailLen = 254

// AuthService defines login, token verification and logout.
type AuthService interface {
	// Verify admits an allow-listed email and issues a bearer token.
	Verify(ctx context.Context, email string) (tokens model.Tokens, user model.User, err error)
	// Authenticate resolves a bearer token to its identity.
	Authenticate(ctx context.Context, token string) (email string, err error)
	// Logout revokes the session behind token.
	Logout(ctx context.Context, token string) error
}

type AuthServiceImpl struct {
	users    repository.UserRepository
	sessions sessions.Store
	signKey  []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, store sessions.Store, signKey []byte, ttl time.Duration) *AuthServiceImpl {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &AuthServiceImpl{users: users, sessions: store, signKey: signKey, ttl: ttl, now: time.Now}
}

// ValidateEmail normalizes email and checks its shape.
func ValidateEmail(email string) (string, error) {
	e := model.NormalizeEmail(email)
	if e == "" || len(e) > maxEmailLen {
		return "", fmt.Errorf("%w: email", errs.ErrInvalidInput)
	}
	at := strings.LastIndex(e, "@")
	if at <= 0 || strings.Count(e, "@") != 1 || strings.ContainsAny(e, " \t\r\n") {
		return "", fmt.Errorf("%w: email", errs.ErrInvalidInput)
	}
	domain := e[at+1:]
	dot := strings.LastIndex(domain, ".")
	if dot <= 0 || dot == len(domain)-1 {
		return "", fmt.Errorf("%w: email", errs.ErrInvalidInput)
	}
	return e, nil
}

// Verify checks the allow-list, opens a session and signs a token for it.
func (s *AuthServiceImpl) Verify(ctx context.Context, email string) (model.Tokens, model.User, error) {
	e, err := ValidateEmail(email)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	u, err := s.users.Get(ctx, e)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Tokens{}, model.User{}, fmt.Errorf("%w: %s is not allow-listed", errs.ErrForbidden, e)
		}
		return model.Tokens{}, model.User{}, fmt.Errorf("lookup user: %w", err)
	}

	sid, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	now := s.now()
	sess := sessions.Session{ID: sid.String(), Email: u.Email, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}
	if err := s.sessions.Put(ctx, sess); err != nil {
		return model.Tokens{}, model.User{}, fmt.Errorf("store session: %w", err)
	}

	access, err := s.issueAccessToken(sess)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: sess.ExpiresAt}, *u, nil
}

// issueAccessToken creates a signed HS256 JWT whose jti is the session id.
func (s *AuthServiceImpl) issueAccessToken(sess sessions.Session) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   sess.Email,
		ID:        sess.ID,
		IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
		ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.signKey)
}

func (s *AuthServiceImpl) parse(token string) (jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(30*time.Second), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid || claims.ID == "" {
		return jwt.RegisteredClaims{}, errs.ErrUnauthorized
	}
	return claims, nil
}

// Authenticate validates the token signature and that its session is still live.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", err
	}
	sess, err := s.sessions.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return "", errs.ErrUnauthorized
		}
		return "", fmt.Errorf("load session: %w", err)
	}
	if !model.SameIdentity(sess.Email, claims.Subject) {
		return "", errs.ErrUnauthorized
	}
	return model.NormalizeEmail(sess.Email), nil
}

// Logout deletes the session behind token. Logging out twice succeeds.
func (s *AuthServiceImpl) Logout(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	return s.sessions.Delete(ctx, claims.ID)
}
