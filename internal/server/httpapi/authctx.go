package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type ctxKey string

const (
	emailKey ctxKey = "va.email"
	tokenKey ctxKey = "va.token"
)

// WithIdentity stores the authenticated email and its bearer token in context.
func WithIdentity(ctx context.Context, email, token string) context.Context {
	ctx = context.WithValue(ctx, emailKey, email)
	return context.WithValue(ctx, tokenKey, token)
}

// EmailFromCtx fetches the authenticated email from context.
func EmailFromCtx(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(emailKey).(string)
	return email, ok && email != ""
}

// TokenFromCtx fetches the bearer token the request authenticated with.
func TokenFromCtx(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(tokenKey).(string)
	return tok, ok && tok != ""
}

func bearerToken(h http.Header) (string, error) {
	v := strings.TrimSpace(h.Get("Authorization"))
	if v == "" {
		return "", errors.New("no authorization header")
	}
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", errors.New("no bearer token")
	}
	t := strings.TrimSpace(v[7:])
	if t == "" {
		return "", errors.New("empty bearer token")
	}
	return t, nil
}
