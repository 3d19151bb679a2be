// Package limiter defines interfaces and implementations for request rate limiting.
package limiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Limiter admits at most Rule.Limit requests per key in each Rule.Window.
type Limiter interface {
	// Allow records one request for key and reports whether it is admitted, with a
	// retry-after hint when it is not.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// Rule is a request budget.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Per-route budgets for a single client IP.
var (
	VerifyRule   = Rule{Limit: 10, Window: time.Minute}
	GenerateRule = Rule{Limit: 6, Window: time.Minute}
	UploadRule   = Rule{Limit: 20, Window: time.Minute}
)

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

// Key builds the storage key of a client within a named budget.
func Key(scope, ip string) string {
	return scope + ":" + hex.EncodeToString(HashIP(ip))[:32]
}
