// Package gcs stores archived images in a Google Cloud Storage bucket or a local emulator.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/and161185/virtual-atelier/internal/platform/gcp"
)

// Mode selects the storage endpoint.
type Mode string

const (
	ModeGCS      Mode = "gcs"
	ModeEmulator Mode = "gcs_emulator"
)

const uploadTimeout = 2 * time.Minute

// Config configures Store.
type Config struct {
	Mode          Mode
	Bucket        string
	PublicBaseURL string // optional CDN or proxy origin
	EmulatorHost  string // required in emulator mode
	Credentials   string // see gcp.ClientOptions
}

// Store writes objects and returns their public URLs.
type Store struct {
	client *storage.Client
	cfg    Config
	log    *zap.Logger
}

// New opens a storage client for cfg.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	cfg.EmulatorHost = strings.TrimRight(strings.TrimSpace(cfg.EmulatorHost), "/")

	var opts []option.ClientOption
	switch cfg.Mode {
	case ModeGCS, "":
		cfg.Mode = ModeGCS
		opts = append(gcp.ClientOptions(cfg.Credentials), option.WithScopes(storage.ScopeReadWrite))
	case ModeEmulator:
		if cfg.EmulatorHost == "" {
			return nil, errors.New("gcs: emulator host is required in emulator mode")
		}
		if err := os.Setenv("STORAGE_EMULATOR_HOST", cfg.EmulatorHost); err != nil {
			return nil, fmt.Errorf("gcs: set emulator host: %w", err)
		}
		opts = []option.ClientOption{option.WithoutAuthentication()}
	default:
		return nil, fmt.Errorf("gcs: unknown mode %q", cfg.Mode)
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}
	log.Info("object storage initialized",
		zap.String("mode", string(cfg.Mode)),
		zap.String("bucket", cfg.Bucket),
		zap.String("public_base_url", cfg.PublicBaseURL),
	)
	return &Store{client: client, cfg: cfg, log: log}, nil
}

// Put uploads data under key and returns its public URL.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.cfg.Bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: close %s: %w", key, err)
	}
	return PublicURL(s.cfg, key), nil
}

// Close releases the client.
func (s *Store) Close() error { return s.client.Close() }

// PublicURL returns the URL an object is served from.
func PublicURL(cfg Config, key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if cfg.Mode == ModeEmulator {
		if base == "" {
			base = strings.TrimRight(cfg.EmulatorHost, "/")
		}
		return fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", base, url.PathEscape(cfg.Bucket), url.PathEscape(key))
	}
	if base != "" {
		return fmt.Sprintf("%s/%s/%s", base, cfg.Bucket, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", cfg.Bucket, key)
}
