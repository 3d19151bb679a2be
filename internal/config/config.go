// Package config parses server settings from flags with environment fallbacks.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Validation errors.
var (
	ErrMissingAPIKey   = errors.New("config: gemini api key is required")
	ErrMissingSignKey  = errors.New("config: jwt signing key is required")
	ErrMissingAdmin    = errors.New("config: initial admin email is required")
	ErrMissingBucket   = errors.New("config: storage bucket is required")
	ErrMissingEmulator = errors.New("config: emulator host is required in emulator mode")
	ErrMissingSheet    = errors.New("config: spreadsheet id is required for the sheets row store")
	ErrMissingDSN      = errors.New("config: postgres dsn is required for the postgres row store")
	ErrMissingRedis    = errors.New("config: redis address is required for the redis session backend")
	ErrUnknownMode     = errors.New("config: unknown mode")
	ErrOutOfRange      = errors.New("config: value out of range")
)

// Row store backends.
const (
	RowStoreSheets   = "sheets"
	RowStorePostgres = "postgres"
	RowStoreMemory   = "memory"
)

// Session backends.
const (
	SessionsMemory = "memory"
	SessionsRedis  = "redis"
)

// Config is the validated server configuration.
type Config struct {
	Addr    string
	LogMode string // production | development

	GeminiAPIKey string
	GeminiModel  string

	StorageMode     string // gcs | gcs_emulator
	Bucket          string
	PublicBaseURL   string
	EmulatorHost    string
	GCPCredentials  string
	RowStore        string
	SpreadsheetID   string
	PostgresDSN     string
	SessionBackend  string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	JWTKey          string
	SessionTTL      time.Duration
	HistoryCap      int
	AdminEmail      string
	CORSOrigins     []string
	BodyLimit       int64
	ShutdownTimeout time.Duration

	OTelEnabled  bool
	OTelEndpoint string
	OTelInsecure bool
	OTelRatio    float64
}

// Parse reads args (without the program name). Every flag falls back to the environment
// variable named next to it, then to its default.
func Parse(args []string, getenv func(string) string) (Config, error) {
	var c Config
	fs := flag.NewFlagSet("atelier-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	var envErr error
	envInt := func(key string, def int) int {
		v := env(key, "")
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil && envErr == nil {
			envErr = fmt.Errorf("config: %s: %w", key, err)
		}
		return n
	}
	envDur := func(key string, def time.Duration) time.Duration {
		v := env(key, "")
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil && envErr == nil {
			envErr = fmt.Errorf("config: %s: %w", key, err)
		}
		return d
	}
	envBool := func(key string, def bool) bool {
		v := env(key, "")
		if v == "" {
			return def
		}
		b, err := strconv.ParseBool(v)
		if err != nil && envErr == nil {
			envErr = fmt.Errorf("config: %s: %w", key, err)
		}
		return b
	}
	envFloat := func(key string, def float64) float64 {
		v := env(key, "")
		if v == "" {
			return def
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil && envErr == nil {
			envErr = fmt.Errorf("config: %s: %w", key, err)
		}
		return f
	}

	fs.StringVar(&c.Addr, "addr", env("ADDR", ":"+env("PORT", "3001")), "listen address (ADDR, PORT)")
	fs.StringVar(&c.LogMode, "log-mode", env("LOG_MODE", "production"), "production or development (LOG_MODE)")
	fs.StringVar(&c.GeminiAPIKey, "gemini-key", env("GEMINI_API_KEY", ""), "Gemini API key (GEMINI_API_KEY)")
	fs.StringVar(&c.GeminiModel, "gemini-model", env("GEMINI_MODEL", ""), "Gemini image model (GEMINI_MODEL)")

	fs.StringVar(&c.StorageMode, "storage-mode", env("STORAGE_MODE", "gcs"), "gcs or gcs_emulator (STORAGE_MODE)")
	fs.StringVar(&c.Bucket, "bucket", env("GCS_BUCKET", ""), "object storage bucket (GCS_BUCKET)")
	fs.StringVar(&c.PublicBaseURL, "public-base-url", env("PUBLIC_BASE_URL", ""), "public origin for stored objects (PUBLIC_BASE_URL)")
	fs.StringVar(&c.EmulatorHost, "emulator-host", env("STORAGE_EMULATOR_HOST", ""), "storage emulator origin (STORAGE_EMULATOR_HOST)")
	fs.StringVar(&c.GCPCredentials, "gcp-credentials", env("GOOGLE_CREDENTIALS", ""), "service account JSON, base64 JSON or file (GOOGLE_CREDENTIALS)")

	fs.StringVar(&c.RowStore, "row-store", env("ROW_STORE", RowStoreSheets), "sheets, postgres or memory (ROW_STORE)")
	fs.StringVar(&c.SpreadsheetID, "spreadsheet-id", env("GOOGLE_SHEET_ID", ""), "spreadsheet id (GOOGLE_SHEET_ID)")
	fs.StringVar(&c.PostgresDSN, "dsn", env("DATABASE_URL", ""), "PostgreSQL DSN (DATABASE_URL)")

	fs.StringVar(&c.SessionBackend, "sessions", env("SESSION_BACKEND", SessionsMemory), "memory or redis (SESSION_BACKEND)")
	fs.StringVar(&c.RedisAddr, "redis-addr", env("REDIS_ADDR", ""), "Redis address (REDIS_ADDR)")
	fs.StringVar(&c.RedisPassword, "redis-password", env("REDIS_PASSWORD", ""), "Redis password (REDIS_PASSWORD)")
	fs.IntVar(&c.RedisDB, "redis-db", envInt("REDIS_DB", 0), "Redis database (REDIS_DB)")

	fs.StringVar(&c.JWTKey, "jwt-key", env("JWT_SECRET", ""), "HS256 signing key (JWT_SECRET)")
	fs.DurationVar(&c.SessionTTL, "session-ttl", envDur("SESSION_TTL", 8*time.Hour), "session lifetime (SESSION_TTL)")
	fs.IntVar(&c.HistoryCap, "history-cap", envInt("HISTORY_CAP", 10), "sessions kept per user (HISTORY_CAP)")
	fs.StringVar(&c.AdminEmail, "admin-email", env("INITIAL_ADMIN_EMAIL", ""), "initial admin email (INITIAL_ADMIN_EMAIL)")
	origins := fs.String("cors-origins", env("CORS_ORIGINS", "*"), "comma separated allowed origins (CORS_ORIGINS)")
	fs.Int64Var(&c.BodyLimit, "body-limit", int64(envInt("BODY_LIMIT", 15<<20)), "max request body bytes (BODY_LIMIT)")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", envDur("SHUTDOWN_TIMEOUT", 10*time.Second), "graceful shutdown budget (SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&c.OTelEnabled, "otel", envBool("OTEL_ENABLED", false), "enable tracing (OTEL_ENABLED)")
	fs.StringVar(&c.OTelEndpoint, "otel-endpoint", env("OTEL_EXPORTER_OTLP_ENDPOINT", ""), "OTLP/HTTP endpoint; empty prints spans (OTEL_EXPORTER_OTLP_ENDPOINT)")
	fs.BoolVar(&c.OTelInsecure, "otel-insecure", envBool("OTEL_INSECURE", false), "plain HTTP to the collector (OTEL_INSECURE)")
	fs.Float64Var(&c.OTelRatio, "otel-ratio", envFloat("OTEL_SAMPLE_RATIO", 0.1), "trace sample ratio (OTEL_SAMPLE_RATIO)")

	if envErr != nil {
		return Config{}, envErr
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	c.CORSOrigins = splitList(*origins)
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch c.LogMode {
	case "production", "development":
	default:
		return fmt.Errorf("%w: log mode %q", ErrUnknownMode, c.LogMode)
	}
	if c.GeminiAPIKey == "" {
		return ErrMissingAPIKey
	}
	if c.JWTKey == "" {
		return ErrMissingSignKey
	}
	if c.AdminEmail == "" {
		return ErrMissingAdmin
	}
	if c.Bucket == "" {
		return ErrMissingBucket
	}
	switch c.StorageMode {
	case "gcs":
	case "gcs_emulator":
		if c.EmulatorHost == "" {
			return ErrMissingEmulator
		}
	default:
		return fmt.Errorf("%w: storage mode %q", ErrUnknownMode, c.StorageMode)
	}
	switch c.RowStore {
	case RowStoreSheets:
		if c.SpreadsheetID == "" {
			return ErrMissingSheet
		}
	case RowStorePostgres:
		if c.PostgresDSN == "" {
			return ErrMissingDSN
		}
	case RowStoreMemory:
	default:
		return fmt.Errorf("%w: row store %q", ErrUnknownMode, c.RowStore)
	}
	switch c.SessionBackend {
	case SessionsMemory:
	case SessionsRedis:
		if c.RedisAddr == "" {
			return ErrMissingRedis
		}
	default:
		return fmt.Errorf("%w: session backend %q", ErrUnknownMode, c.SessionBackend)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%w: session ttl %s", ErrOutOfRange, c.SessionTTL)
	}
	if c.HistoryCap < 1 {
		return fmt.Errorf("%w: history cap %d", ErrOutOfRange, c.HistoryCap)
	}
	if c.BodyLimit < 1 {
		return fmt.Errorf("%w: body limit %d", ErrOutOfRange, c.BodyLimit)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
