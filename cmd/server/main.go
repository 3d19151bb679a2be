// Command atelier-server starts the Virtual Atelier HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/virtual-atelier/internal/archive"
	"github.com/and161185/virtual-atelier/internal/catalog"
	"github.com/and161185/virtual-atelier/internal/config"
	"github.com/and161185/virtual-atelier/internal/generation"
	"github.com/and161185/virtual-atelier/internal/generation/gemini"
	"github.com/and161185/virtual-atelier/internal/history"
	"github.com/and161185/virtual-atelier/internal/limiter"
	"github.com/and161185/virtual-atelier/internal/migrate"
	"github.com/and161185/virtual-atelier/internal/observability"
	"github.com/and161185/virtual-atelier/internal/platform/redis"
	"github.com/and161185/virtual-atelier/internal/repository"
	"github.com/and161185/virtual-atelier/internal/repository/memory"
	"github.com/and161185/virtual-atelier/internal/repository/postgres"
	"github.com/and161185/virtual-atelier/internal/repository/sheets"
	"github.com/and161185/virtual-atelier/internal/repository/tabular"
	"github.com/and161185/virtual-atelier/internal/server/httpapi"
	"github.com/and161185/virtual-atelier/internal/service"
	"github.com/and161185/virtual-atelier/internal/sessions"
	"github.com/and161185/virtual-atelier/internal/storage/gcs"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const (
	serviceName   = "virtual-atelier"
	pruneInterval = 10 * time.Minute
)

// main parses configuration, wires the backends and serves until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Parse(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogMode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("rowStore", cfg.RowStore),
		zap.String("sessions", cfg.SessionBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// backends holds what the row store choice produced.
type backends struct {
	store  repository.RowStore
	ready  func(ctx context.Context) error
	limits httpapi.Limits
	close  func()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		Enabled:     cfg.OTelEnabled,
		ServiceName: serviceName,
		Version:     version,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		SampleRatio: cfg.OTelRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	be, err := openRowStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	if err := tabular.Setup(ctx, be.store); err != nil {
		return fmt.Errorf("row store setup: %w", err)
	}
	users := tabular.NewUsers(be.store)
	ledger := history.NewLedger(tabular.NewHistory(be.store), cfg.HistoryCap, logger)

	objects, err := gcs.New(ctx, gcs.Config{
		Mode:          gcs.Mode(cfg.StorageMode),
		Bucket:        cfg.Bucket,
		PublicBaseURL: cfg.PublicBaseURL,
		EmulatorHost:  cfg.EmulatorHost,
		Credentials:   cfg.GCPCredentials,
	}, logger)
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}
	defer func() { _ = objects.Close() }()

	backend, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		return fmt.Errorf("gemini: %w", err)
	}
	cat := catalog.Default()
	client := generation.NewClient(backend, cat, generation.DefaultRetryPolicy(), logger)

	var store sessions.Store = sessions.NewMemory()
	if cfg.SessionBackend == config.SessionsRedis {
		rdb, err := redis.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		store = sessions.NewRedis(rdb)
		// limits move to Redis along with sessions
		be.limits = httpapi.Limits{
			Verify:   limiter.NewRedis(rdb, "va:rl:", limiter.VerifyRule),
			Generate: limiter.NewRedis(rdb, "va:rl:", limiter.GenerateRule),
			Upload:   limiter.NewRedis(rdb, "va:rl:", limiter.UploadRule),
		}
		prev := be.ready
		be.ready = func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return err
			}
			if prev != nil {
				return prev(ctx)
			}
			return nil
		}
	}

	userSvc := service.NewUserService(users, cfg.AdminEmail, logger)
	if err := userSvc.SeedAdmin(ctx); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	authSvc := service.NewAuthService(users, store, []byte(cfg.JWTKey), cfg.SessionTTL)
	studio := service.NewStudioService(client, archive.New(objects, logger), ledger, userSvc, cat, logger)
	go evictIdleWorkspaces(ctx, studio, cfg.SessionTTL, logger)

	trace := ""
	if cfg.OTelEnabled {
		trace = serviceName
	}
	router := httpapi.NewRouter(httpapi.Config{
		Auth:         authSvc,
		Users:        userSvc,
		Studio:       studio,
		Limits:       be.limits,
		Log:          logger,
		CORSOrigins:  cfg.CORSOrigins,
		BodyLimit:    cfg.BodyLimit,
		TraceService: trace,
		Ready:        be.ready,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	// batches still archiving finish before their backends close
	done := make(chan struct{})
	go func() {
		studio.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-sctx.Done():
		logger.Warn("background persistence still running at shutdown")
	}
	return nil
}

// evictIdleWorkspaces releases studio workspaces whose owner has been away for a
// whole session lifetime.
func evictIdleWorkspaces(ctx context.Context, studio *service.StudioServiceImpl, idle time.Duration, logger *zap.Logger) {
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := studio.EvictIdle(idle); n > 0 {
				logger.Debug("evicted idle workspaces", zap.Int("count", n))
			}
		}
	}
}

// openRowStore opens the configured row store with its matching request limiters.
func openRowStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (backends, error) {
	memLimits := httpapi.Limits{
		Verify:   limiter.NewMemory(limiter.VerifyRule),
		Generate: limiter.NewMemory(limiter.GenerateRule),
		Upload:   limiter.NewMemory(limiter.UploadRule),
	}

	switch cfg.RowStore {
	case config.RowStorePostgres:
		if err := migrate.Up(ctx, cfg.PostgresDSN); err != nil {
			return backends{}, fmt.Errorf("migrate up: %w", err)
		}
		db, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return backends{}, err
		}
		verify := limiter.NewPG(db.Pool, "verify:", limiter.VerifyRule)
		gen := limiter.NewPG(db.Pool, "generate:", limiter.GenerateRule)
		upload := limiter.NewPG(db.Pool, "upload:", limiter.UploadRule)

		pctx, cancel := context.WithCancel(ctx)
		go func() {
			t := time.NewTicker(pruneInterval)
			defer t.Stop()
			for {
				select {
				case <-pctx.Done():
					return
				case <-t.C:
					if err := verify.Prune(pctx, time.Hour); err != nil {
						logger.Warn("prune request limits", zap.Error(err))
					}
				}
			}
		}()
		return backends{
			store:  postgres.NewRowStore(db),
			ready:  db.Ping,
			limits: httpapi.Limits{Verify: verify, Generate: gen, Upload: upload},
			close: func() {
				cancel()
				db.Close()
			},
		}, nil

	case config.RowStoreMemory:
		logger.Warn("memory row store: users and history are lost on restart")
		return backends{store: memory.NewRows(), limits: memLimits, close: func() {}}, nil

	default:
		store, err := sheets.New(ctx, cfg.SpreadsheetID, cfg.GCPCredentials)
		if err != nil {
			return backends{}, err
		}
		return backends{store: store, limits: memLimits, close: func() {}}, nil
	}
}
