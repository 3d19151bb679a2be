// Package httpapi exposes the Virtual Atelier HTTP JSON API over gin.
package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/and161185/virtual-atelier/internal/limiter"
	"github.com/and161185/virtual-atelier/internal/service"
)

// Limits holds the per-route request limiters. A nil limiter disables its limit.
type Limits struct {
	Verify   limiter.Limiter
	Generate limiter.Limiter
	Upload   limiter.Limiter
}

// Config wires services into the router.
type Config struct {
	Auth   service.AuthService
	Users  service.UserService
	Studio service.StudioService
	Limits Limits
	Log    *zap.Logger

	CORSOrigins []string
	BodyLimit   int64
	// TraceService enables otelgin spans under this service name when non-empty.
	TraceService string
	// Ready reports backend health for /healthz; nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(cfg Config) *gin.Engine {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	h := &Handler{auth: cfg.Auth, users: cfg.Users, studio: cfg.Studio, ready: cfg.Ready, log: cfg.Log}

	r := gin.New()
	r.Use(Recover(cfg.Log), RequestLogger(cfg.Log))
	if cfg.TraceService != "" {
		r.Use(otelgin.Middleware(cfg.TraceService))
	}
	r.Use(CORS(cfg.CORSOrigins), BodyLimit(cfg.BodyLimit))

	r.GET("/healthz", h.Health)

	api := r.Group("/api")
	api.POST("/auth/verify", RateLimit(cfg.Limits.Verify, "verify", cfg.Log), h.Verify)

	authed := api.Group("")
	authed.Use(RequireAuth(cfg.Auth))
	authed.GET("/auth/me", h.Me)
	authed.POST("/auth/logout", h.Logout)
	authed.POST("/usage/increment", h.IncrementUsage)

	authed.POST("/generate", RateLimit(cfg.Limits.Generate, "generate", cfg.Log), h.Generate)
	authed.POST("/upload", RateLimit(cfg.Limits.Upload, "upload", cfg.Log), h.Upload)

	authed.GET("/history", h.ListHistory)
	authed.POST("/history", h.AppendHistory)
	authed.DELETE("/history", h.ClearHistory)
	authed.GET("/history/:id", h.GetHistory)

	authed.GET("/studio", h.Workspace)
	authed.POST("/studio/batches", RateLimit(cfg.Limits.Generate, "batch", cfg.Log), h.RunBatch)
	authed.POST("/studio/slots/:index/regenerate", RateLimit(cfg.Limits.Generate, "generate", cfg.Log), h.Regenerate)
	authed.POST("/studio/load/:id", h.LoadSession)

	authed.GET("/admin/check", h.AdminCheck)
	admin := authed.Group("/admin")
	admin.Use(RequireAdmin(cfg.Users))
	admin.GET("/users", h.ListUsers)
	admin.POST("/users", h.AddUser)
	admin.DELETE("/users/:email", h.DeleteUser)

	return r
}
