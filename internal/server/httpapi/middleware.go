package httpapi

import (
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/virtual-atelier/internal/limiter"
	"github.com/and161185/virtual-atelier/internal/service"
)

// RequestLogger logs request metadata. Bodies and tokens are never logged.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Error(c.Errors.Last().Err))
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("http", fields...)
		case status >= 400:
			log.Warn("http", fields...)
		default:
			log.Info("http", fields...)
		}
	}
}

// Recover turns a handler panic into a 500 response.
func Recover(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("route", c.FullPath()),
				)
				if !c.Writer.Written() {
					abortWith(c, http.StatusInternalServerError, CodeInternal, "internal")
				} else {
					c.Abort()
				}
			}
		}()
		c.Next()
	}
}

// CORS allows the configured browser origins.
func CORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

// BodyLimit caps request bodies at n bytes.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// RequireAuth resolves the bearer token to an identity.
func RequireAuth(auth service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := bearerToken(c.Request.Header)
		if err != nil {
			abortWith(c, http.StatusUnauthorized, CodeUnauthorized, "no auth")
			return
		}
		email, err := auth.Authenticate(c.Request.Context(), tok)
		if err != nil {
			respondError(c, err)
			return
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), email, tok))
		c.Next()
	}
}

// RequireAdmin admits only the initial admin. It must run after RequireAuth.
func RequireAdmin(users service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		email, ok := EmailFromCtx(c.Request.Context())
		if !ok {
			abortWith(c, http.StatusUnauthorized, CodeUnauthorized, "no auth")
			return
		}
		if !users.IsAdmin(email) {
			abortWith(c, http.StatusForbidden, CodeForbidden, "admin only")
			return
		}
		c.Next()
	}
}

// RateLimit applies lim per client IP under scope. A failing limiter lets the request through.
func RateLimit(lim limiter.Limiter, scope string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if lim == nil {
			c.Next()
			return
		}
		ok, retry, err := lim.Allow(c.Request.Context(), limiter.Key(scope, c.ClientIP()))
		if err != nil {
			log.Warn("rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			secs := int(math.Ceil(retry.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			abortWith(c, http.StatusTooManyRequests, CodeRateLimited, "too many requests, try again later")
			return
		}
		c.Next()
	}
}
