package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/virtual-atelier/internal/convert"
	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/model"
	"github.com/and161185/virtual-atelier/internal/service"
)

// Handler serves the API routes.
type Handler struct {
	auth   service.AuthService
	users  service.UserService
	studio service.StudioService
	ready  func(ctx context.Context) error
	log    *zap.Logger
}

type successResponse struct {
	Success bool `json:"success"`
}

var okResponse = successResponse{Success: true}

// bind decodes the JSON body; decoding failures are invalid input.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, err)
			return false
		}
		respondError(c, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err))
		return false
	}
	return true
}

func identity(c *gin.Context) string {
	email, _ := EmailFromCtx(c.Request.Context())
	return email
}

// Health answers 200 while the row store is reachable.
func (h *Handler) Health(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			h.log.Warn("health check failed", zap.Error(err))
			c.String(http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	c.String(http.StatusOK, "ok")
}

// --- Auth ---

// Verify logs an allow-listed email in.
func (h *Handler) Verify(c *gin.Context) {
	var req convert.EmailRequest
	if !bind(c, &req) {
		return
	}
	tok, u, err := h.auth.Verify(c.Request.Context(), req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, convert.ToVerifyResponse(tok, u))
}

// Me returns the authenticated identity.
func (h *Handler) Me(c *gin.Context) {
	email := identity(c)
	c.JSON(http.StatusOK, gin.H{"email": email, "isAdmin": h.users.IsAdmin(email)})
}

// Logout revokes the session and drops the user's workspace.
func (h *Handler) Logout(c *gin.Context) {
	tok, _ := TokenFromCtx(c.Request.Context())
	if err := h.auth.Logout(c.Request.Context(), tok); err != nil {
		respondError(c, err)
		return
	}
	h.studio.Forget(identity(c))
	c.JSON(http.StatusOK, okResponse)
}

// IncrementUsage bumps the caller's request counter.
func (h *Handler) IncrementUsage(c *gin.Context) {
	n, err := h.users.IncrementUsage(c.Request.Context(), identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "newCount": n})
}

// --- Client-orchestrated generation ---

// Generate runs one variation without retries; the caller owns backoff.
func (h *Handler) Generate(c *gin.Context) {
	var req convert.GenerateRequest
	if !bind(c, &req) {
		return
	}
	in, err := convert.FromGenerateRequest(req)
	if err != nil {
		respondError(c, err)
		return
	}
	raw, err := h.studio.GenerateRaw(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, convert.ToGenerateResponse(raw))
}

// Upload stores base64 images durably.
func (h *Handler) Upload(c *gin.Context) {
	var req convert.UploadRequest
	if !bind(c, &req) {
		return
	}
	urls, err := h.studio.Upload(c.Request.Context(), req.Images)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, convert.UploadResponse{Success: true, URLs: urls})
}

// --- History ---

func (h *Handler) ListHistory(c *gin.Context) {
	list, err := h.studio.History(c.Request.Context(), identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, convert.ToHistoryResponse(list))
}

func (h *Handler) GetHistory(c *gin.Context) {
	s, err := h.studio.HistorySession(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s})
}

// AppendHistory stores a session the client archived itself.
func (h *Handler) AppendHistory(c *gin.Context) {
	var s model.GenerationSession
	if !bind(c, &s) {
		return
	}
	if err := h.studio.SaveHistory(c.Request.Context(), identity(c), s); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResponse)
}

func (h *Handler) ClearHistory(c *gin.Context) {
	if err := h.studio.ClearHistory(c.Request.Context(), identity(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResponse)
}

// --- Studio ---

// Workspace returns the caller's current results.
func (h *Handler) Workspace(c *gin.Context) {
	c.JSON(http.StatusOK, h.studio.Workspace(identity(c)))
}

// RunBatch generates a batch and streams results as server-sent events: one "result" per
// arriving variation, then a single "done". Errors found before the first event are plain
// JSON responses.
func (h *Handler) RunBatch(c *gin.Context) {
	var req convert.BatchRequest
	if !bind(c, &req) {
		return
	}
	p, err := convert.FromBatchRequest(req)
	if err != nil {
		respondError(c, err)
		return
	}

	streaming := false
	startStream := func() {
		if streaming {
			return
		}
		streaming = true
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
	}

	out, err := h.studio.Generate(c.Request.Context(), identity(c), p, func(index int, r model.GenerationResult) {
		startStream()
		c.SSEvent("result", convert.ToResultEvent(index, r))
		c.Writer.Flush()
	})
	superseded := errors.Is(err, errs.ErrStaleEpoch)
	if err != nil && !superseded {
		if !streaming {
			respondError(c, err)
			return
		}
		h.log.Error("batch failed mid-stream", zap.Error(err))
	}
	startStream()
	c.SSEvent("done", convert.ToDoneEvent(out, superseded))
	c.Writer.Flush()
}

// Regenerate replaces one slot of the caller's workspace.
func (h *Handler) Regenerate(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		respondError(c, fmt.Errorf("%w: slot index", errs.ErrInvalidInput))
		return
	}
	email := identity(c)
	r, err := h.studio.Regenerate(c.Request.Context(), email, index)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": r, "workspace": h.studio.Workspace(email)})
}

// LoadSession shows a history session in the caller's workspace.
func (h *Handler) LoadSession(c *gin.Context) {
	view, err := h.studio.Load(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// --- Admin ---

func (h *Handler) AdminCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"isAdmin": h.users.IsAdmin(identity(c))})
}

func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, convert.ToUsersResponse(users))
}

func (h *Handler) AddUser(c *gin.Context) {
	var req convert.EmailRequest
	if !bind(c, &req) {
		return
	}
	if err := h.users.Add(c.Request.Context(), req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": fmt.Sprintf("User %s added successfully", model.NormalizeEmail(req.Email))})
}

func (h *Handler) DeleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("email")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResponse)
}
