package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/and161185/virtual-atelier/internal/convert"
	"github.com/and161185/virtual-atelier/internal/errs"
)

// APIError is the body of every failed response.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope wraps APIError.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// Error codes.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeRateLimited      = "RATE_LIMITED"
	CodeUploadIncomplete = "UPLOAD_INCOMPLETE"
	CodeInternal         = "INTERNAL"
)

// statusOf maps a service error to a status code and an error code.
func statusOf(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, CodePayloadTooLarge
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, convert.CodeQuotaExhausted
	case errors.Is(err, errs.ErrStaleEpoch):
		return http.StatusConflict, convert.CodeSuperseded
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, errs.ErrUploadIncomplete), errors.Is(err, errs.ErrUpload):
		return http.StatusInternalServerError, CodeUploadIncomplete
	case errors.Is(err, errs.ErrBackend):
		return http.StatusInternalServerError, convert.CodeGenerationFailed
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// respondError aborts with the mapped status. Internal failures are recorded on the context
// for the request logger and answered without details.
func respondError(c *gin.Context, err error) {
	status, code := statusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

func abortWith(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}
