// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated identity lacks access (not allow-listed, not admin).
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates the generation backend or a request limiter refused the call.
	ErrRateLimited = errors.New("rate limited")

	// ErrBackend indicates a non-retryable failure of the generation backend.
	ErrBackend = errors.New("generation backend error")

	// ErrNoImage indicates the backend answered without an image part.
	ErrNoImage = errors.New("no image returned")

	// ErrUploadIncomplete indicates that at least one generated image failed to upload.
	ErrUploadIncomplete = errors.New("upload incomplete")

	// ErrUpload indicates the archive operation as a whole could not run.
	ErrUpload = errors.New("upload error")

	// ErrHistoryWrite indicates a history session could not be persisted.
	ErrHistoryWrite = errors.New("history write error")

	// ErrTrim indicates history retention trimming failed.
	ErrTrim = errors.New("history trim error")

	// ErrInvalidInput indicates a request failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAlreadyExists indicates a unique key is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrStaleEpoch indicates work that was superseded by a newer batch or regeneration.
	ErrStaleEpoch = errors.New("superseded")
)
