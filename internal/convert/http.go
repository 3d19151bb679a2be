// Package convert maps HTTP JSON bodies to domain types and back.
package convert

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/generation"
	"github.com/and161185/virtual-atelier/internal/imagedata"
	"github.com/and161185/virtual-atelier/internal/model"
	"github.com/and161185/virtual-atelier/internal/service"
)

// --- helpers ---

// decodeImage accepts bare base64 or a data URI and requires a supported image format.
func decodeImage(field, payload string, required bool) ([]byte, error) {
	if strings.TrimSpace(payload) == "" {
		if required {
			return nil, fmt.Errorf("%w: %s is required", errs.ErrInvalidInput, field)
		}
		return nil, nil
	}
	raw, err := imagedata.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrInvalidInput, field, err)
	}
	if _, err := imagedata.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrInvalidInput, field, err)
	}
	return raw, nil
}

// --- Auth ---

// EmailRequest carries a single email (login, admin add).
type EmailRequest struct {
	Email string `json:"email"`
}

// VerifyResponse is returned on successful login.
type VerifyResponse struct {
	Success      bool      `json:"success"`
	Token        string    `json:"token"`
	Email        string    `json:"email"`
	RequestCount int       `json:"requestCount"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ToVerifyResponse builds the login response.
func ToVerifyResponse(tok model.Tokens, u model.User) VerifyResponse {
	return VerifyResponse{
		Success:      true,
		Token:        tok.AccessToken,
		Email:        u.Email,
		RequestCount: u.RequestCount,
		ExpiresAt:    tok.ExpiresAt.UTC(),
	}
}

// --- Single variation (client-orchestrated) ---

// GenerateRequest is the body of a single-variation call.
type GenerateRequest struct {
	ProductImageBase64  string `json:"productImageBase64"`
	ModelImageBase64    string `json:"modelImageBase64,omitempty"`
	Gender              string `json:"gender"`
	ThemeLabel          string `json:"themeLabel"`
	AspectRatio         string `json:"aspectRatio,omitempty"`
	SelectedAspectRatio string `json:"selectedAspectRatio,omitempty"`
	Description         string `json:"description,omitempty"`
	PosePrompt          string `json:"posePrompt,omitempty"`
	VariationIndex      int    `json:"variationIndex"`
}

// FromGenerateRequest decodes the images of a single-variation call.
func FromGenerateRequest(in GenerateRequest) (service.RawGenerateRequest, error) {
	product, err := decodeImage("productImageBase64", in.ProductImageBase64, true)
	if err != nil {
		return service.RawGenerateRequest{}, err
	}
	modelImage, err := decodeImage("modelImageBase64", in.ModelImageBase64, false)
	if err != nil {
		return service.RawGenerateRequest{}, err
	}
	aspect := in.SelectedAspectRatio
	if aspect == "" {
		aspect = in.AspectRatio
	}
	return service.RawGenerateRequest{
		ProductImage:   product,
		ModelImage:     modelImage,
		Gender:         model.Gender(strings.ToLower(strings.TrimSpace(in.Gender))),
		ThemeLabel:     strings.TrimSpace(in.ThemeLabel),
		AspectRatio:    model.AspectRatio(strings.TrimSpace(aspect)),
		Description:    strings.TrimSpace(in.Description),
		PosePrompt:     strings.TrimSpace(in.PosePrompt),
		VariationIndex: in.VariationIndex,
	}, nil
}

// GenerateResponse carries the generated image as bare base64.
type GenerateResponse struct {
	Success     bool   `json:"success"`
	ImageBase64 string `json:"imageBase64"`
}

// ToGenerateResponse encodes raw image bytes.
func ToGenerateResponse(raw []byte) GenerateResponse {
	return GenerateResponse{Success: true, ImageBase64: base64.StdEncoding.EncodeToString(raw)}
}

// --- Studio batches ---

// BatchRequest starts a server-side batch.
type BatchRequest struct {
	ProductImageBase64 string `json:"productImageBase64"`
	ModelImageBase64   string `json:"modelImageBase64,omitempty"`
	Gender             string `json:"gender,omitempty"`
	ThemeID            string `json:"themeId,omitempty"`
	AspectRatio        string `json:"aspectRatio,omitempty"`
	PoseID             string `json:"poseId,omitempty"`
	Description        string `json:"description,omitempty"`
}

// FromBatchRequest decodes a batch request into generation parameters.
func FromBatchRequest(in BatchRequest) (model.Params, error) {
	product, err := decodeImage("productImageBase64", in.ProductImageBase64, true)
	if err != nil {
		return model.Params{}, err
	}
	modelImage, err := decodeImage("modelImageBase64", in.ModelImageBase64, false)
	if err != nil {
		return model.Params{}, err
	}
	return model.Params{
		Gender:       model.Gender(strings.ToLower(strings.TrimSpace(in.Gender))),
		ThemeID:      strings.TrimSpace(in.ThemeID),
		AspectRatio:  model.AspectRatio(strings.TrimSpace(in.AspectRatio)),
		PoseID:       strings.TrimSpace(in.PoseID),
		Description:  strings.TrimSpace(in.Description),
		ProductImage: product,
		ModelImage:   modelImage,
	}, nil
}

// ResultEvent is streamed once per arriving variation.
type ResultEvent struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	URL   string `json:"url"`
}

// ToResultEvent builds a result event.
func ToResultEvent(index int, r model.GenerationResult) ResultEvent {
	return ResultEvent{Index: index, ID: r.ID, URL: r.URL}
}

// EventError is the failure summary of a batch.
type EventError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// DoneEvent closes a batch stream.
type DoneEvent struct {
	SuccessCount int         `json:"successCount"`
	Failed       int         `json:"failed"`
	Superseded   bool        `json:"superseded,omitempty"`
	Error        *EventError `json:"error,omitempty"`
}

// Batch summary codes.
const (
	CodeQuotaExhausted   = "QUOTA_EXHAUSTED"
	CodeGenerationFailed = "GENERATION_FAILED"
	CodeSuperseded       = "SUPERSEDED"
)

// ToDoneEvent summarises a settled batch. Only a batch without any success carries an error,
// and it tells quota exhaustion apart from other failures.
func ToDoneEvent(out generation.BatchOutcome, superseded bool) DoneEvent {
	ev := DoneEvent{SuccessCount: out.SuccessCount, Failed: out.Failed, Superseded: superseded}
	switch {
	case superseded:
		ev.Error = &EventError{Message: "superseded by a newer batch", Code: CodeSuperseded}
	case out.SuccessCount > 0:
	case out.RateLimited():
		ev.Error = &EventError{Message: "generation quota exhausted, try again later", Code: CodeQuotaExhausted}
	default:
		ev.Error = &EventError{Message: "all variations failed", Code: CodeGenerationFailed}
	}
	return ev
}

// --- Upload / history ---

// UploadRequest lists images to store.
type UploadRequest struct {
	Images []model.UploadItem `json:"images"`
}

// UploadResponse returns URLs aligned with the request images.
type UploadResponse struct {
	Success bool     `json:"success"`
	URLs    []string `json:"urls"`
}

// HistoryResponse lists sessions newest first.
type HistoryResponse struct {
	Sessions []model.GenerationSession `json:"sessions"`
}

// ToHistoryResponse never returns a null list.
func ToHistoryResponse(in []model.GenerationSession) HistoryResponse {
	if in == nil {
		in = []model.GenerationSession{}
	}
	return HistoryResponse{Sessions: in}
}

// UsersResponse lists the allow-list.
type UsersResponse struct {
	Users []model.User `json:"users"`
}

// ToUsersResponse never returns a null list.
func ToUsersResponse(in []model.User) UsersResponse {
	if in == nil {
		in = []model.User{}
	}
	return UsersResponse{Users: in}
}
