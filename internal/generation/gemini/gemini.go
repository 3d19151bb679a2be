// Package gemini implements generation.Backend over the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/generation"
	"github.com/and161185/virtual-atelier/internal/imagedata"
)

// DefaultModel is the image-capable model used when none is configured.
const DefaultModel = "gemini-2.5-flash-image"

// ContentGenerator is the subset of genai.Models used by Backend.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Backend calls GenerateContent with the input images followed by the prompt.
type Backend struct {
	models ContentGenerator
	model  string
}

var _ generation.Backend = (*Backend)(nil)

// New creates a Gemini API client for apiKey.
func New(ctx context.Context, apiKey, model string) (*Backend, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return NewWithModels(client.Models, model), nil
}

// NewWithModels wraps an existing content generator.
func NewWithModels(models ContentGenerator, model string) *Backend {
	if model == "" {
		model = DefaultModel
	}
	return &Backend{models: models, model: model}
}

// Generate returns the first inline image of the first candidate.
func (b *Backend) Generate(ctx context.Context, req generation.BackendRequest) ([]byte, error) {
	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: imagedata.MIME(req.ProductImage), Data: req.ProductImage}},
	}
	if len(req.ModelImage) > 0 {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: imagedata.MIME(req.ModelImage), Data: req.ModelImage}})
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{AspectRatio: string(req.AspectRatio)},
	}
	res, err := b.models.GenerateContent(ctx, b.model, contents, cfg)
	if err != nil {
		if isRateLimit(err) {
			return nil, fmt.Errorf("gemini: %w: %w", errs.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("gemini: %w: %w", errs.ErrBackend, err)
	}
	if res != nil && len(res.Candidates) > 0 && res.Candidates[0].Content != nil {
		for _, part := range res.Candidates[0].Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, nil
			}
		}
	}
	return nil, fmt.Errorf("gemini: %w: %w", errs.ErrBackend, errs.ErrNoImage)
}

func isRateLimit(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil && apiErrPtr.Code == http.StatusTooManyRequests {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}
