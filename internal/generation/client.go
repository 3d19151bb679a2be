// Package generation turns structured user input into generated images: prompt assembly,
// rate-limit aware remote calls, the four-way batch fan-out and single-slot regeneration.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/and161185/virtual-atelier/internal/catalog"
	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/imagedata"
	"github.com/and161185/virtual-atelier/internal/model"
)

var tracer = otel.Tracer("github.com/and161185/virtual-atelier/internal/generation")

// BackendRequest is a single call to the generative image backend.
type BackendRequest struct {
	Prompt       string
	AspectRatio  model.AspectRatio
	ProductImage []byte
	ModelImage   []byte // nil when absent
}

// Backend produces one image per call. Implementations must wrap errs.ErrRateLimited
// when the remote side signals quota exhaustion (HTTP 429).
type Backend interface {
	Generate(ctx context.Context, req BackendRequest) ([]byte, error)
}

// Generator is the contract the orchestrator and regenerator depend on.
type Generator interface {
	GenerateOne(ctx context.Context, index int, p model.Params) (model.GenerationResult, error)
}

// RetryPolicy bounds retries on rate limiting. Delays double from BaseDelay.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Sleep      func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries three times after 2s, 4s and 8s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 2 * time.Second, Sleep: SleepContext}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Client is the remote generation client for a single variation.
type Client struct {
	backend Backend
	catalog *catalog.Catalog
	policy  RetryPolicy
	log     *zap.Logger
}

var _ Generator = (*Client)(nil)

// NewClient constructs a Client. A nil logger disables logging.
func NewClient(backend Backend, cat *catalog.Catalog, policy RetryPolicy, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.Sleep == nil {
		policy.Sleep = SleepContext
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &Client{backend: backend, catalog: cat, policy: policy, log: log}
}

// NewResultID returns a collision-resistant opaque result id.
func NewResultID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// GenerateOne produces one variation. Rate-limit signals are retried with exponential
// backoff; exhausting the budget yields errs.ErrRateLimited, any other failure errs.ErrBackend.
func (c *Client) GenerateOne(ctx context.Context, index int, p model.Params) (model.GenerationResult, error) {
	if err := ValidateParams(p); err != nil {
		return model.GenerationResult{}, err
	}
	ctx, span := tracer.Start(ctx, "generation.GenerateOne",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("variation", index)),
	)
	defer span.End()

	in := c.promptInput(index, p)
	for attempt := 0; ; attempt++ {
		raw, err := c.Render(ctx, in, p.ProductImage, p.ModelImage)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt+1))
			return model.GenerationResult{ID: NewResultID(), URL: imagedata.DataURI(raw)}, nil
		}
		if !errors.Is(err, errs.ErrRateLimited) || attempt >= c.policy.MaxRetries {
			span.RecordError(err)
			span.SetStatus(codes.Error, "generation failed")
			return model.GenerationResult{}, fmt.Errorf("variation %d after %d attempt(s): %w", index, attempt+1, err)
		}

		delay := c.policy.BaseDelay << attempt
		c.log.Warn("generation rate limited, backing off",
			zap.Int("variation", index),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		if serr := c.policy.Sleep(ctx, delay); serr != nil {
			return model.GenerationResult{}, fmt.Errorf("variation %d: %w: %w", index, errs.ErrBackend, serr)
		}
	}
}

// Render performs exactly one backend call and classifies its failure.
func (c *Client) Render(ctx context.Context, in PromptInput, product, modelImage []byte) ([]byte, error) {
	if len(product) == 0 {
		return nil, fmt.Errorf("%w: product image is required", errs.ErrInvalidInput)
	}
	raw, err := c.backend.Generate(ctx, BackendRequest{
		Prompt:       BuildPrompt(in),
		AspectRatio:  in.AspectRatio,
		ProductImage: product,
		ModelImage:   modelImage,
	})
	switch {
	case err == nil && len(raw) == 0:
		return nil, fmt.Errorf("%w: %w", errs.ErrBackend, errs.ErrNoImage)
	case err == nil:
		return raw, nil
	case errors.Is(err, errs.ErrRateLimited), errors.Is(err, errs.ErrBackend):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %w", errs.ErrBackend, err)
	}
}

func (c *Client) promptInput(index int, p model.Params) PromptInput {
	in := PromptInput{
		Gender:         p.Gender,
		Description:    p.Description,
		AspectRatio:    p.AspectRatio,
		VariationIndex: index,
	}
	if c.catalog != nil {
		in.ThemeLabel = c.catalog.ThemeLabel(p.ThemeID)
		in.PosePrompt = c.catalog.PosePrompt(p.PoseID)
	}
	return in
}

// NormalizeParams fills the defaults a request may leave empty.
func NormalizeParams(p model.Params, cat *catalog.Catalog) model.Params {
	if p.Gender == "" {
		p.Gender = model.GenderFemale
	}
	if p.AspectRatio == "" {
		p.AspectRatio = model.DefaultAspectRatio
	}
	if cat != nil {
		if p.ThemeID == "" {
			p.ThemeID = cat.DefaultTheme().ID
		}
		if p.PoseID == "" {
			p.PoseID = cat.DefaultPose().ID
		}
	}
	return p
}

// ValidateParams checks the preconditions of a generation call.
func ValidateParams(p model.Params) error {
	if len(p.ProductImage) == 0 {
		return fmt.Errorf("%w: product image is required", errs.ErrInvalidInput)
	}
	if !p.AspectRatio.Valid() {
		return fmt.Errorf("%w: unsupported aspect ratio %q", errs.ErrInvalidInput, p.AspectRatio)
	}
	if !p.Gender.Valid() {
		return fmt.Errorf("%w: unsupported gender %q", errs.ErrInvalidInput, p.Gender)
	}
	return nil
}
