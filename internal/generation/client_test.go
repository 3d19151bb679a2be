package generation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/virtual-atelier/internal/catalog"
	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/model"
)

// scriptedBackend returns errs[i] on call i and an image after the script runs out.
type scriptedBackend struct {
	mu      sync.Mutex
	script  []error
	calls   int
	prompts []string
}

func (b *scriptedBackend) Generate(_ context.Context, req BackendRequest) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = append(b.prompts, req.Prompt)
	i := b.calls
	b.calls++
	if i < len(b.script) && b.script[i] != nil {
		return nil, b.script[i]
	}
	return []byte("png-bytes"), nil
}

// fakeClock records requested sleeps instead of waiting.
type fakeClock struct {
	mu     sync.Mutex
	slept  []time.Duration
	failOn int // 1-based sleep call that returns an error; 0 never
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slept = append(c.slept, d)
	if c.failOn == len(c.slept) {
		return context.Canceled
	}
	return nil
}

func (c *fakeClock) total() time.Duration {
	var sum time.Duration
	for _, d := range c.slept {
		sum += d
	}
	return sum
}

func testParams() model.Params {
	return model.Params{
		Gender:       model.GenderFemale,
		ThemeID:      "cafe",
		AspectRatio:  model.Aspect9x16,
		PoseID:       "walking",
		ProductImage: []byte("product"),
	}
}

func newTestClient(t *testing.T, b Backend, clock *fakeClock) *Client {
	t.Helper()
	policy := DefaultRetryPolicy()
	policy.Sleep = clock.Sleep
	return NewClient(b, catalog.Default(), policy, zaptest.NewLogger(t))
}

func rateLimited() error { return errors.Join(errs.ErrRateLimited, errors.New("429")) }

func TestGenerateOne_RetriesThenSucceeds(t *testing.T) {
	b := &scriptedBackend{script: []error{rateLimited(), rateLimited(), rateLimited()}}
	clock := &fakeClock{}
	c := newTestClient(t, b, clock)

	res, err := c.GenerateOne(context.Background(), 1, testParams())
	require.NoError(t, err)
	require.Equal(t, 4, b.calls)
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, clock.slept)
	require.GreaterOrEqual(t, clock.total(), 14*time.Second)
	require.NotEmpty(t, res.ID)
	require.True(t, strings.HasPrefix(res.URL, "data:"))
}

func TestGenerateOne_RateLimitBudgetExhausted(t *testing.T) {
	b := &scriptedBackend{script: []error{rateLimited(), rateLimited(), rateLimited(), rateLimited(), nil}}
	clock := &fakeClock{}
	c := newTestClient(t, b, clock)

	_, err := c.GenerateOne(context.Background(), 0, testParams())
	require.ErrorIs(t, err, errs.ErrRateLimited)
	require.Equal(t, 4, b.calls, "never a fifth attempt")
	require.Len(t, clock.slept, 3)
}

func TestGenerateOne_BackendErrorIsNotRetried(t *testing.T) {
	b := &scriptedBackend{script: []error{errors.New("500 internal")}}
	clock := &fakeClock{}
	c := newTestClient(t, b, clock)

	_, err := c.GenerateOne(context.Background(), 0, testParams())
	require.ErrorIs(t, err, errs.ErrBackend)
	require.NotErrorIs(t, err, errs.ErrRateLimited)
	require.Equal(t, 1, b.calls)
	require.Empty(t, clock.slept)
}

func TestGenerateOne_CancelledDuringBackoff(t *testing.T) {
	b := &scriptedBackend{script: []error{rateLimited(), rateLimited()}}
	clock := &fakeClock{failOn: 1}
	c := newTestClient(t, b, clock)

	_, err := c.GenerateOne(context.Background(), 0, testParams())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, b.calls)
}

func TestGenerateOne_ValidatesInput(t *testing.T) {
	c := newTestClient(t, &scriptedBackend{}, &fakeClock{})

	p := testParams()
	p.ProductImage = nil
	_, err := c.GenerateOne(context.Background(), 0, p)
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	p = testParams()
	p.AspectRatio = "2:1"
	_, err = c.GenerateOne(context.Background(), 0, p)
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestGenerateOne_EmptyImageIsBackendError(t *testing.T) {
	c := newTestClient(t, emptyBackend{}, &fakeClock{})
	_, err := c.GenerateOne(context.Background(), 0, testParams())
	require.ErrorIs(t, err, errs.ErrBackend)
	require.ErrorIs(t, err, errs.ErrNoImage)
}

type emptyBackend struct{}

func (emptyBackend) Generate(context.Context, BackendRequest) ([]byte, error) { return nil, nil }

func TestGenerateOne_PromptUsesCatalogAndIndex(t *testing.T) {
	b := &scriptedBackend{}
	c := newTestClient(t, b, &fakeClock{})

	p := testParams()
	p.ThemeID = "unknown-theme"
	_, err := c.GenerateOne(context.Background(), 2, p)
	require.NoError(t, err)
	require.Len(t, b.prompts, 1)
	require.Contains(t, b.prompts[0], "(Variation 3)")
	require.Contains(t, b.prompts[0], "a modern environment")
}

func TestNormalizeParams(t *testing.T) {
	p := NormalizeParams(model.Params{ProductImage: []byte("x")}, catalog.Default())
	require.Equal(t, model.GenderFemale, p.Gender)
	require.Equal(t, model.DefaultAspectRatio, p.AspectRatio)
	require.Equal(t, "modern", p.ThemeID)
	require.Equal(t, "selfie", p.PoseID)
	require.NoError(t, ValidateParams(p))
}
