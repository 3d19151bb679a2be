package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/generation"
	"github.com/and161185/virtual-atelier/internal/model"
)

type fakeModels struct {
	gotModel    string
	gotContents []*genai.Content
	gotConfig   *genai.GenerateContentConfig
	resp        *genai.GenerateContentResponse
	err         error
}

func (f *fakeModels) GenerateContent(_ context.Context, m string, c []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.gotModel, f.gotContents, f.gotConfig = m, c, cfg
	return f.resp, f.err
}

func imageResponse(data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "here you go"},
			{InlineData: &genai.Blob{MIMEType: "image/png", Data: data}},
		}},
	}}}
}

func TestGenerate_BuildsPartsAndReturnsImage(t *testing.T) {
	f := &fakeModels{resp: imageResponse([]byte("img"))}
	b := NewWithModels(f, "")

	out, err := b.Generate(context.Background(), generation.BackendRequest{
		Prompt:       "prompt",
		AspectRatio:  model.Aspect3x4,
		ProductImage: []byte("product"),
		ModelImage:   []byte("person"),
	})
	require.NoError(t, err)
	require.Equal(t, []byte("img"), out)
	require.Equal(t, DefaultModel, f.gotModel)
	require.Equal(t, "3:4", f.gotConfig.ImageConfig.AspectRatio)

	require.Len(t, f.gotContents, 1)
	parts := f.gotContents[0].Parts
	require.Len(t, parts, 3)
	require.Equal(t, []byte("product"), parts[0].InlineData.Data)
	require.Equal(t, []byte("person"), parts[1].InlineData.Data)
	require.Equal(t, "prompt", parts[2].Text)
}

func TestGenerate_Classification(t *testing.T) {
	req := generation.BackendRequest{Prompt: "p", AspectRatio: model.Aspect1x1, ProductImage: []byte("x")}

	cases := []struct {
		name string
		err  error
		want error
	}{
		{"api error value", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, errs.ErrRateLimited},
		{"api error pointer", &genai.APIError{Code: 429}, errs.ErrRateLimited},
		{"message", errors.New("got 429 Too Many Requests"), errs.ErrRateLimited},
		{"server error", genai.APIError{Code: 500, Message: "boom"}, errs.ErrBackend},
		{"network", errors.New("connection reset"), errs.ErrBackend},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewWithModels(&fakeModels{err: tc.err}, "m")
			_, err := b.Generate(context.Background(), req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	b := NewWithModels(&fakeModels{resp: &genai.GenerateContentResponse{}}, "m")
	_, err := b.Generate(context.Background(), req)
	require.ErrorIs(t, err, errs.ErrNoImage)
	require.ErrorIs(t, err, errs.ErrBackend)
}
