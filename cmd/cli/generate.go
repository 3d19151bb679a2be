package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/and161185/virtual-atelier/internal/catalog"
	"github.com/and161185/virtual-atelier/internal/convert"
	"github.com/and161185/virtual-atelier/internal/imagedata"
	"github.com/and161185/virtual-atelier/internal/model"
)

// ------- validators -------

// readImage loads a local image and returns it base64-encoded; "" means no file.
func readImage(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if _, err := imagedata.Validate(raw); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// checkChoices rejects gender and aspect values the server would refuse, before uploading
// images. Unknown theme and pose ids only produce warnings: the server falls back to its
// default phrasing for them.
func checkChoices(cat *catalog.Catalog, theme, pose, gender, aspect string) (warnings []string, err error) {
	if gender != "" && !model.Gender(gender).Valid() {
		return nil, fmt.Errorf("unknown gender %q", gender)
	}
	if aspect != "" && !model.AspectRatio(aspect).Valid() {
		return nil, fmt.Errorf("unknown aspect ratio %q", aspect)
	}
	if theme != "" && !cat.HasTheme(theme) {
		warnings = append(warnings, fmt.Sprintf("unknown theme %q, using the default setting", theme))
	}
	if pose != "" && cat.PosePrompt(pose) == "" {
		warnings = append(warnings, fmt.Sprintf("unknown pose %q, using the default pose", pose))
	}
	return warnings, nil
}

// saveResult writes an inline result to dir and returns the file path. Durable URLs
// are not downloaded.
func saveResult(dir string, index int, r convert.ResultEvent) (string, error) {
	if !imagedata.IsDataURI(r.URL) {
		return "", nil
	}
	raw, err := imagedata.Decode(r.URL)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("variation-%d-%s%s", index+1, shortID(r.ID), imagedata.Extension(imagedata.MIME(raw)))
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, raw, 0o644); err != nil {
		return "", err
	}
	return p, nil
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ------- history rows -------

type sessionRow = model.GenerationSession

type historyLine struct {
	ID      string `json:"id"`
	At      string `json:"at"`
	Theme   string `json:"theme"`
	Aspect  string `json:"aspect"`
	Results int    `json:"results"`
}

func lineOf(s sessionRow) historyLine {
	return historyLine{
		ID:      s.ID,
		At:      s.CreatedAt().UTC().Format("2006-01-02 15:04:05"),
		Theme:   s.Theme,
		Aspect:  string(s.AspectRatio),
		Results: len(s.Results),
	}
}

// ------- commands -------

// cmdGenerate runs a server-side batch and saves inline results locally as they arrive.
func cmdGenerate(ctx context.Context, c *apiClient, args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	product := fs.String("product", "", "product image file")
	modelImg := fs.String("model", "", "model image file (optional)")
	theme := fs.String("theme", "", "theme id")
	pose := fs.String("pose", "", "pose id")
	gender := fs.String("gender", "", "female or male")
	aspect := fs.String("aspect", "", "aspect ratio, e.g. 9:16")
	desc := fs.String("desc", "", "additional description")
	out := fs.String("out", ".", "directory for generated images")
	_ = fs.Parse(args)

	if *product == "" {
		fmt.Fprintln(os.Stderr, "need -product")
		os.Exit(2)
	}
	warnings, err := checkChoices(catalog.Default(), *theme, *pose, *gender, *aspect)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
	req, err := buildBatchRequest(*product, *modelImg, *theme, *pose, *gender, *aspect, *desc)
	if err != nil {
		fail(err)
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		fail(err)
	}
	stream, err := c.runBatch(ctx, req, func(r convert.ResultEvent) {
		p, err := saveResult(*out, r.Index, r)
		if err != nil {
			fmt.Fprintf(os.Stderr, "variation %d: %v\n", r.Index+1, err)
			return
		}
		fmt.Printf("variation %d: %s\n", r.Index+1, choose(p, r.URL))
	})
	if err != nil {
		fail(err)
	}
	if err := batchError(stream.Done); err != nil {
		fail(err)
	}
	fmt.Printf("%d generated, %d failed\n", stream.Done.SuccessCount, stream.Done.Failed)
}

func buildBatchRequest(product, modelImg, theme, pose, gender, aspect, desc string) (convert.BatchRequest, error) {
	p, err := readImage(product)
	if err != nil {
		return convert.BatchRequest{}, err
	}
	m, err := readImage(modelImg)
	if err != nil {
		return convert.BatchRequest{}, err
	}
	return convert.BatchRequest{
		ProductImageBase64: p,
		ModelImageBase64:   m,
		ThemeID:            theme,
		PoseID:             pose,
		Gender:             gender,
		AspectRatio:        aspect,
		Description:        desc,
	}, nil
}

func batchError(d convert.DoneEvent) error {
	if d.Error == nil {
		return nil
	}
	return errors.New(d.Error.Code + ": " + d.Error.Message)
}

func choose(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
