// Package archive uploads generated and input images to durable storage.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/imagedata"
	"github.com/and161185/virtual-atelier/internal/model"
)

var tracer = otel.Tracer("github.com/and161185/virtual-atelier/internal/archive")

const (
	keyPrefix       = "va"
	defaultParallel = 6
)

// ObjectStore persists one object and returns its public URL.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Archiver uploads batches in parallel under a date-derived prefix.
type Archiver struct {
	store    ObjectStore
	parallel int
	now      func() time.Time
	log      *zap.Logger
}

// New constructs an Archiver.
func New(store ObjectStore, log *zap.Logger) *Archiver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Archiver{store: store, parallel: defaultParallel, now: time.Now, log: log}
}

type upload struct {
	payload  []byte
	filename string
}

// Archive uploads results plus the product and optional model image. It fails with
// errs.ErrUploadIncomplete unless every result uploaded; input images are best-effort and
// come back empty on failure. Archived.URLs is aligned with results.
func (a *Archiver) Archive(ctx context.Context, results []model.GenerationResult, product, modelImage []byte) (model.Archived, error) {
	if len(results) == 0 {
		return model.Archived{}, fmt.Errorf("%w: nothing to archive", errs.ErrUpload)
	}
	ctx, span := tracer.Start(ctx, "archive.Archive")
	span.SetAttributes(attribute.Int("results", len(results)))
	defer span.End()

	items := make([]upload, 0, len(results)+2)
	for _, r := range results {
		raw, err := imagedata.Decode(r.URL)
		if err != nil {
			a.log.Warn("result is not an inline image", zap.String("result_id", r.ID), zap.Error(err))
		}
		items = append(items, upload{payload: raw, filename: "result-" + r.ID})
	}
	items = append(items, upload{payload: product, filename: "product"})
	items = append(items, upload{payload: modelImage, filename: "model"})

	urls := a.uploadAll(ctx, items)

	out := model.Archived{
		URLs:       urls[:len(results)],
		ProductURL: urls[len(results)],
		ModelURL:   urls[len(results)+1],
	}
	failed := 0
	for _, u := range out.URLs {
		if u == "" {
			failed++
		}
	}
	if failed > 0 {
		return model.Archived{}, fmt.Errorf("%w: %d of %d results failed", errs.ErrUploadIncomplete, failed, len(results))
	}
	if out.ProductURL == "" {
		a.log.Warn("product image was not archived")
	}
	return out, nil
}

// UploadItems uploads base64 payloads and returns URLs aligned with items, failing with
// errs.ErrUploadIncomplete if any item failed.
func (a *Archiver) UploadItems(ctx context.Context, items []model.UploadItem) ([]string, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no images", errs.ErrInvalidInput)
	}
	ctx, span := tracer.Start(ctx, "archive.UploadItems")
	defer span.End()

	ups := make([]upload, len(items))
	for i, it := range items {
		raw, err := imagedata.Decode(it.Base64)
		if err != nil {
			a.log.Warn("upload item is not base64", zap.Int("item", i), zap.Error(err))
		}
		ups[i] = upload{payload: raw, filename: it.Filename}
	}
	urls := a.uploadAll(ctx, ups)
	for _, u := range urls {
		if u == "" {
			return nil, fmt.Errorf("%w: some uploads failed", errs.ErrUploadIncomplete)
		}
	}
	return urls, nil
}

// uploadAll uploads every non-empty payload concurrently. A failed or empty item leaves an
// empty URL at its position; it never aborts the others.
func (a *Archiver) uploadAll(ctx context.Context, items []upload) []string {
	folder := path.Join(keyPrefix, a.now().UTC().Format(time.DateOnly))
	urls := make([]string, len(items))

	var g errgroup.Group
	g.SetLimit(a.parallel)
	for i, it := range items {
		if len(it.payload) == 0 {
			continue
		}
		g.Go(func() error {
			mime := imagedata.MIME(it.payload)
			key := path.Join(folder, uniqueName(it.filename, imagedata.Extension(mime)))
			u, err := a.store.Put(ctx, key, it.payload, mime)
			if err != nil {
				a.log.Warn("upload failed", zap.String("key", key), zap.Error(err))
				return nil
			}
			urls[i] = u
			return nil
		})
	}
	_ = g.Wait()
	return urls
}

func uniqueName(filename, ext string) string {
	name := path.Base(strings.TrimSpace(filename))
	base := strings.TrimSuffix(name, path.Ext(name))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, base)
	if base == "" || base == "." || base == "-" {
		base = "image"
	}
	return fmt.Sprintf("%s-%s%s", base, uuid.Must(uuid.NewV4()).String()[:8], ext)
}
