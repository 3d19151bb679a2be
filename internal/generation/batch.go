package generation

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/model"
)

// BatchSize is the number of variations launched per generate action.
const BatchSize = 4

// BatchOutcome summarises a settled batch.
type BatchOutcome struct {
	Results      []model.GenerationResult // arrival order
	SuccessCount int
	Failed       int
	// Failure is set only when SuccessCount == 0. It wraps errs.ErrRateLimited if any
	// variation exhausted its retries, otherwise the last observed failure.
	Failure error
}

// ResultFunc observes each successful variation as it arrives.
type ResultFunc func(index int, r model.GenerationResult)

// Orchestrator fans a batch out to a Generator.
type Orchestrator struct {
	gen  Generator
	size int
	log  *zap.Logger
}

// NewOrchestrator returns an orchestrator launching BatchSize variations per batch.
func NewOrchestrator(gen Generator, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{gen: gen, size: BatchSize, log: log}
}

type variationOutcome struct {
	index  int
	result model.GenerationResult
	err    error
}

// RunBatch launches the variations concurrently and calls onResult from the calling goroutine
// in completion order. It never fails as a whole; per-variation failures are absorbed.
func (o *Orchestrator) RunBatch(ctx context.Context, p model.Params, onResult ResultFunc) BatchOutcome {
	ctx, span := tracer.Start(ctx, "generation.RunBatch")
	defer span.End()

	ch := make(chan variationOutcome, o.size)
	for i := 0; i < o.size; i++ {
		go func(index int) {
			r, err := o.gen.GenerateOne(ctx, index, p)
			ch <- variationOutcome{index: index, result: r, err: err}
		}(i)
	}

	var (
		out         BatchOutcome
		lastErr     error
		rateLimited error
	)
	for range o.size {
		v := <-ch
		if v.err != nil {
			out.Failed++
			lastErr = v.err
			if errors.Is(v.err, errs.ErrRateLimited) {
				rateLimited = v.err
			}
			o.log.Warn("variation failed", zap.Int("variation", v.index), zap.Error(v.err))
			continue
		}
		out.Results = append(out.Results, v.result)
		out.SuccessCount++
		if onResult != nil {
			onResult(v.index, v.result)
		}
	}

	if out.SuccessCount == 0 {
		out.Failure = lastErr
		if rateLimited != nil {
			out.Failure = rateLimited
		}
	}
	span.SetAttributes(
		attribute.Int("success", out.SuccessCount),
		attribute.Int("failed", out.Failed),
	)
	return out
}

// RateLimited reports whether an all-failed batch should be summarised as quota exhaustion.
func (o BatchOutcome) RateLimited() bool {
	return o.Failure != nil && errors.Is(o.Failure, errs.ErrRateLimited)
}
