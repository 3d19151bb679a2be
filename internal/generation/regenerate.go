package generation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/model"
)

// Regenerator replaces a single slot of a workspace without touching its siblings.
type Regenerator struct {
	gen Generator
	log *zap.Logger
}

// NewRegenerator constructs a Regenerator.
func NewRegenerator(gen Generator, log *zap.Logger) *Regenerator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Regenerator{gen: gen, log: log}
}

// RegenerateSlot generates a fresh result for slot index. On failure the previous result stays
// visible and the generation error is returned. errs.ErrStaleEpoch is returned when a newer
// batch or regeneration of the same slot superseded this one.
func (r *Regenerator) RegenerateSlot(ctx context.Context, ws *Workspace, index int) (model.GenerationResult, error) {
	ticket, params, err := ws.MarkRegenerating(index)
	if err != nil {
		return model.GenerationResult{}, err
	}

	res, genErr := r.gen.GenerateOne(ctx, index, params)
	if !ws.FinishRegenerate(ticket, res, genErr) {
		r.log.Info("regeneration superseded", zap.Int("slot", index), zap.Uint64("epoch", ticket.Epoch))
		return model.GenerationResult{}, fmt.Errorf("slot %d: %w", index, errs.ErrStaleEpoch)
	}
	if genErr != nil {
		r.log.Warn("regeneration failed", zap.Int("slot", index), zap.Error(genErr))
		return model.GenerationResult{}, genErr
	}
	return res, nil
}
