package history

import (
	"context"
	"fmt"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/repository"
)

// Trimmer deletes a user's oldest sessions beyond the cap.
type Trimmer struct {
	repo repository.HistoryRepository
	max  int
}

// NewTrimmer constructs a trimmer.
func NewTrimmer(repo repository.HistoryRepository, max int) *Trimmer {
	return &Trimmer{repo: repo, max: max}
}

// Trim re-reads the user's rows and deletes every row past the newest max.
// Targets come from that single snapshot and are deleted highest index first.
func (t *Trimmer) Trim(ctx context.Context, email string) error {
	rows, err := t.repo.Snapshot(ctx, email)
	if err != nil {
		return fmt.Errorf("%w: snapshot: %w", errs.ErrTrim, err)
	}
	if len(rows) <= t.max {
		return nil
	}
	sortNewestFirst(rows)
	excess := rows[t.max:]
	idx := make([]int, len(excess))
	for i, r := range excess {
		idx[i] = r.Index
	}
	if err := deleteDescending(ctx, t.repo, idx); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrTrim, err)
	}
	return nil
}
