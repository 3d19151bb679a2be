package repository

import (
	"context"

	"github.com/and161185/virtual-atelier/internal/model"
)

// HistoryRow is a stored session together with its physical row index.
type HistoryRow struct {
	Index   int
	Session model.GenerationSession
}

// HistoryRepository stores generation sessions, one row each.
type HistoryRepository interface {
	// Append stores a session as a new row.
	Append(ctx context.Context, s model.GenerationSession) error
	// Snapshot reads every row owned by email, in physical order.
	Snapshot(ctx context.Context, email string) ([]HistoryRow, error)
	// DeleteRow removes the row at index. Later rows shift up.
	DeleteRow(ctx context.Context, index int) error
}
