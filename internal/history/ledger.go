// Package history keeps a capped, newest-first list of archived generation sessions per user.
//
// Appends and trims against the row store are not atomic: two clients of the same user can
// interleave a trim with another append or trim, so the cap is best-effort.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/imagedata"
	"github.com/and161185/virtual-atelier/internal/model"
	"github.com/and161185/virtual-atelier/internal/repository"
)

// DefaultMaxSessions is the retention cap per user.
const DefaultMaxSessions = 10

// Ledger is the per-user history.
type Ledger struct {
	repo    repository.HistoryRepository
	trimmer *Trimmer
	max     int
	log     *zap.Logger
}

// NewLedger constructs a ledger keeping at most max sessions per user.
func NewLedger(repo repository.HistoryRepository, max int, log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	if max <= 0 {
		max = DefaultMaxSessions
	}
	return &Ledger{repo: repo, trimmer: NewTrimmer(repo, max), max: max, log: log}
}

// Append stores s as the newest entry of its owner and trims the owner's history.
// A trim failure is logged and does not fail the append.
func (l *Ledger) Append(ctx context.Context, s model.GenerationSession) error {
	if err := validate(s); err != nil {
		return err
	}
	s.Email = model.NormalizeEmail(s.Email)
	if err := l.repo.Append(ctx, s); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrHistoryWrite, err)
	}
	if err := l.trimmer.Trim(ctx, s.Email); err != nil {
		l.log.Warn("history trim failed", zap.String("session_id", s.ID), zap.Error(err))
	}
	return nil
}

// Record appends s and only logs a failure.
func (l *Ledger) Record(ctx context.Context, s model.GenerationSession) {
	if err := l.Append(ctx, s); err != nil {
		l.log.Error("history write failed", zap.String("session_id", s.ID), zap.Error(err))
	}
}

// List returns up to the cap of sessions, newest first.
func (l *Ledger) List(ctx context.Context, email string) ([]model.GenerationSession, error) {
	rows, err := l.repo.Snapshot(ctx, email)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(rows)
	if len(rows) > l.max {
		rows = rows[:l.max]
	}
	out := make([]model.GenerationSession, len(rows))
	for i, r := range rows {
		out[i] = r.Session
	}
	return out, nil
}

// Get loads one listed session of email by id.
func (l *Ledger) Get(ctx context.Context, email, id string) (model.GenerationSession, error) {
	sessions, err := l.List(ctx, email)
	if err != nil {
		return model.GenerationSession{}, err
	}
	for _, s := range sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return model.GenerationSession{}, fmt.Errorf("session %s: %w", id, errs.ErrNotFound)
}

// Clear removes every session of email. Clearing an empty history succeeds.
func (l *Ledger) Clear(ctx context.Context, email string) error {
	rows, err := l.repo.Snapshot(ctx, email)
	if err != nil {
		return err
	}
	idx := make([]int, len(rows))
	for i, r := range rows {
		idx[i] = r.Index
	}
	return deleteDescending(ctx, l.repo, idx)
}

func validate(s model.GenerationSession) error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: session id is required", errs.ErrInvalidInput)
	case model.NormalizeEmail(s.Email) == "":
		return fmt.Errorf("%w: session owner is required", errs.ErrInvalidInput)
	case len(s.Results) == 0:
		return fmt.Errorf("%w: session has no results", errs.ErrInvalidInput)
	}
	for _, r := range s.Results {
		if r.URL == "" || imagedata.IsDataURI(r.URL) {
			return fmt.Errorf("%w: result %s is not archived", errs.ErrInvalidInput, r.ID)
		}
	}
	if imagedata.IsDataURI(s.ProductImageURL) || imagedata.IsDataURI(s.ModelImageURL) {
		return fmt.Errorf("%w: input images are not archived", errs.ErrInvalidInput)
	}
	return nil
}

// sortNewestFirst orders by timestamp descending; equal timestamps keep the later row first.
func sortNewestFirst(rows []repository.HistoryRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Session.Timestamp != rows[j].Session.Timestamp {
			return rows[i].Session.Timestamp > rows[j].Session.Timestamp
		}
		return rows[i].Index > rows[j].Index
	})
}

// deleteDescending deletes the given physical rows from the highest index down, so that
// every index stays valid when its delete is issued. It keeps going past failures.
func deleteDescending(ctx context.Context, repo repository.HistoryRepository, idx []int) error {
	sort.Sort(sort.Reverse(sort.IntSlice(idx)))
	var failures []error
	for _, i := range idx {
		if err := repo.DeleteRow(ctx, i); err != nil {
			failures = append(failures, fmt.Errorf("row %d: %w", i, err))
		}
	}
	return errors.Join(failures...)
}
