package history

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/model"
	"github.com/and161185/virtual-atelier/internal/repository"
	"github.com/and161185/virtual-atelier/internal/repository/memory"
	"github.com/and161185/virtual-atelier/internal/repository/tabular"
)

func session(email string, ts int64) model.GenerationSession {
	return model.GenerationSession{
		ID:          fmt.Sprintf("s-%d", ts),
		Email:       email,
		Timestamp:   ts,
		Theme:       "modern",
		Gender:      model.GenderFemale,
		AspectRatio: model.Aspect9x16,
		Results:     []model.GenerationResult{{ID: fmt.Sprintf("r-%d", ts), URL: "https://cdn/x.png"}},
	}
}

func newTestLedger(t *testing.T) (*Ledger, *memory.Rows) {
	t.Helper()
	store := memory.NewRows()
	require.NoError(t, tabular.Setup(context.Background(), store))
	return NewLedger(tabular.NewHistory(store), DefaultMaxSessions, zaptest.NewLogger(t)), store
}

func TestLedger_CapAfterManyAppends(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t)
	const n = 25
	for i := 1; i <= n; i++ {
		require.NoError(t, l.Append(ctx, session("a@b.co", int64(i*1000))))
	}
	require.NoError(t, l.Append(ctx, session("other@b.co", 1)))

	list, err := l.List(ctx, "a@b.co")
	require.NoError(t, err)
	require.Len(t, list, DefaultMaxSessions)
	for i, s := range list {
		require.Equal(t, int64((n-i)*1000), s.Timestamp)
	}
	require.Equal(t, DefaultMaxSessions+1, store.Len(tabular.HistoryTable))
}

func TestLedger_OutOfOrderTimestamps(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	for _, ts := range []int64{5, 1, 9, 3, 7, 11, 2, 13, 4, 12, 8, 6, 10} {
		require.NoError(t, l.Append(ctx, session("a@b.co", ts)))
	}
	list, err := l.List(ctx, "a@b.co")
	require.NoError(t, err)
	var got []int64
	for _, s := range list {
		got = append(got, s.Timestamp)
	}
	require.Equal(t, []int64{13, 12, 11, 10, 9, 8, 7, 6, 5, 4}, got)
}

func TestLedger_CaseInsensitiveIdentity(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	require.NoError(t, l.Append(ctx, session("User@Example.com", 1)))
	require.NoError(t, l.Append(ctx, session("user@example.COM", 2)))

	a, err := l.List(ctx, "user@example.com")
	require.NoError(t, err)
	b, err := l.List(ctx, "USER@EXAMPLE.COM")
	require.NoError(t, err)
	require.Len(t, a, 2)
	require.Equal(t, a, b)

	got, err := l.Get(ctx, "User@example.com", "s-1")
	require.NoError(t, err)
	require.Equal(t, "user@example.com", got.Email)

	_, err = l.Get(ctx, "user@example.com", "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestLedger_ClearIdempotent(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t)
	for i := 1; i <= 4; i++ {
		require.NoError(t, l.Append(ctx, session("a@b.co", int64(i))))
	}
	require.NoError(t, l.Append(ctx, session("keep@b.co", 99)))

	require.NoError(t, l.Clear(ctx, "A@B.co"))
	require.NoError(t, l.Clear(ctx, "a@b.co"))

	list, err := l.List(ctx, "a@b.co")
	require.NoError(t, err)
	require.Empty(t, list)
	require.Equal(t, 1, store.Len(tabular.HistoryTable))

	kept, err := l.List(ctx, "keep@b.co")
	require.NoError(t, err)
	require.Len(t, kept, 1)
}

func TestLedger_RejectsUnarchivedSessions(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger(t)

	s := session("a@b.co", 1)
	s.Results[0].URL = "data:image/png;base64,AAAA"
	require.ErrorIs(t, l.Append(ctx, s), errs.ErrInvalidInput)

	s = session("a@b.co", 1)
	s.Results = nil
	require.ErrorIs(t, l.Append(ctx, s), errs.ErrInvalidInput)

	s = session("", 1)
	require.ErrorIs(t, l.Append(ctx, s), errs.ErrInvalidInput)
	require.Zero(t, store.Len(tabular.HistoryTable))
}

// failingRepo fails the configured operations.
type failingRepo struct {
	repository.HistoryRepository
	appendErr, snapshotErr error
}

func (f failingRepo) Append(ctx context.Context, s model.GenerationSession) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.HistoryRepository.Append(ctx, s)
}

func (f failingRepo) Snapshot(ctx context.Context, email string) ([]repository.HistoryRow, error) {
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.HistoryRepository.Snapshot(ctx, email)
}

func TestLedger_WriteErrorIsWrapped(t *testing.T) {
	repo := failingRepo{HistoryRepository: tabular.NewHistory(memory.NewRows()), appendErr: errors.New("quota")}
	l := NewLedger(repo, 3, zaptest.NewLogger(t))
	require.ErrorIs(t, l.Append(context.Background(), session("a@b.co", 1)), errs.ErrHistoryWrite)

	// Record swallows the error
	l.Record(context.Background(), session("a@b.co", 1))
}

func TestLedger_TrimFailureDoesNotFailAppend(t *testing.T) {
	store := memory.NewRows()
	repo := failingRepo{HistoryRepository: tabular.NewHistory(store), snapshotErr: errors.New("read quota")}
	l := NewLedger(repo, 3, zaptest.NewLogger(t))

	require.NoError(t, l.Append(context.Background(), session("a@b.co", 1)))
	require.Equal(t, 1, store.Len(tabular.HistoryTable))
}
