// Package tabular maps users and history sessions onto a repository.RowStore.
package tabular

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/model"
	"github.com/and161185/virtual-atelier/internal/repository"
)

// Table names and layouts.
const (
	UsersTable   = "users"
	HistoryTable = "history"
)

var (
	usersHeader   = []string{"email", "request_count"}
	historyHeader = []string{
		"session_id", "email", "timestamp", "theme", "gender", "aspect_ratio",
		"product_image_url", "model_image_url", "results_json",
	}
)

const (
	userColEmail = iota
	userColCount
)

const (
	histColSession = iota
	histColEmail
	histColTimestamp
	histColTheme
	histColGender
	histColAspect
	histColProduct
	histColModel
	histColResults
)

// Setup creates both tables if missing.
func Setup(ctx context.Context, store repository.RowStore) error {
	if err := store.EnsureTable(ctx, UsersTable, usersHeader); err != nil {
		return fmt.Errorf("ensure %s: %w", UsersTable, err)
	}
	if err := store.EnsureTable(ctx, HistoryTable, historyHeader); err != nil {
		return fmt.Errorf("ensure %s: %w", HistoryTable, err)
	}
	return nil
}

func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

// Users implements repository.UserRepository.
type Users struct{ store repository.RowStore }

var _ repository.UserRepository = (*Users)(nil)

// NewUsers constructs a user repository.
func NewUsers(store repository.RowStore) *Users { return &Users{store: store} }

func (u *Users) find(ctx context.Context, email string) (repository.Row, bool, error) {
	rows, err := u.store.Rows(ctx, UsersTable)
	if err != nil {
		return repository.Row{}, false, err
	}
	for _, r := range rows {
		if model.SameIdentity(cell(r.Cells, userColEmail), email) {
			return r, true, nil
		}
	}
	return repository.Row{}, false, nil
}

func decodeUser(r repository.Row) model.User {
	n, _ := strconv.Atoi(cell(r.Cells, userColCount))
	return model.User{Email: model.NormalizeEmail(cell(r.Cells, userColEmail)), RequestCount: n}
}

// Get loads a user by email.
func (u *Users) Get(ctx context.Context, email string) (*model.User, error) {
	r, ok, err := u.find(ctx, email)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrNotFound
	}
	user := decodeUser(r)
	return &user, nil
}

// List returns all users in row order.
func (u *Users) List(ctx context.Context) ([]model.User, error) {
	rows, err := u.store.Rows(ctx, UsersTable)
	if err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(rows))
	for _, r := range rows {
		if cell(r.Cells, userColEmail) == "" {
			continue
		}
		out = append(out, decodeUser(r))
	}
	return out, nil
}

// Add appends the email with a zero counter unless it already exists.
func (u *Users) Add(ctx context.Context, email string) error {
	email = model.NormalizeEmail(email)
	_, ok, err := u.find(ctx, email)
	if err != nil || ok {
		return err
	}
	return u.store.Append(ctx, UsersTable, []string{email, "0"})
}

// IncrementUsage adds one to the counter cell.
func (u *Users) IncrementUsage(ctx context.Context, email string) (int, error) {
	r, ok, err := u.find(ctx, email)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errs.ErrNotFound
	}
	n := decodeUser(r).RequestCount + 1
	if err := u.store.UpdateCell(ctx, UsersTable, r.Index, userColCount, strconv.Itoa(n)); err != nil {
		return 0, err
	}
	return n, nil
}

// Delete removes every row of email, highest index first.
func (u *Users) Delete(ctx context.Context, email string) error {
	rows, err := u.store.Rows(ctx, UsersTable)
	if err != nil {
		return err
	}
	var idx []int
	for _, r := range rows {
		if model.SameIdentity(cell(r.Cells, userColEmail), email) {
			idx = append(idx, r.Index)
		}
	}
	if len(idx) == 0 {
		return errs.ErrNotFound
	}
	for i := len(idx) - 1; i >= 0; i-- {
		if err := u.store.DeleteRow(ctx, UsersTable, idx[i]); err != nil {
			return err
		}
	}
	return nil
}

// History implements repository.HistoryRepository.
type History struct{ store repository.RowStore }

var _ repository.HistoryRepository = (*History)(nil)

// NewHistory constructs a history repository.
func NewHistory(store repository.RowStore) *History { return &History{store: store} }

// Append encodes s as one row. Results are stored as JSON.
func (h *History) Append(ctx context.Context, s model.GenerationSession) error {
	results, err := json.Marshal(s.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	return h.store.Append(ctx, HistoryTable, []string{
		s.ID,
		model.NormalizeEmail(s.Email),
		strconv.FormatInt(s.Timestamp, 10),
		s.Theme,
		string(s.Gender),
		string(s.AspectRatio),
		s.ProductImageURL,
		s.ModelImageURL,
		string(results),
	})
}

// Snapshot returns the rows owned by email. Rows that cannot be decoded are skipped.
func (h *History) Snapshot(ctx context.Context, email string) ([]repository.HistoryRow, error) {
	rows, err := h.store.Rows(ctx, HistoryTable)
	if err != nil {
		return nil, err
	}
	var out []repository.HistoryRow
	for _, r := range rows {
		if !model.SameIdentity(cell(r.Cells, histColEmail), email) {
			continue
		}
		s, ok := decodeSession(r.Cells)
		if !ok {
			continue
		}
		out = append(out, repository.HistoryRow{Index: r.Index, Session: s})
	}
	return out, nil
}

// DeleteRow removes one history row.
func (h *History) DeleteRow(ctx context.Context, index int) error {
	return h.store.DeleteRow(ctx, HistoryTable, index)
}

func decodeSession(cells []string) (model.GenerationSession, bool) {
	ts, err := strconv.ParseInt(cell(cells, histColTimestamp), 10, 64)
	if err != nil {
		return model.GenerationSession{}, false
	}
	var results []model.GenerationResult
	if raw := cell(cells, histColResults); raw != "" {
		if err := json.Unmarshal([]byte(raw), &results); err != nil {
			return model.GenerationSession{}, false
		}
	}
	return model.GenerationSession{
		ID:              cell(cells, histColSession),
		Email:           model.NormalizeEmail(cell(cells, histColEmail)),
		Timestamp:       ts,
		Theme:           cell(cells, histColTheme),
		Gender:          model.Gender(cell(cells, histColGender)),
		AspectRatio:     model.AspectRatio(cell(cells, histColAspect)),
		ProductImageURL: cell(cells, histColProduct),
		ModelImageURL:   cell(cells, histColModel),
		Results:         results,
	}, true
}
