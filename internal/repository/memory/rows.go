// Package memory is an in-process repository.RowStore for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/repository"
)

// Rows keeps tables in memory with the same positional semantics as a spreadsheet.
type Rows struct {
	mu      sync.Mutex
	headers map[string][]string
	tables  map[string][][]string
}

var _ repository.RowStore = (*Rows)(nil)

// NewRows returns an empty store.
func NewRows() *Rows {
	return &Rows{headers: make(map[string][]string), tables: make(map[string][][]string)}
}

func (m *Rows) EnsureTable(_ context.Context, table string, header []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.headers[table]; !ok {
		m.headers[table] = append([]string(nil), header...)
	}
	return nil
}

func (m *Rows) Rows(_ context.Context, table string) ([]repository.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tables[table]
	out := make([]repository.Row, len(rows))
	for i, cells := range rows {
		out[i] = repository.Row{Index: i, Cells: append([]string(nil), cells...)}
	}
	return out, nil
}

func (m *Rows) Append(_ context.Context, table string, cells []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = append(m.tables[table], append([]string(nil), cells...))
	return nil
}

func (m *Rows) UpdateCell(_ context.Context, table string, index, column int, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tables[table]
	if index < 0 || index >= len(rows) || column < 0 {
		return fmt.Errorf("%s row %d: %w", table, index, errs.ErrNotFound)
	}
	for len(rows[index]) <= column {
		rows[index] = append(rows[index], "")
	}
	rows[index][column] = value
	return nil
}

func (m *Rows) DeleteRow(_ context.Context, table string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.tables[table]
	if index < 0 || index >= len(rows) {
		return fmt.Errorf("%s row %d: %w", table, index, errs.ErrNotFound)
	}
	m.tables[table] = append(rows[:index], rows[index+1:]...)
	return nil
}

// Len returns the number of data rows in table.
func (m *Rows) Len(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}
