// Package repository defines storage interfaces implemented by concrete backends.
package repository

import "context"

// Row is one data row of a table. Index is its 0-based position below the header row;
// deleting a row shifts every later row up by one.
type Row struct {
	Index int
	Cells []string
}

// RowStore is a row-oriented backend without transactions. Callers must not assume an
// index stays valid across a DeleteRow on the same table.
type RowStore interface {
	// EnsureTable creates the table and writes its header if missing.
	EnsureTable(ctx context.Context, table string, header []string) error
	// Rows returns every data row in physical order.
	Rows(ctx context.Context, table string) ([]Row, error)
	// Append adds a row after the last one.
	Append(ctx context.Context, table string, cells []string) error
	// UpdateCell overwrites one cell; column is 0-based.
	UpdateCell(ctx context.Context, table string, index, column int, value string) error
	// DeleteRow removes the row at index; errs.ErrNotFound if there is none.
	DeleteRow(ctx context.Context, table string, index int) error
}
