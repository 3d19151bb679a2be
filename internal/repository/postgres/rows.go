package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/repository"
)

// RowStore implements repository.RowStore on the sheet_rows table. Positions are dense and
// 0-based per sheet; a delete shifts later positions down by one, like a spreadsheet.
// Writes to one sheet are serialised with a transaction-scoped advisory lock.
type RowStore struct{ db *DB }

var _ repository.RowStore = (*RowStore)(nil)

// NewRowStore constructs a row store.
func NewRowStore(db *DB) *RowStore { return &RowStore{db: db} }

const lockSheet = `SELECT pg_advisory_xact_lock(hashtext($1))`

// EnsureTable records the header of a sheet once.
func (s *RowStore) EnsureTable(ctx context.Context, table string, header []string) error {
	const q = `
INSERT INTO sheet_headers (sheet, cells) VALUES ($1, $2)
ON CONFLICT (sheet) DO NOTHING`
	_, err := s.db.Pool.Exec(ctx, q, table, header)
	return err
}

// Rows returns all rows of a sheet ordered by position.
func (s *RowStore) Rows(ctx context.Context, table string) ([]repository.Row, error) {
	const q = `SELECT position, cells FROM sheet_rows WHERE sheet=$1 ORDER BY position`
	rows, err := s.db.Pool.Query(ctx, q, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Row
	for rows.Next() {
		var r repository.Row
		if err := rows.Scan(&r.Index, &r.Cells); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Append inserts a row after the current last position.
func (s *RowStore) Append(ctx context.Context, table string, cells []string) error {
	return s.db.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockSheet, table); err != nil {
			return err
		}
		const ins = `
INSERT INTO sheet_rows (sheet, position, cells)
SELECT $1, COALESCE(MAX(position) + 1, 0), $2 FROM sheet_rows WHERE sheet=$1`
		_, err := tx.Exec(ctx, ins, table, cells)
		return err
	})
}

// UpdateCell overwrites one cell of the row at index.
func (s *RowStore) UpdateCell(ctx context.Context, table string, index, column int, value string) error {
	const q = `UPDATE sheet_rows SET cells[$3] = $4 WHERE sheet=$1 AND position=$2`
	tag, err := s.db.Pool.Exec(ctx, q, table, index, column+1, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s row %d: %w", table, index, errs.ErrNotFound)
	}
	return nil
}

// DeleteRow removes the row at index and closes the gap.
func (s *RowStore) DeleteRow(ctx context.Context, table string, index int) error {
	return s.db.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockSheet, table); err != nil {
			return err
		}
		const del = `DELETE FROM sheet_rows WHERE sheet=$1 AND position=$2`
		tag, err := tx.Exec(ctx, del, table, index)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%s row %d: %w", table, index, errs.ErrNotFound)
		}
		const shift = `UPDATE sheet_rows SET position = position - 1 WHERE sheet=$1 AND position > $2`
		_, err = tx.Exec(ctx, shift, table, index)
		return err
	})
}
