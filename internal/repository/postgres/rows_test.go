package postgres

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/virtual-atelier/internal/errs"
	"github.com/and161185/virtual-atelier/internal/repository"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestRowStore_EnsureTable(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewRowStore(db)
	header := []string{"email", "request_count"}

	mock.ExpectExec(`INSERT INTO sheet_headers \(sheet, cells\) VALUES \(\$1, \$2\) ON CONFLICT \(sheet\) DO NOTHING`).
		WithArgs("users", header).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	require.NoError(t, s.EnsureTable(context.Background(), "users", header))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowStore_Rows(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewRowStore(db)

	mock.ExpectQuery(`SELECT position, cells FROM sheet_rows WHERE sheet=\$1 ORDER BY position`).
		WithArgs("history").
		WillReturnRows(pgxmock.NewRows([]string{"position", "cells"}).
			AddRow(0, []string{"s1", "a@b.co"}).
			AddRow(1, []string{"s2", "c@d.co"}))
	rows, err := s.Rows(context.Background(), "history")
	require.NoError(t, err)
	require.Equal(t, []repository.Row{
		{Index: 0, Cells: []string{"s1", "a@b.co"}},
		{Index: 1, Cells: []string{"s2", "c@d.co"}},
	}, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowStore_Append(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewRowStore(db)
	cells := []string{"a@b.co", "0"}

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("users").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`INSERT INTO sheet_rows \(sheet, position, cells\) SELECT \$1, COALESCE\(MAX\(position\) \+ 1, 0\), \$2 FROM sheet_rows WHERE sheet=\$1`).
		WithArgs("users", cells).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	require.NoError(t, s.Append(context.Background(), "users", cells))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowStore_UpdateCell(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewRowStore(db)
	q := `UPDATE sheet_rows SET cells\[\$3\] = \$4 WHERE sheet=\$1 AND position=\$2`

	mock.ExpectExec(q).WithArgs("users", 3, 2, "7").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpdateCell(context.Background(), "users", 3, 1, "7"))

	mock.ExpectExec(q).WithArgs("users", 9, 2, "7").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, s.UpdateCell(context.Background(), "users", 9, 1, "7"), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowStore_DeleteRow_ShiftsAndCommits(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewRowStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs("history").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`DELETE FROM sheet_rows WHERE sheet=\$1 AND position=\$2`).
		WithArgs("history", 5).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`UPDATE sheet_rows SET position = position - 1 WHERE sheet=\$1 AND position > \$2`).
		WithArgs("history", 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()
	require.NoError(t, s.DeleteRow(context.Background(), "history", 5))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowStore_DeleteRow_MissingRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewRowStore(db)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs("history").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`DELETE FROM sheet_rows`).
		WithArgs("history", 11).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()
	require.ErrorIs(t, s.DeleteRow(context.Background(), "history", 11), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRowStore_DeleteRow_LockError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewRowStore(db)
	boom := errors.New("lock timeout")

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs("history").WillReturnError(boom)
	mock.ExpectRollback()
	require.ErrorIs(t, s.DeleteRow(context.Background(), "history", 0), boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
