// Package sheets implements repository.RowStore on a Google Sheets spreadsheet, one tab per table.
// Row 1 of each tab is the header; data row index i lives on sheet row i+2.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/and161185/virtual-atelier/internal/platform/gcp"
	"github.com/and161185/virtual-atelier/internal/repository"
)

const lastColumn = "Z"

// Store is a RowStore over one spreadsheet.
type Store struct {
	svc           *gsheets.Service
	spreadsheetID string

	mu       sync.Mutex
	sheetIDs map[string]int64
}

var _ repository.RowStore = (*Store)(nil)

// New opens the spreadsheet with the given credentials (see gcp.ClientOptions).
func New(ctx context.Context, spreadsheetID, credentials string) (*Store, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("sheets: spreadsheet id is required")
	}
	opts := append(gcp.ClientOptions(credentials), option.WithScopes(gsheets.SpreadsheetsScope))
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: new service: %w", err)
	}
	return NewWithService(svc, spreadsheetID), nil
}

// NewWithService wraps an existing service client.
func NewWithService(svc *gsheets.Service, spreadsheetID string) *Store {
	return &Store{svc: svc, spreadsheetID: spreadsheetID, sheetIDs: make(map[string]int64)}
}

func a1(table, rng string) string {
	return "'" + strings.ReplaceAll(table, "'", "''") + "'!" + rng
}

// columnLetter converts a 0-based column to its A1 letters.
func columnLetter(col int) string {
	var b []byte
	for col >= 0 {
		b = append([]byte{byte('A' + col%26)}, b...)
		col = col/26 - 1
	}
	return string(b)
}

// sheetRow converts a 0-based data row index to a 1-based sheet row.
func sheetRow(index int) int { return index + 2 }

// EnsureTable adds the tab if missing and writes the header into an empty first row.
func (s *Store) EnsureTable(ctx context.Context, table string, header []string) error {
	if _, err := s.sheetID(ctx, table, true); err != nil {
		return err
	}
	vr, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, a1(table, "A1:"+lastColumn+"1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: read header %s: %w", table, err)
	}
	if len(vr.Values) > 0 && len(vr.Values[0]) > 0 {
		return nil
	}
	_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, a1(table, "A1"), &gsheets.ValueRange{
		Values: [][]interface{}{toValues(header)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: write header %s: %w", table, err)
	}
	return nil
}

// Rows reads every data row below the header.
func (s *Store) Rows(ctx context.Context, table string) ([]repository.Row, error) {
	vr, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, a1(table, "A2:"+lastColumn)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: read %s: %w", table, err)
	}
	out := make([]repository.Row, len(vr.Values))
	for i, vals := range vr.Values {
		cells := make([]string, len(vals))
		for j, v := range vals {
			cells[j] = fmt.Sprint(v)
		}
		out[i] = repository.Row{Index: i, Cells: cells}
	}
	return out, nil
}

// Append inserts a row after the table's last row.
func (s *Store) Append(ctx context.Context, table string, cells []string) error {
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, a1(table, "A1"), &gsheets.ValueRange{
		Values: [][]interface{}{toValues(cells)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: append %s: %w", table, err)
	}
	return nil
}

// UpdateCell writes one cell.
func (s *Store) UpdateCell(ctx context.Context, table string, index, column int, value string) error {
	rng := a1(table, fmt.Sprintf("%s%d", columnLetter(column), sheetRow(index)))
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng, &gsheets.ValueRange{
		Values: [][]interface{}{{value}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: update %s: %w", rng, err)
	}
	return nil
}

// DeleteRow removes the data row at index; the rows below move up.
func (s *Store) DeleteRow(ctx context.Context, table string, index int) error {
	id, err := s.sheetID(ctx, table, false)
	if err != nil {
		return err
	}
	start := int64(sheetRow(index) - 1)
	req := &gsheets.BatchUpdateSpreadsheetRequest{Requests: []*gsheets.Request{{
		DeleteDimension: &gsheets.DeleteDimensionRequest{Range: &gsheets.DimensionRange{
			SheetId:    id,
			Dimension:  "ROWS",
			StartIndex: start,
			EndIndex:   start + 1,
			// the first tab has id 0, which would otherwise be omitted
			ForceSendFields: []string{"SheetId"},
		}},
	}}}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("sheets: delete %s row %d: %w", table, index, err)
	}
	return nil
}

func (s *Store) sheetID(ctx context.Context, table string, create bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.sheetIDs[table]; ok {
		return id, nil
	}

	ss, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("sheets: get spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == table {
			s.sheetIDs[table] = sh.Properties.SheetId
			return sh.Properties.SheetId, nil
		}
	}
	if !create {
		return 0, fmt.Errorf("sheets: tab %q does not exist", table)
	}

	resp, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{AddSheet: &gsheets.AddSheetRequest{
			Properties: &gsheets.SheetProperties{Title: table},
		}}},
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("sheets: add tab %s: %w", table, err)
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return 0, fmt.Errorf("sheets: add tab %s: empty reply", table)
	}
	id := resp.Replies[0].AddSheet.Properties.SheetId
	s.sheetIDs[table] = id
	return id, nil
}

func toValues(cells []string) []interface{} {
	out := make([]interface{}, len(cells))
	for i, c := range cells {
		out[i] = c
	}
	return out
}
