package rows

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"youposm/internal/shared/storeerr"
)

// SheetsScope is the OAuth scope needed to read and append rows.
const SheetsScope = sheets.SpreadsheetsScope

// SheetsStore implements Store on a single worksheet of a Google spreadsheet.
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetsStore builds a store for spreadsheet, which may be a bare ID or a
// full docs.google.com URL.
func NewSheetsStore(ctx context.Context, spreadsheet, sheetName string, opts ...option.ClientOption) (*SheetsStore, error) {
	id := SpreadsheetID(spreadsheet)
	if id == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "Sheet1"
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &SheetsStore{svc: svc, spreadsheetID: id, sheetName: sheetName}, nil
}

// SpreadsheetID extracts the key from a spreadsheet URL, or returns raw trimmed.
func SpreadsheetID(raw string) string {
	raw = strings.TrimSpace(raw)
	const marker = "/spreadsheets/d/"
	if i := strings.Index(raw, marker); i >= 0 {
		rest := raw[i+len(marker):]
		if j := strings.IndexAny(rest, "/?#"); j >= 0 {
			rest = rest[:j]
		}
		return rest
	}
	return raw
}

// Append adds rec as a new row below the existing data.
func (s *SheetsStore) Append(ctx context.Context, rec Record) error {
	_, err := s.appendRow(ctx, rec)
	return err
}

func (s *SheetsStore) appendRow(ctx context.Context, rec Record) (string, error) {
	vr := &sheets.ValueRange{Values: [][]interface{}{toCells(rec.Values())}}
	resp, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.a1("A:F"), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("sheets append spreadsheet=%s: %w", s.spreadsheetID, storeerr.Classify(err))
	}
	if resp.Updates == nil {
		return "", nil
	}
	return resp.Updates.UpdatedRange, nil
}

// ProbeWrite appends rec and then deletes the row it landed on.
func (s *SheetsStore) ProbeWrite(ctx context.Context, rec Record) error {
	updated, err := s.appendRow(ctx, rec)
	if err != nil {
		return err
	}
	row, err := rowFromRange(updated)
	if err != nil {
		return fmt.Errorf("sheets probe row spreadsheet=%s: %w", s.spreadsheetID, err)
	}
	sheetID, err := s.sheetID(ctx)
	if err != nil {
		return err
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{{
		DeleteDimension: &sheets.DeleteDimensionRequest{Range: &sheets.DimensionRange{
			SheetId:         sheetID,
			Dimension:       "ROWS",
			StartIndex:      int64(row - 1),
			EndIndex:        int64(row),
			ForceSendFields: []string{"SheetId", "StartIndex"},
		}},
	}}}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("sheets delete probe row=%d spreadsheet=%s: %w", row, s.spreadsheetID, storeerr.Classify(err))
	}
	return nil
}

// Header returns the cells of the first row.
func (s *SheetsStore) Header(ctx context.Context) ([]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.a1("A1:F1")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets read header spreadsheet=%s: %w", s.spreadsheetID, storeerr.Classify(err))
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	return fromCells(resp.Values[0]), nil
}

// ReadAll returns all data rows, skipping the header row when present.
func (s *SheetsStore) ReadAll(ctx context.Context) ([]Record, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.a1("A:F")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets read spreadsheet=%s: %w", s.spreadsheetID, storeerr.Classify(err))
	}

	out := make([]Record, 0, len(resp.Values))
	for i, row := range resp.Values {
		cells := fromCells(row)
		if i == 0 && IsHeader(cells) {
			continue
		}
		if isBlank(cells) {
			continue
		}
		out = append(out, FromValues(cells))
	}
	return out, nil
}

// EnsureHeader writes Header into the first row when that row is empty.
func (s *SheetsStore) EnsureHeader(ctx context.Context) error {
	first, err := s.Header(ctx)
	if err != nil {
		return err
	}
	if !isBlank(first) {
		return nil
	}

	vr := &sheets.ValueRange{Values: [][]interface{}{toCells(Header)}}
	_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, s.a1("A1:F1"), vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets write header spreadsheet=%s: %w", s.spreadsheetID, storeerr.Classify(err))
	}
	return nil
}

// Title returns the spreadsheet title; used by diagnostics.
func (s *SheetsStore) Title(ctx context.Context) (string, error) {
	ss, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("properties.title").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("sheets get spreadsheet=%s: %w", s.spreadsheetID, storeerr.Classify(err))
	}
	if ss.Properties == nil {
		return "", nil
	}
	return ss.Properties.Title, nil
}

func (s *SheetsStore) sheetID(ctx context.Context) (int64, error) {
	ss, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("sheets get spreadsheet=%s: %w", s.spreadsheetID, storeerr.Classify(err))
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == s.sheetName {
			return sh.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found in spreadsheet=%s: %w", s.sheetName, s.spreadsheetID, storeerr.ErrNotFound)
}

// rowFromRange returns the 1-based first row of an A1 range such as
// 'Sheet1'!A5:F5.
func rowFromRange(a1 string) (int, error) {
	if i := strings.LastIndex(a1, "!"); i >= 0 {
		a1 = a1[i+1:]
	}
	if i := strings.Index(a1, ":"); i >= 0 {
		a1 = a1[:i]
	}
	digits := strings.TrimLeft(a1, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	row, err := strconv.Atoi(digits)
	if err != nil || row < 1 {
		return 0, fmt.Errorf("unexpected range %q", a1)
	}
	return row, nil
}

func (s *SheetsStore) a1(cells string) string {
	return "'" + strings.ReplaceAll(s.sheetName, "'", "''") + "'!" + cells
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func fromCells(row []interface{}) []string {
	out := make([]string, len(row))
	for i, v := range row {
		if v == nil {
			continue
		}
		out[i] = fmt.Sprint(v)
	}
	return out
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var _ Store = (*SheetsStore)(nil)
