package rows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"youposm/internal/shared/storeerr"
)

type fakeSheet struct {
	mu       sync.Mutex
	values   [][]interface{}
	appended [][]interface{}
	updated  [][]interface{}
	deleted  []int64
	status   int
}

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		fmt.Fprintf(w, `{"error":{"code":%d,"message":"denied","errors":[{"reason":"forbidden"}]}}`, f.status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
		var vr sheets.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("valueInputOption") != "RAW" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.appended = append(f.appended, vr.Values...)
		f.values = append(f.values, vr.Values...)
		n := len(f.values)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"spreadsheetId": "sheet-123",
			"updates":       map[string]any{"updatedRange": fmt.Sprintf("'Sheet1'!A%d:F%d", n, n)},
		})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":batchUpdate"):
		var req sheets.BatchUpdateSpreadsheetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Requests) != 1 || req.Requests[0].DeleteDimension == nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		dr := req.Requests[0].DeleteDimension.Range
		f.deleted = append(f.deleted, dr.SheetId, dr.StartIndex, dr.EndIndex)
		if dr.StartIndex >= 0 && int(dr.EndIndex) <= len(f.values) {
			f.values = append(f.values[:dr.StartIndex], f.values[dr.EndIndex:]...)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-123"})
	case r.Method == http.MethodPut:
		var vr sheets.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.updated = append(f.updated, vr.Values...)
		f.values = append(vr.Values, f.values...)
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "sheet-123"})
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/values/"):
		values := f.values
		if strings.HasSuffix(r.URL.Path, "A1:F1") && len(values) > 1 {
			values = values[:1]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"range": "Sheet1!A1:F", "majorDimension": "ROWS", "values": values})
	case r.Method == http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]any{
			"spreadsheetId": "sheet-123",
			"properties":    map[string]any{"title": "You-POSM"},
			"sheets": []any{
				map[string]any{"properties": map[string]any{"sheetId": 0, "title": "Summary"}},
				map[string]any{"properties": map[string]any{"sheetId": 77, "title": "Sheet1"}},
			},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newSheetsTestStore(t *testing.T, f *fakeSheet) *SheetsStore {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	store, err := NewSheetsStore(context.Background(),
		"https://docs.google.com/spreadsheets/d/sheet-123/edit#gid=0",
		"Sheet1",
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewSheetsStore: %v", err)
	}
	return store
}

func TestSheetsEnsureHeaderAppendReadAll(t *testing.T) {
	t.Parallel()

	f := &fakeSheet{}
	store := newSheetsTestStore(t, f)
	ctx := context.Background()

	if err := store.EnsureHeader(ctx); err != nil {
		t.Fatalf("EnsureHeader: %v", err)
	}
	if len(f.updated) != 1 || f.updated[0][0] != "Store Name" {
		t.Fatalf("expected header row to be written, got %v", f.updated)
	}
	if err := store.EnsureHeader(ctx); err != nil {
		t.Fatalf("EnsureHeader second: %v", err)
	}
	if len(f.updated) != 1 {
		t.Fatalf("header written twice")
	}

	rec := Record{
		Store:       "Mart Jaya!",
		Employee:    "Budi S.",
		Date:        "2024-01-15",
		BeforeURL:   "https://storage.googleapis.com/posm/a.png",
		AfterURL:    "https://storage.googleapis.com/posm/b.png",
		SubmittedAt: time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC),
	}
	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(f.appended) != 1 || f.appended[0][5] != "2024-01-15 09:30:00.000000" {
		t.Fatalf("unexpected appended rows %v", f.appended)
	}

	got, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if !sameRecord(got[0], rec) {
		t.Fatalf("ReadAll = %+v, want %+v", got[0], rec)
	}
}

func TestSheetsReadAllPadsShortRows(t *testing.T) {
	t.Parallel()

	f := &fakeSheet{values: [][]interface{}{
		{"Store Name", "Employee", "Date", "Before Picture", "After Picture", "Timestamp"},
		{"Toko A", "Ani"},
		{"", "", ""},
		{"Toko B", "Budi", "2024-02-01", "b1", "b2", "2024-02-01 10:00:00"},
	}}
	store := newSheetsTestStore(t, f)

	got, err := store.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d: %+v", len(got), got)
	}
	if got[0].Store != "Toko A" || got[0].Date != "" || !got[0].SubmittedAt.IsZero() {
		t.Fatalf("unexpected short row parse %+v", got[0])
	}
	if got[1].AfterURL != "b2" || !got[1].SubmittedAt.Equal(time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected row %+v", got[1])
	}
}

func TestSheetsAppendForbiddenIsUnauthorized(t *testing.T) {
	t.Parallel()

	f := &fakeSheet{status: http.StatusForbidden}
	store := newSheetsTestStore(t, f)

	err := store.Append(context.Background(), Record{Store: "x"})
	if !errors.Is(err, storeerr.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSheetsTitle(t *testing.T) {
	t.Parallel()

	store := newSheetsTestStore(t, &fakeSheet{})
	title, err := store.Title(context.Background())
	if err != nil {
		t.Fatalf("Title: %v", err)
	}
	if title != "You-POSM" {
		t.Fatalf("unexpected title %q", title)
	}
}

func TestSheetsProbeWriteRemovesRow(t *testing.T) {
	t.Parallel()

	f := &fakeSheet{values: [][]interface{}{
		{"Store Name", "Employee", "Date", "Before Picture", "After Picture", "Timestamp"},
		{"Toko A", "Ani", "2024-02-01", "a1", "a2", "2024-02-01 10:00:00"},
	}}
	store := newSheetsTestStore(t, f)
	ctx := context.Background()

	if err := store.ProbeWrite(ctx, Record{Store: "TEST", Employee: "diagnose"}); err != nil {
		t.Fatalf("ProbeWrite: %v", err)
	}
	if len(f.deleted) != 3 || f.deleted[0] != 77 || f.deleted[1] != 2 || f.deleted[2] != 3 {
		t.Fatalf("unexpected delete range %v", f.deleted)
	}
	got, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 1 || got[0].Store != "Toko A" {
		t.Fatalf("probe row left behind: %+v", got)
	}

	header, err := store.Header(ctx)
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	if !IsHeader(header) {
		t.Fatalf("unexpected header %v", header)
	}
}

func TestRowFromRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "'Sheet1'!A5:F5", want: 5},
		{in: "Sheet1!A12", want: 12},
		{in: "'It''s!'!B3:F3", want: 3},
		{in: "Sheet1!A:F", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := rowFromRange(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("rowFromRange(%q) expected error, got %d", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("rowFromRange(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestSpreadsheetID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{raw: "11GbrOp7_B-dTYnYw", want: "11GbrOp7_B-dTYnYw"},
		{raw: "  abc  ", want: "abc"},
		{raw: "https://docs.google.com/spreadsheets/d/11GbrOp7_B-dTYnYw/edit#gid=0", want: "11GbrOp7_B-dTYnYw"},
		{raw: "https://docs.google.com/spreadsheets/d/abc?usp=sharing", want: "abc"},
		{raw: "https://docs.google.com/spreadsheets/d/abc", want: "abc"},
	}
	for _, tt := range tests {
		if got := SpreadsheetID(tt.raw); got != tt.want {
			t.Fatalf("SpreadsheetID(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func sameRecord(a, b Record) bool {
	return a.Store == b.Store &&
		a.Employee == b.Employee &&
		a.Date == b.Date &&
		a.BeforeURL == b.BeforeURL &&
		a.AfterURL == b.AfterURL &&
		a.SubmittedAt.Equal(b.SubmittedAt)
}
