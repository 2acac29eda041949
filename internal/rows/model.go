package rows

import (
	"strings"
	"time"
)

const (
	// DateLayout formats the entry date column.
	DateLayout = "2006-01-02"
	// TimestampLayout formats the submission timestamp column.
	TimestampLayout = "2006-01-02 15:04:05.000000"

	// Fractional seconds are optional when parsing, so rows written with
	// whole-second timestamps still read back.
	timestampParseLayout = "2006-01-02 15:04:05"
)

// Header is the spreadsheet header row, in column order.
var Header = []string{"Store Name", "Employee", "Date", "Before Picture", "After Picture", "Timestamp"}

// Record is one appended row summarizing a submission.
type Record struct {
	Store       string
	Employee    string
	Date        string
	BeforeURL   string
	AfterURL    string
	SubmittedAt time.Time
}

// Values returns the record as a row in Header order.
func (r Record) Values() []string {
	return []string{
		r.Store,
		r.Employee,
		r.Date,
		r.BeforeURL,
		r.AfterURL,
		r.SubmittedAt.UTC().Format(TimestampLayout),
	}
}

// FromValues parses a row in Header order. Missing trailing cells are empty;
// an unparseable timestamp leaves SubmittedAt zero.
func FromValues(cells []string) Record {
	get := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}
	rec := Record{
		Store:     get(0),
		Employee:  get(1),
		Date:      get(2),
		BeforeURL: get(3),
		AfterURL:  get(4),
	}
	if ts, err := time.ParseInLocation(timestampParseLayout, get(5), time.UTC); err == nil {
		rec.SubmittedAt = ts
	}
	return rec
}

// IsHeader reports whether cells look like the header row.
func IsHeader(cells []string) bool {
	return len(cells) > 0 && strings.EqualFold(strings.TrimSpace(cells[0]), Header[0])
}
