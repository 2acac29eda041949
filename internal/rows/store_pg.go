package rows

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"youposm/internal/shared/storage/db"
)

// PGStore implements Store on the submissions table.
type PGStore struct {
	DB *sql.DB
}

// Append inserts rec.
func (s *PGStore) Append(ctx context.Context, rec Record) error {
	const query = `
INSERT INTO submissions (store_name, employee, entry_date, before_url, after_url, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	entryDate, err := time.Parse(DateLayout, rec.Date)
	if err != nil {
		return fmt.Errorf("parse entry date %q: %w", rec.Date, err)
	}
	_, err = s.DB.ExecContext(ctx, query,
		rec.Store,
		rec.Employee,
		entryDate,
		rec.BeforeURL,
		rec.AfterURL,
		rec.SubmittedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", db.Classify(err))
	}
	return nil
}

// ReadAll returns every submission in insertion order.
func (s *PGStore) ReadAll(ctx context.Context) ([]Record, error) {
	const query = `
SELECT store_name, employee, entry_date, before_url, after_url, submitted_at
FROM submissions
ORDER BY id ASC`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select submissions: %w", db.Classify(err))
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var rec Record
		var entryDate time.Time
		if err := rows.Scan(
			&rec.Store,
			&rec.Employee,
			&entryDate,
			&rec.BeforeURL,
			&rec.AfterURL,
			&rec.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		rec.Date = entryDate.Format(DateLayout)
		rec.SubmittedAt = rec.SubmittedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", db.Classify(err))
	}
	return out, nil
}

// EnsureHeader is a no-op; the schema is owned by migrations.
func (s *PGStore) EnsureHeader(ctx context.Context) error {
	return ctx.Err()
}

var _ Store = (*PGStore)(nil)
