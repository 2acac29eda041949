package rows

import "context"

// Store is the append-only row store that records submissions.
type Store interface {
	Append(ctx context.Context, rec Record) error
	// ReadAll returns every data row in insertion order, excluding the header.
	ReadAll(ctx context.Context) ([]Record, error)
	// EnsureHeader writes the header row when the store is empty.
	EnsureHeader(ctx context.Context) error
}
