package submissions

import (
	"time"

	"youposm/internal/rows"
)

// Phase names which side of a before/after pair an image belongs to.
type Phase string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// Image is one uploaded photo.
type Image struct {
	Data        []byte
	ContentType string
	FileName    string
}

// FormInput is the raw form post. A nil image means the field was not sent.
type FormInput struct {
	Store    string
	Employee string
	Date     string
	Before   *Image
	After    *Image
	// RequestID correlates downstream events with the HTTP request.
	RequestID string
}

// Submission is a validated FormInput. Date is midnight UTC of the entered day.
type Submission struct {
	Store    string
	Employee string
	Date     time.Time
	Before   Image
	After    Image
}

// Result describes a persisted submission.
type Result struct {
	Record    rows.Record
	BeforeKey string
	AfterKey  string
}
