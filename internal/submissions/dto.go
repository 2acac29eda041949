package submissions

import (
	"time"

	"youposm/internal/rows"
)

// RecordResponse is the outward-facing representation of a record.
type RecordResponse struct {
	Store       string    `json:"store"`
	Employee    string    `json:"employee"`
	Date        string    `json:"date"`
	BeforeURL   string    `json:"beforeUrl"`
	AfterURL    string    `json:"afterUrl"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// SubmitResponse is returned after a successful submission.
type SubmitResponse struct {
	Record    RecordResponse `json:"record"`
	BeforeKey string         `json:"beforeKey"`
	AfterKey  string         `json:"afterKey"`
}

func toRecordResponse(rec rows.Record) RecordResponse {
	return RecordResponse{
		Store:       rec.Store,
		Employee:    rec.Employee,
		Date:        rec.Date,
		BeforeURL:   rec.BeforeURL,
		AfterURL:    rec.AfterURL,
		SubmittedAt: rec.SubmittedAt,
	}
}
