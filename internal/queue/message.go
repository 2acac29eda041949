package queue

import (
	"encoding/json"
	"time"

	"youposm/internal/rows"
)

// EventSubmissionCreated is published once per recorded submission.
const EventSubmissionCreated = "submission.created"

const messageVersion = 1

// Message is the payload sent to downstream queue consumers.
type Message struct {
	Event       string `json:"event"`
	RequestID   string `json:"requestId,omitempty"`
	Store       string `json:"store"`
	Employee    string `json:"employee"`
	Date        string `json:"date"`
	BeforeURL   string `json:"beforeUrl"`
	AfterURL    string `json:"afterUrl"`
	SubmittedAt string `json:"submittedAt"`
	EnqueuedAt  string `json:"enqueuedAt"`
	Version     int    `json:"version"`
}

// SubmissionCreated builds the event for a freshly appended record.
func SubmissionCreated(rec rows.Record, requestID string, now time.Time) Message {
	return Message{
		Event:       EventSubmissionCreated,
		RequestID:   requestID,
		Store:       rec.Store,
		Employee:    rec.Employee,
		Date:        rec.Date,
		BeforeURL:   rec.BeforeURL,
		AfterURL:    rec.AfterURL,
		SubmittedAt: rec.SubmittedAt.UTC().Format(time.RFC3339Nano),
		EnqueuedAt:  now.UTC().Format(time.RFC3339),
		Version:     messageVersion,
	}
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
