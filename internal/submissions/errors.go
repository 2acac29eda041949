package submissions

import (
	"fmt"
	"strings"
)

// Validation error codes.
const (
	CodeMissingField         = "MissingField"
	CodeInvalidDate          = "InvalidDate"
	CodeImageTooLarge        = "ImageTooLarge"
	CodeUnsupportedImageType = "UnsupportedImageType"
)

// FieldError is one problem with one form field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationErrors lists every problem found in a form post.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, fe := range v {
		parts[i] = fe.Field + ": " + fe.Code
	}
	return "invalid submission: " + strings.Join(parts, ", ")
}

// Has reports whether field failed with code.
func (v ValidationErrors) Has(field, code string) bool {
	for _, fe := range v {
		if fe.Field == field && fe.Code == code {
			return true
		}
	}
	return false
}

// Write stages.
const (
	StageBlobBefore = "blob_before"
	StageBlobAfter  = "blob_after"
	StageRowAppend  = "row_append"
)

// WriteError reports a store failure part way through a submission.
// WrittenKeys are the blobs that had been stored when it failed; CleanedUp
// is true when all of them were deleted again.
type WriteError struct {
	Stage       string
	WrittenKeys []string
	CleanedUp   bool
	Cause       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("submission write failed at %s: %v", e.Stage, e.Cause)
}

func (e *WriteError) Unwrap() error {
	return e.Cause
}
