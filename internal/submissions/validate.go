package submissions

import (
	"bytes"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"youposm/internal/rows"
)

// DefaultMaxImageBytes bounds each uploaded image.
const DefaultMaxImageBytes = 10 << 20

// Validator checks form posts. The zero value applies the default size limit
// and judges "today" in UTC.
type Validator struct {
	MaxImageBytes int64
	Location      *time.Location
}

// Validate normalizes in or returns every rule it breaks. It has no side
// effects; now decides which dates are in the future.
func (v Validator) Validate(in FormInput, now time.Time) (Submission, ValidationErrors) {
	var errs ValidationErrors
	sub := Submission{
		Store:    strings.TrimSpace(in.Store),
		Employee: strings.TrimSpace(in.Employee),
	}

	if sub.Store == "" {
		errs = append(errs, FieldError{Field: "store", Code: CodeMissingField, Message: "store name is required"})
	}
	if sub.Employee == "" {
		errs = append(errs, FieldError{Field: "employee", Code: CodeMissingField, Message: "employee name is required"})
	}

	date, fe := v.checkDate(in.Date, now)
	if fe != nil {
		errs = append(errs, *fe)
	}
	sub.Date = date

	before, fe := v.checkImage("before", in.Before)
	if fe != nil {
		errs = append(errs, *fe)
	}
	sub.Before = before

	after, fe := v.checkImage("after", in.After)
	if fe != nil {
		errs = append(errs, *fe)
	}
	sub.After = after

	if len(errs) > 0 {
		return Submission{}, errs
	}
	return sub, nil
}

func (v Validator) checkDate(raw string, now time.Time) (time.Time, *FieldError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &FieldError{Field: "date", Code: CodeMissingField, Message: "date is required"}
	}
	d, err := time.Parse(rows.DateLayout, raw)
	if err != nil {
		return time.Time{}, &FieldError{Field: "date", Code: CodeInvalidDate, Message: "date must be YYYY-MM-DD"}
	}

	loc := v.Location
	if loc == nil {
		loc = time.UTC
	}
	y, m, day := now.In(loc).Date()
	today := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	if d.After(today) {
		return time.Time{}, &FieldError{Field: "date", Code: CodeInvalidDate, Message: "date cannot be in the future"}
	}
	return d, nil
}

func (v Validator) checkImage(field string, img *Image) (Image, *FieldError) {
	if img == nil || len(img.Data) == 0 {
		return Image{}, &FieldError{Field: field, Code: CodeMissingField, Message: field + " image is required"}
	}

	limit := v.MaxImageBytes
	if limit <= 0 {
		limit = DefaultMaxImageBytes
	}
	if int64(len(img.Data)) > limit {
		return Image{}, &FieldError{
			Field:   field,
			Code:    CodeImageTooLarge,
			Message: fmt.Sprintf("%s image exceeds %d MB", field, limit>>20),
		}
	}

	mt := mimetype.Detect(img.Data)
	if !mt.Is("image/png") && !mt.Is("image/jpeg") {
		return Image{}, &FieldError{Field: field, Code: CodeUnsupportedImageType, Message: field + " image must be PNG or JPEG"}
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(img.Data)); err != nil {
		return Image{}, &FieldError{Field: field, Code: CodeUnsupportedImageType, Message: field + " image could not be decoded"}
	}

	return Image{Data: img.Data, ContentType: mt.String(), FileName: img.FileName}, nil
}
