package util

import (
	"errors"
	"path"
	"strings"
	"unicode"
)

// UnknownSegment replaces a segment that sanitizes to nothing.
const UnknownSegment = "unknown"

// SanitizeSegment makes s safe for use as one object-key path segment.
// Whitespace runs become "_", anything outside [A-Za-z0-9_-] is dropped,
// repeated "_" collapse and leading or trailing "_" and "-" are trimmed.
// The result is never empty and SanitizeSegment(SanitizeSegment(s)) equals
// SanitizeSegment(s).
func SanitizeSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte('_')
			}
			inSpace = true
			continue
		}
		inSpace = false
		if isSegmentRune(r) {
			b.WriteRune(r)
		}
	}

	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.Trim(out, "_-")
	if out == "" {
		return UnknownSegment
	}
	return out
}

func isSegmentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}

// SanitizeFileName keeps the base name of an uploaded file and rejects
// traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	s = path.Base(s)
	if s == "" || s == "." || s == "/" {
		return "", errors.New("invalid file name")
	}
	return s, nil
}
