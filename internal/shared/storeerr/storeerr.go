// Package storeerr classifies failures from the blob and row stores into a
// small set of sentinels so callers can decide between retrying, surfacing a
// retry prompt, or reporting a misconfiguration.
package storeerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

var (
	ErrUnauthorized  = errors.New("store: unauthorized")
	ErrNotFound      = errors.New("store: not found")
	ErrQuotaExceeded = errors.New("store: quota exceeded")
	ErrRateLimited   = errors.New("store: rate limited")
	ErrTransient     = errors.New("store: transient failure")
)

// classified pairs a sentinel kind with the underlying cause so both match errors.Is.
type classified struct {
	kind  error
	cause error
}

func (e *classified) Error() string {
	return fmt.Sprintf("%s: %v", e.kind.Error(), e.cause)
}

func (e *classified) Is(target error) bool {
	return target == e.kind
}

func (e *classified) Unwrap() error {
	return e.cause
}

// Wrap tags cause with kind. A nil cause returns nil.
func Wrap(kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &classified{kind: kind, cause: cause}
}

// Kind returns the sentinel matching err, or nil when err is unclassified.
func Kind(err error) error {
	for _, k := range []error{ErrUnauthorized, ErrNotFound, ErrQuotaExceeded, ErrRateLimited, ErrTransient} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded)
}

// FromStatus maps an HTTP status code returned by a store API to a sentinel.
func FromStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusRequestTimeout || code >= 500:
		return ErrTransient
	default:
		return nil
	}
}

// Classify tags err with a sentinel if one can be inferred. Errors that are
// already classified are returned unchanged.
func Classify(err error) error {
	if err == nil || Kind(err) != nil {
		return err
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		for _, item := range gErr.Errors {
			switch item.Reason {
			case "quotaExceeded", "storageQuotaExceeded", "dailyLimitExceeded":
				return Wrap(ErrQuotaExceeded, err)
			case "rateLimitExceeded", "userRateLimitExceeded":
				return Wrap(ErrRateLimited, err)
			}
		}
		if kind := FromStatus(gErr.Code); kind != nil {
			return Wrap(kind, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(ErrTransient, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "unexpected eof") {
		return Wrap(ErrTransient, err)
	}
	return err
}
