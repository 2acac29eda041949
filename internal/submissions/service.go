package submissions

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"time"

	"youposm/internal/queue"
	"youposm/internal/rows"
	"youposm/internal/shared/metrics"
	"youposm/internal/shared/retry"
	"youposm/internal/shared/storage/object"
	"youposm/internal/shared/storeerr"
	"youposm/internal/shared/telemetry"
)

const (
	defaultWriteTimeout = 30 * time.Second
	publishTimeout      = 5 * time.Second
)

// Service validates submissions and records them across the blob and row stores.
type Service struct {
	Blobs     object.BlobStore
	Rows      rows.Store
	Keys      *KeyDeriver
	Options   *OptionsCache
	Validator Validator
	Optimizer Optimizer
	Retry     retry.Policy
	// WriteTimeout bounds each single store call, retries excluded.
	WriteTimeout   time.Duration
	CleanupOrphans bool
	// Events receives one message per recorded submission. Nil disables it.
	Events queue.Client
	Now    func() time.Time

	lastStamp atomic.Int64
}

// Submit validates in, stores both images and then appends one record.
// It returns ValidationErrors when nothing was written and *WriteError when a
// store call failed.
func (s *Service) Submit(ctx context.Context, in FormInput) (Result, error) {
	now := s.now()
	sub, verrs := s.Validator.Validate(in, now)
	if len(verrs) > 0 {
		metrics.IncSubmission(metrics.OutcomeValidationError)
		return Result{}, verrs
	}

	before, err := s.Optimizer.Optimize(sub.Before)
	if err != nil {
		metrics.IncSubmission(metrics.OutcomeValidationError)
		return Result{}, ValidationErrors{{Field: "before", Code: CodeUnsupportedImageType, Message: "before image could not be decoded"}}
	}
	after, err := s.Optimizer.Optimize(sub.After)
	if err != nil {
		metrics.IncSubmission(metrics.OutcomeValidationError)
		return Result{}, ValidationErrors{{Field: "after", Code: CodeUnsupportedImageType, Message: "after image could not be decoded"}}
	}

	beforeKey := s.Keys.Derive(sub.Store, sub.Employee, sub.Date, PhaseBefore, before.Ext)
	afterKey := s.Keys.Derive(sub.Store, sub.Employee, sub.Date, PhaseAfter, after.Ext)

	var written []string
	beforeURL, err := s.put(ctx, PhaseBefore, beforeKey, before)
	if err != nil {
		return Result{}, s.fail(ctx, StageBlobBefore, written, beforeKey, err)
	}
	written = append(written, beforeKey)

	afterURL, err := s.put(ctx, PhaseAfter, afterKey, after)
	if err != nil {
		return Result{}, s.fail(ctx, StageBlobAfter, written, afterKey, err)
	}
	written = append(written, afterKey)

	rec := rows.Record{
		Store:       sub.Store,
		Employee:    sub.Employee,
		Date:        sub.Date.Format(rows.DateLayout),
		BeforeURL:   beforeURL,
		AfterURL:    afterURL,
		SubmittedAt: s.stamp(now),
	}
	err = retry.Do(ctx, s.Retry, func(ctx context.Context) error {
		wctx, cancel := s.writeContext(ctx)
		defer cancel()
		return s.Rows.Append(wctx, rec)
	}, s.onRetry(StageRowAppend))
	if err != nil {
		return Result{}, s.fail(ctx, StageRowAppend, written, "", err)
	}

	if s.Options != nil {
		s.Options.Invalidate(ctx)
	}
	metrics.IncSubmission(metrics.OutcomeSuccess)
	telemetry.Info("submission.created", map[string]any{
		"store":      sub.Store,
		"employee":   sub.Employee,
		"date":       rec.Date,
		"before_key": beforeKey,
		"after_key":  afterKey,
	})
	s.publish(ctx, rec, in.RequestID, now)
	return Result{Record: rec, BeforeKey: beforeKey, AfterKey: afterKey}, nil
}

// stamp returns now at microsecond precision, bumped past the previous stamp
// so successive records never share a timestamp.
func (s *Service) stamp(now time.Time) time.Time {
	for {
		next := now.UnixMicro()
		last := s.lastStamp.Load()
		if next <= last {
			next = last + 1
		}
		if s.lastStamp.CompareAndSwap(last, next) {
			return time.UnixMicro(next).UTC()
		}
	}
}

// publish is best effort: the record is already durable, so a failed send is
// only logged.
func (s *Service) publish(ctx context.Context, rec rows.Record, requestID string, now time.Time) {
	if s.Events == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.Events.Send(pctx, queue.SubmissionCreated(rec, requestID, now)); err != nil {
		metrics.IncEventPublish(metrics.ResultFailed)
		telemetry.Warn("submission.event_failed", map[string]any{
			"store":      rec.Store,
			"request_id": requestID,
			"error":      err.Error(),
		})
		return
	}
	metrics.IncEventPublish(metrics.ResultOK)
}

// Stats counts records and distinct names.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	opts, err := s.options(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalRecords: opts.TotalRecords,
		Stores:       len(opts.Stores),
		Employees:    len(opts.Employees),
	}, nil
}

// DropdownOptions returns the distinct store and employee names.
func (s *Service) DropdownOptions(ctx context.Context) (Options, error) {
	return s.options(ctx)
}

// Recent returns up to limit records, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]rows.Record, error) {
	recs, err := s.Rows.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(recs) {
		limit = len(recs)
	}
	out := make([]rows.Record, 0, limit)
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

func (s *Service) options(ctx context.Context) (Options, error) {
	if s.Options != nil {
		return s.Options.Get(ctx)
	}
	recs, err := s.Rows.ReadAll(ctx)
	if err != nil {
		return Options{}, err
	}
	return BuildOptions(recs), nil
}

func (s *Service) put(ctx context.Context, phase Phase, key string, img Encoded) (string, error) {
	var url string
	start := time.Now()
	err := retry.Do(ctx, s.Retry, func(ctx context.Context) error {
		wctx, cancel := s.writeContext(ctx)
		defer cancel()
		u, err := s.Blobs.Put(wctx, key, bytes.NewReader(img.Data), img.ContentType)
		if err != nil {
			return err
		}
		url = u
		return nil
	}, s.onRetry("blob_"+string(phase)))
	metrics.ObserveBlobWrite(string(phase), time.Since(start).Seconds())
	return url, err
}

// fail builds the WriteError for stage and, when enabled, deletes the blobs
// already written. pending is the key whose write failed; it may exist if the
// store stored it but the response was lost.
func (s *Service) fail(ctx context.Context, stage string, written []string, pending string, cause error) error {
	werr := &WriteError{Stage: stage, WrittenKeys: written, Cause: cause}
	if s.CleanupOrphans {
		werr.CleanedUp = s.cleanup(ctx, written, pending)
	}

	metrics.IncSubmission(metrics.OutcomeWriteError)
	telemetry.Error("submission.write_failed", map[string]any{
		"stage":        stage,
		"written_keys": written,
		"cleaned_up":   werr.CleanedUp,
		"error":        cause,
	})
	return werr
}

func (s *Service) cleanup(ctx context.Context, written []string, pending string) bool {
	// Cleanup runs even when the request was cancelled.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout())
	defer cancel()

	ok := true
	for _, key := range written {
		err := s.Blobs.Delete(cctx, key)
		if err == nil || errors.Is(err, storeerr.ErrNotFound) {
			metrics.IncOrphanCleanup("deleted")
			continue
		}
		ok = false
		metrics.IncOrphanCleanup("failed")
		telemetry.Error("blob.cleanup.failed", map[string]any{"key": key, "error": err})
	}
	if pending != "" {
		if err := s.Blobs.Delete(cctx, pending); err == nil {
			metrics.IncOrphanCleanup("deleted")
		}
	}
	return ok
}

func (s *Service) onRetry(op string) func(int, error) {
	return func(attempt int, err error) {
		metrics.IncStoreRetry(op)
		telemetry.Warn("store.retry", map[string]any{"op": op, "attempt": attempt, "error": err})
	}
}

func (s *Service) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.writeTimeout())
}

func (s *Service) writeTimeout() time.Duration {
	if s.WriteTimeout > 0 {
		return s.WriteTimeout
	}
	return defaultWriteTimeout
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
