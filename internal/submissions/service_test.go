package submissions

import (
	"context"
	"errors"
	"testing"
	"time"

	"youposm/internal/queue"
	"youposm/internal/rows"
	"youposm/internal/shared/cache"
	"youposm/internal/shared/retry"
	"youposm/internal/shared/storeerr"
)

func newTestService(t *testing.T, blobs *fakeBlobs, rs rows.Store) *Service {
	t.Helper()
	now := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	return &Service{
		Blobs:          blobs,
		Rows:           rs,
		Keys:           NewKeyDeriver(nil),
		Options:        NewOptionsCache(rs, cache.NewMemory(nil), time.Minute),
		Validator:      Validator{MaxImageBytes: 1 << 20},
		Optimizer:      Optimizer{MaxWidth: 64, Format: FormatPNG},
		Retry:          retry.Policy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
		WriteTimeout:   time.Second,
		CleanupOrphans: true,
		Now:            func() time.Time { return now },
	}
}

func validInput(t *testing.T) FormInput {
	t.Helper()
	return FormInput{
		Store:    "Mart Jaya!",
		Employee: "Budi S.",
		Date:     "2024-01-15",
		Before:   &Image{Data: pngBytes(t, 128, 64), ContentType: "image/png"},
		After:    &Image{Data: jpegBytes(t, 32, 32), ContentType: "image/jpeg"},
	}
}

func TestSubmitWritesBothBlobsThenOneRecord(t *testing.T) {
	t.Parallel()

	blobs := newFakeBlobs()
	rs := rows.NewMemoryStore()
	svc := newTestService(t, blobs, rs)

	res, err := svc.Submit(context.Background(), validInput(t))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	recs, _ := rs.ReadAll(context.Background())
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.BeforeURL != "https://blobs.example/"+res.BeforeKey || rec.AfterURL != "https://blobs.example/"+res.AfterKey {
		t.Fatalf("record URLs do not match written blobs: %+v", rec)
	}
	if _, ok := blobs.objects[res.BeforeKey]; !ok {
		t.Fatalf("before blob missing")
	}
	if _, ok := blobs.objects[res.AfterKey]; !ok {
		t.Fatalf("after blob missing")
	}
	if rec.Store != "Mart Jaya!" || rec.Employee != "Budi S." || rec.Date != "2024-01-15" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !keyPattern.MatchString(res.BeforeKey) {
		t.Fatalf("unexpected before key %q", res.BeforeKey)
	}
	if rec.SubmittedAt.Format(rows.TimestampLayout) != "2024-01-15 09:30:00.000000" {
		t.Fatalf("unexpected timestamp %v", rec.SubmittedAt)
	}
}

func TestSubmitIdenticalTwiceGivesTwoRecordsFourKeys(t *testing.T) {
	t.Parallel()

	blobs := newFakeBlobs()
	rs := rows.NewMemoryStore()
	svc := newTestService(t, blobs, rs)
	ctx := context.Background()

	r1, err := svc.Submit(ctx, validInput(t))
	if err != nil {
		t.Fatalf("Submit 1: %v", err)
	}
	r2, err := svc.Submit(ctx, validInput(t))
	if err != nil {
		t.Fatalf("Submit 2: %v", err)
	}

	keys := map[string]bool{r1.BeforeKey: true, r1.AfterKey: true, r2.BeforeKey: true, r2.AfterKey: true}
	if len(keys) != 4 {
		t.Fatalf("expected 4 distinct keys, got %v", keys)
	}
	if len(blobs.objects) != 4 {
		t.Fatalf("expected 4 blobs, got %d", len(blobs.objects))
	}
	recs, _ := rs.ReadAll(ctx)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Values()[5] == recs[1].Values()[5] {
		t.Fatalf("fixed clock gave both records timestamp %q", recs[0].Values()[5])
	}
	if !recs[1].SubmittedAt.After(recs[0].SubmittedAt) {
		t.Fatalf("timestamps not increasing: %v then %v", recs[0].SubmittedAt, recs[1].SubmittedAt)
	}
}

func TestSubmitBackToBackOnWallClockRecordsDistinctTimestamps(t *testing.T) {
	t.Parallel()

	rs := rows.NewMemoryStore()
	svc := newTestService(t, newFakeBlobs(), rs)
	svc.Now = nil
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.Submit(ctx, validInput(t)); err != nil {
			t.Fatalf("Submit %d: %v", i+1, err)
		}
	}

	recs, _ := rs.ReadAll(ctx)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Values()[5] == recs[1].Values()[5] {
		t.Fatalf("two immediate resubmissions recorded timestamp %q", recs[0].Values()[5])
	}
}

func TestSubmitMissingAfterImageWritesNothing(t *testing.T) {
	t.Parallel()

	blobs := newFakeBlobs()
	rs := rows.NewMemoryStore()
	svc := newTestService(t, blobs, rs)

	in := validInput(t)
	in.After = nil
	_, err := svc.Submit(context.Background(), in)

	var verrs ValidationErrors
	if !errors.As(err, &verrs) || !verrs.Has("after", CodeMissingField) {
		t.Fatalf("expected MissingField for after, got %v", err)
	}
	if blobs.calls != 0 {
		t.Fatalf("expected zero blob writes, got %d", blobs.calls)
	}
	recs, _ := rs.ReadAll(context.Background())
	if len(recs) != 0 {
		t.Fatalf("expected zero records, got %d", len(recs))
	}
}

func TestSubmitBlobFailureAppendsNoRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		failPut     int
		stage       string
		wantDeletes int
	}{
		{name: "before fails", failPut: 1, stage: StageBlobBefore, wantDeletes: 1},
		{name: "after fails", failPut: 2, stage: StageBlobAfter, wantDeletes: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs := newFakeBlobs()
			blobs.failOn[tt.failPut] = []error{storeerr.Wrap(storeerr.ErrUnauthorized, errors.New("403"))}
			rs := rows.NewMemoryStore()
			svc := newTestService(t, blobs, rs)

			_, err := svc.Submit(context.Background(), validInput(t))
			var werr *WriteError
			if !errors.As(err, &werr) {
				t.Fatalf("expected WriteError, got %v", err)
			}
			if werr.Stage != tt.stage {
				t.Fatalf("stage = %s, want %s", werr.Stage, tt.stage)
			}
			if !errors.Is(err, storeerr.ErrUnauthorized) {
				t.Fatalf("cause lost: %v", err)
			}
			if !werr.CleanedUp {
				t.Fatalf("expected cleanup to succeed")
			}
			if len(blobs.objects) != 0 {
				t.Fatalf("orphaned blobs left: %v", blobs.objects)
			}
			if len(blobs.deletes) != tt.wantDeletes {
				t.Fatalf("deletes = %v", blobs.deletes)
			}
			if blobs.calls != tt.failPut {
				t.Fatalf("unauthorized must not be retried, got %d put calls", blobs.calls)
			}
			recs, _ := rs.ReadAll(context.Background())
			if len(recs) != 0 {
				t.Fatalf("expected zero records, got %d", len(recs))
			}
		})
	}
}

func TestSubmitRetriesTransientBlobError(t *testing.T) {
	t.Parallel()

	blobs := newFakeBlobs()
	blobs.failOn[1] = []error{
		storeerr.Wrap(storeerr.ErrTransient, errors.New("503")),
		storeerr.Wrap(storeerr.ErrRateLimited, errors.New("429")),
	}
	rs := rows.NewMemoryStore()
	svc := newTestService(t, blobs, rs)

	if _, err := svc.Submit(context.Background(), validInput(t)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if blobs.calls != 4 {
		t.Fatalf("expected 4 put calls, got %d", blobs.calls)
	}
}

func TestSubmitGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	transient := storeerr.Wrap(storeerr.ErrTransient, errors.New("503"))
	blobs := newFakeBlobs()
	blobs.failOn[1] = []error{transient, transient, transient, transient}
	svc := newTestService(t, blobs, rows.NewMemoryStore())

	_, err := svc.Submit(context.Background(), validInput(t))
	if !errors.Is(err, storeerr.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if blobs.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", blobs.calls)
	}
}

func TestSubmitRowAppendFailureCleansUpBlobs(t *testing.T) {
	t.Parallel()

	transient := storeerr.Wrap(storeerr.ErrTransient, errors.New("503"))
	blobs := newFakeBlobs()
	rs := &flakyRows{MemoryStore: rows.NewMemoryStore(), errs: []error{transient, transient, transient}}
	svc := newTestService(t, blobs, rs)

	_, err := svc.Submit(context.Background(), validInput(t))
	var werr *WriteError
	if !errors.As(err, &werr) || werr.Stage != StageRowAppend {
		t.Fatalf("expected row_append WriteError, got %v", err)
	}
	if len(werr.WrittenKeys) != 2 || !werr.CleanedUp {
		t.Fatalf("unexpected WriteError %+v", werr)
	}
	if len(blobs.objects) != 0 {
		t.Fatalf("expected blobs to be cleaned up, got %v", blobs.objects)
	}
	if rs.appends != 3 {
		t.Fatalf("expected 3 append attempts, got %d", rs.appends)
	}
}

func TestSubmitWithoutCleanupLeavesBlobs(t *testing.T) {
	t.Parallel()

	blobs := newFakeBlobs()
	rs := &flakyRows{MemoryStore: rows.NewMemoryStore(), errs: []error{storeerr.Wrap(storeerr.ErrUnauthorized, errors.New("403"))}}
	svc := newTestService(t, blobs, rs)
	svc.CleanupOrphans = false

	_, err := svc.Submit(context.Background(), validInput(t))
	var werr *WriteError
	if !errors.As(err, &werr) || werr.CleanedUp {
		t.Fatalf("unexpected error %v", err)
	}
	if len(blobs.objects) != 2 || len(blobs.deletes) != 0 {
		t.Fatalf("expected blobs untouched, objects=%d deletes=%v", len(blobs.objects), blobs.deletes)
	}
}

func TestSubmitInvalidatesOptions(t *testing.T) {
	t.Parallel()

	blobs := newFakeBlobs()
	rs := rows.NewMemoryStore()
	svc := newTestService(t, blobs, rs)
	ctx := context.Background()

	before, err := svc.DropdownOptions(ctx)
	if err != nil || len(before.Stores) != 0 {
		t.Fatalf("unexpected initial options %v %v", before, err)
	}
	if _, err := svc.Submit(ctx, validInput(t)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	after, err := svc.DropdownOptions(ctx)
	if err != nil {
		t.Fatalf("DropdownOptions: %v", err)
	}
	if len(after.Stores) != 1 || after.Stores[0] != "Mart Jaya!" {
		t.Fatalf("options not refreshed: %v", after.Stores)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats != (Stats{TotalRecords: 1, Stores: 1, Employees: 1}) {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rs := rows.NewMemoryStore()
	for _, s := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		_ = rs.Append(ctx, rows.Record{Store: s})
	}
	svc := newTestService(t, newFakeBlobs(), rs)

	got, err := svc.Recent(ctx, 5)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 5 || got[0].Store != "G" || got[4].Store != "C" {
		t.Fatalf("unexpected recent %+v", got)
	}

	all, _ := svc.Recent(ctx, 50)
	if len(all) != 7 {
		t.Fatalf("expected all 7, got %d", len(all))
	}
}

type recordingQueue struct {
	sent []queue.Message
	err  error
}

func (q *recordingQueue) Send(ctx context.Context, msg queue.Message) error {
	q.sent = append(q.sent, msg)
	return q.err
}

func TestSubmitPublishesEvent(t *testing.T) {
	t.Parallel()

	blobs := newFakeBlobs()
	svc := newTestService(t, blobs, rows.NewMemoryStore())
	events := &recordingQueue{}
	svc.Events = events

	in := validInput(t)
	in.RequestID = "req-42"
	res, err := svc.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(events.sent) != 1 {
		t.Fatalf("expected one event, got %d", len(events.sent))
	}
	msg := events.sent[0]
	if msg.Event != queue.EventSubmissionCreated || msg.RequestID != "req-42" || msg.BeforeURL != res.Record.BeforeURL {
		t.Fatalf("unexpected event %+v", msg)
	}
}

func TestSubmitSucceedsWhenPublishFails(t *testing.T) {
	t.Parallel()

	rs := rows.NewMemoryStore()
	svc := newTestService(t, newFakeBlobs(), rs)
	svc.Events = &recordingQueue{err: errors.New("queue down")}

	if _, err := svc.Submit(context.Background(), validInput(t)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	recs, _ := rs.ReadAll(context.Background())
	if len(recs) != 1 {
		t.Fatalf("expected record to be kept, got %d", len(recs))
	}
}

func TestSubmitValidationErrorPublishesNothing(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeBlobs(), rows.NewMemoryStore())
	events := &recordingQueue{}
	svc.Events = events

	in := validInput(t)
	in.Store = ""
	if _, err := svc.Submit(context.Background(), in); err == nil {
		t.Fatalf("expected validation error")
	}
	if len(events.sent) != 0 {
		t.Fatalf("expected no events, got %d", len(events.sent))
	}
}
