package submissions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"youposm/internal/rows"
	"youposm/internal/shared/cache"
)

type countingRows struct {
	rows.Store
	reads atomic.Int32
	gate  chan struct{}
	err   error
}

func (c *countingRows) ReadAll(ctx context.Context) ([]rows.Record, error) {
	c.reads.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.Store.ReadAll(ctx)
}

func TestBuildOptions(t *testing.T) {
	t.Parallel()

	opts := BuildOptions([]rows.Record{
		{Store: "Toko B", Employee: "Ani"},
		{Store: " Toko A ", Employee: "Budi"},
		{Store: "Toko B", Employee: "Ani"},
		{Store: "", Employee: " "},
	})
	if len(opts.Stores) != 2 || opts.Stores[0] != "Toko A" || opts.Stores[1] != "Toko B" {
		t.Fatalf("unexpected stores %v", opts.Stores)
	}
	if len(opts.Employees) != 2 || opts.Employees[0] != "Ani" {
		t.Fatalf("unexpected employees %v", opts.Employees)
	}
	if opts.TotalRecords != 4 {
		t.Fatalf("unexpected total %d", opts.TotalRecords)
	}
}

func TestOptionsCacheReadThroughAndInvalidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := rows.NewMemoryStore()
	_ = mem.Append(ctx, rows.Record{Store: "Toko A", Employee: "Ani"})
	src := &countingRows{Store: mem}
	oc := NewOptionsCache(src, cache.NewMemory(nil), time.Minute)

	for i := 0; i < 3; i++ {
		opts, err := oc.Get(ctx)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(opts.Stores) != 1 {
			t.Fatalf("unexpected stores %v", opts.Stores)
		}
	}
	if got := src.reads.Load(); got != 1 {
		t.Fatalf("expected 1 read, got %d", got)
	}

	_ = mem.Append(ctx, rows.Record{Store: "Toko B", Employee: "Budi"})
	oc.Invalidate(ctx)

	opts, err := oc.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(opts.Stores) != 2 || src.reads.Load() != 2 {
		t.Fatalf("expected refreshed options, got %v after %d reads", opts.Stores, src.reads.Load())
	}
}

func TestOptionsCacheCollapsesConcurrentMisses(t *testing.T) {
	t.Parallel()

	src := &countingRows{Store: rows.NewMemoryStore(), gate: make(chan struct{})}
	oc := NewOptionsCache(src, cache.NewMemory(nil), time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := oc.Get(context.Background()); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	if got := src.reads.Load(); got < 1 || got > 2 {
		t.Fatalf("expected collapsed reads, got %d", got)
	}
}

func TestOptionsCacheNeverServesRefreshThatRacedInvalidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := rows.NewMemoryStore()
	src := &countingRows{Store: mem, gate: make(chan struct{})}
	oc := NewOptionsCache(src, cache.NewMemory(nil), time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = oc.Get(ctx)
	}()
	for src.reads.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	_ = mem.Append(ctx, rows.Record{Store: "Toko A", Employee: "Ani"})
	oc.Invalidate(ctx)
	close(src.gate)
	<-done

	src.gate = nil
	opts, err := oc.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(opts.Stores) != 1 || src.reads.Load() != 2 {
		t.Fatalf("expected a fresh read after the racing refresh, got %v after %d reads", opts.Stores, src.reads.Load())
	}
}

func TestOptionsCacheInvalidateReachesOtherInstances(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := rows.NewMemoryStore()
	_ = mem.Append(ctx, rows.Record{Store: "Toko A", Employee: "Ani"})
	shared := cache.NewMemory(nil)
	srcA := &countingRows{Store: mem}
	srcB := &countingRows{Store: mem}
	a := NewOptionsCache(srcA, shared, time.Minute)
	b := NewOptionsCache(srcB, shared, time.Minute)

	if _, err := a.Get(ctx); err != nil {
		t.Fatalf("a.Get: %v", err)
	}
	if _, err := b.Get(ctx); err != nil || srcB.reads.Load() != 0 {
		t.Fatalf("expected b to hit the shared snapshot, err=%v reads=%d", err, srcB.reads.Load())
	}

	_ = mem.Append(ctx, rows.Record{Store: "Toko B", Employee: "Budi"})
	b.Invalidate(ctx)

	opts, err := a.Get(ctx)
	if err != nil {
		t.Fatalf("a.Get: %v", err)
	}
	if len(opts.Stores) != 2 {
		t.Fatalf("expected a to see b's invalidation, got %v", opts.Stores)
	}
}

func TestOptionsCacheRefreshSurvivesCancelledCaller(t *testing.T) {
	t.Parallel()

	mem := rows.NewMemoryStore()
	_ = mem.Append(context.Background(), rows.Record{Store: "Toko A", Employee: "Ani"})
	src := &countingRows{Store: mem, gate: make(chan struct{})}
	oc := NewOptionsCache(src, cache.NewMemory(nil), time.Minute)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := oc.Get(first)
		firstErr <- err
	}()
	for src.reads.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	waiter := make(chan Options, 1)
	go func() {
		opts, err := oc.Get(context.Background())
		if err != nil {
			t.Errorf("waiter Get: %v", err)
		}
		waiter <- opts
	}()
	time.Sleep(10 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled caller to return context.Canceled, got %v", err)
	}
	close(src.gate)

	opts := <-waiter
	if len(opts.Stores) != 1 || opts.Stores[0] != "Toko A" {
		t.Fatalf("waiter got %v", opts.Stores)
	}
	if got := src.reads.Load(); got != 1 {
		t.Fatalf("expected one shared read, got %d", got)
	}
}

func TestOptionsCachePropagatesReadError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	oc := NewOptionsCache(&countingRows{Store: rows.NewMemoryStore(), err: boom}, cache.NewMemory(nil), time.Minute)
	if _, err := oc.Get(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
