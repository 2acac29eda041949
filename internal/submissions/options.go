package submissions

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"youposm/internal/rows"
	"youposm/internal/shared/cache"
	"youposm/internal/shared/telemetry"
)

const (
	optionsCacheKey       = "options:v1"
	optionsGenKey         = "options:gen"
	optionsRefreshTimeout = 30 * time.Second
)

// Options are the dropdown values derived from existing records.
type Options struct {
	Stores       []string `json:"stores"`
	Employees    []string `json:"employees"`
	TotalRecords int      `json:"totalRecords"`
}

// Stats summarizes the recorded submissions.
type Stats struct {
	TotalRecords int `json:"totalRecords"`
	Stores       int `json:"stores"`
	Employees    int `json:"employees"`
}

// BuildOptions collects the sorted distinct store and employee names.
func BuildOptions(recs []rows.Record) Options {
	stores := map[string]struct{}{}
	employees := map[string]struct{}{}
	for _, r := range recs {
		if s := strings.TrimSpace(r.Store); s != "" {
			stores[s] = struct{}{}
		}
		if e := strings.TrimSpace(r.Employee); e != "" {
			employees[e] = struct{}{}
		}
	}
	return Options{
		Stores:       sortedKeys(stores),
		Employees:    sortedKeys(employees),
		TotalRecords: len(recs),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// OptionsCache is a read-through cache of Options over a row store.
//
// Snapshots are tagged with a generation counter kept in the cache itself,
// so an Invalidate on any instance sharing the cache retires every older
// snapshot, including one written by a refresh that was already in flight.
type OptionsCache struct {
	rows  rows.Store
	cache cache.Cache
	ttl   time.Duration

	group singleflight.Group
}

type optionsSnapshot struct {
	Gen     int64   `json:"gen"`
	Options Options `json:"options"`
}

// NewOptionsCache builds a cache. A non-positive ttl keeps entries until invalidated.
func NewOptionsCache(rs rows.Store, c cache.Cache, ttl time.Duration) *OptionsCache {
	return &OptionsCache{rows: rs, cache: c, ttl: ttl}
}

// Get returns the cached Options, reading all records on a miss. The shared
// refresh is detached from ctx, so one cancelled caller does not fail the
// others waiting on it.
func (o *OptionsCache) Get(ctx context.Context) (Options, error) {
	if opts, ok := o.cached(ctx); ok {
		return opts, nil
	}

	ch := o.group.DoChan(optionsCacheKey, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), optionsRefreshTimeout)
		defer cancel()
		return o.refresh(rctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Options{}, res.Err
		}
		return res.Val.(Options), nil
	case <-ctx.Done():
		return Options{}, ctx.Err()
	}
}

// cached returns the stored snapshot when it carries the current generation.
func (o *OptionsCache) cached(ctx context.Context) (Options, bool) {
	gen, err := o.generation(ctx)
	if err != nil {
		telemetry.Warn("options.cache.read_failed", map[string]any{"error": err})
		return Options{}, false
	}
	raw, ok, err := o.cache.Get(ctx, optionsCacheKey)
	if err != nil {
		telemetry.Warn("options.cache.read_failed", map[string]any{"error": err})
	}
	if !ok {
		return Options{}, false
	}
	var snap optionsSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil || snap.Gen != gen {
		return Options{}, false
	}
	return snap.Options, true
}

func (o *OptionsCache) refresh(ctx context.Context) (Options, error) {
	gen, genErr := o.generation(ctx)
	recs, err := o.rows.ReadAll(ctx)
	if err != nil {
		return Options{}, fmt.Errorf("read records for options: %w", err)
	}
	opts := BuildOptions(recs)
	if genErr != nil {
		return opts, nil
	}

	// Tagged with the generation read before ReadAll: if an append is
	// invalidated meanwhile, readers see a newer generation and skip it.
	data, err := json.Marshal(optionsSnapshot{Gen: gen, Options: opts})
	if err == nil {
		err = o.cache.Set(ctx, optionsCacheKey, data, o.ttl)
	}
	if err != nil {
		telemetry.Warn("options.cache.write_failed", map[string]any{"error": err})
	}
	return opts, nil
}

func (o *OptionsCache) generation(ctx context.Context) (int64, error) {
	raw, ok, err := o.cache.Get(ctx, optionsGenKey)
	if err != nil || !ok {
		return 0, err
	}
	gen, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("options generation %q: %w", raw, err)
	}
	return gen, nil
}

// Invalidate forces the next Get, on this or any instance sharing the cache,
// to re-read the row store.
func (o *OptionsCache) Invalidate(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	o.group.Forget(optionsCacheKey)
	if _, err := o.cache.Incr(ctx, optionsGenKey); err != nil {
		telemetry.Warn("options.cache.invalidate_failed", map[string]any{"error": err})
	}
	if err := o.cache.Delete(ctx, optionsCacheKey); err != nil {
		telemetry.Warn("options.cache.invalidate_failed", map[string]any{"error": err})
	}
}
