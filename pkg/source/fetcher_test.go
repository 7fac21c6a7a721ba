package source

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/siostam/siostam/pkg/cache"
	"github.com/siostam/siostam/pkg/errors"
)

// fakeOrigin is a scriptable origin for fetcher tests.
type fakeOrigin struct {
	name  string
	descs []Description
	err   error
	calls atomic.Int64
}

func (f *fakeOrigin) Name() string { return f.name }

func (f *fakeOrigin) Fetch(ctx context.Context) ([]Description, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.descs, nil
}

func TestFetchAllSortsByOrigin(t *testing.T) {
	f := NewFetcher([]Origin{
		&fakeOrigin{name: "zeta", descs: []Description{{Service: Service{ID: "z"}}}},
		&fakeOrigin{name: "alpha", descs: []Description{{Service: Service{ID: "a"}}}},
	}, 2, nil, nil)

	batches := f.FetchAll(context.Background())
	if len(batches) != 2 {
		t.Fatalf("batches = %d", len(batches))
	}
	if batches[0].Origin != "alpha" || batches[1].Origin != "zeta" {
		t.Errorf("batches not sorted: %s, %s", batches[0].Origin, batches[1].Origin)
	}
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	failing := &fakeOrigin{name: "down", err: errors.New(errors.ErrCodeFetchFailed, "boom")}
	healthy := &fakeOrigin{name: "up", descs: []Description{{Service: Service{ID: "a"}}}}

	f := NewFetcher([]Origin{failing, healthy}, 2, nil, nil)
	batches := f.FetchAll(context.Background())

	byName := map[string]Batch{}
	for _, b := range batches {
		byName[b.Origin] = b
	}

	if byName["up"].Err != nil {
		t.Errorf("healthy origin carries error: %v", byName["up"].Err)
	}
	if byName["down"].Err == nil {
		t.Error("failing origin should carry its error")
	}
	if byName["down"].Stale {
		t.Error("no previous success, batch must not claim stale data")
	}
	if len(byName["down"].Descriptions) != 0 {
		t.Errorf("failing origin with no history returned %d descriptions", len(byName["down"].Descriptions))
	}
}

func TestFetchAllStaleFallback(t *testing.T) {
	o := &fakeOrigin{name: "flaky", descs: []Description{{Service: Service{ID: "a"}}}}
	f := NewFetcher([]Origin{o}, 2, nil, nil)

	// First cycle succeeds and is remembered.
	batches := f.FetchAll(context.Background())
	if batches[0].Err != nil {
		t.Fatalf("first fetch: %v", batches[0].Err)
	}

	// Second cycle fails; the last good payload is reused.
	o.err = errors.New(errors.ErrCodeFetchTimeout, "deadline")
	batches = f.FetchAll(context.Background())

	b := batches[0]
	if b.Err == nil {
		t.Error("batch should record the fetch error")
	}
	if !b.Stale {
		t.Error("batch should be marked stale")
	}
	if len(b.Descriptions) != 1 || b.Descriptions[0].Service.ID != "a" {
		t.Errorf("stale descriptions = %+v", b.Descriptions)
	}
}

func TestFetchAllStaleFallbackFromCache(t *testing.T) {
	store := cache.NewMemoryCache()
	o := &fakeOrigin{name: "persist", descs: []Description{{Service: Service{ID: "a"}}}}

	// First fetcher succeeds and writes through to the cache.
	f1 := NewFetcher([]Origin{o}, 2, store, nil)
	if batches := f1.FetchAll(context.Background()); batches[0].Err != nil {
		t.Fatal(batches[0].Err)
	}

	// A fresh fetcher (restart) with a failing origin recovers the
	// payload from the cache backend.
	o.err = errors.New(errors.ErrCodeFetchFailed, "down")
	f2 := NewFetcher([]Origin{o}, 2, store, nil)
	batches := f2.FetchAll(context.Background())

	b := batches[0]
	if !b.Stale || len(b.Descriptions) != 1 {
		t.Errorf("cache fallback failed: stale=%v descs=%+v", b.Stale, b.Descriptions)
	}
}

func TestSetOrigins(t *testing.T) {
	f := NewFetcher([]Origin{&fakeOrigin{name: "old"}}, 2, nil, nil)
	f.SetOrigins([]Origin{&fakeOrigin{name: "new"}})

	batches := f.FetchAll(context.Background())
	if len(batches) != 1 || batches[0].Origin != "new" {
		t.Errorf("batches = %+v, want only the new origin", batches)
	}
}
