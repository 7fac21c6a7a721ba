package source

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/siostam/siostam/pkg/cache"
	"github.com/siostam/siostam/pkg/observability"
)

// Batch is the result of fetching one origin within a cycle.
type Batch struct {
	Origin       string
	Descriptions []Description
	Err          error // Fetch error, nil on success
	Stale        bool  // True when Descriptions is a reused earlier result
}

// Fetcher queries all configured origins concurrently, bounded by a
// concurrency limit, and joins the results into per-origin batches.
//
// Failure policy: a failing origin contributes its last successful
// payload (stale-but-available) when one exists, and an empty batch
// carrying the error otherwise. The last successful payload is also
// written through to the cache backend so stale fallback survives
// restarts.
type Fetcher struct {
	origins     []Origin
	concurrency int
	cache       cache.Cache
	logger      *log.Logger

	mu       sync.Mutex
	lastGood map[string][]Description
}

// NewFetcher creates a fetcher over the given origins.
// A nil cache disables the persistent stale fallback; concurrency
// values below 1 are clamped to 4.
func NewFetcher(origins []Origin, concurrency int, c cache.Cache, logger *log.Logger) *Fetcher {
	if concurrency < 1 {
		concurrency = 4
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Fetcher{
		origins:     origins,
		concurrency: concurrency,
		cache:       c,
		logger:      logger,
		lastGood:    make(map[string][]Description),
	}
}

// SetOrigins replaces the origin set, e.g. after a config reload.
// In-flight fetches are unaffected; the next cycle uses the new set.
func (f *Fetcher) SetOrigins(origins []Origin) {
	f.mu.Lock()
	f.origins = origins
	f.mu.Unlock()
}

// FetchAll queries every origin and returns one batch per origin, sorted
// by origin name so downstream reconciliation is order-independent.
// Origin failures are recorded in the batches, never returned as an
// error; ctx cancellation abandons origins that have not completed, and
// their batches fall back to stale data like any other failure.
func (f *Fetcher) FetchAll(ctx context.Context) []Batch {
	f.mu.Lock()
	origins := slices.Clone(f.origins)
	f.mu.Unlock()

	batches := make([]Batch, len(origins))
	sem := make(chan struct{}, f.concurrency)
	var wg sync.WaitGroup

	for i, origin := range origins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				batches[i] = f.fallback(origin.Name(), ctx.Err())
				return
			}

			observability.Fetch().OnFetchStart(ctx, origin.Name())
			descs, err := origin.Fetch(ctx)
			observability.Fetch().OnFetchComplete(ctx, origin.Name(), len(descs), err)

			if err != nil {
				f.logger.Warn("origin fetch failed, using stale data if available",
					"origin", origin.Name(), "err", err)
				batches[i] = f.fallback(origin.Name(), err)
				return
			}

			f.remember(ctx, origin.Name(), descs)
			batches[i] = Batch{Origin: origin.Name(), Descriptions: descs}
		}()
	}
	wg.Wait()

	slices.SortFunc(batches, func(a, b Batch) int { return cmp.Compare(a.Origin, b.Origin) })
	return batches
}

// remember stores the origin's latest successful payload in memory and
// writes it through to the cache backend.
func (f *Fetcher) remember(ctx context.Context, origin string, descs []Description) {
	f.mu.Lock()
	f.lastGood[origin] = descs
	f.mu.Unlock()

	if data, err := json.Marshal(descs); err == nil {
		_ = f.cache.Set(ctx, cache.Key("fetch", origin), data, cache.TTLFetch)
	}
}

// fallback produces a stale batch for a failed origin, consulting the
// in-memory copy first and the cache backend second.
func (f *Fetcher) fallback(origin string, err error) Batch {
	f.mu.Lock()
	descs, ok := f.lastGood[origin]
	f.mu.Unlock()

	if !ok {
		if data, hit, cacheErr := f.cache.Get(context.Background(), cache.Key("fetch", origin)); cacheErr == nil && hit {
			if json.Unmarshal(data, &descs) == nil {
				ok = true
			}
		}
	}

	if !ok {
		return Batch{Origin: origin, Err: err}
	}
	return Batch{Origin: origin, Descriptions: descs, Err: err, Stale: true}
}
