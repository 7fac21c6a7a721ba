// Package core owns the latest snapshot and rendered artifact and runs
// the refresh cycle that produces them.
//
// A refresh cycle is: fetch all origins (bounded fan-out) -> reconcile
// into the next snapshot (single-threaded) -> render the artifact.
// Snapshot and artifact are immutable values swapped atomically, so
// request handlers read them without locks and every reader sees a
// consistent pair of pointers.
//
// Only one cycle runs at a time. Triggering a refresh while one is in
// progress returns the running cycle's handle instead of starting a
// second one.
package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/siostam/siostam/pkg/history"
	"github.com/siostam/siostam/pkg/observability"
	"github.com/siostam/siostam/pkg/reconcile"
	"github.com/siostam/siostam/pkg/render"
	"github.com/siostam/siostam/pkg/source"
	"github.com/siostam/siostam/pkg/topo"
)

// DefaultCycleTimeout bounds one full refresh cycle.
const DefaultCycleTimeout = 2 * time.Minute

// handleRetention is how many finished refresh handles stay queryable.
const handleRetention = 32

// RefreshHandle tracks one refresh cycle. Callers wait on Done and then
// read the result accessors.
type RefreshHandle struct {
	ID        string
	Trigger   string
	StartedAt time.Time

	done chan struct{}

	// Written once before done closes.
	err        error
	generation uint64
	changed    bool
}

// Done is closed when the cycle finishes.
func (h *RefreshHandle) Done() <-chan struct{} { return h.done }

// Err returns the cycle error. Valid after Done is closed.
func (h *RefreshHandle) Err() error { return h.err }

// Generation returns the generation current after the cycle. Valid
// after Done is closed.
func (h *RefreshHandle) Generation() uint64 { return h.generation }

// Changed reports whether the cycle produced a new snapshot. Valid
// after Done is closed.
func (h *RefreshHandle) Changed() bool { return h.changed }

// Finished reports whether the cycle has completed.
func (h *RefreshHandle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Core wires fetcher, reconciler and render pipeline together and owns
// the published state.
type Core struct {
	fetcher      *source.Fetcher
	reconciler   *reconcile.Reconciler
	pipeline     *render.Pipeline
	archive      history.Store // nil when history is disabled
	logger       *log.Logger
	cycleTimeout time.Duration

	snapshot atomic.Pointer[topo.Snapshot]
	artifact atomic.Pointer[render.Artifact]

	mu      sync.Mutex
	running *RefreshHandle
	handles map[string]*RefreshHandle
	order   []string

	subMu sync.Mutex
	subs  map[chan uint64]struct{}
}

// Options configures optional Core behavior.
type Options struct {
	// Archive receives every changed snapshot. Nil disables archiving.
	Archive history.Store

	// CycleTimeout bounds one refresh cycle. Zero selects
	// DefaultCycleTimeout.
	CycleTimeout time.Duration
}

// New creates a Core. The first snapshot appears after the first
// refresh cycle.
func New(fetcher *source.Fetcher, reconciler *reconcile.Reconciler, pipeline *render.Pipeline, logger *log.Logger, opts Options) *Core {
	if logger == nil {
		logger = log.Default()
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = DefaultCycleTimeout
	}
	return &Core{
		fetcher:      fetcher,
		reconciler:   reconciler,
		pipeline:     pipeline,
		archive:      opts.Archive,
		logger:       logger,
		cycleTimeout: opts.CycleTimeout,
		handles:      make(map[string]*RefreshHandle),
		subs:         make(map[chan uint64]struct{}),
	}
}

// LatestSnapshot returns the current snapshot, or false before the
// first successful cycle.
func (c *Core) LatestSnapshot() (*topo.Snapshot, bool) {
	s := c.snapshot.Load()
	return s, s != nil
}

// LatestArtifact returns the current rendered artifact, or false when
// nothing has rendered successfully yet.
func (c *Core) LatestArtifact() (*render.Artifact, bool) {
	a := c.artifact.Load()
	return a, a != nil
}

// SetOrigins replaces the origin set after a config reload. The next
// cycle uses the new set.
func (c *Core) SetOrigins(origins []source.Origin) {
	c.fetcher.SetOrigins(origins)
}

// TriggerRefresh starts a refresh cycle and returns its handle without
// waiting. When a cycle is already in progress, its handle is returned
// instead of starting another.
func (c *Core) TriggerRefresh(ctx context.Context, trigger string) *RefreshHandle {
	c.mu.Lock()
	if c.running != nil {
		h := c.running
		c.mu.Unlock()
		return h
	}
	h := &RefreshHandle{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	c.running = h
	c.remember(h)
	c.mu.Unlock()

	go c.runCycle(ctx, h)
	return h
}

// Refresh runs one cycle synchronously. Used by the one-shot mapper and
// by the scheduler.
func (c *Core) Refresh(ctx context.Context, trigger string) error {
	h := c.TriggerRefresh(ctx, trigger)
	select {
	case <-h.Done():
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle returns a refresh handle by ID for status queries.
func (c *Core) Handle(id string) (*RefreshHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[id]
	return h, ok
}

// Subscribe registers an update channel receiving the generation of
// every published snapshot change. The channel is buffered; slow
// consumers miss intermediate generations, never block the cycle.
// The returned func unsubscribes.
func (c *Core) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		delete(c.subs, ch)
		c.subMu.Unlock()
	}
}

func (c *Core) notify(generation uint64) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		// Replace a pending older generation instead of blocking.
		select {
		case ch <- generation:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- generation:
			default:
			}
		}
	}
}

func (c *Core) runCycle(ctx context.Context, h *RefreshHandle) {
	ctx, cancel := context.WithTimeout(ctx, c.cycleTimeout)
	defer cancel()

	observability.Refresh().OnRefreshStart(ctx, h.Trigger)
	start := time.Now()

	err := c.cycle(ctx, h)

	elapsed := time.Since(start)
	observability.Refresh().OnRefreshComplete(ctx, h.Trigger, h.generation, h.changed, elapsed, err)

	h.err = err

	c.mu.Lock()
	c.running = nil
	c.mu.Unlock()
	close(h.done)

	if err != nil {
		c.logger.Error("refresh cycle failed", "trigger", h.Trigger, "duration", elapsed, "error", err)
		return
	}
	c.logger.Info("refresh cycle complete",
		"trigger", h.Trigger, "generation", h.generation, "changed", h.changed, "duration", elapsed)
}

// cycle is fetch -> reconcile -> render. The snapshot publishes before
// rendering, so /graph/json reflects the new topology even when the
// engine fails; the previous artifact keeps serving in that case.
func (c *Core) cycle(ctx context.Context, h *RefreshHandle) error {
	prev := c.snapshot.Load()

	batches := c.fetcher.FetchAll(ctx)
	next, report := c.reconciler.Reconcile(prev, batches, time.Now().UTC())

	h.generation = next.Generation
	h.changed = report.Changed

	for _, p := range report.Dropped {
		c.logger.Warn("dropped invalid item",
			"origin", p.Origin, "item", p.Item, "reason", p.Reason)
	}

	if report.Changed {
		c.snapshot.Store(next)
		if c.archive != nil {
			if err := c.archive.Append(ctx, next); err != nil {
				c.logger.Warn("failed to archive snapshot",
					"generation", next.Generation, "error", err)
			}
		}
	}

	// Render when the topology changed or the current artifact lags the
	// snapshot (for example after an earlier render failure).
	current := c.artifact.Load()
	if report.Changed || current == nil || current.Generation != next.Generation {
		artifact, err := c.pipeline.Render(ctx, next)
		if err != nil {
			return err
		}
		c.artifact.Store(artifact)
	}

	if report.Changed {
		c.notify(next.Generation)
	}
	return nil
}

// remember keeps the handle queryable, evicting the oldest beyond the
// retention bound. Caller holds c.mu.
func (c *Core) remember(h *RefreshHandle) {
	c.handles[h.ID] = h
	c.order = append(c.order, h.ID)
	for len(c.order) > handleRetention {
		evict := c.order[0]
		c.order = c.order[1:]
		delete(c.handles, evict)
	}
}
