package render

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/siostam/siostam/pkg/cache"
	"github.com/siostam/siostam/pkg/observability"
	"github.com/siostam/siostam/pkg/topo"
)

// DefaultConcurrency bounds simultaneous layout engine runs.
const DefaultConcurrency = 2

// Pipeline produces render artifacts from snapshots, with
// generation-keyed caching and per-generation single-flight. Concurrent
// requests for the same generation share one engine run; requests for
// distinct generations run in parallel up to the concurrency bound.
type Pipeline struct {
	renderer Renderer
	store    cache.Cache
	logger   *log.Logger
	sem      chan struct{}

	mu       sync.Mutex
	inflight map[uint64]*call
}

type call struct {
	done     chan struct{}
	artifact *Artifact
	err      error
}

// NewPipeline creates a pipeline. A nil store disables artifact
// persistence.
func NewPipeline(renderer Renderer, store cache.Cache, concurrency int, logger *log.Logger) *Pipeline {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if store == nil {
		store = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		renderer: renderer,
		store:    store,
		logger:   logger,
		sem:      make(chan struct{}, concurrency),
		inflight: make(map[uint64]*call),
	}
}

// Render returns the artifact for the snapshot's generation, rendering
// it if no cached copy exists. Equal generations never invoke the
// engine twice concurrently.
func (p *Pipeline) Render(ctx context.Context, s *topo.Snapshot) (*Artifact, error) {
	p.mu.Lock()
	if c, ok := p.inflight[s.Generation]; ok {
		p.mu.Unlock()
		select {
		case <-c.done:
			return c.artifact, c.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &call{done: make(chan struct{})}
	p.inflight[s.Generation] = c
	p.mu.Unlock()

	c.artifact, c.err = p.render(ctx, s)
	close(c.done)

	p.mu.Lock()
	delete(p.inflight, s.Generation)
	p.mu.Unlock()

	return c.artifact, c.err
}

func (p *Pipeline) render(ctx context.Context, s *topo.Snapshot) (*Artifact, error) {
	key := artifactKey(s.Generation)
	if a, ok := p.cached(ctx, key); ok {
		observability.Cache().OnCacheHit(ctx, "artifact")
		return a, nil
	}
	observability.Cache().OnCacheMiss(ctx, "artifact")

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	observability.Render().OnRenderStart(ctx, s.Generation)
	start := time.Now()

	dot := ToDOT(s)
	data, err := p.renderer.Render(ctx, dot)
	elapsed := time.Since(start)

	if err != nil {
		observability.Render().OnRenderComplete(ctx, s.Generation, 0, elapsed, err)
		p.logger.Error("render failed", "generation", s.Generation, "error", err)
		return nil, err
	}
	observability.Render().OnRenderComplete(ctx, s.Generation, len(data), elapsed, nil)

	artifact := newArtifact(s.Generation, data, time.Now().UTC())
	p.remember(ctx, key, artifact)
	p.logger.Debug("rendered snapshot",
		"generation", s.Generation, "bytes", len(data), "duration", elapsed)
	return artifact, nil
}

func (p *Pipeline) cached(ctx context.Context, key string) (*Artifact, bool) {
	data, ok, err := p.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		// Corrupt entry. Drop it and re-render.
		_ = p.store.Delete(ctx, key)
		return nil, false
	}
	return &a, true
}

func (p *Pipeline) remember(ctx context.Context, key string, a *Artifact) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := p.store.Set(ctx, key, data, cache.TTLArtifact); err != nil {
		p.logger.Warn("failed to cache artifact", "key", key, "error", err)
	}
}

func artifactKey(generation uint64) string {
	return cache.Key("artifact", fmt.Sprintf("%d", generation))
}
