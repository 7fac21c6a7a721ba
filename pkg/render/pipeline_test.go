package render

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/siostam/siostam/pkg/cache"
	"github.com/siostam/siostam/pkg/errors"
)

// stubRenderer counts invocations and returns canned output.
type stubRenderer struct {
	calls atomic.Int64
	delay time.Duration
	fail  bool
}

func (s *stubRenderer) Render(ctx context.Context, dot []byte) ([]byte, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail {
		return nil, errors.New(errors.ErrCodeRenderFailed, "stub failure")
	}
	return []byte("<svg/>"), nil
}

func (s *stubRenderer) Probe(ctx context.Context) error { return nil }

func TestPipelineRender(t *testing.T) {
	stub := &stubRenderer{}
	p := NewPipeline(stub, cache.NewMemoryCache(), 2, nil)
	s := testSnapshot(t)

	a, err := p.Render(context.Background(), s)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if a.Generation != s.Generation {
		t.Errorf("Generation = %d, want %d", a.Generation, s.Generation)
	}
	if a.ContentType != ContentTypeSVG {
		t.Errorf("ContentType = %q", a.ContentType)
	}
	if a.Hash != cache.Hash(a.Bytes) {
		t.Error("artifact hash does not match bytes")
	}
}

func TestPipelineCacheHitSkipsEngine(t *testing.T) {
	stub := &stubRenderer{}
	p := NewPipeline(stub, cache.NewMemoryCache(), 2, nil)
	s := testSnapshot(t)

	if _, err := p.Render(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	a, err := p.Render(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if got := stub.calls.Load(); got != 1 {
		t.Errorf("engine invoked %d times, want 1 (second call is a cache hit)", got)
	}
	if a.Generation != s.Generation {
		t.Errorf("cached artifact generation = %d", a.Generation)
	}
}

func TestPipelineSingleFlight(t *testing.T) {
	stub := &stubRenderer{delay: 50 * time.Millisecond}
	p := NewPipeline(stub, cache.NewMemoryCache(), 4, nil)
	s := testSnapshot(t)

	const n = 8
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Render(context.Background(), s); err != nil {
				t.Errorf("Render: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := stub.calls.Load(); got != 1 {
		t.Errorf("engine invoked %d times for one generation, want 1", got)
	}
}

func TestPipelineRenderError(t *testing.T) {
	stub := &stubRenderer{fail: true}
	p := NewPipeline(stub, cache.NewMemoryCache(), 2, nil)
	s := testSnapshot(t)

	_, err := p.Render(context.Background(), s)
	if !errors.Is(err, errors.ErrCodeRenderFailed) {
		t.Fatalf("err = %v, want RENDER_FAILED", err)
	}

	// A failed render must not poison the cache; a later attempt with a
	// healthy engine succeeds.
	stub.fail = false
	if _, err := p.Render(context.Background(), s); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestPipelineDistinctGenerations(t *testing.T) {
	stub := &stubRenderer{}
	p := NewPipeline(stub, cache.NewMemoryCache(), 2, nil)

	s1 := testSnapshot(t)
	s2 := *s1
	s2.Generation = s1.Generation + 1

	if _, err := p.Render(context.Background(), s1); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Render(context.Background(), &s2); err != nil {
		t.Fatal(err)
	}
	if got := stub.calls.Load(); got != 2 {
		t.Errorf("engine invoked %d times for two generations, want 2", got)
	}
}
