package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/siostam/siostam/pkg/topo"
)

func snap(generation uint64) *topo.Snapshot {
	g := topo.New()
	_ = g.AddOrUpdateNode(topo.Node{ID: "a"})
	return g.Snapshot(generation, time.Now())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(10)
	defer m.Close()

	if _, err := m.Get(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty store = %v, want ErrNotFound", err)
	}

	for gen := uint64(1); gen <= 3; gen++ {
		if err := m.Append(ctx, snap(gen)); err != nil {
			t.Fatalf("Append(%d): %v", gen, err)
		}
	}

	s, err := m.Get(ctx, 2)
	if err != nil {
		t.Fatalf("Get(2): %v", err)
	}
	if s.Generation != 2 {
		t.Errorf("Generation = %d", s.Generation)
	}

	generations, err := m.Generations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{1, 2, 3}
	if len(generations) != len(want) {
		t.Fatalf("Generations = %v", generations)
	}
	for i := range want {
		if generations[i] != want[i] {
			t.Errorf("Generations[%d] = %d, want %d", i, generations[i], want[i])
		}
	}
}

func TestMemoryStoreIdempotentAppend(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(10)

	s := snap(1)
	_ = m.Append(ctx, s)
	_ = m.Append(ctx, s)

	generations, _ := m.Generations(ctx)
	if len(generations) != 1 {
		t.Errorf("duplicate append created %d entries", len(generations))
	}
}

func TestMemoryStoreRetention(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(3)

	for gen := uint64(1); gen <= 5; gen++ {
		_ = m.Append(ctx, snap(gen))
	}

	generations, _ := m.Generations(ctx)
	if len(generations) != 3 {
		t.Fatalf("retained %d, want 3", len(generations))
	}
	if generations[0] != 3 || generations[2] != 5 {
		t.Errorf("Generations = %v, want oldest evicted first", generations)
	}
	if _, err := m.Get(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("evicted generation still retrievable: %v", err)
	}
}
