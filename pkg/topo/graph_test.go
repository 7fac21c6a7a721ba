package topo

import (
	"errors"
	"testing"
	"time"
)

func TestAddOrUpdateNode(t *testing.T) {
	g := New()

	if err := g.AddOrUpdateNode(Node{}); !errors.Is(err, ErrInvalidNodeID) {
		t.Fatalf("empty ID: got %v, want ErrInvalidNodeID", err)
	}

	if err := g.AddOrUpdateNode(Node{ID: "api", Label: "API", Kind: "service"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if g.NodeCount() != 1 {
		t.Fatalf("NodeCount = %d, want 1", g.NodeCount())
	}

	// Update merges: empty fields keep existing values, attrs union.
	later := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if err := g.AddOrUpdateNode(Node{ID: "api", Attrs: Attrs{"team": "platform"}, LastSeen: later}); err != nil {
		t.Fatalf("update: %v", err)
	}

	n, ok := g.Node("api")
	if !ok {
		t.Fatal("node disappeared after update")
	}
	if n.Label != "API" || n.Kind != "service" {
		t.Errorf("update cleared fields: %+v", n)
	}
	if n.Attrs["team"] != "platform" {
		t.Errorf("attrs not merged: %v", n.Attrs)
	}
	if !n.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", n.LastSeen, later)
	}

	// Older LastSeen does not go backwards.
	earlier := later.Add(-time.Hour)
	_ = g.AddOrUpdateNode(Node{ID: "api", LastSeen: earlier})
	n, _ = g.Node("api")
	if !n.LastSeen.Equal(later) {
		t.Errorf("LastSeen went backwards to %v", n.LastSeen)
	}
}

func TestAddOrUpdateNodeAttrsLastWriterWins(t *testing.T) {
	g := New()
	_ = g.AddOrUpdateNode(Node{ID: "db", Attrs: Attrs{"tier": "gold", "zone": "a"}})
	_ = g.AddOrUpdateNode(Node{ID: "db", Attrs: Attrs{"tier": "silver"}})

	n, _ := g.Node("db")
	if n.Attrs["tier"] != "silver" {
		t.Errorf("tier = %q, want last writer silver", n.Attrs["tier"])
	}
	if n.Attrs["zone"] != "a" {
		t.Errorf("zone = %q, non-conflicting key should survive", n.Attrs["zone"])
	}
}

func TestAddOrUpdateEdge(t *testing.T) {
	g := New()
	_ = g.AddOrUpdateNode(Node{ID: "a"})
	_ = g.AddOrUpdateNode(Node{ID: "b"})

	tests := []struct {
		name string
		edge Edge
		want error
	}{
		{"valid", Edge{From: "a", To: "b", Kind: KindDependsOn}, nil},
		{"unknown source", Edge{From: "x", To: "b", Kind: KindDependsOn}, ErrUnknownSourceNode},
		{"unknown target", Edge{From: "a", To: "x", Kind: KindDependsOn}, ErrUnknownTargetNode},
		{"depends-on self-loop", Edge{From: "a", To: "a", Kind: KindDependsOn}, ErrSelfLoop},
		{"calls self-loop", Edge{From: "a", To: "a", Kind: KindCalls}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := g.AddOrUpdateEdge(tt.edge); !errors.Is(err, tt.want) {
				t.Errorf("AddOrUpdateEdge(%+v) = %v, want %v", tt.edge, err, tt.want)
			}
		})
	}
}

func TestEdgeMergeIdempotent(t *testing.T) {
	g := New()
	_ = g.AddOrUpdateNode(Node{ID: "a"})
	_ = g.AddOrUpdateNode(Node{ID: "b"})

	_ = g.AddOrUpdateEdge(Edge{From: "a", To: "b", Kind: KindDependsOn, Attrs: Attrs{"why": "auth"}})
	_ = g.AddOrUpdateEdge(Edge{From: "a", To: "b", Kind: KindDependsOn, Attrs: Attrs{"weight": "3"}})

	if g.EdgeCount() != 1 {
		t.Fatalf("EdgeCount = %d, want merged single edge", g.EdgeCount())
	}
	e, ok := g.Edge(EdgeID{From: "a", To: "b", Kind: KindDependsOn})
	if !ok {
		t.Fatal("edge not found")
	}
	if e.Attrs["why"] != "auth" || e.Attrs["weight"] != "3" {
		t.Errorf("attrs not unioned: %v", e.Attrs)
	}

	// Same endpoints, different kind is a distinct edge.
	_ = g.AddOrUpdateEdge(Edge{From: "a", To: "b", Kind: KindCalls})
	if g.EdgeCount() != 2 {
		t.Errorf("EdgeCount = %d, want 2 distinct kinds", g.EdgeCount())
	}
}

func TestRemoveNodeCascades(t *testing.T) {
	g := New()
	for _, id := range []string{"a", "b", "c"} {
		_ = g.AddOrUpdateNode(Node{ID: id})
	}
	_ = g.AddOrUpdateEdge(Edge{From: "a", To: "b", Kind: KindDependsOn})
	_ = g.AddOrUpdateEdge(Edge{From: "b", To: "c", Kind: KindDependsOn})
	_ = g.AddOrUpdateEdge(Edge{From: "a", To: "c", Kind: KindDependsOn})

	if !g.RemoveNode("b") {
		t.Fatal("RemoveNode(b) = false")
	}
	if g.NodeCount() != 2 {
		t.Errorf("NodeCount = %d, want 2", g.NodeCount())
	}
	if g.EdgeCount() != 1 {
		t.Errorf("EdgeCount = %d, want only a->c to survive", g.EdgeCount())
	}
	if _, ok := g.Edge(EdgeID{From: "a", To: "c", Kind: KindDependsOn}); !ok {
		t.Error("a->c should be untouched")
	}

	if g.RemoveNode("b") {
		t.Error("removing a removed node should report false")
	}

	// The snapshot after cascade must validate.
	s := g.Snapshot(1, time.Now())
	if err := s.Validate(); err != nil {
		t.Errorf("snapshot after cascade invalid: %v", err)
	}
}

func TestMutatingInputDoesNotAffectGraph(t *testing.T) {
	g := New()
	attrs := Attrs{"team": "core"}
	_ = g.AddOrUpdateNode(Node{ID: "a", Attrs: attrs})
	attrs["team"] = "changed"

	n, _ := g.Node("a")
	if n.Attrs["team"] != "core" {
		t.Error("graph shares attr map with caller")
	}

	// Accessor copies too.
	n.Attrs["team"] = "other"
	again, _ := g.Node("a")
	if again.Attrs["team"] != "core" {
		t.Error("accessor leaks internal attr map")
	}
}

func TestFromSnapshotRoundTrip(t *testing.T) {
	g := New()
	_ = g.AddOrUpdateNode(Node{ID: "a", Label: "A"})
	_ = g.AddOrUpdateNode(Node{ID: "b"})
	_ = g.AddOrUpdateEdge(Edge{From: "a", To: "b", Kind: KindDependsOn})

	s := g.Snapshot(3, time.Now())
	g2 := FromSnapshot(s)
	s2 := g2.Snapshot(3, s.Taken)

	if !s.EquivalentTo(s2) {
		t.Error("round-tripped snapshot differs")
	}
}
