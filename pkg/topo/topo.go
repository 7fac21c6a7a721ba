// Package topo provides the in-memory service-topology graph.
//
// The package has two halves: [Graph], a mutable directed graph with
// referential-integrity guarantees, and [Snapshot], the immutable
// point-in-time value produced by [Graph.Snapshot] and consumed by the
// reconciler, the render pipeline and the HTTP layer. Snapshots are
// canonically ordered (lexicographic by identity) so that equal graphs
// serialize to identical bytes.
//
// The package is pure data structure: no I/O, no clocks, no goroutines.
// Graph is not safe for concurrent use without external synchronization;
// Snapshot is immutable and safe to share.
package topo

import (
	"maps"
	"time"
)

// Attrs stores free-form key-value attributes attached to nodes or edges.
// Attrs maps may be nil on input; they are copied and normalized when
// added to a Graph.
type Attrs map[string]string

// Clone returns a copy of the attribute map. Nil maps clone to nil.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return nil
	}
	return maps.Clone(a)
}

// Relationship kinds for edges. Kinds are open-ended strings; these are
// the two the reconciler understands natively.
const (
	// KindDependsOn is a declared dependency. Self-loops are rejected:
	// a service cannot depend on itself.
	KindDependsOn = "depends-on"

	// KindCalls is an observed or declared call relationship. Self-loops
	// are permitted (a service may call itself, e.g. via a queue).
	KindCalls = "calls"
)

// SelfLoopAllowed reports whether the relationship kind permits an edge
// from a node to itself. Unknown kinds are conservative and forbid loops.
func SelfLoopAllowed(kind string) bool {
	return kind == KindCalls
}

// Node represents a service in the topology.
type Node struct {
	ID       string    `json:"id"`                  // Stable identity, unique per snapshot
	Label    string    `json:"label,omitempty"`     // Display name (falls back to ID)
	Kind     string    `json:"kind,omitempty"`      // Category tag, e.g. "service", "database"
	Attrs    Attrs     `json:"attrs,omitempty"`     // Free-form attributes
	LastSeen time.Time `json:"last_seen,omitzero"`  // Last refresh cycle that reported this node
}

// DisplayLabel returns the label, falling back to the ID.
func (n Node) DisplayLabel() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// Edge represents a directed relationship between two services.
type Edge struct {
	From  string `json:"from"`            // Source node ID
	To    string `json:"to"`              // Target node ID
	Kind  string `json:"kind"`            // Relationship kind, e.g. "depends-on"
	Attrs Attrs  `json:"attrs,omitempty"` // Free-form attributes
}

// EdgeID is the identity triple of an edge. Duplicate declarations of
// the same triple merge idempotently instead of creating parallel edges.
type EdgeID struct {
	From string
	To   string
	Kind string
}

// Identity returns the edge's identity triple.
func (e Edge) Identity() EdgeID {
	return EdgeID{From: e.From, To: e.To, Kind: e.Kind}
}
