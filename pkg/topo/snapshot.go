package topo

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"sort"
	"time"
)

// Snapshot is an immutable point-in-time graph: canonically ordered
// nodes and edges plus a generation counter and timestamp. Snapshots are
// produced by [Graph.Snapshot] and must not be mutated afterwards.
type Snapshot struct {
	Generation uint64    `json:"generation"`
	Taken      time.Time `json:"taken"`
	Nodes      []Node    `json:"nodes"`
	Edges      []Edge    `json:"edges"`
}

// Snapshot produces an immutable snapshot of the graph with the given
// generation and timestamp. Nodes are ordered lexicographically by ID and
// edges by (From, To, Kind), so two equal graphs always produce
// byte-identical serializations.
func (g *Graph) Snapshot(generation uint64, taken time.Time) *Snapshot {
	s := &Snapshot{
		Generation: generation,
		Taken:      taken,
		Nodes:      make([]Node, 0, len(g.nodes)),
		Edges:      make([]Edge, 0, len(g.edges)),
	}
	for _, n := range g.nodes {
		node := *n
		node.Attrs = n.Attrs.Clone()
		s.Nodes = append(s.Nodes, node)
	}
	for _, e := range g.edges {
		edge := *e
		edge.Attrs = e.Attrs.Clone()
		s.Edges = append(s.Edges, edge)
	}
	slices.SortFunc(s.Nodes, func(a, b Node) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(s.Edges, compareEdges)
	return s
}

func compareEdges(a, b Edge) int {
	if c := cmp.Compare(a.From, b.From); c != 0 {
		return c
	}
	if c := cmp.Compare(a.To, b.To); c != 0 {
		return c
	}
	return cmp.Compare(a.Kind, b.Kind)
}

// Node returns the node with the given ID using binary search over the
// canonical ordering.
func (s *Snapshot) Node(id string) (Node, bool) {
	i := sort.Search(len(s.Nodes), func(i int) bool { return s.Nodes[i].ID >= id })
	if i < len(s.Nodes) && s.Nodes[i].ID == id {
		return s.Nodes[i], true
	}
	return Node{}, false
}

// HasNode reports whether a node with the given ID is present.
func (s *Snapshot) HasNode(id string) bool {
	_, ok := s.Node(id)
	return ok
}

// Validate checks referential integrity: every edge endpoint must be
// present in the node set and node IDs must be unique.
func (s *Snapshot) Validate() error {
	seen := make(map[string]struct{}, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == "" {
			return ErrInvalidNodeID
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("duplicate node ID %q", n.ID)
		}
		seen[n.ID] = struct{}{}
	}
	for _, e := range s.Edges {
		if _, ok := seen[e.From]; !ok {
			return fmt.Errorf("edge %s -> %s: %w", e.From, e.To, ErrUnknownSourceNode)
		}
		if _, ok := seen[e.To]; !ok {
			return fmt.Errorf("edge %s -> %s: %w", e.From, e.To, ErrUnknownTargetNode)
		}
	}
	return nil
}

// Digest returns a SHA-256 hash over the snapshot content, excluding
// generation, timestamps and LastSeen. Two snapshots with the same
// topology and attributes have equal digests even when taken at
// different times, which is what drives generation advancement.
func (s *Snapshot) Digest() string {
	h := sha256.New()
	for _, n := range s.Nodes {
		writeField(h, "n", n.ID, n.Label, n.Kind)
		writeAttrs(h, n.Attrs)
	}
	for _, e := range s.Edges {
		writeField(h, "e", e.From, e.To, e.Kind)
		writeAttrs(h, e.Attrs)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EquivalentTo reports whether both snapshots describe the same topology,
// ignoring generation and timestamps.
func (s *Snapshot) EquivalentTo(other *Snapshot) bool {
	if other == nil {
		return false
	}
	return s.Digest() == other.Digest()
}

func writeField(w io.Writer, parts ...string) {
	for _, p := range parts {
		io.WriteString(w, p)
		w.Write([]byte{0})
	}
	w.Write([]byte{1})
}

func writeAttrs(w io.Writer, attrs Attrs) {
	for _, k := range slices.Sorted(maps.Keys(attrs)) {
		writeField(w, k, attrs[k])
	}
	w.Write([]byte{2})
}

// =============================================================================
// Snapshot Serialization API
// =============================================================================

// MarshalSnapshot converts a snapshot to indented JSON bytes.
// The canonical node/edge ordering makes the output diffable.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteSnapshot(s, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteSnapshot writes a snapshot as JSON to an io.Writer.
func WriteSnapshot(s *Snapshot, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot decodes a JSON snapshot and validates its integrity.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	slices.SortFunc(s.Nodes, func(a, b Node) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(s.Edges, compareEdges)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
