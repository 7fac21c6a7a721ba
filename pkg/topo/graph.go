package topo

import (
	"errors"
	"maps"
)

var (
	// ErrInvalidNodeID is returned by [Graph.AddOrUpdateNode] when the
	// node ID is empty. All nodes must have non-empty identifiers.
	ErrInvalidNodeID = errors.New("node ID must not be empty")

	// ErrUnknownSourceNode is returned by [Graph.AddOrUpdateEdge] when
	// the From node does not exist in the graph.
	ErrUnknownSourceNode = errors.New("unknown source node")

	// ErrUnknownTargetNode is returned by [Graph.AddOrUpdateEdge] when
	// the To node does not exist in the graph.
	ErrUnknownTargetNode = errors.New("unknown target node")

	// ErrSelfLoop is returned by [Graph.AddOrUpdateEdge] when From and To
	// are equal and the relationship kind does not permit self-loops.
	ErrSelfLoop = errors.New("self-loop not permitted for this relationship kind")
)

// Graph is a mutable directed graph of services and their relationships.
// It guarantees referential integrity: edges can only be added between
// existing nodes, and removing a node removes its incident edges in the
// same mutation.
//
// The zero value is not usable - use [New] or [FromSnapshot].
type Graph struct {
	nodes    map[string]*Node
	edges    map[EdgeID]*Edge
	incident map[string]map[EdgeID]struct{} // nodeID -> edges touching it
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]*Node),
		edges:    make(map[EdgeID]*Edge),
		incident: make(map[string]map[EdgeID]struct{}),
	}
}

// FromSnapshot reconstructs a mutable graph from an immutable snapshot.
// The snapshot is not modified; nodes and edges are copied.
func FromSnapshot(s *Snapshot) *Graph {
	g := New()
	for _, n := range s.Nodes {
		// Snapshots are already integrity-checked, errors cannot occur here.
		_ = g.AddOrUpdateNode(n)
	}
	for _, e := range s.Edges {
		_ = g.AddOrUpdateEdge(e)
	}
	return g
}

// AddOrUpdateNode inserts the node or merges it into an existing node
// with the same ID. Merging unions the attribute maps with the incoming
// value winning conflicting keys; Label and Kind are overwritten when
// non-empty, and LastSeen is overwritten when newer.
func (g *Graph) AddOrUpdateNode(n Node) error {
	if n.ID == "" {
		return ErrInvalidNodeID
	}

	existing, ok := g.nodes[n.ID]
	if !ok {
		node := n
		node.Attrs = n.Attrs.Clone()
		g.nodes[node.ID] = &node
		return nil
	}

	if n.Label != "" {
		existing.Label = n.Label
	}
	if n.Kind != "" {
		existing.Kind = n.Kind
	}
	if n.LastSeen.After(existing.LastSeen) {
		existing.LastSeen = n.LastSeen
	}
	if len(n.Attrs) > 0 {
		if existing.Attrs == nil {
			existing.Attrs = make(Attrs, len(n.Attrs))
		}
		maps.Copy(existing.Attrs, n.Attrs)
	}
	return nil
}

// AddOrUpdateEdge inserts the edge or merges attributes into an existing
// edge with the same (From, To, Kind) identity. Both endpoints must
// already exist; self-loops are rejected unless the kind permits them.
func (g *Graph) AddOrUpdateEdge(e Edge) error {
	if _, ok := g.nodes[e.From]; !ok {
		return ErrUnknownSourceNode
	}
	if _, ok := g.nodes[e.To]; !ok {
		return ErrUnknownTargetNode
	}
	if e.From == e.To && !SelfLoopAllowed(e.Kind) {
		return ErrSelfLoop
	}

	id := e.Identity()
	existing, ok := g.edges[id]
	if !ok {
		edge := e
		edge.Attrs = e.Attrs.Clone()
		g.edges[id] = &edge
		g.attach(e.From, id)
		g.attach(e.To, id)
		return nil
	}

	if len(e.Attrs) > 0 {
		if existing.Attrs == nil {
			existing.Attrs = make(Attrs, len(e.Attrs))
		}
		maps.Copy(existing.Attrs, e.Attrs)
	}
	return nil
}

// RemoveNode deletes the node and every edge touching it in the same
// mutation. Reports whether the node existed.
func (g *Graph) RemoveNode(id string) bool {
	if _, ok := g.nodes[id]; !ok {
		return false
	}
	for edgeID := range g.incident[id] {
		g.removeEdge(edgeID)
	}
	delete(g.incident, id)
	delete(g.nodes, id)
	return true
}

// Node returns a copy of the node with the given ID.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	node := *n
	node.Attrs = n.Attrs.Clone()
	return node, true
}

// Edge returns a copy of the edge with the given identity.
func (g *Graph) Edge(id EdgeID) (Edge, bool) {
	e, ok := g.edges[id]
	if !ok {
		return Edge{}, false
	}
	edge := *e
	edge.Attrs = e.Attrs.Clone()
	return edge, true
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// NodeIDs returns the set of node identities.
func (g *Graph) NodeIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(g.nodes))
	for id := range g.nodes {
		ids[id] = struct{}{}
	}
	return ids
}

func (g *Graph) attach(nodeID string, edgeID EdgeID) {
	set, ok := g.incident[nodeID]
	if !ok {
		set = make(map[EdgeID]struct{})
		g.incident[nodeID] = set
	}
	set[edgeID] = struct{}{}
}

func (g *Graph) removeEdge(id EdgeID) {
	delete(g.edges, id)
	if set, ok := g.incident[id.From]; ok {
		delete(set, id)
	}
	if set, ok := g.incident[id.To]; ok {
		delete(set, id)
	}
}
