// Package reconcile merges freshly fetched service descriptions into the
// previous snapshot, producing the next one.
//
// Reconciliation is deterministic: batches are processed in lexicographic
// origin order and the snapshot is canonically ordered, so the same
// current snapshot plus the same set of descriptions yields a
// byte-identical result regardless of the order origins answered in.
//
// Disappeared services are not removed immediately. A node absent from
// the incoming descriptions survives a configurable number of consecutive
// absent cycles (debounce) before it is dropped, tolerating transient
// fetch gaps; its incident edges from the previous snapshot are carried
// along with it. Structurally invalid items - empty IDs, dependencies on
// services nobody declared, forbidden self-loops - are dropped and
// reported, never fatal.
package reconcile

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/siostam/siostam/pkg/source"
	"github.com/siostam/siostam/pkg/topo"
)

// DefaultDebounceCycles is how many consecutive absent cycles a node
// survives before removal when the config does not specify a threshold.
const DefaultDebounceCycles = 2

// Problem records one dropped item and why it was dropped.
type Problem struct {
	Origin string // Origin that declared the item
	Item   string // Node ID or "from -> to" for edges
	Reason string
}

// Report summarizes one reconciliation.
type Report struct {
	Changed      bool      // Whether the topology differs from the previous snapshot
	NodesAdded   int       // Nodes not present in the previous snapshot
	NodesRemoved int       // Nodes dropped after exhausting their debounce
	Debouncing   int       // Nodes currently absent but still carried
	Dropped      []Problem // Invalid items dropped during this cycle
}

// Reconciler carries the absence counters between cycles. It is used by
// a single goroutine per the single-threaded reconciliation contract.
type Reconciler struct {
	debounceCycles int
	logger         *log.Logger

	absent map[string]int // nodeID -> consecutive cycles absent
}

// New creates a reconciler. debounceCycles <= 0 selects immediate
// removal on absence.
func New(debounceCycles int, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{
		debounceCycles: debounceCycles,
		logger:         logger,
		absent:         make(map[string]int),
	}
}

// Reconcile merges the batches into prev and returns the next snapshot.
// prev may be nil for the first cycle. When the resulting topology is
// identical to prev, prev itself is returned and Report.Changed is false;
// otherwise the new snapshot carries prev's generation plus one.
func (r *Reconciler) Reconcile(prev *topo.Snapshot, batches []source.Batch, now time.Time) (*topo.Snapshot, Report) {
	var report Report

	// Deterministic processing order regardless of fetch completion order.
	batches = slices.Clone(batches)
	slices.SortFunc(batches, func(a, b source.Batch) int { return cmp.Compare(a.Origin, b.Origin) })

	g := topo.New()
	seen := make(map[string]struct{})

	// Pass 1: declared services.
	for _, batch := range batches {
		for _, desc := range batch.Descriptions {
			svc := desc.Service
			if svc.ID == "" {
				report.drop(batch.Origin, svc.Label, "service without ID")
				continue
			}
			node := topo.Node{
				ID:       svc.ID,
				Label:    svc.Label,
				Kind:     svc.Kind,
				Attrs:    topo.Attrs(svc.Attrs),
				LastSeen: now,
			}
			if err := g.AddOrUpdateNode(node); err != nil {
				report.drop(batch.Origin, svc.ID, err.Error())
				continue
			}
			seen[svc.ID] = struct{}{}
		}
	}

	// Pass 2: debounce. Previous nodes missing from the input survive
	// until their absence streak reaches the threshold.
	carried := make(map[string]struct{})
	if prev != nil {
		for _, n := range prev.Nodes {
			if _, ok := seen[n.ID]; ok {
				delete(r.absent, n.ID)
				continue
			}
			streak := r.absent[n.ID] + 1
			if streak >= r.debounceCycles || r.debounceCycles <= 0 {
				delete(r.absent, n.ID)
				report.NodesRemoved++
				r.logger.Debug("removing service absent beyond debounce",
					"id", n.ID, "cycles", streak)
				continue
			}
			r.absent[n.ID] = streak
			carried[n.ID] = struct{}{}
			report.Debouncing++
			_ = g.AddOrUpdateNode(n) // LastSeen keeps its old value
		}
	}
	r.pruneCounters(seen, carried)

	// Pass 3: declared dependencies. Targets may live in any origin's
	// batch or be a still-carried node.
	for _, batch := range batches {
		for _, desc := range batch.Descriptions {
			if desc.Service.ID == "" {
				continue
			}
			for _, dep := range desc.Dependencies {
				edge := topo.Edge{
					From: desc.Service.ID,
					To:   dep.ID,
					Kind: dep.RelationshipKind(),
				}
				if dep.Why != "" {
					edge.Attrs = topo.Attrs{"why": dep.Why}
				}
				if err := g.AddOrUpdateEdge(edge); err != nil {
					report.drop(batch.Origin, fmt.Sprintf("%s -> %s", edge.From, edge.To), err.Error())
				}
			}
		}
	}

	// Pass 4: edges incident to carried nodes keep their previous shape
	// while the node is debouncing. Edges between two currently-declared
	// nodes are not carried - the declarations above are authoritative.
	if prev != nil && len(carried) > 0 {
		for _, e := range prev.Edges {
			_, fromCarried := carried[e.From]
			_, toCarried := carried[e.To]
			if !fromCarried && !toCarried {
				continue
			}
			_ = g.AddOrUpdateEdge(e) // endpoints missing -> silently gone with their node
		}
	}

	// Generation advances only on actual change.
	prevGen := uint64(0)
	if prev != nil {
		prevGen = prev.Generation
	}
	next := g.Snapshot(prevGen+1, now)
	if prev != nil && next.EquivalentTo(prev) {
		return prev, report
	}
	report.Changed = true
	report.NodesAdded = countAdded(prev, next)
	return next, report
}

func (r *Reconciler) pruneCounters(seen, carried map[string]struct{}) {
	for id := range r.absent {
		if _, ok := seen[id]; ok {
			delete(r.absent, id)
			continue
		}
		if _, ok := carried[id]; !ok {
			delete(r.absent, id)
		}
	}
}

func (rep *Report) drop(origin, item, reason string) {
	rep.Dropped = append(rep.Dropped, Problem{Origin: origin, Item: item, Reason: reason})
}

func countAdded(prev, next *topo.Snapshot) int {
	if prev == nil {
		return len(next.Nodes)
	}
	added := 0
	for _, n := range next.Nodes {
		if !prev.HasNode(n.ID) {
			added++
		}
	}
	return added
}
