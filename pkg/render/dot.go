// Package render turns snapshots into diagrams.
//
// The package splits into three layers:
//   - [ToDOT]: canonical serialization of a snapshot into the Graphviz
//     DOT language (stable ordering, so output is diffable and cacheable)
//   - [Renderer]: the capability interface over a layout engine, with a
//     subprocess implementation ([ExecRenderer]) for the system-installed
//     Graphviz and an embedded implementation ([GraphvizRenderer]) that
//     needs no external tool
//   - [Pipeline]: generation-keyed artifact caching with per-generation
//     single-flight and a bounded number of concurrent engine runs
package render

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/siostam/siostam/pkg/topo"
)

// ToDOT converts a snapshot to Graphviz DOT format. The snapshot's
// canonical node/edge ordering is preserved, so equal snapshots produce
// byte-identical DOT text.
func ToDOT(s *topo.Snapshot) []byte {
	var buf bytes.Buffer
	buf.WriteString("digraph services {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=14, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.6;\n")
	buf.WriteString("  nodesep=0.4;\n")
	buf.WriteString("\n")

	for _, n := range s.Nodes {
		attrs := nodeAttrs(n)
		fmt.Fprintf(&buf, "  %q [%s];\n", n.ID, joinAttrs(attrs))
	}

	buf.WriteString("\n")
	for _, e := range s.Edges {
		attrs := edgeAttrs(e)
		if len(attrs) == 0 {
			fmt.Fprintf(&buf, "  %q -> %q;\n", e.From, e.To)
			continue
		}
		fmt.Fprintf(&buf, "  %q -> %q [%s];\n", e.From, e.To, joinAttrs(attrs))
	}

	buf.WriteString("}\n")
	return buf.Bytes()
}

func nodeAttrs(n topo.Node) []string {
	attrs := []string{fmt.Sprintf("label=%q", n.DisplayLabel())}
	if n.Kind != "" {
		attrs = append(attrs, fmt.Sprintf("tooltip=%q", n.Kind))
	}
	if desc, ok := n.Attrs["description"]; ok {
		attrs = append(attrs, fmt.Sprintf("comment=%q", desc))
	}
	return attrs
}

func edgeAttrs(e topo.Edge) []string {
	var attrs []string
	if e.Kind == topo.KindCalls {
		attrs = append(attrs, "style=dashed")
	}
	if why, ok := e.Attrs["why"]; ok {
		attrs = append(attrs, fmt.Sprintf("tooltip=%q", why))
	}
	// Remaining attributes become label-free comments, sorted for stability.
	for _, k := range slices.Sorted(maps.Keys(e.Attrs)) {
		if k == "why" {
			continue
		}
		attrs = append(attrs, fmt.Sprintf("comment=%q", k+"="+e.Attrs[k]))
	}
	return attrs
}

func joinAttrs(attrs []string) string {
	var buf bytes.Buffer
	for i, a := range attrs {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(a)
	}
	return buf.String()
}
