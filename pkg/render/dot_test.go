package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/siostam/siostam/pkg/topo"
)

func testSnapshot(t *testing.T) *topo.Snapshot {
	t.Helper()
	g := topo.New()
	nodes := []topo.Node{
		{ID: "api", Label: "API Gateway", Kind: "service"},
		{ID: "db", Kind: "datastore", Attrs: topo.Attrs{"description": "primary store"}},
		{ID: "worker"},
	}
	for _, n := range nodes {
		if err := g.AddOrUpdateNode(n); err != nil {
			t.Fatal(err)
		}
	}
	edges := []topo.Edge{
		{From: "api", To: "db", Kind: topo.KindDependsOn, Attrs: topo.Attrs{"why": "persistence"}},
		{From: "worker", To: "api", Kind: topo.KindCalls},
	}
	for _, e := range edges {
		if err := g.AddOrUpdateEdge(e); err != nil {
			t.Fatal(err)
		}
	}
	return g.Snapshot(1, time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC))
}

func TestToDOT(t *testing.T) {
	dot := string(ToDOT(testSnapshot(t)))

	for _, want := range []string{
		"digraph services {",
		`"api" [label="API Gateway", tooltip="service"];`,
		`"db" [label="db", tooltip="datastore", comment="primary store"];`,
		`"worker" [label="worker"];`,
		`"api" -> "db" [tooltip="persistence"];`,
		`"worker" -> "api" [style=dashed];`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT missing %q:\n%s", want, dot)
		}
	}
}

func TestToDOTDeterministic(t *testing.T) {
	s := testSnapshot(t)
	if !bytes.Equal(ToDOT(s), ToDOT(s)) {
		t.Error("ToDOT not deterministic")
	}
}

func TestToDOTOrderFollowsSnapshot(t *testing.T) {
	dot := string(ToDOT(testSnapshot(t)))

	api := strings.Index(dot, `"api" [`)
	db := strings.Index(dot, `"db" [`)
	worker := strings.Index(dot, `"worker" [`)
	if !(api < db && db < worker) {
		t.Errorf("nodes not in canonical order: api=%d db=%d worker=%d", api, db, worker)
	}
}

func TestToDOTEmptySnapshot(t *testing.T) {
	s := topo.New().Snapshot(0, time.Now())
	dot := string(ToDOT(s))
	if !strings.HasPrefix(dot, "digraph services {") || !strings.HasSuffix(dot, "}\n") {
		t.Errorf("empty snapshot produced malformed DOT:\n%s", dot)
	}
}
