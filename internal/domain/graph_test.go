package domain

import (
	"strings"
	"testing"
)

// linearGraph: start → work → finish, плюс data-ребро work → finish.
func linearGraph() Graph {
	return Graph{
		Nodes: []Node{
			{ID: "start", Type: "start", Capability: CapabilityPassthrough},
			{ID: "work", Type: "http"},
			{ID: "finish", Type: "set"},
		},
		Edges: []Edge{
			{SourceNode: "start", SourcePort: "exec-out", TargetNode: "work"},
			{SourceNode: "work", SourcePort: "exec-out", TargetNode: "finish"},
			{SourceNode: "work", SourcePort: "body", TargetNode: "finish", TargetPort: "value", Kind: EdgeData},
		},
	}
}

func TestGraph_EntryNode_Explicit(t *testing.T) {
	g := linearGraph()
	g.Entry = "work"

	entry, err := g.EntryNode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.ID != "work" {
		t.Errorf("entry = %s, want work", entry.ID)
	}
}

func TestGraph_EntryNode_ExplicitMissing(t *testing.T) {
	g := linearGraph()
	g.Entry = "ghost"

	if _, err := g.EntryNode(); err == nil {
		t.Fatal("expected error for entry pointing at missing node")
	}
}

func TestGraph_EntryNode_AutoDetect(t *testing.T) {
	g := linearGraph()

	entry, err := g.EntryNode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.ID != "start" {
		t.Errorf("entry = %s, want start", entry.ID)
	}
}

func TestGraph_EntryNode_DataEdgesDoNotCount(t *testing.T) {
	// source имеет только входящее data-ребро: exec-входа нет, и он
	// остаётся кандидатом наравне со start — вход неоднозначен.
	g := Graph{
		Nodes: []Node{
			{ID: "start", Type: "start"},
			{ID: "source", Type: "set"},
		},
		Edges: []Edge{
			{SourceNode: "start", SourcePort: "value", TargetNode: "source", TargetPort: "value", Kind: EdgeData},
		},
	}

	_, err := g.EntryNode()
	if err == nil {
		t.Fatal("expected ambiguity error: data edges must not resolve the entry")
	}
	if !strings.Contains(err.Error(), "2 entry candidates") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGraph_EntryNode_Cycle(t *testing.T) {
	g := Graph{
		Nodes: []Node{
			{ID: "a", Type: "set"},
			{ID: "b", Type: "set"},
		},
		Edges: []Edge{
			{SourceNode: "a", SourcePort: "exec-out", TargetNode: "b"},
			{SourceNode: "b", SourcePort: "exec-out", TargetNode: "a"},
		},
	}

	if _, err := g.EntryNode(); err == nil {
		t.Fatal("expected error: cycle leaves no entry candidate")
	}
}

func TestGraph_ExecTargets(t *testing.T) {
	g := Graph{
		Nodes: []Node{
			{ID: "cond", Type: "if"},
			{ID: "yes", Type: "set"},
			{ID: "no", Type: "set"},
		},
		Edges: []Edge{
			{SourceNode: "cond", SourcePort: "true", TargetNode: "yes"},
			{SourceNode: "cond", SourcePort: "false", TargetNode: "no"},
		},
	}

	got := g.ExecTargets("cond", "true")
	if len(got) != 1 || got[0] != "yes" {
		t.Errorf("ExecTargets(cond, true) = %v, want [yes]", got)
	}

	if got := g.ExecTargets("cond", "maybe"); len(got) != 0 {
		t.Errorf("unknown port should have no targets, got %v", got)
	}

	all := g.ExecOutTargets("cond")
	if len(all) != 2 {
		t.Errorf("ExecOutTargets(cond) = %v, want both branches", all)
	}
}

func TestGraph_DataEdgesInto(t *testing.T) {
	g := linearGraph()

	edges := g.DataEdgesInto("finish")
	if len(edges) != 1 {
		t.Fatalf("expected 1 data edge into finish, got %d", len(edges))
	}
	if edges[0].SourceNode != "work" || edges[0].TargetPort != "value" {
		t.Errorf("unexpected data edge: %+v", edges[0])
	}

	// Exec-рёбра в выборку не попадают.
	if got := g.DataEdgesInto("work"); len(got) != 0 {
		t.Errorf("expected no data edges into work, got %v", got)
	}
}

func TestGraph_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(g *Graph)
		wantErr string
	}{
		{
			name:   "valid graph",
			mutate: func(g *Graph) {},
		},
		{
			name:    "no nodes",
			mutate:  func(g *Graph) { g.Nodes = nil },
			wantErr: "no nodes",
		},
		{
			name:    "empty node id",
			mutate:  func(g *Graph) { g.Nodes[1].ID = "" },
			wantErr: "empty id",
		},
		{
			name:    "empty node type",
			mutate:  func(g *Graph) { g.Nodes[1].Type = "" },
			wantErr: "empty type",
		},
		{
			name:    "duplicate node id",
			mutate:  func(g *Graph) { g.Nodes[2].ID = "work" },
			wantErr: "duplicate node id",
		},
		{
			name:    "edge from unknown node",
			mutate:  func(g *Graph) { g.Edges[0].SourceNode = "ghost" },
			wantErr: "unknown source node",
		},
		{
			name:    "edge to unknown node",
			mutate:  func(g *Graph) { g.Edges[1].TargetNode = "ghost" },
			wantErr: "unknown target node",
		},
		{
			name:    "exec edge without source port",
			mutate:  func(g *Graph) { g.Edges[0].SourcePort = "" },
			wantErr: "without source port",
		},
		{
			name:    "unresolvable entry",
			mutate:  func(g *Graph) { g.Entry = "ghost" },
			wantErr: "not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := linearGraph()
			tt.mutate(&g)

			err := g.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestNode_EffectiveCapability(t *testing.T) {
	n := Node{ID: "a", Type: "set"}
	if got := n.EffectiveCapability(); got != CapabilityExecutable {
		t.Errorf("default capability = %s, want executable", got)
	}

	n.Capability = CapabilityControlFlow
	if got := n.EffectiveCapability(); got != CapabilityControlFlow {
		t.Errorf("capability = %s, want control-flow", got)
	}
}

func TestEdge_EffectiveKind(t *testing.T) {
	e := Edge{SourceNode: "a", TargetNode: "b"}
	if got := e.EffectiveKind(); got != EdgeExec {
		t.Errorf("default kind = %s, want exec", got)
	}

	e.Kind = EdgeData
	if got := e.EffectiveKind(); got != EdgeData {
		t.Errorf("kind = %s, want data", got)
	}
}
