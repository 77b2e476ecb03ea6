package graph

import (
	"reflect"
	"testing"
)

func TestNewGraph(t *testing.T) {
	g := NewGraph("corps", "corp_num")

	if g.Root != "corps" || g.RootKey != "corp_num" {
		t.Errorf("unexpected root %q/%q", g.Root, g.RootKey)
	}
	node := g.GetNode("corps")
	if node == nil || !node.IsRoot {
		t.Fatalf("expected root node, got %+v", node)
	}
	if g.NodeCount() != 1 || g.EdgeCount() != 0 {
		t.Errorf("expected 1 node and 0 edges, got %d and %d", g.NodeCount(), g.EdgeCount())
	}
}

func TestAddNode_KeepsInsertionOrder(t *testing.T) {
	g := NewGraph("corps", "corp_num")
	g.AddNode("event", &Node{FilterColumn: "corp_num"})
	g.AddNode("filing", nil)
	g.AddNode("event", &Node{FilterColumn: "corp_num"}) // replace, no reorder

	want := []string{"corps", "event", "filing"}
	if got := g.AllNodes(); !reflect.DeepEqual(got, want) {
		t.Errorf("AllNodes() = %v, want %v", got, want)
	}
	if g.GetNode("filing").Name != "filing" {
		t.Errorf("nil node should be created with its name")
	}
}

func TestAddEdge_MergesSourceColumns(t *testing.T) {
	g := NewGraph("corps", "corp_num")
	g.AddNode("office", nil)
	g.AddNode("address", nil)

	g.AddEdge("office", "address", "mailing_addr_id")
	g.AddEdge("office", "address", "delivery_addr_id")
	g.AddEdge("office", "address", "mailing_addr_id")

	if g.EdgeCount() != 1 {
		t.Errorf("expected 1 edge, got %d", g.EdgeCount())
	}
	if got := g.GetChildren("office"); !reflect.DeepEqual(got, []string{"address"}) {
		t.Errorf("GetChildren = %v", got)
	}
	if got := g.GetParents("address"); !reflect.DeepEqual(got, []string{"office"}) {
		t.Errorf("GetParents = %v", got)
	}
	meta := g.GetEdgeMeta("office", "address")
	want := []string{"mailing_addr_id", "delivery_addr_id"}
	if meta == nil || !reflect.DeepEqual(meta.SourceColumns, want) {
		t.Errorf("SourceColumns = %+v, want %v", meta, want)
	}
	if g.GetEdgeMeta("address", "office") != nil {
		t.Errorf("reverse edge should not exist")
	}
	if g.InDegree("address") != 1 {
		t.Errorf("expected in-degree 1, got %d", g.InDegree("address"))
	}
}
