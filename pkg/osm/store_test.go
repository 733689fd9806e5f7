package osm

import (
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestStoreIndexIdempotent(t *testing.T) {
	s := NewStore(testLogger())
	n1 := &Node{ID: 1, Version: 1, Lat: 52.5, Lon: 13.4}
	s.Index([]*Node{n1}, nil, nil)
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}

	// Re-indexing the same id replaces rather than duplicates.
	n2 := &Node{ID: 1, Version: 2, Lat: 52.6, Lon: 13.5}
	s.Index([]*Node{n2}, nil, nil)
	if s.Len() != 1 {
		t.Fatalf("Len() after reindex = %d, want 1", s.Len())
	}
	got, ok := s.Node(1)
	if !ok {
		t.Fatal("Node(1) not found")
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}
}

func TestStoreResolve(t *testing.T) {
	s := NewStore(testLogger())
	s.Index(
		[]*Node{{ID: 10, Lat: 1, Lon: 2}},
		[]*Way{{ID: 20, Refs: []NodeRef{{Ref: 10}}}},
		[]*Relation{{ID: 30}},
	)

	tests := []struct {
		name string
		ref  Ref
		want bool
	}{
		{"node present", Ref{TypeNode, 10}, true},
		{"way present", Ref{TypeWay, 20}, true},
		{"closedway resolves as way", Ref{TypeClosedWay, 20}, true},
		{"relation present", Ref{TypeRelation, 30}, true},
		{"node absent", Ref{TypeNode, 99}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := s.Resolve(tt.ref)
			if ok != tt.want {
				t.Errorf("Resolve(%v) = %v, want %v", tt.ref, ok, tt.want)
			}
		})
	}
}

func TestResolveWayNodesSkipsMissing(t *testing.T) {
	s := NewStore(testLogger())
	s.Index(
		[]*Node{{ID: 1, Lat: 1, Lon: 1}, {ID: 3, Lat: 3, Lon: 3}},
		nil, nil,
	)
	w := &Way{ID: 5, Refs: []NodeRef{{Ref: 1}, {Ref: 2}, {Ref: 3}}}
	nodes := s.ResolveWayNodes(w)
	if len(nodes) != 2 {
		t.Fatalf("resolved %d nodes, want 2", len(nodes))
	}
	if nodes[0].ID != 1 || nodes[1].ID != 3 {
		t.Errorf("resolved ids = [%d %d], want [1 3]", nodes[0].ID, nodes[1].ID)
	}
}

func TestStoreRemove(t *testing.T) {
	s := NewStore(testLogger())
	s.Index([]*Node{{ID: 1}}, nil, nil)
	s.Remove(Ref{TypeNode, 1})
	if _, ok := s.Node(1); ok {
		t.Error("node still present after Remove")
	}
}

func TestWayClosed(t *testing.T) {
	tests := []struct {
		name string
		refs []int64
		want bool
	}{
		{"ring", []int64{1, 2, 3, 1}, true},
		{"open", []int64{1, 2, 3, 4}, false},
		{"degenerate two-node loop", []int64{1, 1}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &Way{}
			for _, id := range tt.refs {
				w.Refs = append(w.Refs, NodeRef{Ref: id})
			}
			if got := w.Closed(); got != tt.want {
				t.Errorf("Closed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTagsAccessors(t *testing.T) {
	tags := Tags{{Key: "highway", Value: "residential"}, {Key: "name", Value: "A"}}
	if v, ok := tags.Find("name"); !ok || v != "A" {
		t.Errorf("Find(name) = %q, %v", v, ok)
	}
	if _, ok := tags.Find("surface"); ok {
		t.Error("Find(surface) should miss")
	}
	tags = tags.Set("name", "B")
	if v, _ := tags.Find("name"); v != "B" {
		t.Errorf("after Set, name = %q", v)
	}
	if len(tags) != 2 {
		t.Errorf("Set replaced in place, len = %d, want 2", len(tags))
	}
	tags = tags.Set("surface", "asphalt")
	if len(tags) != 3 {
		t.Errorf("Set appended, len = %d, want 3", len(tags))
	}
}
