package graph

import (
	"errors"
	"testing"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestVertexRoundTrip(t *testing.T) {
	s := openTest(t)
	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	id, err := tx.CreateVertex(Props{"name": "a", "count": int64(42), "ratio": 0.5})
	if err != nil {
		t.Fatalf("failed to create vertex: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	tx.Discard()

	view := s.View()
	defer view.Discard()
	props, err := view.Vertex(id)
	if err != nil {
		t.Fatalf("failed to read vertex: %v", err)
	}
	if name, _ := props.Str("name"); name != "a" {
		t.Errorf("name = %q, want a", name)
	}
	// Integral numbers must come back as int64, not float64.
	if count, ok := props.Int64("count"); !ok || count != 42 {
		t.Errorf("count = %v (%T), want int64 42", props["count"], props["count"])
	}
	if ratio, ok := props.Float64("ratio"); !ok || ratio != 0.5 {
		t.Errorf("ratio = %v, want 0.5", props["ratio"])
	}
}

func TestVertexNotFound(t *testing.T) {
	s := openTest(t)
	view := s.View()
	defer view.Discard()
	if _, err := view.Vertex(12345); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	ok, err := view.HasVertex(12345)
	if err != nil || ok {
		t.Errorf("HasVertex = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestEdgeCreationOrder(t *testing.T) {
	s := openTest(t)
	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	hub, _ := tx.CreateVertex(nil)
	var spokes []VertexID
	for i := 0; i < 5; i++ {
		v, _ := tx.CreateVertex(nil)
		spokes = append(spokes, v)
		if err := tx.CreateEdge(hub, v, EdgeNext, Props{"i": int64(i)}); err != nil {
			t.Fatalf("failed to create edge: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	tx.Discard()

	view := s.View()
	defer view.Discard()
	edges, err := view.OutEdges(hub, EdgeNext)
	if err != nil {
		t.Fatalf("failed to read edges: %v", err)
	}
	if len(edges) != 5 {
		t.Fatalf("got %d edges, want 5", len(edges))
	}
	for i, e := range edges {
		if e.To != spokes[i] {
			t.Errorf("edge %d points at %d, want %d (creation order lost)", i, e.To, spokes[i])
		}
		if n, _ := e.Props.Int64("i"); n != int64(i) {
			t.Errorf("edge %d carries i=%d, want %d", i, n, i)
		}
	}

	// The reverse index sees the same edges.
	in, err := view.InEdges(spokes[2], EdgeNext)
	if err != nil {
		t.Fatalf("failed to read in-edges: %v", err)
	}
	if len(in) != 1 || in[0].From != hub {
		t.Errorf("in-edges of spoke = %+v, want one from hub", in)
	}
}

func TestEdgeTypeIsolation(t *testing.T) {
	s := openTest(t)
	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	a, _ := tx.CreateVertex(nil)
	b, _ := tx.CreateVertex(nil)
	tx.CreateEdge(a, b, EdgeNext, nil)
	tx.CreateEdge(a, b, EdgeTags, nil)
	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	tx.Discard()

	view := s.View()
	defer view.Discard()
	next, _ := view.OutEdges(a, EdgeNext)
	tags, _ := view.OutEdges(a, EdgeTags)
	geom, _ := view.OutEdges(a, EdgeGeom)
	if len(next) != 1 || len(tags) != 1 || len(geom) != 0 {
		t.Errorf("edge counts next=%d tags=%d geom=%d, want 1/1/0", len(next), len(tags), len(geom))
	}
}

func TestIndexLookup(t *testing.T) {
	s := openTest(t)
	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	v, _ := tx.CreateVertex(Props{"node_osm_id": int64(7)})
	if err := tx.SetIndex("node", "node_osm_id", int64(7), v); err != nil {
		t.Fatalf("failed to set index: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	tx.Discard()

	view := s.View()
	defer view.Discard()
	got, ok, err := view.LookupIndex("node", "node_osm_id", int64(7))
	if err != nil || !ok || got != v {
		t.Errorf("lookup = (%d, %v, %v), want (%d, true, nil)", got, ok, err, v)
	}
	if _, ok, _ := view.LookupIndex("node", "node_osm_id", int64(8)); ok {
		t.Errorf("lookup of unknown id succeeded")
	}
}

func TestPendingBytesGrowWithWrites(t *testing.T) {
	s := openTest(t)
	tx, err := s.Begin()
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	defer tx.Discard()

	if tx.PendingBytes() != 0 {
		t.Fatalf("fresh transaction reports %d pending bytes", tx.PendingBytes())
	}
	a, _ := tx.CreateVertex(Props{"name": "a"})
	afterVertex := tx.PendingBytes()
	if afterVertex <= 0 {
		t.Fatal("vertex write not accounted")
	}
	b, _ := tx.CreateVertex(nil)
	if err := tx.CreateEdge(a, b, EdgeNext, nil); err != nil {
		t.Fatalf("failed to create edge: %v", err)
	}
	if tx.PendingBytes() <= afterVertex {
		t.Error("edge write not accounted")
	}
	if err := tx.SetIndex("node", "node_osm_id", int64(1), a); err != nil {
		t.Fatalf("failed to set index: %v", err)
	}
	grown := tx.PendingBytes()
	if grown <= afterVertex {
		t.Error("index write not accounted")
	}

	// Reads leave the count alone.
	if _, err := tx.Vertex(a); err != nil {
		t.Fatalf("failed to read vertex: %v", err)
	}
	if tx.PendingBytes() != grown {
		t.Errorf("read changed pending bytes: %d -> %d", grown, tx.PendingBytes())
	}
}

func TestSequencesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	tx, _ := s.Begin()
	first, _ := tx.CreateVertex(nil)
	if err := tx.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}
	tx.Discard()
	if err := s.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s2.Close()
	tx2, _ := s2.Begin()
	defer tx2.Discard()
	second, _ := tx2.CreateVertex(nil)
	if second <= first {
		t.Errorf("vertex id %d not past %d after reopen", second, first)
	}
}
