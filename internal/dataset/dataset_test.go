package dataset

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/julienmarie/spatial/internal/build"
	"github.com/julienmarie/spatial/internal/graph"
	"github.com/julienmarie/spatial/internal/stream"
)

func materialize(t *testing.T, records ...stream.Record) *graph.Store {
	t.Helper()
	store, err := graph.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	w, err := build.NewGraphWriter(store, 1000, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()
	im := build.NewImporter(w, build.Options{Dataset: "osm"}, zap.NewNop())
	if _, err := im.Run(context.Background(), stream.NewSliceSource(records...)); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	return store
}

func node(id int64, lon, lat float64) *stream.NodeRecord {
	return &stream.NodeRecord{ID: id, Lon: lon, Lat: lat}
}

func way(id int64, nodeIDs []int64, tags map[string]string) *stream.WayRecord {
	return &stream.WayRecord{ID: id, NodeIDs: nodeIDs, Tags: tags}
}

func testStore(t *testing.T) *graph.Store {
	return materialize(t,
		node(1, 0, 0),
		node(2, 1, 0),
		node(3, 2, 0),
		node(4, 2, 1),
		node(5, 3, 1),
		way(10, []int64{1, 2, 3}, map[string]string{"highway": "residential", "name": "First"}),
		way(11, []int64{3, 4, 5}, map[string]string{"highway": "service", "oneway": "-1"}),
		way(12, []int64{1, 2, 3, 1}, map[string]string{"building": "yes"}),
	)
}

func TestOpenUnknownDataset(t *testing.T) {
	store := testStore(t)
	if _, err := Open(store, "nope"); err == nil {
		t.Fatal("expected an error for an unknown dataset")
	}
}

func TestWaysDocumentOrder(t *testing.T) {
	store := testStore(t)
	d, err := Open(store, "osm")
	if err != nil {
		t.Fatalf("failed to open dataset: %v", err)
	}
	defer d.Close()

	var ids []int64
	it := d.Ways()
	for {
		w, err := it.Next()
		if err != nil {
			t.Fatalf("way iteration failed: %v", err)
		}
		if w == nil {
			break
		}
		ids = append(ids, w.OSMID)
	}
	want := []int64{10, 11, 12}
	if len(ids) != len(want) {
		t.Fatalf("got ways %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got ways %v, want %v", ids, want)
		}
	}
}

func findWay(t *testing.T, d *Dataset, osmID int64) *Way {
	t.Helper()
	it := d.Ways()
	for {
		w, err := it.Next()
		if err != nil {
			t.Fatalf("way iteration failed: %v", err)
		}
		if w == nil {
			t.Fatalf("way %d not found", osmID)
		}
		if w.OSMID == osmID {
			return w
		}
	}
}

func collectPoints(t *testing.T, d *Dataset, w *Way) []int64 {
	t.Helper()
	it, err := d.WayPoints(w)
	if err != nil {
		t.Fatalf("failed to start point iteration: %v", err)
	}
	var ids []int64
	for {
		p, err := it.Next()
		if err != nil {
			t.Fatalf("point iteration failed: %v", err)
		}
		if p == nil {
			return ids
		}
		ids = append(ids, p.OSMID)
	}
}

func TestWayPointsForward(t *testing.T) {
	store := testStore(t)
	d, err := Open(store, "osm")
	if err != nil {
		t.Fatalf("failed to open dataset: %v", err)
	}
	defer d.Close()

	got := collectPoints(t, d, findWay(t, d, 10))
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got points %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got points %v, want %v", got, want)
		}
	}
}

func TestWayPointsAgainstEdgeDirection(t *testing.T) {
	store := testStore(t)
	d, err := Open(store, "osm")
	if err != nil {
		t.Fatalf("failed to open dataset: %v", err)
	}
	defer d.Close()

	// Way 11 is a reversed one-way: its chain edges run against document
	// order, but reconstruction must still yield document order.
	got := collectPoints(t, d, findWay(t, d, 11))
	want := []int64{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("got points %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got points %v, want %v", got, want)
		}
	}
}

func TestWayPointsReversedRing(t *testing.T) {
	// A closed reversed one-way is a plain cycle in the store; without the
	// stored orientation the walk from the shared first occurrence could
	// just as well run the ring backwards.
	store := materialize(t,
		node(1, 0, 0),
		node(2, 1, 0),
		node(3, 0, 1),
		way(20, []int64{1, 2, 3, 1}, map[string]string{"junction": "roundabout", "oneway": "-1"}),
	)
	d, err := Open(store, "osm")
	if err != nil {
		t.Fatalf("failed to open dataset: %v", err)
	}
	defer d.Close()

	got := collectPoints(t, d, findWay(t, d, 20))
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got points %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got points %v, want %v", got, want)
		}
	}
}

func TestWayPointsRingStops(t *testing.T) {
	store := testStore(t)
	d, err := Open(store, "osm")
	if err != nil {
		t.Fatalf("failed to open dataset: %v", err)
	}
	defer d.Close()

	got := collectPoints(t, d, findWay(t, d, 12))
	// The ring's closing occurrence is the first one again; iteration must
	// terminate rather than loop.
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got points %v, want %v", got, want)
	}
}

func TestWayPointsReset(t *testing.T) {
	store := testStore(t)
	d, err := Open(store, "osm")
	if err != nil {
		t.Fatalf("failed to open dataset: %v", err)
	}
	defer d.Close()

	it, err := d.WayPoints(findWay(t, d, 10))
	if err != nil {
		t.Fatalf("failed to start point iteration: %v", err)
	}
	first, err := it.Next()
	if err != nil || first == nil {
		t.Fatalf("first point missing (err=%v)", err)
	}
	for {
		p, err := it.Next()
		if err != nil {
			t.Fatalf("point iteration failed: %v", err)
		}
		if p == nil {
			break
		}
	}
	it.Reset()
	again, err := it.Next()
	if err != nil || again == nil {
		t.Fatalf("iteration after Reset missing first point (err=%v)", err)
	}
	if again.OSMID != first.OSMID {
		t.Errorf("after Reset got point %d, want %d", again.OSMID, first.OSMID)
	}
}

func TestWayContaining(t *testing.T) {
	store := testStore(t)
	d, err := Open(store, "osm")
	if err != nil {
		t.Fatalf("failed to open dataset: %v", err)
	}
	defer d.Close()

	tests := []struct {
		nodeID int64
		wayIDs map[int64]bool // any of these is a correct owner
	}{
		{nodeID: 4, wayIDs: map[int64]bool{11: true}},
		{nodeID: 2, wayIDs: map[int64]bool{10: true, 12: true}},
		{nodeID: 3, wayIDs: map[int64]bool{10: true, 11: true, 12: true}},
	}
	for _, tc := range tests {
		w, err := d.WayContaining(tc.nodeID)
		if err != nil {
			t.Fatalf("WayContaining(%d) failed: %v", tc.nodeID, err)
		}
		if w == nil {
			t.Fatalf("WayContaining(%d) found nothing", tc.nodeID)
		}
		if !tc.wayIDs[w.OSMID] {
			t.Errorf("WayContaining(%d) = way %d, want one of %v", tc.nodeID, w.OSMID, tc.wayIDs)
		}
	}
}

func TestWayContainingUnreferencedPoint(t *testing.T) {
	store := materialize(t, node(1, 0, 0))
	d, err := Open(store, "osm")
	if err != nil {
		t.Fatalf("failed to open dataset: %v", err)
	}
	defer d.Close()

	w, err := d.WayContaining(1)
	if err != nil {
		t.Fatalf("WayContaining failed: %v", err)
	}
	if w != nil {
		t.Errorf("got way %d for a point no way references", w.OSMID)
	}
}

func TestCounts(t *testing.T) {
	store := testStore(t)
	d, err := Open(store, "osm")
	if err != nil {
		t.Fatalf("failed to open dataset: %v", err)
	}
	defer d.Close()

	counts, err := d.Counts()
	if err != nil {
		t.Fatalf("failed to read counts: %v", err)
	}
	if counts.Nodes != 5 {
		t.Errorf("nodeCount = %d, want 5", counts.Nodes)
	}
	if counts.Ways != 3 {
		t.Errorf("wayCount = %d, want 3", counts.Ways)
	}
}
