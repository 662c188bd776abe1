package build

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/julienmarie/spatial/internal/graph"
)

func newTestWriter(t *testing.T, commitInterval int) *GraphWriter {
	t.Helper()
	store := openTestStore(t)
	w, err := NewGraphWriter(store, commitInterval, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	t.Cleanup(w.Close)
	if _, err := w.Dataset("osm"); err != nil {
		t.Fatalf("failed to bind dataset: %v", err)
	}
	return w
}

func TestCreateEntityDeduplicates(t *testing.T) {
	w := newTestWriter(t, 1000)

	a, err := w.CreateEntity("node", map[string]any{KeyNodeID: int64(5), "lon": 1.0, "lat": 2.0}, KeyNodeID)
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	b, err := w.CreateEntity("node", map[string]any{KeyNodeID: int64(5), "lon": 1.0, "lat": 2.0}, KeyNodeID)
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if a.id != b.id {
		t.Errorf("duplicate external id produced two vertices: %d and %d", a.id, b.id)
	}
}

func TestUserAndChangesetSlots(t *testing.T) {
	w := newTestWriter(t, 1000)

	u1, created, err := w.UserFor(7, "mapper", 0)
	if err != nil || !created {
		t.Fatalf("first UserFor: created=%v err=%v", created, err)
	}
	u2, created, err := w.UserFor(7, "mapper", 0)
	if err != nil || created {
		t.Fatalf("second UserFor: created=%v err=%v", created, err)
	}
	if u1.id != u2.id {
		t.Errorf("user slot missed: %d vs %d", u1.id, u2.id)
	}

	cs, created, err := w.ChangesetFor(100, 0, u1)
	if err != nil || !created {
		t.Fatalf("first ChangesetFor: created=%v err=%v", created, err)
	}

	// A record with no changeset clears the slot.
	none, created, err := w.ChangesetFor(0, 0, u1)
	if err != nil || created || none != nil {
		t.Fatalf("zero changeset: ref=%v created=%v err=%v", none, created, err)
	}

	// And the next occurrence resolves through the index again.
	again, created, err := w.ChangesetFor(100, 0, u1)
	if err != nil || created {
		t.Fatalf("ChangesetFor after clear: created=%v err=%v", created, err)
	}
	if again.id != cs.id {
		t.Errorf("changeset identity lost across slot clear: %d vs %d", again.id, cs.id)
	}
}

func TestRefRevalidationAfterCommit(t *testing.T) {
	w := newTestWriter(t, 1000)

	ref, err := w.CreateEntity("node", map[string]any{KeyNodeID: int64(9), "lon": 3.0, "lat": 4.0}, KeyNodeID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if ref.gen == w.gen {
		t.Fatalf("ref generation should be stale after a commit boundary")
	}

	// Using the stale ref must transparently re-acquire it.
	lon, lat, err := w.PointLocation(ref)
	if err != nil {
		t.Fatalf("stale ref not revalidated: %v", err)
	}
	if lon != 3.0 || lat != 4.0 {
		t.Errorf("got (%v, %v), want (3, 4)", lon, lat)
	}
	if ref.gen != w.gen {
		t.Errorf("ref generation not refreshed")
	}
}

func TestBatchClosesOnSize(t *testing.T) {
	w := newTestWriter(t, 1<<30)
	w.maxBatchBytes = 2048

	// With an effectively unbounded operation interval, only the byte cap
	// can close batches; without it the store would eventually reject the
	// oversized transaction outright.
	bulky := map[string]string{"note": strings.Repeat("x", 512)}
	startGen := w.gen
	for i := int64(1); i <= 50; i++ {
		ref, err := w.CreateEntity("node",
			map[string]any{KeyNodeID: i, "lon": float64(i), "lat": 0.0}, KeyNodeID)
		if err != nil {
			t.Fatalf("create %d failed: %v", i, err)
		}
		if err := w.AddTags(ref, bulky, "node"); err != nil {
			t.Fatalf("tags %d failed: %v", i, err)
		}
	}
	if w.gen == startGen {
		t.Fatal("byte cap never closed a batch")
	}
	if w.tx.PendingBytes() >= w.maxBatchBytes {
		t.Errorf("open batch holds %d pending bytes, cap is %d",
			w.tx.PendingBytes(), w.maxBatchBytes)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	// Everything written across the forced boundaries is durable.
	tx := w.store.View()
	defer tx.Discard()
	for i := int64(1); i <= 50; i++ {
		if _, ok, err := tx.LookupIndex("node", KeyNodeID, i); err != nil || !ok {
			t.Fatalf("node %d lost across size-bounded commits (ok=%v err=%v)", i, ok, err)
		}
	}
}

func TestAddTagsEmptyBagIsNoop(t *testing.T) {
	w := newTestWriter(t, 1000)

	ref, err := w.CreateEntity("node", map[string]any{KeyNodeID: int64(1), "lon": 0.0, "lat": 0.0}, KeyNodeID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := w.AddTags(ref, nil, "node"); err != nil {
		t.Fatalf("AddTags(nil) failed: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	tx := w.store.View()
	defer tx.Discard()
	edge, err := tx.FirstOut(graph.VertexID(ref.id), graph.EdgeTags)
	if err != nil {
		t.Fatalf("failed to read TAGS edge: %v", err)
	}
	if edge != nil {
		t.Errorf("empty tag bag created a TAGS edge")
	}
}
