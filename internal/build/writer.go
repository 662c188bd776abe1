package build

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/julienmarie/spatial/internal/geo"
	"github.com/julienmarie/spatial/internal/graph"
)

// Property and index keys of the persisted schema.
const (
	KeyNodeID      = "node_osm_id"
	KeyWayID       = "way_osm_id"
	KeyRelationID  = "relation_osm_id"
	KeyChangesetID = "changeset"
	KeyUserID      = "uid"
)

// defaultMaxBatchBytes is the soft cap on buffered transaction bytes.
// Badger rejects writes once an uncommitted transaction reaches roughly
// 15% of its memtable (about 9.6 MiB at default settings); committing well
// under that keeps any single record's writes from hitting the hard limit.
const defaultMaxBatchBytes = 4 << 20

// GraphWriter is the transactional Builder backend against the embedded
// graph store. It owns a bounded in-progress transaction: the batch is
// committed and a fresh transaction opened after commitInterval vertex
// creations, or sooner when the buffered bytes approach the store's
// transaction size limit. Refs issued before the boundary are re-acquired
// lazily on their next use; the writer's own long-lived refs are refreshed
// eagerly right after each commit.
type GraphWriter struct {
	store          *graph.Store
	log            *zap.Logger
	commitInterval int
	maxBatchBytes  int

	tx      *graph.Tx
	gen     uint64
	opCount int

	dataset     *Ref
	datasetName string
	usersRoot   *Ref

	// Single-slot identity caches. The input stream tends to group
	// consecutive records by changeset and user; a miss always falls back
	// to the authoritative id index.
	curUserID      int64
	curUser        *Ref
	curChangesetID int64
	curChangeset   *Ref

	// Per-changeset point cache for way building: external id -> vertex id
	// of every point already linked to csPointsOwner.
	csPoints      map[int64]uint64
	csPointsOwner uint64
}

var _ Builder = (*GraphWriter)(nil)

// NewGraphWriter opens a writer with its first transaction.
func NewGraphWriter(store *graph.Store, commitInterval int, log *zap.Logger) (*GraphWriter, error) {
	if commitInterval < 1 {
		return nil, fmt.Errorf("commit interval must be >= 1, got %d", commitInterval)
	}
	if commitInterval < 100 {
		log.Warn("Unusually short commit interval, expect poor insert throughput",
			zap.Int("commit_interval", commitInterval))
	}
	tx, err := store.Begin()
	if err != nil {
		return nil, err
	}
	return &GraphWriter{
		store:          store,
		log:            log,
		commitInterval: commitInterval,
		maxBatchBytes:  defaultMaxBatchBytes,
		tx:             tx,
		gen:            1,
	}, nil
}

// Close discards any uncommitted batch. Call Flush first to keep it.
func (w *GraphWriter) Close() {
	if w.tx != nil {
		w.tx.Discard()
		w.tx = nil
	}
}

// Flush commits the in-progress batch and opens a fresh transaction.
func (w *GraphWriter) Flush() error {
	return w.commitAndReopen(nil)
}

// checkTx counts one creation operation and closes the batch when the
// commit interval is reached, or earlier when the buffered bytes approach
// the store's transaction limit. held refs are refreshed along with the
// writer's own.
func (w *GraphWriter) checkTx(held ...*Ref) error {
	w.opCount++
	if w.opCount < w.commitInterval && w.tx.PendingBytes() < w.maxBatchBytes {
		return nil
	}
	return w.commitAndReopen(held)
}

func (w *GraphWriter) commitAndReopen(held []*Ref) error {
	if err := w.tx.Commit(); err != nil {
		return err
	}
	w.tx.Discard()
	w.gen++
	w.opCount = 0
	tx, err := w.store.Begin()
	if err != nil {
		return err
	}
	w.tx = tx

	// No cached handle may be dereferenced after a commit without being
	// refreshed against the new transaction.
	for _, r := range []*Ref{w.dataset, w.usersRoot, w.curUser, w.curChangeset} {
		if err := w.refresh(r); err != nil {
			return err
		}
	}
	for _, r := range held {
		if err := w.refresh(r); err != nil {
			return err
		}
	}
	return nil
}

// refresh re-acquires a possibly stale ref against the current transaction,
// preferring the stable external identity over the raw vertex id.
func (w *GraphWriter) refresh(r *Ref) error {
	if r == nil || r.gen == w.gen {
		return nil
	}
	if key := indexKeyFor(r.Kind); key != "" && r.ExtID != 0 {
		id, ok, err := w.tx.LookupIndex(r.Kind, key, r.ExtID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("stale %s handle: external id %d no longer resolvable", r.Kind, r.ExtID)
		}
		r.id = uint64(id)
		r.gen = w.gen
		return nil
	}
	ok, err := w.tx.HasVertex(graph.VertexID(r.id))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("stale %s handle: vertex %d gone after commit", r.Kind, r.id)
	}
	r.gen = w.gen
	return nil
}

// deref returns the live vertex id behind a ref, transparently re-acquiring
// it when the ref predates the last commit boundary.
func (w *GraphWriter) deref(r *Ref) (graph.VertexID, error) {
	if r == nil {
		return 0, fmt.Errorf("nil entity ref")
	}
	if r.gen != w.gen {
		if err := w.refresh(r); err != nil {
			return 0, err
		}
	}
	return graph.VertexID(r.id), nil
}

func indexKeyFor(kind string) string {
	switch kind {
	case "node":
		return KeyNodeID
	case "way":
		return KeyWayID
	case "relation":
		return KeyRelationID
	case "changeset":
		return KeyChangesetID
	case "user":
		return KeyUserID
	}
	return ""
}

func (w *GraphWriter) ref(kind string, extID int64, id graph.VertexID) *Ref {
	return &Ref{Kind: kind, ExtID: extID, id: uint64(id), gen: w.gen}
}

// Dataset resolves or creates the dataset root for name.
func (w *GraphWriter) Dataset(name string) (*Ref, error) {
	if w.dataset != nil && w.datasetName == name {
		return w.dataset, nil
	}
	id, ok, err := w.tx.LookupIndex("dataset", "name", name)
	if err != nil {
		return nil, err
	}
	if ok {
		props, err := w.tx.Vertex(id)
		if err != nil {
			return nil, err
		}
		typ, _ := props.Str("type")
		bound, _ := props.Str("name")
		if typ != "osm" || bound != name {
			return nil, fmt.Errorf("%w: %q", ErrDatasetConflict, name)
		}
		w.dataset = w.ref("dataset", 0, id)
		w.datasetName = name
		return w.dataset, nil
	}

	id, err = w.tx.CreateVertex(graph.Props{"name": name, "type": "osm"})
	if err != nil {
		return nil, err
	}
	if err := w.tx.SetIndex("dataset", "name", name, id); err != nil {
		return nil, err
	}
	w.dataset = w.ref("dataset", 0, id)
	w.datasetName = name
	w.log.Info("Created dataset root", zap.String("dataset", name))
	return w.dataset, w.checkTx()
}

// SetDatasetProperties merges properties onto the dataset root.
func (w *GraphWriter) SetDatasetProperties(props map[string]any) error {
	id, err := w.deref(w.dataset)
	if err != nil {
		return err
	}
	return w.tx.MergeProperties(id, props)
}

// AddBounds attaches the document extent to the dataset.
func (w *GraphWriter) AddBounds(b geo.BBox) error {
	datasetID, err := w.deref(w.dataset)
	if err != nil {
		return err
	}
	id, err := w.tx.CreateVertex(graph.Props{
		"min_lon": b.MinLon, "min_lat": b.MinLat,
		"max_lon": b.MaxLon, "max_lat": b.MaxLat,
	})
	if err != nil {
		return err
	}
	if err := w.tx.CreateEdge(datasetID, id, graph.EdgeBBox, nil); err != nil {
		return err
	}
	return w.checkTx()
}

// CreateEntity stores an entity vertex, deduplicating through the external
// id index when indexKey is given.
func (w *GraphWriter) CreateEntity(kind string, props map[string]any, indexKey string) (*Ref, error) {
	var extID int64
	if indexKey != "" {
		if v, ok := graph.Props(props).Int64(indexKey); ok {
			extID = v
			id, ok, err := w.tx.LookupIndex(kind, indexKey, extID)
			if err != nil {
				return nil, err
			}
			if ok {
				return w.ref(kind, extID, id), nil
			}
		}
	}
	id, err := w.tx.CreateVertex(props)
	if err != nil {
		return nil, err
	}
	if indexKey != "" && extID != 0 {
		if err := w.tx.SetIndex(kind, indexKey, extID, id); err != nil {
			return nil, err
		}
	}
	r := w.ref(kind, extID, id)
	return r, w.checkTx(r)
}

// CreateProxy stores an anonymous per-way point occurrence vertex.
func (w *GraphWriter) CreateProxy() (*Ref, error) {
	id, err := w.tx.CreateVertex(nil)
	if err != nil {
		return nil, err
	}
	r := w.ref("proxy", 0, id)
	return r, w.checkTx(r)
}

// AddTags persists a tag bag and links it to its owner.
func (w *GraphWriter) AddTags(h *Ref, tags map[string]string, kind string) error {
	if len(tags) == 0 {
		return nil
	}
	owner, err := w.deref(h)
	if err != nil {
		return err
	}
	props := make(graph.Props, len(tags))
	for k, v := range tags {
		props[k] = v
	}
	id, err := w.tx.CreateVertex(props)
	if err != nil {
		return err
	}
	if err := w.tx.CreateEdge(owner, id, graph.EdgeTags, nil); err != nil {
		return err
	}
	return w.checkTx(h)
}

// AddGeometry attaches derived geometry metadata to an entity.
func (w *GraphWriter) AddGeometry(h *Ref, g geo.Summary) error {
	if !g.BBox.IsSet() || g.Vertices <= 0 {
		return nil
	}
	owner, err := w.deref(h)
	if err != nil {
		return err
	}
	id, err := w.tx.CreateVertex(graph.Props{
		"gtype":    g.Kind.String(),
		"vertices": int64(g.Vertices),
		"min_lon":  g.BBox.MinLon,
		"min_lat":  g.BBox.MinLat,
		"max_lon":  g.BBox.MaxLon,
		"max_lat":  g.BBox.MaxLat,
	})
	if err != nil {
		return err
	}
	if err := w.tx.CreateEdge(owner, id, graph.EdgeGeom, nil); err != nil {
		return err
	}
	return w.checkTx(h)
}

// Link creates a typed edge between two stored entities.
func (w *GraphWriter) Link(from, to *Ref, t graph.EdgeType, props map[string]any) error {
	fromID, err := w.deref(from)
	if err != nil {
		return err
	}
	toID, err := w.deref(to)
	if err != nil {
		return err
	}
	return w.tx.CreateEdge(fromID, toID, t, props)
}

// Resolve finds an entity by kind and external id through the id index.
func (w *GraphWriter) Resolve(kind string, extID int64) (*Ref, error) {
	key := indexKeyFor(kind)
	if key == "" {
		return nil, fmt.Errorf("unresolvable entity kind %q", kind)
	}
	id, ok, err := w.tx.LookupIndex(kind, key, extID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return w.ref(kind, extID, id), nil
}

// ResolvePoint finds a point by external id. Points already linked to the
// way's changeset are served from a local cache; everything else goes to
// the global id index.
func (w *GraphWriter) ResolvePoint(extID int64, changeset *Ref) (*Ref, error) {
	if changeset != nil {
		csID, err := w.deref(changeset)
		if err != nil {
			return nil, err
		}
		if w.csPointsOwner != uint64(csID) || w.csPoints == nil {
			if err := w.rebuildChangesetPoints(csID); err != nil {
				return nil, err
			}
		}
		if vid, ok := w.csPoints[extID]; ok {
			return w.ref("node", extID, graph.VertexID(vid)), nil
		}
	}
	return w.Resolve("node", extID)
}

func (w *GraphWriter) rebuildChangesetPoints(csID graph.VertexID) error {
	w.csPoints = make(map[int64]uint64)
	w.csPointsOwner = uint64(csID)
	edges, err := w.tx.InEdges(csID, graph.EdgeChangeset)
	if err != nil {
		return err
	}
	for _, e := range edges {
		props, err := w.tx.Vertex(e.From)
		if err != nil {
			return err
		}
		if extID, ok := props.Int64(KeyNodeID); ok {
			w.csPoints[extID] = uint64(e.From)
		}
	}
	return nil
}

// PointLocation reads a point's coordinates from its vertex.
func (w *GraphWriter) PointLocation(h *Ref) (float64, float64, error) {
	id, err := w.deref(h)
	if err != nil {
		return 0, 0, err
	}
	props, err := w.tx.Vertex(id)
	if err != nil {
		return 0, 0, err
	}
	lon, okLon := props.Float64("lon")
	lat, okLat := props.Float64("lat")
	if !okLon || !okLat {
		return 0, 0, fmt.Errorf("point %d has no coordinates", h.ExtID)
	}
	return lon, lat, nil
}

// MemberGeometry reads the stored geometry summary of a relation member.
func (w *GraphWriter) MemberGeometry(h *Ref) (*geo.Summary, error) {
	id, err := w.deref(h)
	if err != nil {
		return nil, err
	}
	edge, err := w.tx.FirstOut(id, graph.EdgeGeom)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, nil
	}
	props, err := w.tx.Vertex(edge.To)
	if err != nil {
		return nil, err
	}
	gtype, _ := props.Str("gtype")
	vertices, _ := props.Int64("vertices")
	minLon, _ := props.Float64("min_lon")
	minLat, _ := props.Float64("min_lat")
	maxLon, _ := props.Float64("max_lon")
	maxLat, _ := props.Float64("max_lat")
	bbox := geo.NewBBox(minLon, minLat)
	bbox.Include(maxLon, maxLat)
	return &geo.Summary{
		Kind:     geo.KindFromString(gtype),
		BBox:     bbox,
		Vertices: int(vertices),
	}, nil
}

// UserFor looks up or creates the user entity for uid, behind a single-slot
// cache keyed by external id.
func (w *GraphWriter) UserFor(uid int64, name string, timestampMs int64) (*Ref, bool, error) {
	if uid == w.curUserID && w.curUser != nil {
		return w.curUser, false, nil
	}
	id, ok, err := w.tx.LookupIndex("user", KeyUserID, uid)
	if err != nil {
		return nil, false, err
	}
	if ok {
		w.curUserID = uid
		w.curUser = w.ref("user", uid, id)
		return w.curUser, false, nil
	}

	props := graph.Props{KeyUserID: uid, "name": name}
	if timestampMs != 0 {
		props["timestamp"] = timestampMs
	}
	id, err = w.tx.CreateVertex(props)
	if err != nil {
		return nil, false, err
	}
	if err := w.tx.SetIndex("user", KeyUserID, uid, id); err != nil {
		return nil, false, err
	}
	user := w.ref("user", uid, id)

	if w.usersRoot == nil {
		datasetID, err := w.deref(w.dataset)
		if err != nil {
			return nil, false, err
		}
		rootID, err := w.tx.CreateVertex(graph.Props{"type": "users"})
		if err != nil {
			return nil, false, err
		}
		if err := w.tx.CreateEdge(datasetID, rootID, graph.EdgeUsers, nil); err != nil {
			return nil, false, err
		}
		w.usersRoot = w.ref("users", 0, rootID)
	}
	rootID, err := w.deref(w.usersRoot)
	if err != nil {
		return nil, false, err
	}
	if err := w.tx.CreateEdge(rootID, graph.VertexID(user.id), graph.EdgeOSMUser, nil); err != nil {
		return nil, false, err
	}

	w.curUserID = uid
	w.curUser = user
	return user, true, w.checkTx(user)
}

// ChangesetFor looks up or creates the changeset entity for id, behind a
// single-slot cache keyed by external id.
func (w *GraphWriter) ChangesetFor(id int64, timestampMs int64, user *Ref) (*Ref, bool, error) {
	if id == 0 {
		w.curChangesetID = 0
		w.curChangeset = nil
		return nil, false, nil
	}
	if id == w.curChangesetID && w.curChangeset != nil {
		return w.curChangeset, false, nil
	}
	vid, ok, err := w.tx.LookupIndex("changeset", KeyChangesetID, id)
	if err != nil {
		return nil, false, err
	}
	if ok {
		w.curChangesetID = id
		w.curChangeset = w.ref("changeset", id, vid)
		return w.curChangeset, false, nil
	}

	props := graph.Props{KeyChangesetID: id}
	if timestampMs != 0 {
		props["timestamp"] = timestampMs
	}
	vid, err = w.tx.CreateVertex(props)
	if err != nil {
		return nil, false, err
	}
	if err := w.tx.SetIndex("changeset", KeyChangesetID, id, vid); err != nil {
		return nil, false, err
	}
	cs := w.ref("changeset", id, vid)
	if user != nil {
		userID, err := w.deref(user)
		if err != nil {
			return nil, false, err
		}
		if err := w.tx.CreateEdge(graph.VertexID(cs.id), userID, graph.EdgeUser, nil); err != nil {
			return nil, false, err
		}
	}
	w.curChangesetID = id
	w.curChangeset = cs
	return cs, true, w.checkTx(cs)
}

// IncrementCounters folds entity counts onto the dataset root.
func (w *GraphWriter) IncrementCounters(c Counters) error {
	id, err := w.deref(w.dataset)
	if err != nil {
		return err
	}
	props, err := w.tx.Vertex(id)
	if err != nil {
		return err
	}
	add := func(key string, delta int64) {
		current, _ := props.Int64(key)
		props[key] = current + delta
	}
	add("nodeCount", c.Nodes)
	add("poiCount", c.Pois)
	add("wayCount", c.Ways)
	add("relationCount", c.Relations)
	add("changesetCount", c.Changesets)
	add("userCount", c.Users)
	return w.tx.MergeProperties(id, props)
}
