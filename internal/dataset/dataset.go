// Package dataset reads a materialized graph back out: locating the dataset
// root, walking way chains into point sequences and answering reverse
// lookups from a point to the way that contains it.
package dataset

import (
	"fmt"

	"github.com/julienmarie/spatial/internal/graph"
)

// Dataset is a read-only view over one named dataset in a store.
type Dataset struct {
	store *graph.Store
	tx    *graph.Tx
	root  graph.VertexID
	name  string
}

// Open locates the dataset root for name. The returned Dataset holds a
// read snapshot until Close.
func Open(store *graph.Store, name string) (*Dataset, error) {
	tx := store.View()
	root, ok, err := tx.LookupIndex("dataset", "name", name)
	if err != nil {
		tx.Discard()
		return nil, err
	}
	if !ok {
		tx.Discard()
		return nil, fmt.Errorf("dataset %q not found", name)
	}
	props, err := tx.Vertex(root)
	if err != nil {
		tx.Discard()
		return nil, err
	}
	if typ, _ := props.Str("type"); typ != "osm" {
		tx.Discard()
		return nil, fmt.Errorf("vertex bound to %q is not a dataset root", name)
	}
	return &Dataset{store: store, tx: tx, root: root, name: name}, nil
}

// Close releases the read snapshot.
func (d *Dataset) Close() { d.tx.Discard() }

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.name }

// Counts are the entity counters persisted on the dataset root.
type Counts struct {
	Nodes      int64
	Pois       int64
	Ways       int64
	Relations  int64
	Changesets int64
	Users      int64
}

// Counts reads the entity counters from the dataset root.
func (d *Dataset) Counts() (Counts, error) {
	props, err := d.tx.Vertex(d.root)
	if err != nil {
		return Counts{}, err
	}
	read := func(key string) int64 {
		v, _ := props.Int64(key)
		return v
	}
	return Counts{
		Nodes:      read("nodeCount"),
		Pois:       read("poiCount"),
		Ways:       read("wayCount"),
		Relations:  read("relationCount"),
		Changesets: read("changesetCount"),
		Users:      read("userCount"),
	}, nil
}

// SignificantKeys reads the comma-joined significant tag keys recorded on
// the dataset root, or "" when none were recorded.
func (d *Dataset) SignificantKeys() (string, error) {
	props, err := d.tx.Vertex(d.root)
	if err != nil {
		return "", err
	}
	keys, _ := props.Str("significant_keys")
	return keys, nil
}

// Tags reads the tag bag linked to an entity vertex, or nil when it has
// none.
func (d *Dataset) Tags(v graph.VertexID) (map[string]string, error) {
	edge, err := d.tx.FirstOut(v, graph.EdgeTags)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, nil
	}
	props, err := d.tx.Vertex(edge.To)
	if err != nil {
		return nil, err
	}
	tags := make(map[string]string, len(props))
	for k, val := range props {
		if s, ok := val.(string); ok {
			tags[k] = s
		}
	}
	return tags, nil
}

// Geometry reads the persisted geometry record of an entity vertex, or nil
// when it has none.
func (d *Dataset) Geometry(v graph.VertexID) (graph.Props, error) {
	edge, err := d.tx.FirstOut(v, graph.EdgeGeom)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, nil
	}
	return d.tx.Vertex(edge.To)
}

// Way is one way entity as seen by the reconstructor.
type Way struct {
	Vertex graph.VertexID
	OSMID  int64
	Props  graph.Props
}

func (d *Dataset) wayAt(v graph.VertexID) (*Way, error) {
	props, err := d.tx.Vertex(v)
	if err != nil {
		return nil, err
	}
	id, _ := props.Int64("way_osm_id")
	return &Way{Vertex: v, OSMID: id, Props: props}, nil
}

// WayIterator walks the dataset's way chain in document order.
type WayIterator struct {
	d       *Dataset
	cur     graph.VertexID
	started bool
}

// Ways returns an iterator over all ways in document order.
func (d *Dataset) Ways() *WayIterator {
	return &WayIterator{d: d}
}

// Next returns the next way, or nil when the chain is exhausted.
func (it *WayIterator) Next() (*Way, error) {
	var edge *graph.Edge
	var err error
	if !it.started {
		it.started = true
		edge, err = it.d.tx.FirstOut(it.d.root, graph.EdgeWays)
	} else {
		edge, err = it.d.tx.FirstOut(it.cur, graph.EdgeNext)
	}
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, nil
	}
	it.cur = edge.To
	return it.d.wayAt(edge.To)
}

// Relation is one relation entity as seen by the reconstructor.
type Relation struct {
	Vertex graph.VertexID
	OSMID  int64
	Props  graph.Props
}

// RelationIterator walks the dataset's relation chain in document order.
type RelationIterator struct {
	d       *Dataset
	cur     graph.VertexID
	started bool
}

// Relations returns an iterator over all relations in document order.
func (d *Dataset) Relations() *RelationIterator {
	return &RelationIterator{d: d}
}

// Next returns the next relation, or nil when the chain is exhausted.
func (it *RelationIterator) Next() (*Relation, error) {
	var edge *graph.Edge
	var err error
	if !it.started {
		it.started = true
		edge, err = it.d.tx.FirstOut(it.d.root, graph.EdgeRelations)
	} else {
		edge, err = it.d.tx.FirstOut(it.cur, graph.EdgeNext)
	}
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, nil
	}
	it.cur = edge.To
	props, err := it.d.tx.Vertex(edge.To)
	if err != nil {
		return nil, err
	}
	id, _ := props.Int64("relation_osm_id")
	return &Relation{Vertex: edge.To, OSMID: id, Props: props}, nil
}

// WayPoint is one resolved point occurrence along a way.
type WayPoint struct {
	OSMID    int64
	Lon, Lat float64
}

// PointIterator walks a way's occurrence chain and resolves each occurrence
// to its point. It can be restarted with Reset. A dangling occurrence ends
// the iteration silently: a partially stored chain yields its stored prefix.
type PointIterator struct {
	d         *Dataset
	first     graph.VertexID
	cur       graph.VertexID
	prev      graph.VertexID
	reversed  bool
	started   bool
	done      bool
	haveFirst bool
}

// WayPoints returns a restartable iterator over a way's resolved points.
func (d *Dataset) WayPoints(w *Way) (*PointIterator, error) {
	it := &PointIterator{d: d}
	edge, err := d.tx.FirstOut(w.Vertex, graph.EdgeFirstNode)
	if err != nil {
		return nil, err
	}
	if edge != nil {
		it.first = edge.To
		it.haveFirst = true
		it.reversed, _ = edge.Props.Bool("reversed")
	} else {
		it.done = true
	}
	return it, nil
}

// Reset rewinds the iterator to the first occurrence.
func (it *PointIterator) Reset() {
	it.started = false
	it.done = !it.haveFirst
	it.cur = 0
	it.prev = 0
}

// Next returns the next resolved point, or nil when the chain ends.
func (it *PointIterator) Next() (*WayPoint, error) {
	if it.done {
		return nil, nil
	}
	if !it.started {
		it.started = true
		it.cur = it.first
	} else {
		next, err := it.advance()
		if err != nil {
			return nil, err
		}
		if next == 0 || next == it.first {
			it.done = true
			return nil, nil
		}
		it.prev = it.cur
		it.cur = next
	}
	return it.resolve(it.cur)
}

// advance finds the next occurrence. Forward chains prefer outgoing NEXT
// edges and chains stored against the travel direction prefer incoming
// ones, always excluding the occurrence we came from. The stored
// orientation decides the preference: on a ring the entry occurrence has
// one edge in each direction and only the orientation marker says which
// one continues in way order.
func (it *PointIterator) advance() (graph.VertexID, error) {
	if it.reversed {
		next, err := it.nextIn()
		if err != nil || next != 0 {
			return next, err
		}
		return it.nextOut()
	}
	next, err := it.nextOut()
	if err != nil || next != 0 {
		return next, err
	}
	return it.nextIn()
}

func (it *PointIterator) nextOut() (graph.VertexID, error) {
	out, err := it.d.tx.FirstOut(it.cur, graph.EdgeNext)
	if err != nil || out == nil || out.To == it.prev {
		return 0, err
	}
	return out.To, nil
}

func (it *PointIterator) nextIn() (graph.VertexID, error) {
	ins, err := it.d.tx.InEdges(it.cur, graph.EdgeNext)
	if err != nil {
		return 0, err
	}
	for _, e := range ins {
		if e.From != it.prev {
			return e.From, nil
		}
	}
	return 0, nil
}

func (it *PointIterator) resolve(proxy graph.VertexID) (*WayPoint, error) {
	edge, err := it.d.tx.FirstOut(proxy, graph.EdgeNode)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		it.done = true
		return nil, nil
	}
	props, err := it.d.tx.Vertex(edge.To)
	if err != nil {
		return nil, err
	}
	id, _ := props.Int64("node_osm_id")
	lon, _ := props.Float64("lon")
	lat, _ := props.Float64("lat")
	return &WayPoint{OSMID: id, Lon: lon, Lat: lat}, nil
}

// WayContaining answers "which way owns this point": a reverse walk from
// the point through its occurrence chain up to the owning way entity.
// Returns nil when the point exists but no way references it.
func (d *Dataset) WayContaining(nodeOSMID int64) (*Way, error) {
	point, ok, err := d.tx.LookupIndex("node", "node_osm_id", nodeOSMID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("point %d not found", nodeOSMID)
	}

	visited := map[graph.VertexID]bool{point: true}
	stack := []graph.VertexID{}

	push := func(v graph.VertexID) {
		if !visited[v] {
			visited[v] = true
			stack = append(stack, v)
		}
	}

	// Seed with the occurrence vertices referencing the point.
	occ, err := d.tx.InEdges(point, graph.EdgeNode)
	if err != nil {
		return nil, err
	}
	for _, e := range occ {
		push(e.From)
	}

	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		props, err := d.tx.Vertex(v)
		if err != nil {
			return nil, err
		}
		if _, ok := props.Int64("way_osm_id"); ok {
			return d.wayAt(v)
		}
		if len(props) > 0 {
			// Some other entity (a point, a tag bag); not on the path to a
			// way, so prune here.
			continue
		}

		// Occurrence vertices are anonymous. Walk sideways along the chain
		// and upward to the owning way.
		forFirst, err := d.tx.InEdges(v, graph.EdgeFirstNode)
		if err != nil {
			return nil, err
		}
		for _, e := range forFirst {
			push(e.From)
		}
		ins, err := d.tx.InEdges(v, graph.EdgeNext)
		if err != nil {
			return nil, err
		}
		for _, e := range ins {
			push(e.From)
		}
		outs, err := d.tx.OutEdges(v, graph.EdgeNext)
		if err != nil {
			return nil, err
		}
		for _, e := range outs {
			push(e.To)
		}
	}
	return nil, nil
}
