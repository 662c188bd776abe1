package build

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/julienmarie/spatial/internal/geo"
	"github.com/julienmarie/spatial/internal/graph"
)

// bulkFlushThreshold is the number of buffered rows that triggers a COPY.
const bulkFlushThreshold = 50000

// BulkBuilder is the offline Builder backend: it stages the graph in memory
// and bulk-copies it into PostgreSQL staging tables. Identity lives in
// process-local maps, so refs never go stale and there is no transactional
// batching to recover from.
type BulkBuilder struct {
	ctx    context.Context
	pool   *pgxpool.Pool
	log    *zap.Logger
	schema string

	nextID   uint64
	vertices []bulkVertex
	edges    []bulkEdge

	index     map[string]uint64
	locations map[uint64][2]float64
	geoms     map[uint64]geo.Summary

	datasetID    uint64
	datasetName  string
	datasetProps map[string]any
	usersRootID  uint64

	curUserID      int64
	curUser        *Ref
	curChangesetID int64
	curChangeset   *Ref

	VerticesCopied atomic.Int64
	EdgesCopied    atomic.Int64
}

type bulkVertex struct {
	id    uint64
	props map[string]any
}

type bulkEdge struct {
	seq      uint64
	from, to uint64
	kind     graph.EdgeType
	props    map[string]any
}

var _ Builder = (*BulkBuilder)(nil)

// NewBulkBuilder wires a bulk backend to a connection pool. schema may be
// empty for the default search path.
func NewBulkBuilder(ctx context.Context, pool *pgxpool.Pool, schema string, log *zap.Logger) *BulkBuilder {
	if schema == "" {
		schema = "public"
	}
	return &BulkBuilder{
		ctx:       ctx,
		pool:      pool,
		log:       log,
		schema:    schema,
		nextID:    1,
		index:     make(map[string]uint64),
		locations: make(map[uint64][2]float64),
		geoms:     make(map[uint64]geo.Summary),
	}
}

// EnsureTables creates the staging tables, optionally dropping old ones.
// They start UNLOGGED and are switched to logged after Finalize.
func (b *BulkBuilder) EnsureTables(dropExisting bool) error {
	tables := []struct {
		name   string
		schema string
	}{
		{
			name: "graph_vertices",
			schema: `
				CREATE UNLOGGED TABLE IF NOT EXISTS %s.graph_vertices (
					id BIGINT PRIMARY KEY,
					props JSONB NOT NULL
				)`,
		},
		{
			name: "graph_edges",
			schema: `
				CREATE UNLOGGED TABLE IF NOT EXISTS %s.graph_edges (
					seq BIGINT NOT NULL,
					from_id BIGINT NOT NULL,
					to_id BIGINT NOT NULL,
					kind TEXT NOT NULL,
					props JSONB
				)`,
		},
	}
	for _, t := range tables {
		if dropExisting {
			drop := fmt.Sprintf("DROP TABLE IF EXISTS %s.%s CASCADE", b.schema, t.name)
			if _, err := b.pool.Exec(b.ctx, drop); err != nil {
				return fmt.Errorf("failed to drop %s: %w", t.name, err)
			}
		}
		if _, err := b.pool.Exec(b.ctx, fmt.Sprintf(t.schema, b.schema)); err != nil {
			return fmt.Errorf("failed to create %s: %w", t.name, err)
		}
	}
	return nil
}

// Finalize writes the held-back dataset vertex, flushes remaining buffers,
// switches the staging tables to logged and builds traversal indexes.
func (b *BulkBuilder) Finalize() error {
	if b.datasetID != 0 {
		b.vertices = append(b.vertices, bulkVertex{id: b.datasetID, props: b.datasetProps})
	}
	if err := b.Flush(); err != nil {
		return err
	}
	statements := []string{
		"ALTER TABLE %[1]s.graph_vertices SET LOGGED",
		"ALTER TABLE %[1]s.graph_edges SET LOGGED",
		"CREATE INDEX IF NOT EXISTS graph_edges_from_idx ON %[1]s.graph_edges (from_id, kind, seq)",
		"CREATE INDEX IF NOT EXISTS graph_edges_to_idx ON %[1]s.graph_edges (to_id, kind, seq)",
		"CREATE INDEX IF NOT EXISTS graph_vertices_props_idx ON %[1]s.graph_vertices USING GIN (props)",
	}
	for _, stmt := range statements {
		if _, err := b.pool.Exec(b.ctx, fmt.Sprintf(stmt, b.schema)); err != nil {
			return fmt.Errorf("failed to finalize staging tables: %w", err)
		}
	}
	b.log.Info("Bulk load finalized",
		zap.Int64("vertices", b.VerticesCopied.Load()),
		zap.Int64("edges", b.EdgesCopied.Load()))
	return nil
}

func (b *BulkBuilder) alloc() uint64 {
	id := b.nextID
	b.nextID++
	return id
}

func (b *BulkBuilder) bulkRef(kind string, extID int64, id uint64) *Ref {
	return &Ref{Kind: kind, ExtID: extID, id: id, gen: 1}
}

func indexName(kind, key, value string) string {
	return kind + "\x00" + key + "\x00" + value
}

func (b *BulkBuilder) addVertex(props map[string]any) uint64 {
	id := b.alloc()
	b.vertices = append(b.vertices, bulkVertex{id: id, props: props})
	return id
}

func (b *BulkBuilder) addEdge(from, to uint64, kind graph.EdgeType, props map[string]any) {
	b.edges = append(b.edges, bulkEdge{
		seq:   b.alloc(),
		from:  from,
		to:    to,
		kind:  kind,
		props: props,
	})
}

func (b *BulkBuilder) maybeFlush() error {
	if len(b.vertices)+len(b.edges) < bulkFlushThreshold {
		return nil
	}
	return b.Flush()
}

// Dataset resolves or creates the dataset root. The root's row is held back
// until Finalize so counters and significant keys land in its first write.
func (b *BulkBuilder) Dataset(name string) (*Ref, error) {
	if b.datasetID != 0 {
		if b.datasetName != name {
			return nil, fmt.Errorf("%w: %q", ErrDatasetConflict, name)
		}
		return b.bulkRef("dataset", 0, b.datasetID), nil
	}
	b.datasetID = b.alloc()
	b.datasetName = name
	b.datasetProps = map[string]any{"name": name, "type": "osm"}
	b.index[indexName("dataset", "name", name)] = b.datasetID
	return b.bulkRef("dataset", 0, b.datasetID), nil
}

// SetDatasetProperties merges properties onto the pending dataset row.
func (b *BulkBuilder) SetDatasetProperties(props map[string]any) error {
	if b.datasetID == 0 {
		return fmt.Errorf("no dataset root")
	}
	for k, v := range props {
		b.datasetProps[k] = v
	}
	return nil
}

// AddBounds attaches the document extent to the dataset.
func (b *BulkBuilder) AddBounds(bb geo.BBox) error {
	id := b.addVertex(map[string]any{
		"min_lon": bb.MinLon, "min_lat": bb.MinLat,
		"max_lon": bb.MaxLon, "max_lat": bb.MaxLat,
	})
	b.addEdge(b.datasetID, id, graph.EdgeBBox, nil)
	return b.maybeFlush()
}

// CreateEntity stages an entity vertex, deduplicating through the in-memory
// id index when indexKey is given.
func (b *BulkBuilder) CreateEntity(kind string, props map[string]any, indexKey string) (*Ref, error) {
	var extID int64
	var name string
	if indexKey != "" {
		if v, ok := graph.Props(props).Int64(indexKey); ok {
			extID = v
			name = indexName(kind, indexKey, strconv.FormatInt(extID, 10))
			if id, ok := b.index[name]; ok {
				return b.bulkRef(kind, extID, id), nil
			}
		}
	}
	id := b.addVertex(props)
	if name != "" {
		b.index[name] = id
	}
	if kind == "node" {
		lon, okLon := graph.Props(props).Float64("lon")
		lat, okLat := graph.Props(props).Float64("lat")
		if okLon && okLat {
			b.locations[id] = [2]float64{lon, lat}
		}
	}
	return b.bulkRef(kind, extID, id), b.maybeFlush()
}

// CreateProxy stages an anonymous point occurrence vertex.
func (b *BulkBuilder) CreateProxy() (*Ref, error) {
	id := b.addVertex(map[string]any{})
	return b.bulkRef("proxy", 0, id), b.maybeFlush()
}

// AddTags stages a tag bag linked to its owner.
func (b *BulkBuilder) AddTags(h *Ref, tags map[string]string, kind string) error {
	if len(tags) == 0 {
		return nil
	}
	props := make(map[string]any, len(tags))
	for k, v := range tags {
		props[k] = v
	}
	id := b.addVertex(props)
	b.addEdge(h.id, id, graph.EdgeTags, nil)
	return b.maybeFlush()
}

// AddGeometry stages a geometry record and remembers the summary for member
// lookups during relation assembly.
func (b *BulkBuilder) AddGeometry(h *Ref, g geo.Summary) error {
	if !g.BBox.IsSet() || g.Vertices <= 0 {
		return nil
	}
	id := b.addVertex(map[string]any{
		"gtype":    g.Kind.String(),
		"vertices": int64(g.Vertices),
		"min_lon":  g.BBox.MinLon,
		"min_lat":  g.BBox.MinLat,
		"max_lon":  g.BBox.MaxLon,
		"max_lat":  g.BBox.MaxLat,
	})
	b.addEdge(h.id, id, graph.EdgeGeom, nil)
	b.geoms[h.id] = g
	return b.maybeFlush()
}

// Link stages a typed edge.
func (b *BulkBuilder) Link(from, to *Ref, t graph.EdgeType, props map[string]any) error {
	b.addEdge(from.id, to.id, t, props)
	return b.maybeFlush()
}

// Resolve finds an entity by kind and external id.
func (b *BulkBuilder) Resolve(kind string, extID int64) (*Ref, error) {
	key := indexKeyFor(kind)
	if key == "" {
		return nil, fmt.Errorf("unresolvable entity kind %q", kind)
	}
	id, ok := b.index[indexName(kind, key, strconv.FormatInt(extID, 10))]
	if !ok {
		return nil, nil
	}
	return b.bulkRef(kind, extID, id), nil
}

// ResolvePoint finds a point by external id. The in-memory index already
// covers the whole staged graph, so no changeset locality is needed.
func (b *BulkBuilder) ResolvePoint(extID int64, changeset *Ref) (*Ref, error) {
	return b.Resolve("node", extID)
}

// PointLocation reads staged point coordinates.
func (b *BulkBuilder) PointLocation(h *Ref) (float64, float64, error) {
	loc, ok := b.locations[h.id]
	if !ok {
		return 0, 0, fmt.Errorf("point %d has no coordinates", h.ExtID)
	}
	return loc[0], loc[1], nil
}

// MemberGeometry reads the staged geometry summary of a relation member.
func (b *BulkBuilder) MemberGeometry(h *Ref) (*geo.Summary, error) {
	g, ok := b.geoms[h.id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

// UserFor looks up or stages the user entity for uid.
func (b *BulkBuilder) UserFor(uid int64, name string, timestampMs int64) (*Ref, bool, error) {
	if uid == b.curUserID && b.curUser != nil {
		return b.curUser, false, nil
	}
	key := indexName("user", KeyUserID, strconv.FormatInt(uid, 10))
	if id, ok := b.index[key]; ok {
		b.curUserID = uid
		b.curUser = b.bulkRef("user", uid, id)
		return b.curUser, false, nil
	}

	props := map[string]any{KeyUserID: uid, "name": name}
	if timestampMs != 0 {
		props["timestamp"] = timestampMs
	}
	id := b.addVertex(props)
	b.index[key] = id
	if b.usersRootID == 0 {
		b.usersRootID = b.addVertex(map[string]any{"type": "users"})
		b.addEdge(b.datasetID, b.usersRootID, graph.EdgeUsers, nil)
	}
	b.addEdge(b.usersRootID, id, graph.EdgeOSMUser, nil)

	b.curUserID = uid
	b.curUser = b.bulkRef("user", uid, id)
	return b.curUser, true, b.maybeFlush()
}

// ChangesetFor looks up or stages the changeset entity for id.
func (b *BulkBuilder) ChangesetFor(id int64, timestampMs int64, user *Ref) (*Ref, bool, error) {
	if id == 0 {
		b.curChangesetID = 0
		b.curChangeset = nil
		return nil, false, nil
	}
	if id == b.curChangesetID && b.curChangeset != nil {
		return b.curChangeset, false, nil
	}
	key := indexName("changeset", KeyChangesetID, strconv.FormatInt(id, 10))
	if vid, ok := b.index[key]; ok {
		b.curChangesetID = id
		b.curChangeset = b.bulkRef("changeset", id, vid)
		return b.curChangeset, false, nil
	}

	props := map[string]any{KeyChangesetID: id}
	if timestampMs != 0 {
		props["timestamp"] = timestampMs
	}
	vid := b.addVertex(props)
	b.index[key] = vid
	if user != nil {
		b.addEdge(vid, user.id, graph.EdgeUser, nil)
	}
	b.curChangesetID = id
	b.curChangeset = b.bulkRef("changeset", id, vid)
	return b.curChangeset, true, b.maybeFlush()
}

// IncrementCounters folds entity counts onto the pending dataset row.
func (b *BulkBuilder) IncrementCounters(c Counters) error {
	if b.datasetID == 0 {
		return fmt.Errorf("no dataset root")
	}
	add := func(key string, delta int64) {
		current, _ := graph.Props(b.datasetProps).Int64(key)
		b.datasetProps[key] = current + delta
	}
	add("nodeCount", c.Nodes)
	add("poiCount", c.Pois)
	add("wayCount", c.Ways)
	add("relationCount", c.Relations)
	add("changesetCount", c.Changesets)
	add("userCount", c.Users)
	return nil
}

// Flush bulk-copies all buffered rows into the staging tables.
func (b *BulkBuilder) Flush() error {
	if len(b.vertices) > 0 {
		if err := b.copyVertices(); err != nil {
			return err
		}
		b.vertices = b.vertices[:0]
	}
	if len(b.edges) > 0 {
		if err := b.copyEdges(); err != nil {
			return err
		}
		b.edges = b.edges[:0]
	}
	return nil
}

func (b *BulkBuilder) copyVertices() error {
	conn, err := b.pool.Acquire(b.ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	rowChan := make(chan []interface{}, 1024)
	go func() {
		defer close(rowChan)
		for _, v := range b.vertices {
			propsJSON, _ := json.Marshal(v.props)
			select {
			case rowChan <- []interface{}{int64(v.id), propsJSON}:
			case <-b.ctx.Done():
				return
			}
		}
	}()

	count, err := conn.Conn().CopyFrom(
		b.ctx,
		pgx.Identifier{b.schema, "graph_vertices"},
		[]string{"id", "props"},
		&bulkRowSource{rows: rowChan},
	)
	if err != nil {
		return fmt.Errorf("COPY to graph_vertices failed: %w", err)
	}
	b.VerticesCopied.Add(count)
	return nil
}

func (b *BulkBuilder) copyEdges() error {
	conn, err := b.pool.Acquire(b.ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	rowChan := make(chan []interface{}, 1024)
	go func() {
		defer close(rowChan)
		for _, e := range b.edges {
			var propsJSON []byte
			if len(e.props) > 0 {
				propsJSON, _ = json.Marshal(e.props)
			}
			row := []interface{}{int64(e.seq), int64(e.from), int64(e.to), string(e.kind), propsJSON}
			select {
			case rowChan <- row:
			case <-b.ctx.Done():
				return
			}
		}
	}()

	count, err := conn.Conn().CopyFrom(
		b.ctx,
		pgx.Identifier{b.schema, "graph_edges"},
		[]string{"seq", "from_id", "to_id", "kind", "props"},
		&bulkRowSource{rows: rowChan},
	)
	if err != nil {
		return fmt.Errorf("COPY to graph_edges failed: %w", err)
	}
	b.EdgesCopied.Add(count)
	return nil
}

// bulkRowSource implements pgx.CopyFromSource for streaming rows from a
// channel.
type bulkRowSource struct {
	rows    <-chan []interface{}
	current []interface{}
}

func (r *bulkRowSource) Next() bool {
	row, ok := <-r.rows
	if !ok {
		return false
	}
	r.current = row
	return true
}

func (r *bulkRowSource) Values() ([]interface{}, error) {
	return r.current, nil
}

func (r *bulkRowSource) Err() error { return nil }
