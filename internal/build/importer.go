package build

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/julienmarie/spatial/internal/config"
	"github.com/julienmarie/spatial/internal/geo"
	"github.com/julienmarie/spatial/internal/graph"
	"github.com/julienmarie/spatial/internal/locidx"
	"github.com/julienmarie/spatial/internal/script"
	"github.com/julienmarie/spatial/internal/stream"
	"github.com/julienmarie/spatial/internal/style"
	"github.com/julienmarie/spatial/internal/tagstats"
)

// maxAnomalyLogs caps how many individual dangling-reference warnings each
// category emits. Beyond that only the summary counters grow.
const maxAnomalyLogs = 10

// Options configure one import pass.
type Options struct {
	Dataset    string
	SourceName string
	Bounds     config.BoundsFilter
	AllPoints  bool

	Style     *style.Config
	Script    *script.Runtime
	Locations *locidx.Index
}

// Importer drives a Builder from a record stream. It owns the construction
// algorithms (point dedup, way chains, relation assembly) and the anomaly
// accounting; the Builder owns persistence.
type Importer struct {
	b    Builder
	opts Options
	log  *zap.Logger

	stats     *tagstats.Collector
	counters  Counters
	anomalies Anomalies

	dataset *Ref
	prevWay *Ref
	prevRel *Ref

	// Provenance refs of the record currently being built.
	curUser      *Ref
	curChangeset *Ref

	missingNodeLogs   int
	missingMemberLogs int
	missingUserLogs   int
	missingCSLogs     int
}

// NewImporter wires an importer to its backend.
func NewImporter(b Builder, opts Options, log *zap.Logger) *Importer {
	if opts.Dataset == "" {
		opts.Dataset = "osm"
	}
	return &Importer{
		b:     b,
		opts:  opts,
		log:   log,
		stats: tagstats.NewCollector(),
	}
}

// Run consumes the stream to exhaustion and returns the completion report.
// Dangling references are absorbed and counted; only structural failures
// (dataset conflict, storage errors) abort the pass.
func (im *Importer) Run(ctx context.Context, src stream.Source) (*Summary, error) {
	start := time.Now()

	dataset, err := im.b.Dataset(im.opts.Dataset)
	if err != nil {
		return nil, err
	}
	im.dataset = dataset

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rec, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read input stream: %w", err)
		}

		switch r := rec.(type) {
		case *stream.BoundsRecord:
			err = im.buildBounds(r)
		case *stream.NodeRecord:
			err = im.BuildPoint(r)
		case *stream.WayRecord:
			err = im.BuildWay(r)
		case *stream.RelationRecord:
			err = im.BuildRelation(r)
		default:
			im.log.Warn("Skipping unknown record kind", zap.Stringer("kind", rec.Kind()))
		}
		if err != nil {
			return nil, err
		}
	}

	if err := im.finish(); err != nil {
		return nil, err
	}
	summary := &Summary{Counters: im.counters, Anomalies: im.anomalies}
	im.log.Info("Import pass complete",
		zap.Int64("nodes", summary.Nodes),
		zap.Int64("pois", summary.Pois),
		zap.Int64("ways", summary.Ways),
		zap.Int64("relations", summary.Relations),
		zap.Int64("changesets", summary.Changesets),
		zap.Int64("users", summary.Users),
		zap.Int64("missing_nodes", summary.MissingNodes),
		zap.Int64("missing_members", summary.MissingMembers),
		zap.Duration("elapsed", time.Since(start)))
	return summary, nil
}

func (im *Importer) finish() error {
	if err := im.b.IncrementCounters(im.counters); err != nil {
		return err
	}
	props := map[string]any{
		"import_time": time.Now().UTC().Format(time.RFC3339),
	}
	if im.opts.SourceName != "" {
		props["source_file"] = im.opts.SourceName
	}
	if keys := im.stats.SignificantKeys(tagstats.AllKinds); len(keys) > 0 {
		props["significant_keys"] = strings.Join(keys, ",")
	}
	if err := im.b.SetDatasetProperties(props); err != nil {
		return err
	}
	return im.b.Flush()
}

func (im *Importer) buildBounds(r *stream.BoundsRecord) error {
	bbox := geo.NewBBox(r.MinLon, r.MinLat)
	bbox.Include(r.MaxLon, r.MaxLat)
	return im.b.AddBounds(bbox)
}

// prepareTags runs the shared tag pipeline: editor-signature strip, style
// filter, script hook, tag statistics. The bool reports whether the record
// survives (a script hook may drop it).
func (im *Importer) prepareTags(kind string, id int64, tags map[string]string) (map[string]string, bool, error) {
	delete(tags, "created_by")
	if im.opts.Style != nil {
		tags = im.opts.Style.Apply(kind, tags)
	}
	if im.opts.Script != nil && im.opts.Script.HasHandler(kind) {
		out, keep, err := im.opts.Script.Transform(kind, id, tags)
		if err != nil {
			return nil, false, fmt.Errorf("script hook for %s %d: %w", kind, id, err)
		}
		if !keep {
			return nil, false, nil
		}
		tags = out
	}
	im.stats.AddAll(kind, tags)
	return tags, true, nil
}

// parseTimestamp converts an RFC 3339 edit timestamp to epoch milliseconds.
// Empty timestamps are normal for stripped extracts; garbage is counted.
func (im *Importer) parseTimestamp(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		im.anomalies.BadTimestamps++
		return 0
	}
	return t.UnixMilli()
}

// attachProvenance records who changed the entity and under which changeset,
// and leaves the resolved refs in curUser/curChangeset for the rest of the
// record's build.
func (im *Importer) attachProvenance(h *Ref, kind string, id int64, p stream.Provenance) error {
	ts := im.parseTimestamp(p.Timestamp)

	im.curUser = nil
	if p.UserID != 0 {
		user, created, err := im.b.UserFor(p.UserID, p.UserName, ts)
		if err != nil {
			return err
		}
		if created {
			im.counters.Users++
		}
		im.curUser = user
	} else if p.ChangesetID != 0 {
		im.anomalies.MissingUsers++
		if im.missingUserLogs < maxAnomalyLogs {
			im.missingUserLogs++
			im.log.Warn("Record has a changeset but no user attribution",
				zap.String("kind", kind), zap.Int64("id", id),
				zap.Int64("changeset", p.ChangesetID))
		}
	}

	cs, created, err := im.b.ChangesetFor(p.ChangesetID, ts, im.curUser)
	if err != nil {
		return err
	}
	if created {
		im.counters.Changesets++
	}
	im.curChangeset = cs
	if cs == nil {
		if p.UserID != 0 {
			im.anomalies.MissingChangesets++
			if im.missingCSLogs < maxAnomalyLogs {
				im.missingCSLogs++
				im.log.Warn("Record has a user but no changeset",
					zap.String("kind", kind), zap.Int64("id", id),
					zap.Int64("uid", p.UserID))
			}
		}
		return nil
	}
	return im.b.Link(h, cs, graph.EdgeChangeset, nil)
}

// BuildPoint stores one geographic point. Tagged points become POIs with
// their own point geometry record.
func (im *Importer) BuildPoint(n *stream.NodeRecord) error {
	if !im.opts.Bounds.Accept(n.Lon, n.Lat) {
		return nil
	}
	tags, keep, err := im.prepareTags("node", n.ID, n.Tags)
	if err != nil || !keep {
		return err
	}

	props := map[string]any{
		KeyNodeID: n.ID,
		"lon":     n.Lon,
		"lat":     n.Lat,
	}
	if ts := im.parseTimestamp(n.Timestamp); ts != 0 {
		props["timestamp"] = ts
	}
	if n.Version != 0 {
		props["version"] = int64(n.Version)
	}
	if name, ok := tags["name"]; ok {
		props["name"] = name
	}

	ref, err := im.b.CreateEntity("node", props, KeyNodeID)
	if err != nil {
		return err
	}
	if im.opts.Locations != nil {
		im.opts.Locations.Put(n.ID, n.Lat, n.Lon)
	}
	if err := im.attachProvenance(ref, "node", n.ID, n.Provenance); err != nil {
		return err
	}

	if len(tags) > 0 {
		im.counters.Pois++
		if err := im.b.AddTags(ref, tags, "node"); err != nil {
			return err
		}
	}
	if len(tags) > 0 || im.opts.AllPoints {
		bbox := geo.NewBBox(n.Lon, n.Lat)
		g := geo.Summary{Kind: geo.KindPoint, BBox: bbox, Vertices: 1}
		if err := im.b.AddGeometry(ref, g); err != nil {
			return err
		}
	}
	im.counters.Nodes++
	return nil
}

// wayDirection classifies the one-way tagging of a way.
type wayDirection int

const (
	dirBoth wayDirection = iota
	dirForward
	dirBackward
)

func directionOf(tags map[string]string) wayDirection {
	switch tags["oneway"] {
	case "yes", "true", "1":
		return dirForward
	case "-1", "reverse":
		return dirBackward
	}
	if tags["junction"] == "roundabout" {
		return dirForward
	}
	return dirBoth
}

// BuildWay stores one way: the way entity, its chained point occurrences and
// the derived line or polygon geometry. Ways are threaded off the dataset
// root in document order.
func (im *Importer) BuildWay(w *stream.WayRecord) error {
	tags, keep, err := im.prepareTags("way", w.ID, w.Tags)
	if err != nil || !keep {
		return err
	}

	dir := directionOf(tags)
	props := map[string]any{KeyWayID: w.ID}
	if ts := im.parseTimestamp(w.Timestamp); ts != 0 {
		props["timestamp"] = ts
	}
	if w.Version != 0 {
		props["version"] = int64(w.Version)
	}
	if name, ok := tags["name"]; ok {
		props["name"] = name
	}
	if highway, ok := tags["highway"]; ok {
		props["highway"] = highway
	}
	if dir != dirBoth {
		props["oneway"] = true
	}

	way, err := im.b.CreateEntity("way", props, KeyWayID)
	if err != nil {
		return err
	}
	if im.prevWay == nil {
		err = im.b.Link(im.dataset, way, graph.EdgeWays, nil)
	} else {
		err = im.b.Link(im.prevWay, way, graph.EdgeNext, nil)
	}
	if err != nil {
		return err
	}
	im.prevWay = way

	if err := im.attachProvenance(way, "way", w.ID, w.Provenance); err != nil {
		return err
	}
	if err := im.b.AddTags(way, tags, "way"); err != nil {
		return err
	}
	if err := im.buildWayChain(way, w, dir == dirBackward); err != nil {
		return err
	}
	im.counters.Ways++
	return nil
}

// buildWayChain resolves the way's point references into a chain of
// occurrence vertices joined by NEXT edges carrying segment lengths.
//
// A reference identical to its immediate predecessor never allocates an
// occurrence: duplicated consecutive points are a data artifact, not
// geometry. A closing reference back to the first point reuses the first
// occurrence, turning the chain into a ring.
func (im *Importer) buildWayChain(way *Ref, w *stream.WayRecord, reversed bool) error {
	var (
		firstProxy, prevProxy *Ref
		firstID               int64
		havePrev              bool
		prevID                int64
		prevLon, prevLat      float64
		vertices              int
		lastID                int64
	)
	var bbox geo.BBox

	for i, id := range w.NodeIDs {
		if havePrev && id == prevID {
			continue
		}

		point, err := im.b.ResolvePoint(id, im.curChangeset)
		if err != nil {
			return err
		}
		if point == nil {
			im.anomalies.MissingNodes++
			if im.missingNodeLogs < maxAnomalyLogs {
				im.missingNodeLogs++
				im.log.Warn("Way references a missing point",
					zap.Int64("way", w.ID), zap.Int64("node", id))
			}
			havePrev, prevID = true, id
			continue
		}
		lon, lat, err := im.pointCoords(id, point)
		if err != nil {
			return err
		}

		bbox.Include(lon, lat)
		vertices++
		lastID = id

		var proxy *Ref
		if i == len(w.NodeIDs)-1 && firstProxy != nil && id == firstID {
			proxy = firstProxy
		} else {
			proxy, err = im.b.CreateProxy()
			if err != nil {
				return err
			}
			if err := im.b.Link(proxy, point, graph.EdgeNode, nil); err != nil {
				return err
			}
		}

		if firstProxy == nil {
			firstProxy = proxy
			firstID = id
			// A chain stored against travel direction is marked on its
			// entry edge; readers cannot tell a reversed ring from a
			// forward one by structure alone.
			var entryProps map[string]any
			if reversed {
				entryProps = map[string]any{"reversed": true}
			}
			if err := im.b.Link(way, proxy, graph.EdgeFirstNode, entryProps); err != nil {
				return err
			}
		} else {
			segProps := map[string]any{
				"length": geo.Distance(prevLon, prevLat, lon, lat),
			}
			from, to := prevProxy, proxy
			if reversed {
				from, to = proxy, prevProxy
			}
			if err := im.b.Link(from, to, graph.EdgeNext, segProps); err != nil {
				return err
			}
		}

		prevProxy = proxy
		havePrev, prevID = true, id
		prevLon, prevLat = lon, lat
	}

	if vertices == 0 || !bbox.IsSet() {
		return nil
	}
	kind := geo.KindLine
	switch {
	case vertices < 2:
		kind = geo.KindPoint
	case firstID == lastID && firstProxy != nil:
		kind = geo.KindPolygon
	}
	return im.b.AddGeometry(way, geo.Summary{Kind: kind, BBox: bbox, Vertices: vertices})
}

// pointCoords reads a point's coordinates, preferring the mmap coordinate
// index over a property read when one is loaded.
func (im *Importer) pointCoords(id int64, point *Ref) (lon, lat float64, err error) {
	if im.opts.Locations != nil {
		if lat, lon, ok := im.opts.Locations.Get(id); ok {
			return lon, lat, nil
		}
	}
	return im.b.PointLocation(point)
}

// BuildRelation stores one relation with role-qualified MEMBER edges and a
// geometry summary folded from its members.
func (im *Importer) BuildRelation(r *stream.RelationRecord) error {
	tags, keep, err := im.prepareTags("relation", r.ID, r.Tags)
	if err != nil || !keep {
		return err
	}

	props := map[string]any{KeyRelationID: r.ID}
	if ts := im.parseTimestamp(r.Timestamp); ts != 0 {
		props["timestamp"] = ts
	}
	if r.Version != 0 {
		props["version"] = int64(r.Version)
	}
	if name, ok := tags["name"]; ok {
		props["name"] = name
	}

	rel, err := im.b.CreateEntity("relation", props, KeyRelationID)
	if err != nil {
		return err
	}
	if im.prevRel == nil {
		err = im.b.Link(im.dataset, rel, graph.EdgeRelations, nil)
	} else {
		err = im.b.Link(im.prevRel, rel, graph.EdgeNext, nil)
	}
	if err != nil {
		return err
	}
	im.prevRel = rel

	if err := im.attachProvenance(rel, "relation", r.ID, r.Provenance); err != nil {
		return err
	}
	if err := im.b.AddTags(rel, tags, "relation"); err != nil {
		return err
	}

	acc := geo.NewAccumulator(geo.KindMultiLine)
	type memberKey struct {
		typ string
		ref int64
	}
	seen := make(map[memberKey]bool, len(r.Members))

	for _, m := range r.Members {
		key := memberKey{m.Type, m.Ref}
		selfRef := m.Type == "relation" && m.Ref == r.ID
		if seen[key] || selfRef {
			im.countMissingMember(r.ID, m, "duplicate or self-referential member")
			continue
		}
		seen[key] = true

		member, err := im.b.Resolve(m.Type, m.Ref)
		if err != nil {
			return err
		}
		if member == nil {
			im.countMissingMember(r.ID, m, "member not in store")
			continue
		}

		switch m.Type {
		case "node":
			lon, lat, err := im.b.PointLocation(member)
			if err != nil {
				return err
			}
			acc.IncludePoint(lon, lat)
		default:
			g, err := im.b.MemberGeometry(member)
			if err != nil {
				return err
			}
			if g != nil {
				acc.IncludeMember(*g)
			}
		}
		if m.Role == "outer" {
			acc.ForcePolygon()
		}

		var edgeProps map[string]any
		if m.Role != "" {
			edgeProps = map[string]any{"role": m.Role}
		}
		if err := im.b.Link(rel, member, graph.EdgeMember, edgeProps); err != nil {
			return err
		}
	}

	if acc.Valid() {
		if err := im.b.AddGeometry(rel, acc.Summary()); err != nil {
			return err
		}
	}
	im.counters.Relations++
	return nil
}

func (im *Importer) countMissingMember(relID int64, m stream.Member, reason string) {
	im.anomalies.MissingMembers++
	if im.missingMemberLogs < maxAnomalyLogs {
		im.missingMemberLogs++
		im.log.Warn("Relation member skipped",
			zap.Int64("relation", relID),
			zap.String("type", m.Type), zap.Int64("ref", m.Ref),
			zap.String("reason", reason))
	}
}
