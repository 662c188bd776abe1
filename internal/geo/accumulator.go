package geo

// Accumulator folds relation members into a running geometry summary.
//
// A relation starts as a multi-line. A member whose own geometry is neither
// a line nor a polygon downgrades the relation to invalid, while a member
// with role "outer" forces the final kind to polygon no matter what else
// the relation contains. Point members only grow the bounding box.
type Accumulator struct {
	kind          Kind
	forcedPolygon bool
	bbox          BBox
	vertices      int
}

// NewAccumulator returns an accumulator seeded with the given kind.
func NewAccumulator(kind Kind) *Accumulator {
	return &Accumulator{kind: kind}
}

// IncludePoint folds a single coordinate into the summary. The kind is not
// affected.
func (a *Accumulator) IncludePoint(lon, lat float64) {
	a.bbox.Include(lon, lat)
	a.vertices++
}

// IncludeMember folds a member's stored geometry summary into this one.
func (a *Accumulator) IncludeMember(g Summary) {
	a.bbox.IncludeBBox(g.BBox)
	a.vertices += g.Vertices
	if g.Kind != KindLine && g.Kind != KindPolygon {
		a.kind = KindInvalid
	}
}

// ForcePolygon marks the relation as a polygon, seen on an "outer" role.
func (a *Accumulator) ForcePolygon() { a.forcedPolygon = true }

// Kind returns the current classification.
func (a *Accumulator) Kind() Kind {
	if a.forcedPolygon {
		return KindPolygon
	}
	return a.kind
}

// Valid reports whether the accumulated geometry should be persisted.
func (a *Accumulator) Valid() bool {
	return a.Kind() != KindInvalid && a.bbox.IsSet() && a.vertices > 0
}

// Summary returns the accumulated geometry metadata.
func (a *Accumulator) Summary() Summary {
	return Summary{Kind: a.Kind(), BBox: a.bbox, Vertices: a.vertices}
}
