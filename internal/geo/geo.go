// Package geo provides the incremental geometry metadata used during
// ingest: bounding-box accumulation, geometry-kind classification and
// great-circle distances between way points.
package geo

import (
	"github.com/golang/geo/s2"
)

// Kind classifies the derived geometry of an entity.
type Kind int

const (
	KindInvalid Kind = iota
	KindPoint
	KindLine
	KindPolygon
	KindMultiPoint
	KindMultiLine
)

var kindNames = map[Kind]string{
	KindInvalid:    "invalid",
	KindPoint:      "point",
	KindLine:       "line",
	KindPolygon:    "polygon",
	KindMultiPoint: "multi-point",
	KindMultiLine:  "multi-line",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "invalid"
}

// KindFromString parses the persisted geometry-kind name.
func KindFromString(s string) Kind {
	for k, n := range kindNames {
		if n == s {
			return k
		}
	}
	return KindInvalid
}

// BBox is a geographic bounding box in WGS84 degrees. The zero value is
// empty and expands to the first included point.
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	set                            bool
}

// NewBBox returns a bounding box containing the single point (lon, lat).
func NewBBox(lon, lat float64) BBox {
	return BBox{MinLon: lon, MinLat: lat, MaxLon: lon, MaxLat: lat, set: true}
}

// IsSet reports whether any point has been included.
func (b BBox) IsSet() bool { return b.set }

// Include expands the box to contain (lon, lat).
func (b *BBox) Include(lon, lat float64) {
	if !b.set {
		*b = NewBBox(lon, lat)
		return
	}
	if lon < b.MinLon {
		b.MinLon = lon
	}
	if lon > b.MaxLon {
		b.MaxLon = lon
	}
	if lat < b.MinLat {
		b.MinLat = lat
	}
	if lat > b.MaxLat {
		b.MaxLat = lat
	}
}

// IncludeBBox expands the box to contain another box.
func (b *BBox) IncludeBBox(other BBox) {
	if !other.set {
		return
	}
	b.Include(other.MinLon, other.MinLat)
	b.Include(other.MaxLon, other.MaxLat)
}

// Contains reports whether (lon, lat) lies within the box. An empty box
// contains nothing.
func (b BBox) Contains(lon, lat float64) bool {
	return b.set &&
		lon >= b.MinLon && lon <= b.MaxLon &&
		lat >= b.MinLat && lat <= b.MaxLat
}

// Summary is the persisted geometry metadata of one entity.
type Summary struct {
	Kind     Kind
	BBox     BBox
	Vertices int
}

const earthRadiusMeters = 6371008.8

// Distance returns the great-circle distance in meters between two points.
func Distance(lonA, latA, lonB, latB float64) float64 {
	a := s2.LatLngFromDegrees(latA, lonA)
	b := s2.LatLngFromDegrees(latB, lonB)
	return a.Distance(b).Radians() * earthRadiusMeters
}
