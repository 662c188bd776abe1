// Package stream defines the attribute-record stream consumed by the build
// engine: a lazy, finite, non-restartable sequence of typed element records
// in document order, plus adapters that produce it from OSM files.
package stream

// Kind tags the element type of a record.
type Kind int

const (
	KindBounds Kind = iota
	KindNode
	KindWay
	KindRelation
)

func (k Kind) String() string {
	switch k {
	case KindBounds:
		return "bounds"
	case KindNode:
		return "node"
	case KindWay:
		return "way"
	case KindRelation:
		return "relation"
	}
	return "unknown"
}

// Provenance carries the edit attribution shared by all element records.
// Timestamp is the raw document value; unparsable timestamps are dropped by
// the builder, not the adapter.
type Provenance struct {
	ChangesetID int64
	UserID      int64
	UserName    string
	Timestamp   string
	Version     int
}

// Record is one decoded element of the input document.
type Record interface {
	Kind() Kind
}

// BoundsRecord is the document-level extent declaration.
type BoundsRecord struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

func (*BoundsRecord) Kind() Kind { return KindBounds }

// NodeRecord is a geographic point with optional tags.
type NodeRecord struct {
	ID       int64
	Lat, Lon float64
	Tags     map[string]string
	Provenance
}

func (*NodeRecord) Kind() Kind { return KindNode }

// WayRecord is an ordered sequence of point references with tags.
type WayRecord struct {
	ID      int64
	NodeIDs []int64
	Tags    map[string]string
	Provenance
}

func (*WayRecord) Kind() Kind { return KindWay }

// Member is one entry of a relation's ordered member list.
type Member struct {
	Type string
	Ref  int64
	Role string
}

// RelationRecord is a collection of typed members with roles.
type RelationRecord struct {
	ID      int64
	Members []Member
	Tags    map[string]string
	Provenance
}

func (*RelationRecord) Kind() Kind { return KindRelation }

// Source produces records in document order. Next returns io.EOF when the
// stream is exhausted; a Source is not restartable.
type Source interface {
	Next() (Record, error)
	Close() error
}
