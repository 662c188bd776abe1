// Package build contains the ingest engine: the storage-agnostic entity
// builder protocol, the way/relation construction algorithms that drive it,
// and its two backends (the transactional graph writer and the offline
// PostgreSQL bulk loader).
package build

import (
	"errors"

	"github.com/julienmarie/spatial/internal/geo"
	"github.com/julienmarie/spatial/internal/graph"
)

// ErrDatasetConflict is returned when a dataset name is already bound to
// something other than a dataset root. This is a structural failure: the
// import aborts and no further writes are attempted.
var ErrDatasetConflict = errors.New("build: dataset name bound to a different root")

// Ref is a builder-issued reference to a stored entity: a stable external
// identity plus a backend handle. The backend handle may go stale at a
// commit boundary; backends re-acquire it transparently on next use, so a
// Ref held across a boundary stays usable.
type Ref struct {
	Kind  string
	ExtID int64

	id  uint64
	gen uint64
}

// Counters are the dataset-level entity counts accumulated by one import
// pass and folded onto the dataset root at completion.
type Counters struct {
	Nodes      int64
	Pois       int64
	Ways       int64
	Relations  int64
	Changesets int64
	Users      int64
}

// Anomalies are the recoverable per-record failures absorbed during an
// import and reported in aggregate.
type Anomalies struct {
	MissingNodes      int64
	MissingMembers    int64
	MissingUsers      int64
	MissingChangesets int64
	BadTimestamps     int64
}

// Summary is the completion report of an import pass.
type Summary struct {
	Counters
	Anomalies
}

// Builder is the abstract build protocol. The importer feeds decoded
// attribute records through these operations in document order; backends
// own persistence, batching and identity caches.
//
// Every operation that takes or returns a *Ref must tolerate refs acquired
// before the backend's last commit boundary.
type Builder interface {
	// Dataset resolves or creates the dataset root for name. Returns
	// ErrDatasetConflict when the name is bound to a different root.
	Dataset(name string) (*Ref, error)

	// SetDatasetProperties merges properties onto the dataset root.
	SetDatasetProperties(props map[string]any) error

	// AddBounds attaches a document-level extent record to the dataset.
	AddBounds(b geo.BBox) error

	// CreateEntity stores a new entity vertex. When indexKey names a
	// property, the entity is registered in the external-id index under it
	// and an existing entity with the same id is returned instead of
	// creating a duplicate.
	CreateEntity(kind string, props map[string]any, indexKey string) (*Ref, error)

	// CreateProxy stores an anonymous per-way point occurrence vertex.
	CreateProxy() (*Ref, error)

	// AddTags persists a tag bag and links it to its owner. Empty bags are
	// a no-op.
	AddTags(h *Ref, tags map[string]string, kind string) error

	// AddGeometry attaches derived geometry metadata to an entity. Bags
	// with no bounding box or vertices are a no-op.
	AddGeometry(h *Ref, g geo.Summary) error

	// Link creates a typed edge between two stored entities.
	Link(from, to *Ref, t graph.EdgeType, props map[string]any) error

	// Resolve finds an entity by kind and external id. Returns (nil, nil)
	// when the reference dangles.
	Resolve(kind string, extID int64) (*Ref, error)

	// ResolvePoint finds a point by external id, consulting the backend's
	// per-changeset locality cache before the global id index.
	ResolvePoint(extID int64, changeset *Ref) (*Ref, error)

	// PointLocation reads a point's coordinates.
	PointLocation(h *Ref) (lon, lat float64, err error)

	// MemberGeometry reads the stored geometry summary of a relation
	// member, or nil when the member carries none.
	MemberGeometry(h *Ref) (*geo.Summary, error)

	// UserFor looks up or creates the user entity for uid. The bool
	// reports whether a new entity was created.
	UserFor(uid int64, name string, timestampMs int64) (*Ref, bool, error)

	// ChangesetFor looks up or creates the changeset entity for id and
	// links it to user on creation. A zero id clears the backend's current
	// changeset and returns nil. The bool reports creation.
	ChangesetFor(id int64, timestampMs int64, user *Ref) (*Ref, bool, error)

	// IncrementCounters folds entity counts onto the dataset root.
	IncrementCounters(c Counters) error

	// Flush commits any in-progress batch. The builder stays usable.
	Flush() error
}
