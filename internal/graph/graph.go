// Package graph implements an embedded transactional property graph on top
// of BadgerDB. Vertices are JSON property bags keyed by a monotonically
// allocated id, edges are typed and directed with optional properties, and
// an equality index maps (kind, key, value) triples to vertex ids.
//
// All mutation happens inside an explicit Tx. A vertex id is stable for the
// life of the store, but any Tx-derived read is only valid until that Tx is
// committed or discarded.
package graph

import (
	"errors"
	"fmt"
)

// VertexID identifies a vertex. Zero is never a valid id.
type VertexID uint64

// EdgeType names a typed edge. The set below is the persisted schema of the
// ingest engine; the store itself accepts any type.
type EdgeType string

const (
	EdgeWays      EdgeType = "WAYS"
	EdgeRelations EdgeType = "RELATIONS"
	EdgeNext      EdgeType = "NEXT"
	EdgeFirstNode EdgeType = "FIRST_NODE"
	EdgeNode      EdgeType = "NODE"
	EdgeGeom      EdgeType = "GEOM"
	EdgeTags      EdgeType = "TAGS"
	EdgeChangeset EdgeType = "CHANGESET"
	EdgeUser      EdgeType = "USER"
	EdgeUsers     EdgeType = "USERS"
	EdgeOSMUser   EdgeType = "OSM_USER"
	EdgeMember    EdgeType = "MEMBER"
	EdgeBBox      EdgeType = "BBOX"
)

// ErrNotFound is returned when a vertex or index entry does not exist.
var ErrNotFound = errors.New("graph: not found")

// Props is a vertex or edge property bag. Values survive a JSON round trip:
// strings, bools, float64 and int64 (numbers are decoded as int64 when they
// have no fractional part).
type Props map[string]any

// Edge is a materialized edge as read back from the store.
type Edge struct {
	From  VertexID
	To    VertexID
	Type  EdgeType
	Props Props
}

// Str reads a string property.
func (p Props) Str(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// Bool reads a boolean property.
func (p Props) Bool(key string) (bool, bool) {
	v, ok := p[key].(bool)
	return v, ok
}

// Int64 reads a numeric property as int64, accepting both decoded forms.
func (p Props) Int64(key string) (int64, bool) {
	switch v := p[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	}
	return 0, false
}

// Float64 reads a numeric property as float64.
func (p Props) Float64(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func indexValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int64:
		return fmt.Sprintf("%d", v), nil
	case int:
		return fmt.Sprintf("%d", v), nil
	case uint64:
		return fmt.Sprintf("%d", v), nil
	default:
		return "", fmt.Errorf("graph: unsupported index value type %T", value)
	}
}
