package stream

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
)

// FileSource adapts a paulmach/osm scanner into a record Source. Decoding
// runs single-threaded so records arrive in document order.
type FileSource struct {
	scanner osm.Scanner
	closers []io.Closer
}

// OpenFile opens an .osm.pbf, .osm or .osm.gz file as a record source.
func OpenFile(ctx context.Context, path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}

	var r io.Reader = f
	closers := []io.Closer{f}
	name := strings.ToLower(path)
	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open gzip input: %w", err)
		}
		r = gz
		closers = append([]io.Closer{gz}, closers...)
		name = strings.TrimSuffix(name, ".gz")
	}

	var scanner osm.Scanner
	if strings.HasSuffix(name, ".pbf") {
		scanner = osmpbf.New(ctx, r, 1)
	} else {
		scanner = osmxml.New(ctx, r)
	}
	return &FileSource{scanner: scanner, closers: closers}, nil
}

// Next returns the next element record, or io.EOF at end of stream.
func (s *FileSource) Next() (Record, error) {
	for s.scanner.Scan() {
		rec := convertObject(s.scanner.Object())
		if rec != nil {
			return rec, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan input: %w", err)
	}
	return nil, io.EOF
}

// Close releases the scanner and underlying files.
func (s *FileSource) Close() error {
	err := s.scanner.Close()
	for _, c := range s.closers {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func convertObject(o osm.Object) Record {
	switch v := o.(type) {
	case *osm.Node:
		return &NodeRecord{
			ID:         int64(v.ID),
			Lat:        v.Lat,
			Lon:        v.Lon,
			Tags:       v.Tags.Map(),
			Provenance: provenanceOf(int64(v.ChangesetID), int64(v.UserID), v.User, v.Timestamp, v.Version),
		}
	case *osm.Way:
		ids := make([]int64, 0, len(v.Nodes))
		for _, wn := range v.Nodes {
			ids = append(ids, int64(wn.ID))
		}
		return &WayRecord{
			ID:         int64(v.ID),
			NodeIDs:    ids,
			Tags:       v.Tags.Map(),
			Provenance: provenanceOf(int64(v.ChangesetID), int64(v.UserID), v.User, v.Timestamp, v.Version),
		}
	case *osm.Relation:
		members := make([]Member, 0, len(v.Members))
		for _, m := range v.Members {
			members = append(members, Member{
				Type: string(m.Type),
				Ref:  m.Ref,
				Role: m.Role,
			})
		}
		return &RelationRecord{
			ID:         int64(v.ID),
			Members:    members,
			Tags:       v.Tags.Map(),
			Provenance: provenanceOf(int64(v.ChangesetID), int64(v.UserID), v.User, v.Timestamp, v.Version),
		}
	case *osm.Bounds:
		return &BoundsRecord{
			MinLon: v.MinLon, MinLat: v.MinLat,
			MaxLon: v.MaxLon, MaxLat: v.MaxLat,
		}
	}
	return nil
}

func provenanceOf(changeset, uid int64, user string, ts time.Time, version int) Provenance {
	p := Provenance{
		ChangesetID: changeset,
		UserID:      uid,
		UserName:    user,
		Version:     version,
	}
	if !ts.IsZero() {
		p.Timestamp = ts.UTC().Format(time.RFC3339)
	}
	return p
}

// SliceSource serves a fixed record slice, mostly for tests and in-process
// producers.
type SliceSource struct {
	records []Record
	pos     int
}

// NewSliceSource returns a Source over the given records.
func NewSliceSource(records ...Record) *SliceSource {
	return &SliceSource{records: records}
}

// Next returns the next record, or io.EOF when exhausted.
func (s *SliceSource) Next() (Record, error) {
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}

// Close is a no-op.
func (s *SliceSource) Close() error { return nil }
