// Package locidx is a memory-mapped point coordinate index. Coordinates are
// stored fixed-point at offset = id * 8, giving O(1) lookup by external id
// without touching the graph store. The backing file is sparse; disk usage
// tracks the ids actually written.
package locidx

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

const (
	// lat (int32) + lon (int32), fixed-point at 1e7.
	entrySize = 8
	// Upper bound on external ids; OSM node ids are past 11 billion.
	maxID = 16_000_000_000
)

// Index maps external point ids to coordinates through a sparse mmap file.
type Index struct {
	file *os.File
	data mmap.MMap
}

// Create creates (or truncates) an index file and maps it writable.
func Create(path string) (*Index, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create location index: %w", err)
	}
	if err := f.Truncate(maxID * entrySize); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to size location index: %w", err)
	}
	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap location index: %w", err)
	}
	return &Index{file: f, data: data}, nil
}

// Put stores the coordinates for an external id. Out-of-range ids are
// ignored; lookups for them simply miss.
func (x *Index) Put(id int64, lat, lon float64) {
	if id < 0 || id >= maxID {
		return
	}
	off := id * entrySize
	binary.LittleEndian.PutUint32(x.data[off:], uint32(int32(lat*1e7)))
	binary.LittleEndian.PutUint32(x.data[off+4:], uint32(int32(lon*1e7)))
}

// Get retrieves the coordinates for an external id. A (0, 0) entry reads as
// missing; the poles-meridian origin is not distinguishable from an unset
// slot in this encoding.
func (x *Index) Get(id int64) (lat, lon float64, ok bool) {
	if id < 0 || id >= maxID {
		return 0, 0, false
	}
	off := id * entrySize
	latInt := int32(binary.LittleEndian.Uint32(x.data[off:]))
	lonInt := int32(binary.LittleEndian.Uint32(x.data[off+4:]))
	if latInt == 0 && lonInt == 0 {
		return 0, 0, false
	}
	return float64(latInt) / 1e7, float64(lonInt) / 1e7, true
}

// Close unmaps and closes the index without removing the backing file.
func (x *Index) Close() error {
	var err error
	if x.data != nil {
		err = x.data.Unmap()
		x.data = nil
	}
	if cerr := x.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Remove deletes the backing file. Call after Close.
func (x *Index) Remove() error {
	return os.Remove(x.file.Name())
}
