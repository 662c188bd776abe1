package graph

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Key space layout. Vertex and edge ids are big-endian so that iteration
// order matches allocation order.
//
//	v <id:8>                          -> vertex props (JSON)
//	o <from:8> <tlen:1> <type> <seq:8> -> edge record (JSON)
//	i <to:8>   <tlen:1> <type> <seq:8> -> edge record (JSON)
//	x <kind> 0x00 <key> 0x00 <value>  -> vertex id (8 bytes)
//	m <name>                          -> store metadata
const (
	prefixVertex = 'v'
	prefixOut    = 'o'
	prefixIn     = 'i'
	prefixIndex  = 'x'
	prefixMeta   = 'm'
)

var (
	keyNextVertex = []byte("m:next_vertex")
	keyNextEdge   = []byte("m:next_edge")
)

// Store is an embedded property-graph database. A Store supports one writer
// at a time; readers may run concurrently under Badger's snapshot isolation.
type Store struct {
	db   *badger.DB
	path string
}

// Open opens (or creates) a graph store in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store at %s: %w", dir, err)
	}
	return &Store{db: db, path: dir}, nil
}

// Path returns the directory the store was opened from.
func (s *Store) Path() string { return s.path }

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close graph store: %w", err)
	}
	return nil
}

// Begin starts a read-write transaction.
func (s *Store) Begin() (*Tx, error) {
	tx := &Tx{s: s, txn: s.db.NewTransaction(true), update: true}
	if err := tx.loadSequences(); err != nil {
		tx.Discard()
		return nil, err
	}
	return tx, nil
}

// View starts a read-only transaction.
func (s *Store) View() *Tx {
	return &Tx{s: s, txn: s.db.NewTransaction(false)}
}

func vertexKey(id VertexID) []byte {
	k := make([]byte, 9)
	k[0] = prefixVertex
	binary.BigEndian.PutUint64(k[1:], uint64(id))
	return k
}

func edgeKey(prefix byte, anchor VertexID, t EdgeType, seq uint64) []byte {
	k := make([]byte, 0, 18+len(t))
	k = append(k, prefix)
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], uint64(anchor))
	k = append(k, id[:]...)
	k = append(k, byte(len(t)))
	k = append(k, t...)
	var sq [8]byte
	binary.BigEndian.PutUint64(sq[:], seq)
	return append(k, sq[:]...)
}

func edgePrefix(prefix byte, anchor VertexID, t EdgeType) []byte {
	k := make([]byte, 0, 10+len(t))
	k = append(k, prefix)
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], uint64(anchor))
	k = append(k, id[:]...)
	k = append(k, byte(len(t)))
	return append(k, t...)
}

func indexKey(kind, key, value string) []byte {
	k := make([]byte, 0, 3+len(kind)+len(key)+len(value))
	k = append(k, prefixIndex)
	k = append(k, kind...)
	k = append(k, 0)
	k = append(k, key...)
	k = append(k, 0)
	return append(k, value...)
}
