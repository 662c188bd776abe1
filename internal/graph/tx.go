package graph

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Tx is a single transaction against the store. Write transactions allocate
// vertex and edge ids from persisted sequences; the sequences are written
// back as part of Commit so an interrupted batch leaves them untouched.
type Tx struct {
	s      *Store
	txn    *badger.Txn
	update bool

	nextVertex   uint64
	nextEdge     uint64
	dirtySeq     bool
	pendingBytes int
}

// PendingBytes reports the approximate key and value bytes buffered in this
// transaction. Badger caps an uncommitted transaction at a fraction of its
// memtable size; writers use this to close a batch before that limit is
// reached.
func (tx *Tx) PendingBytes() int { return tx.pendingBytes }

func (tx *Tx) set(key, val []byte) error {
	if err := tx.txn.Set(key, val); err != nil {
		return err
	}
	tx.pendingBytes += len(key) + len(val)
	return nil
}

func (tx *Tx) loadSequences() error {
	var err error
	if tx.nextVertex, err = tx.readSeq(keyNextVertex); err != nil {
		return err
	}
	tx.nextEdge, err = tx.readSeq(keyNextEdge)
	return err
}

func (tx *Tx) readSeq(key []byte) (uint64, error) {
	item, err := tx.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence: %w", err)
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt sequence value (%d bytes)", len(val))
		}
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, err
}

// Commit makes all writes of this transaction durable as one atomic unit.
func (tx *Tx) Commit() error {
	if tx.update && tx.dirtySeq {
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], tx.nextVertex)
		if err := tx.txn.Set(keyNextVertex, append([]byte(nil), v[:]...)); err != nil {
			return fmt.Errorf("failed to persist vertex sequence: %w", err)
		}
		binary.BigEndian.PutUint64(v[:], tx.nextEdge)
		if err := tx.txn.Set(keyNextEdge, append([]byte(nil), v[:]...)); err != nil {
			return fmt.Errorf("failed to persist edge sequence: %w", err)
		}
	}
	if err := tx.txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit graph transaction: %w", err)
	}
	return nil
}

// Discard abandons the transaction. Safe to call after Commit.
func (tx *Tx) Discard() { tx.txn.Discard() }

// CreateVertex allocates a new vertex id and stores its properties.
func (tx *Tx) CreateVertex(props Props) (VertexID, error) {
	id := VertexID(tx.nextVertex)
	tx.nextVertex++
	tx.dirtySeq = true
	if props == nil {
		props = Props{}
	}
	if err := tx.writeProps(vertexKey(id), props); err != nil {
		return 0, err
	}
	return id, nil
}

// Vertex reads a vertex property bag. Returns ErrNotFound for unknown ids.
func (tx *Tx) Vertex(id VertexID) (Props, error) {
	item, err := tx.txn.Get(vertexKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read vertex %d: %w", id, err)
	}
	var props Props
	err = item.Value(func(val []byte) error {
		props, err = decodeProps(val)
		return err
	})
	return props, err
}

// HasVertex reports whether a vertex exists.
func (tx *Tx) HasVertex(id VertexID) (bool, error) {
	_, err := tx.txn.Get(vertexKey(id))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check vertex %d: %w", id, err)
	}
	return true, nil
}

// MergeProperties merges props into an existing vertex property bag.
func (tx *Tx) MergeProperties(id VertexID, props Props) error {
	current, err := tx.Vertex(id)
	if err != nil {
		return err
	}
	for k, v := range props {
		current[k] = v
	}
	return tx.writeProps(vertexKey(id), current)
}

// CreateEdge stores a typed directed edge. Edges of one type from one vertex
// keep their creation order.
func (tx *Tx) CreateEdge(from, to VertexID, t EdgeType, props Props) error {
	seq := tx.nextEdge
	tx.nextEdge++
	tx.dirtySeq = true
	rec, err := json.Marshal(edgeRecord{From: uint64(from), To: uint64(to), Props: props})
	if err != nil {
		return fmt.Errorf("failed to encode edge: %w", err)
	}
	if err := tx.set(edgeKey(prefixOut, from, t, seq), rec); err != nil {
		return fmt.Errorf("failed to write out-edge: %w", err)
	}
	if err := tx.set(edgeKey(prefixIn, to, t, seq), rec); err != nil {
		return fmt.Errorf("failed to write in-edge: %w", err)
	}
	return nil
}

// OutEdges returns all edges of type t leaving id, in creation order.
func (tx *Tx) OutEdges(id VertexID, t EdgeType) ([]Edge, error) {
	return tx.scanEdges(prefixOut, id, t)
}

// InEdges returns all edges of type t arriving at id, in creation order.
func (tx *Tx) InEdges(id VertexID, t EdgeType) ([]Edge, error) {
	return tx.scanEdges(prefixIn, id, t)
}

// FirstOut returns the first edge of type t leaving id, or nil if none.
func (tx *Tx) FirstOut(id VertexID, t EdgeType) (*Edge, error) {
	return tx.firstEdge(prefixOut, id, t)
}

// FirstIn returns the first edge of type t arriving at id, or nil if none.
func (tx *Tx) FirstIn(id VertexID, t EdgeType) (*Edge, error) {
	return tx.firstEdge(prefixIn, id, t)
}

// SetIndex binds (kind, key, value) to a vertex id in the equality index.
func (tx *Tx) SetIndex(kind, key string, value any, id VertexID) error {
	v, err := indexValue(value)
	if err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	if err := tx.set(indexKey(kind, key, v), append([]byte(nil), buf[:]...)); err != nil {
		return fmt.Errorf("failed to write index %s/%s: %w", kind, key, err)
	}
	return nil
}

// LookupIndex resolves (kind, key, value) to a vertex id.
func (tx *Tx) LookupIndex(kind, key string, value any) (VertexID, bool, error) {
	v, err := indexValue(value)
	if err != nil {
		return 0, false, err
	}
	item, err := tx.txn.Get(indexKey(kind, key, v))
	if err == badger.ErrKeyNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read index %s/%s: %w", kind, key, err)
	}
	var id VertexID
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt index entry (%d bytes)", len(val))
		}
		id = VertexID(binary.BigEndian.Uint64(val))
		return nil
	})
	return id, err == nil, err
}

type edgeRecord struct {
	From  uint64 `json:"f"`
	To    uint64 `json:"t"`
	Props Props  `json:"p,omitempty"`
}

func (tx *Tx) scanEdges(prefix byte, id VertexID, t EdgeType) ([]Edge, error) {
	var edges []Edge
	err := tx.iterEdges(prefix, id, t, func(e Edge) bool {
		edges = append(edges, e)
		return true
	})
	return edges, err
}

func (tx *Tx) firstEdge(prefix byte, id VertexID, t EdgeType) (*Edge, error) {
	var found *Edge
	err := tx.iterEdges(prefix, id, t, func(e Edge) bool {
		found = &e
		return false
	})
	return found, err
}

func (tx *Tx) iterEdges(prefix byte, id VertexID, t EdgeType, fn func(Edge) bool) error {
	p := edgePrefix(prefix, id, t)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = p
	opts.PrefetchValues = true
	it := tx.txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		var rec edgeRecord
		err := it.Item().Value(func(val []byte) error {
			return decodeEdge(val, &rec)
		})
		if err != nil {
			return fmt.Errorf("failed to decode edge: %w", err)
		}
		keep := fn(Edge{
			From:  VertexID(rec.From),
			To:    VertexID(rec.To),
			Type:  t,
			Props: rec.Props,
		})
		if !keep {
			return nil
		}
	}
	return nil
}

func (tx *Tx) writeProps(key []byte, props Props) error {
	data, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode properties: %w", err)
	}
	if err := tx.set(key, data); err != nil {
		return fmt.Errorf("failed to write properties: %w", err)
	}
	return nil
}

func decodeEdge(data []byte, rec *edgeRecord) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(rec); err != nil {
		return err
	}
	rec.Props = normalizeProps(rec.Props)
	return nil
}

func decodeProps(data []byte) (Props, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var props Props
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}
	return normalizeProps(props), nil
}

// normalizeProps converts json.Number values into int64 when integral and
// float64 otherwise, so external ids round-trip without precision loss.
func normalizeProps(props Props) Props {
	for k, v := range props {
		num, ok := v.(json.Number)
		if !ok {
			continue
		}
		if !strings.ContainsAny(num.String(), ".eE") {
			if i, err := num.Int64(); err == nil {
				props[k] = i
				continue
			}
		}
		if f, err := num.Float64(); err == nil {
			props[k] = f
		}
	}
	return props
}
