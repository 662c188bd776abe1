// Package export writes reconstructed ways to Parquet for downstream
// analytics tooling.
package export

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/julienmarie/spatial/internal/dataset"
)

const defaultBatchSize = 4096

// WayWriter writes reconstructed way rows to a Parquet file.
type WayWriter struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
}

// NewWayWriter creates a Parquet writer for way rows.
func NewWayWriter(path string, batchSize int) (*WayWriter, error) {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "osm_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "gtype", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "tags", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "geom_wkt", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "vertices", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	}, nil)

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)
	writer, err := pqarrow.NewFileWriter(schema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}
	return &WayWriter{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, schema),
		batchSize: batchSize,
	}, nil
}

// Write appends one way row.
func (w *WayWriter) Write(osmID int64, gtype, tagsJSON, wkt string, vertices int64) error {
	w.builder.Field(0).(*array.Int64Builder).Append(osmID)
	w.builder.Field(1).(*array.StringBuilder).Append(gtype)
	w.builder.Field(2).(*array.StringBuilder).Append(tagsJSON)
	w.builder.Field(3).(*array.StringBuilder).Append(wkt)
	w.builder.Field(4).(*array.Int64Builder).Append(vertices)

	w.count++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *WayWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

// Close flushes remaining rows and closes the file.
func (w *WayWriter) Close() error {
	if err := w.flush(); err != nil {
		return err
	}
	if err := w.writer.Close(); err != nil {
		return err
	}
	return w.file.Close()
}

// Ways reconstructs every way of a dataset and writes it to path. Returns
// the number of rows written.
func Ways(d *dataset.Dataset, path string) (int64, error) {
	w, err := NewWayWriter(path, defaultBatchSize)
	if err != nil {
		return 0, err
	}

	var written int64
	it := d.Ways()
	for {
		way, err := it.Next()
		if err != nil {
			w.Close()
			return written, err
		}
		if way == nil {
			break
		}

		points, err := wayPoints(d, way)
		if err != nil {
			w.Close()
			return written, err
		}
		if len(points) == 0 {
			continue
		}

		gtype := "line"
		if g, err := d.Geometry(way.Vertex); err == nil && g != nil {
			if s, ok := g.Str("gtype"); ok {
				gtype = s
			}
		}

		tags, err := d.Tags(way.Vertex)
		if err != nil {
			w.Close()
			return written, err
		}
		tagsJSON := "{}"
		if len(tags) > 0 {
			if b, err := json.Marshal(tags); err == nil {
				tagsJSON = string(b)
			}
		}

		if err := w.Write(way.OSMID, gtype, tagsJSON, wkt(gtype, points), int64(len(points))); err != nil {
			w.Close()
			return written, err
		}
		written++
	}
	if err := w.Close(); err != nil {
		return written, err
	}
	return written, nil
}

func wayPoints(d *dataset.Dataset, way *dataset.Way) ([]dataset.WayPoint, error) {
	it, err := d.WayPoints(way)
	if err != nil {
		return nil, err
	}
	var points []dataset.WayPoint
	for {
		p, err := it.Next()
		if err != nil {
			return nil, err
		}
		if p == nil {
			return points, nil
		}
		points = append(points, *p)
	}
}

// wkt renders the reconstructed point sequence. Polygons close their ring
// by repeating the first point.
func wkt(gtype string, points []dataset.WayPoint) string {
	var sb strings.Builder
	coord := func(p dataset.WayPoint) {
		sb.WriteString(strconv.FormatFloat(p.Lon, 'f', -1, 64))
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(p.Lat, 'f', -1, 64))
	}
	switch {
	case len(points) == 1:
		sb.WriteString("POINT(")
		coord(points[0])
		sb.WriteByte(')')
	case gtype == "polygon":
		sb.WriteString("POLYGON((")
		for i, p := range points {
			if i > 0 {
				sb.WriteByte(',')
			}
			coord(p)
		}
		sb.WriteByte(',')
		coord(points[0])
		sb.WriteString("))")
	default:
		sb.WriteString("LINESTRING(")
		for i, p := range points {
			if i > 0 {
				sb.WriteByte(',')
			}
			coord(p)
		}
		sb.WriteByte(')')
	}
	return sb.String()
}
