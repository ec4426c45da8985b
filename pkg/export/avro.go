package export

import (
	"fmt"
	"io"

	"github.com/linkedin/goavro/v2"

	"widerow/pkg/types"
)

const defaultAvroBlock = 256

// ColumnSchema is the record every exported column is written as.
const ColumnSchema = `{
	"type": "record",
	"name": "Column",
	"namespace": "widerow",
	"fields": [
		{"name": "row", "type": "string"},
		{"name": "key", "type": "bytes"},
		{"name": "value", "type": "bytes"}
	]
}`

// AvroWriter writes columns as an Avro object container file, one block per
// blockSize columns.
type AvroWriter struct {
	ocf       *goavro.OCFWriter
	row       string
	blockSize int
	pending   []any
}

func NewAvroWriter(w io.Writer, row string, blockSize int) (*AvroWriter, error) {
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Schema:          ColumnSchema,
		CompressionName: goavro.CompressionDeflateLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("avro writer: %w", err)
	}
	if blockSize <= 0 {
		blockSize = defaultAvroBlock
	}
	return &AvroWriter{
		ocf:       ocf,
		row:       row,
		blockSize: blockSize,
		pending:   make([]any, 0, blockSize),
	}, nil
}

func (a *AvroWriter) Write(col types.Column) error {
	a.pending = append(a.pending, map[string]any{
		"row":   a.row,
		"key":   col.Key,
		"value": col.Value,
	})
	if len(a.pending) >= a.blockSize {
		return a.Flush()
	}
	return nil
}

func (a *AvroWriter) Flush() error {
	if len(a.pending) == 0 {
		return nil
	}
	if err := a.ocf.Append(a.pending); err != nil {
		return fmt.Errorf("avro append: %w", err)
	}
	a.pending = a.pending[:0]
	return nil
}

// ReadAvro decodes a container written by AvroWriter.
func ReadAvro(r io.Reader) ([]types.Column, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, fmt.Errorf("avro reader: %w", err)
	}

	var out []types.Column
	for ocf.Scan() {
		datum, err := ocf.Read()
		if err != nil {
			return nil, fmt.Errorf("avro read: %w", err)
		}
		rec, ok := datum.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("avro read: unexpected datum %T", datum)
		}
		key, _ := rec["key"].([]byte)
		value, _ := rec["value"].([]byte)
		out = append(out, types.Column{Key: key, Value: value})
	}
	return out, ocf.Err()
}
