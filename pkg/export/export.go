// Package export writes traversed columns out in a file format.
package export

import (
	"bufio"
	"fmt"
	"io"

	"widerow/pkg/types"
)

const (
	FormatTSV  = "tsv"
	FormatAvro = "avro"
)

// Writer receives columns in traversal order. Flush must be called once
// after the last column.
type Writer interface {
	Write(col types.Column) error
	Flush() error
}

// New returns a Writer for format. row is recorded by formats that carry it.
func New(format string, w io.Writer, row string) (Writer, error) {
	switch format {
	case FormatTSV, "":
		return &tsvWriter{w: bufio.NewWriter(w)}, nil
	case FormatAvro:
		return NewAvroWriter(w, row, defaultAvroBlock)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

type tsvWriter struct {
	w *bufio.Writer
}

func (t *tsvWriter) Write(col types.Column) error {
	_, err := fmt.Fprintf(t.w, "%s\t%s\n", col.Key, col.Value)
	return err
}

func (t *tsvWriter) Flush() error {
	return t.w.Flush()
}
