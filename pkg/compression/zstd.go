// Package compression holds the content encodings spoken between nodes and
// clients.
package compression

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	Zstd    = "zstd"
	Gzip    = "gzip"
	Deflate = "deflate"

	// AcceptEncoding is what clients advertise, most preferred first.
	AcceptEncoding = Zstd + ", " + Gzip
)

// NewZstdWriter has the shape of chi's middleware.EncoderFunc. It returns
// nil when the encoder cannot be built, which chi treats as "skip".
func NewZstdWriter(w io.Writer, level int) io.Writer {
	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil
	}
	return enc
}

// NewReader wraps r so that it yields the decoded body for the given
// Content-Encoding. An empty or identity encoding returns r unchanged.
func NewReader(encoding string, r io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return io.NopCloser(r), nil
	case Zstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return gz, nil
	case Deflate:
		return flate.NewReader(r), nil
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}
