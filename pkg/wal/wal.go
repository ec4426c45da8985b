package wal

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"widerow/pkg/dberrors"
	"widerow/pkg/listener"
	"widerow/pkg/types"
)

const fileName = "wal.log"

// Entry is one column mutation.
type Entry struct {
	SeqNum uint64
	Meta   uint64
	Row    []byte
	Column []byte
	Value  []byte
}

type batch struct {
	entries []Entry
	ack     chan error
}

// WAL is an append-only mutation log. Appends are written and fsynced by a
// background listener; Append returns once its batch is durable.
type WAL struct {
	*listener.Listener[batch]

	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	filePath string
	closed   bool

	inputCh chan batch
	done    chan struct{}
}

// New opens (or creates) the log in dir.
func New(dir string) (*WAL, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty WAL dir")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filePath := filepath.Join(dir, fileName)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	w := &WAL{
		file:     file,
		writer:   bufio.NewWriter(file),
		filePath: filePath,
		inputCh:  make(chan batch, 16),
		done:     make(chan struct{}),
	}
	w.Listener = listener.New(w.inputCh, w.writeFile)

	return w, nil
}

// Append blocks until entries are synced to disk. ctx is honoured only
// until the batch is queued: a queued batch is always written, so its
// outcome is what Append reports.
func (w *WAL) Append(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return dberrors.ErrClosed
	}

	b := batch{entries: entries, ack: make(chan error, 1)}

	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case w.inputCh <- b:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return dberrors.ErrClosed
	}

	select {
	case err := <-b.ack:
		return err
	case <-w.done:
		// Close acks everything it drained; anything else was never written
		select {
		case err := <-b.ack:
			return err
		default:
			return dberrors.ErrClosed
		}
	}
}

// called by the listener goroutine for every batch
func (w *WAL) writeFile(b batch) error {
	err := w.write(b.entries)
	b.ack <- err
	return err
}

func (w *WAL) write(entries []Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return dberrors.ErrClosed
	}
	for _, e := range entries {
		if err := w.writeEntry(e); err != nil {
			return fmt.Errorf("failed to write WAL entry: %w", err)
		}
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync WAL: %w", err)
	}
	return nil
}

// Replay calls callback for every entry with SeqNum >= start, in log order.
func (w *WAL) Replay(start types.SeqN, callback func(Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL before replay: %w", err)
	}

	file, err := os.Open(w.filePath)
	if err != nil {
		return fmt.Errorf("failed to open WAL for reading: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("failed to close WAL read file", "error", cerr)
		}
	}()

	reader := &countingReader{r: bufio.NewReader(file)}
	for {
		good := reader.n
		entry, err := readEntry(reader)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// torn tail from a crash mid-write
			slog.Warn("WAL ends with a partial entry, truncating", "path", w.filePath, "offset", good)
			if err := w.file.Truncate(good); err != nil {
				return fmt.Errorf("failed to truncate WAL: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read WAL entry: %w", err)
		}
		if entry.SeqNum < start {
			continue
		}
		if err := callback(entry); err != nil {
			return fmt.Errorf("WAL replay callback failed: %w", err)
		}
	}
}

// Close stops the writer goroutine and closes the file.
func (w *WAL) Close() error {
	w.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	defer close(w.done)

	// fail batches the stopped listener will never pick up
	for pending := true; pending; {
		select {
		case b := <-w.inputCh:
			b.ack <- dberrors.ErrClosed
		default:
			pending = false
		}
	}

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL on close: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close WAL file: %w", err)
	}
	return nil
}

// entry layout: seq(8) meta(8) then row, column and value each as len(4)+bytes
func (w *WAL) writeEntry(entry Entry) error {
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[0:8], entry.SeqNum)
	binary.LittleEndian.PutUint64(hdr[8:16], entry.Meta)
	if _, err := w.writer.Write(hdr[:]); err != nil {
		return err
	}
	for _, field := range [][]byte{entry.Row, entry.Column, entry.Value} {
		if err := w.writeField(field); err != nil {
			return err
		}
	}
	return nil
}

func (w *WAL) writeField(b []byte) error {
	if len(b) > math.MaxUint32 {
		return fmt.Errorf("field too large: %d", len(b))
	}
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(b)))
	if _, err := w.writer.Write(l[:]); err != nil {
		return err
	}
	_, err := w.writer.Write(b)
	return err
}

func readEntry(r io.Reader) (Entry, error) {
	var entry Entry

	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return entry, err
	}
	entry.SeqNum = binary.LittleEndian.Uint64(hdr[0:8])
	entry.Meta = binary.LittleEndian.Uint64(hdr[8:16])

	var err error
	if entry.Row, err = readField(r); err != nil {
		return entry, err
	}
	if entry.Column, err = readField(r); err != nil {
		return entry, err
	}
	if entry.Value, err = readField(r); err != nil {
		return entry, err
	}
	return entry, nil
}

func readField(r io.Reader) ([]byte, error) {
	var l [4]byte
	if _, err := io.ReadFull(r, l[:]); err != nil {
		return nil, noEOF(err)
	}
	b := make([]byte, binary.LittleEndian.Uint32(l[:]))
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, noEOF(err)
	}
	return b, nil
}

// an EOF inside an entry means the entry is truncated
func noEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
