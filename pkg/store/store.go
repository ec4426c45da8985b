package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/samber/mo"
	"github.com/zhangyunhao116/skipmap"

	"widerow/pkg/dberrors"
	"widerow/pkg/listener"
	"widerow/pkg/types"
	"widerow/pkg/wal"
)

const (
	lockFile             = "LOCK"
	DefaultMaxEntryBytes = 1 << 20
)

type iJournal interface {
	listener.Job

	Append(ctx context.Context, entries ...wal.Entry) error
	Replay(start types.SeqN, callback func(wal.Entry) error) error
	Close() error
}

// Store is an in-memory column family: rows of sorted columns, optionally
// backed by a write-ahead log so that it survives restarts.
type Store struct {
	rows *skipmap.FuncMap[string, *row]

	jr       iJournal
	lock     *flock.Flock
	seqN     atomic.Uint64
	maxEntry int

	// writers are serialized so the log order is the apply order
	mu     sync.Mutex
	closed atomic.Bool
}

// New returns a store that keeps nothing on disk.
func New() *Store {
	return &Store{
		rows:     skipmap.NewFunc[string, *row](func(a, b string) bool { return a < b }),
		maxEntry: DefaultMaxEntryBytes,
	}
}

// Open locks dataDir, replays its WAL and returns a durable store.
// maxEntryBytes <= 0 selects DefaultMaxEntryBytes.
func Open(dataDir string, maxEntryBytes int) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	lock := flock.New(filepath.Join(dataDir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("data dir %s is used by another process", dataDir)
	}

	journal, err := wal.New(dataDir)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	s := New()
	s.jr = journal
	s.lock = lock
	if maxEntryBytes > 0 {
		s.maxEntry = maxEntryBytes
	}

	if err := s.restoreFromJournal(); err != nil {
		_ = journal.Close()
		_ = lock.Unlock()
		return nil, err
	}

	// start background goroutine to fsync WAL batches
	s.jr.Start(context.Background())

	return s, nil
}

func (s *Store) restoreFromJournal() error {
	n := 0
	err := s.jr.Replay(s.seqN.Load()+1, func(entry wal.Entry) error {
		if entry.SeqNum > s.seqN.Load() {
			s.seqN.Store(entry.SeqNum)
		}
		n++
		return s.apply(entry)
	})
	if err != nil {
		return err
	}
	slog.Info("store restored from WAL", "entries", n, "seq", s.seqN.Load())
	return nil
}

// FetchPage returns up to req.PageSize columns of req.Row starting at
// req.From inclusive, in req.Direction order. An absent row is mo.None.
func (s *Store) FetchPage(_ context.Context, req types.PageRequest) (mo.Option[types.Page], error) {
	if s.closed.Load() {
		return mo.None[types.Page](), dberrors.ErrClosed
	}
	if req.PageSize <= 0 {
		return mo.None[types.Page](), fmt.Errorf("%w: page size %d", dberrors.ErrInvalidArgument, req.PageSize)
	}

	r, ok := s.rows.Load(req.Row)
	if !ok {
		return mo.None[types.Page](), nil
	}
	return mo.Some(r.slice(types.SliceOf(req))), nil
}

// GetRow returns the columns of rowKey selected by sl. A missing row and a
// selection that matches nothing are both mo.None.
func (s *Store) GetRow(_ context.Context, rowKey string, sl types.Slice) (mo.Option[types.Page], error) {
	if s.closed.Load() {
		return mo.None[types.Page](), dberrors.ErrClosed
	}
	if err := sl.Validate(); err != nil {
		return mo.None[types.Page](), err
	}

	r, ok := s.rows.Load(rowKey)
	if !ok {
		return mo.None[types.Page](), nil
	}
	page := r.slice(sl)
	if len(page) == 0 {
		return mo.None[types.Page](), nil
	}
	return mo.Some(page), nil
}

// GetRows applies sl to every key. Rows with nothing selected are left out.
func (s *Store) GetRows(ctx context.Context, rowKeys []string, sl types.Slice) (map[string]types.Page, error) {
	res := make(map[string]types.Page, len(rowKeys))
	for _, key := range rowKeys {
		page, err := s.GetRow(ctx, key, sl)
		if err != nil {
			return nil, err
		}
		if p, ok := page.Get(); ok {
			res[key] = p
		}
	}
	return res, nil
}

// GetColumn returns a single column value.
func (s *Store) GetColumn(_ context.Context, rowKey string, column []byte) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, dberrors.ErrClosed
	}
	r, ok := s.rows.Load(rowKey)
	if !ok {
		return nil, false, nil
	}
	v, ok := r.cols.Load(column)
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(v), true, nil
}

// ColumnCount returns how many columns sl selects in rowKey.
func (s *Store) ColumnCount(_ context.Context, rowKey string, sl types.Slice) (int, error) {
	if s.closed.Load() {
		return 0, dberrors.ErrClosed
	}
	if err := sl.Validate(); err != nil {
		return 0, err
	}
	r, ok := s.rows.Load(rowKey)
	if !ok {
		return 0, nil
	}
	return r.count(sl), nil
}

// RowExists reports whether rowKey has at least one column.
func (s *Store) RowExists(_ context.Context, rowKey string) (bool, error) {
	if s.closed.Load() {
		return false, dberrors.ErrClosed
	}
	_, ok := s.rows.Load(rowKey)
	return ok, nil
}

// Update inserts or overwrites columns of rowKey.
func (s *Store) Update(ctx context.Context, rowKey string, columns []types.Column) error {
	if len(columns) == 0 {
		return nil
	}
	md := uint64(newMD(UpdateOp, kindRegular))
	entries := make([]wal.Entry, 0, len(columns))
	for _, c := range columns {
		if err := s.checkEntry(rowKey, c.Key, c.Value); err != nil {
			return err
		}
		entries = append(entries, wal.Entry{Meta: md, Row: []byte(rowKey), Column: c.Key, Value: c.Value})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, entries)
}

// DeleteRow removes rowKey with all its columns.
func (s *Store) DeleteRow(ctx context.Context, rowKey string) error {
	if rowKey == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, []wal.Entry{{
		Meta: uint64(newMD(DeleteRowOp, kindRegular)),
		Row:  []byte(rowKey),
	}})
}

// DeleteColumns removes the named columns of rowKey. Missing ones are ignored.
func (s *Store) DeleteColumns(ctx context.Context, rowKey string, columns [][]byte) error {
	if len(columns) == 0 {
		return nil
	}
	md := uint64(newMD(DeleteColumnOp, kindRegular))
	entries := make([]wal.Entry, 0, len(columns))
	for _, name := range columns {
		if err := s.checkEntry(rowKey, name, nil); err != nil {
			return err
		}
		entries = append(entries, wal.Entry{Meta: md, Row: []byte(rowKey), Column: name})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, entries)
}

// Increment adds delta to a counter column and returns the new value.
// A missing column counts as zero.
func (s *Store) Increment(ctx context.Context, rowKey string, column []byte, delta int64) (int64, error) {
	if err := s.checkEntry(rowKey, column, nil); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var cur int64
	if r, ok := s.rows.Load(rowKey); ok {
		if v, ok := r.cols.Load(column); ok {
			var err error
			if cur, err = types.DecodeCounter(v); err != nil {
				return 0, fmt.Errorf("column %q: %w", column, err)
			}
		}
	}
	next := cur + delta

	// the absolute value is logged so replay does not depend on prior state
	err := s.commit(ctx, []wal.Entry{{
		Meta:   uint64(newMD(IncrementOp, kindCounter)),
		Row:    []byte(rowKey),
		Column: column,
		Value:  types.EncodeCounter(next),
	}})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Close stops the WAL writer and releases the data dir.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.jr != nil {
		errs = append(errs, s.jr.Close())
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Unlock())
	}
	return errors.Join(errs...)
}

func (s *Store) checkEntry(rowKey string, column, value []byte) error {
	if rowKey == "" || len(column) == 0 {
		return ErrEmptyKey
	}
	if size := len(rowKey) + len(column) + len(value); size > s.maxEntry {
		return fmt.Errorf("%w: %d bytes, max %d", ErrTooLargeEntry, size, s.maxEntry)
	}
	return nil
}

// commit assigns sequence numbers, logs entries and applies them.
// Callers hold s.mu.
func (s *Store) commit(ctx context.Context, entries []wal.Entry) error {
	if s.closed.Load() {
		return dberrors.ErrClosed
	}
	for i := range entries {
		entries[i].SeqNum = s.seqN.Add(1)
	}

	if s.jr != nil {
		if err := s.jr.Append(ctx, entries...); err != nil {
			return fmt.Errorf("failed to append to WAL: %w", err)
		}
	}

	for _, e := range entries {
		if err := s.apply(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(e wal.Entry) error {
	rowKey := string(e.Row)

	switch op := MD(e.Meta).operation(); op {
	case UpdateOp, IncrementOp:
		r, _ := s.rows.LoadOrStore(rowKey, newRow())
		r.cols.Store(cloneBytes(e.Column), cloneBytes(e.Value))
	case DeleteColumnOp:
		r, ok := s.rows.Load(rowKey)
		if !ok {
			return nil
		}
		r.cols.Delete(e.Column)
		if r.cols.Len() == 0 {
			s.rows.Delete(rowKey)
		}
	case DeleteRowOp:
		s.rows.Delete(rowKey)
	default:
		return fmt.Errorf("unknown operation %s in entry %d", op, e.SeqNum)
	}
	return nil
}

// cloneBytes copies b, keeping empty values non-nil.
func cloneBytes(b []byte) []byte {
	return append([]byte{}, b...)
}
