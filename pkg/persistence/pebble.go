// Package persistence is a disk-resident column family on top of pebble.
package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/samber/mo"

	"widerow/pkg/dberrors"
	"widerow/pkg/types"
)

const defaultMaxEntryBytes = 1 << 20

type Options struct {
	// FS overrides the filesystem, e.g. vfs.NewMem() in tests.
	FS            vfs.FS
	MaxEntryBytes int
}

type Store struct {
	db       *pebble.DB
	maxEntry int

	// serializes read-modify-write of counters
	incMu  sync.Mutex
	closed atomic.Bool
}

func Open(dir string, opts Options) (*Store, error) {
	po := &pebble.Options{}
	if opts.FS != nil {
		po.FS = opts.FS
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %q: %w", dir, err)
	}

	maxEntry := opts.MaxEntryBytes
	if maxEntry <= 0 {
		maxEntry = defaultMaxEntryBytes
	}
	return &Store{db: db, maxEntry: maxEntry}, nil
}

func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) rowIter(row string) (*pebble.Iterator, []byte) {
	prefix := rowPrefix(row)
	return s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	}), prefix
}

// FetchPage reads up to req.PageSize columns starting at req.From inclusive.
func (s *Store) FetchPage(ctx context.Context, req types.PageRequest) (mo.Option[types.Page], error) {
	if req.PageSize <= 0 {
		return mo.None[types.Page](), fmt.Errorf("%w: page size %d", dberrors.ErrInvalidArgument, req.PageSize)
	}
	page, exists, err := s.scan(ctx, req.Row, types.SliceOf(req))
	if err != nil || !exists {
		return mo.None[types.Page](), err
	}
	return mo.Some(page), nil
}

// scan walks a range slice and reports whether the row has any column.
func (s *Store) scan(_ context.Context, row string, sl types.Slice) (types.Page, bool, error) {
	if s.closed.Load() {
		return nil, false, dberrors.ErrClosed
	}

	it, prefix := s.rowIter(row)
	defer it.Close()

	if !it.First() {
		return nil, false, it.Error()
	}

	var valid bool
	switch {
	case !sl.Reversed:
		valid = it.SeekGE(columnKey(prefix, sl.From))
	case len(sl.From) == 0:
		valid = it.Last()
	default:
		// last key <= prefix|From
		valid = it.SeekLT(append(columnKey(prefix, sl.From), 0x00))
	}

	page := types.Page{}
	for ; valid; valid = step(it, sl.Reversed) {
		name := it.Key()[len(prefix):]
		if !sl.InRange(name) {
			break
		}
		page = append(page, types.Column{
			Key:   bytes.Clone(name),
			Value: append([]byte{}, it.Value()...),
		})
		if sl.Limit > 0 && len(page) >= sl.Limit {
			break
		}
	}
	return page, true, it.Error()
}

func step(it *pebble.Iterator, reversed bool) bool {
	if reversed {
		return it.Prev()
	}
	return it.Next()
}

func (s *Store) named(row string, sl types.Slice) (types.Page, error) {
	names := slices.Clone(sl.Columns)
	slices.SortFunc(names, bytes.Compare)
	names = slices.CompactFunc(names, bytes.Equal)
	if sl.Reversed {
		slices.Reverse(names)
	}

	prefix := rowPrefix(row)
	page := types.Page{}
	for _, name := range names {
		if sl.Limit > 0 && len(page) >= sl.Limit {
			break
		}
		v, ok, err := s.get(columnKey(prefix, name))
		if err != nil {
			return nil, err
		}
		if ok {
			page = append(page, types.Column{Key: bytes.Clone(name), Value: v})
		}
	}
	return page, nil
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return append([]byte{}, v...), true, nil
}

func (s *Store) GetRow(ctx context.Context, row string, sl types.Slice) (mo.Option[types.Page], error) {
	if err := sl.Validate(); err != nil {
		return mo.None[types.Page](), err
	}

	var (
		page types.Page
		err  error
	)
	if len(sl.Columns) > 0 {
		if s.closed.Load() {
			return mo.None[types.Page](), dberrors.ErrClosed
		}
		page, err = s.named(row, sl)
	} else {
		page, _, err = s.scan(ctx, row, sl)
	}
	if err != nil || len(page) == 0 {
		return mo.None[types.Page](), err
	}
	return mo.Some(page), nil
}

func (s *Store) GetRows(ctx context.Context, rows []string, sl types.Slice) (map[string]types.Page, error) {
	res := make(map[string]types.Page, len(rows))
	for _, row := range rows {
		page, err := s.GetRow(ctx, row, sl)
		if err != nil {
			return nil, err
		}
		if p, ok := page.Get(); ok {
			res[row] = p
		}
	}
	return res, nil
}

func (s *Store) GetColumn(_ context.Context, row string, column []byte) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, dberrors.ErrClosed
	}
	return s.get(columnKey(rowPrefix(row), column))
}

func (s *Store) ColumnCount(ctx context.Context, row string, sl types.Slice) (int, error) {
	page, err := s.GetRow(ctx, row, sl)
	if err != nil {
		return 0, err
	}
	return len(page.OrEmpty()), nil
}

func (s *Store) RowExists(_ context.Context, row string) (bool, error) {
	if s.closed.Load() {
		return false, dberrors.ErrClosed
	}
	it, _ := s.rowIter(row)
	defer it.Close()
	return it.First(), it.Error()
}

func (s *Store) Update(_ context.Context, row string, columns []types.Column) error {
	if len(columns) == 0 {
		return nil
	}
	if s.closed.Load() {
		return dberrors.ErrClosed
	}

	prefix := rowPrefix(row)
	b := s.db.NewBatch()
	defer b.Close()
	for _, c := range columns {
		if err := s.checkEntry(row, c.Key, c.Value); err != nil {
			return err
		}
		if err := b.Set(columnKey(prefix, c.Key), c.Value, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) DeleteRow(_ context.Context, row string) error {
	if row == "" {
		return dberrors.ErrEmptyKey
	}
	if s.closed.Load() {
		return dberrors.ErrClosed
	}

	prefix := rowPrefix(row)
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(prefix, prefixEnd(prefix), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) DeleteColumns(_ context.Context, row string, columns [][]byte) error {
	if len(columns) == 0 {
		return nil
	}
	if s.closed.Load() {
		return dberrors.ErrClosed
	}

	prefix := rowPrefix(row)
	b := s.db.NewBatch()
	defer b.Close()
	for _, name := range columns {
		if err := s.checkEntry(row, name, nil); err != nil {
			return err
		}
		if err := b.Delete(columnKey(prefix, name), nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (s *Store) Increment(ctx context.Context, row string, column []byte, delta int64) (int64, error) {
	if err := s.checkEntry(row, column, nil); err != nil {
		return 0, err
	}

	s.incMu.Lock()
	defer s.incMu.Unlock()

	raw, _, err := s.GetColumn(ctx, row, column)
	if err != nil {
		return 0, err
	}
	cur, err := types.DecodeCounter(raw)
	if err != nil {
		return 0, fmt.Errorf("column %q: %w", column, err)
	}
	next := cur + delta
	if err := s.db.Set(columnKey(rowPrefix(row), column), types.EncodeCounter(next), pebble.Sync); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) checkEntry(row string, column, value []byte) error {
	if row == "" || len(column) == 0 {
		return dberrors.ErrEmptyKey
	}
	if size := len(row) + len(column) + len(value); size > s.maxEntry {
		return fmt.Errorf("%w: %d bytes, max %d", dberrors.ErrTooLargeEntry, size, s.maxEntry)
	}
	return nil
}
