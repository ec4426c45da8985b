package family

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/mo"
	"golang.org/x/sync/errgroup"

	"widerow/pkg/iterator"
	"widerow/pkg/types"
)

// Reader is the read side of a column family.
type Reader interface {
	iterator.PageFetcher

	GetRow(ctx context.Context, row string, sl types.Slice) (mo.Option[types.Page], error)
	GetRows(ctx context.Context, rows []string, sl types.Slice) (map[string]types.Page, error)
	GetColumn(ctx context.Context, row string, column []byte) ([]byte, bool, error)
	ColumnCount(ctx context.Context, row string, sl types.Slice) (int, error)
	RowExists(ctx context.Context, row string) (bool, error)
}

// Writer is the write side of a column family.
type Writer interface {
	Update(ctx context.Context, row string, columns []types.Column) error
	DeleteRow(ctx context.Context, row string) error
	DeleteColumns(ctx context.Context, row string, columns [][]byte) error
	Increment(ctx context.Context, row string, column []byte, delta int64) (int64, error)
}

// Family is a column family: a set of rows, each an ordered map from column
// key to value. Local engines, remote clients and the cluster router all
// implement it.
type Family interface {
	Reader
	Writer
}

const (
	DefaultPageSize    = 100
	defaultParallelism = 8
)

type Option func(*ColumnFamily)

// WithPageSize sets the batch size EachColumn uses when none is given.
func WithPageSize(n int) Option {
	return func(cf *ColumnFamily) {
		if n > 0 {
			cf.pageSize = n
		}
	}
}

// WithRetry makes cursors retry failed page fetches.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(cf *ColumnFamily) {
		cf.retries, cf.backoff = attempts, backoff
	}
}

// WithParallelism bounds how many rows GetRows reads at once.
func WithParallelism(n int) Option {
	return func(cf *ColumnFamily) {
		if n > 0 {
			cf.parallelism = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(cf *ColumnFamily) {
		cf.logger = l
	}
}

// ColumnFamily is a named Family with traversal defaults.
type ColumnFamily struct {
	Family

	name        string
	pageSize    int
	retries     int
	backoff     time.Duration
	parallelism int
	logger      *slog.Logger
}

var _ Family = (*ColumnFamily)(nil)

func New(name string, fam Family, opts ...Option) *ColumnFamily {
	cf := &ColumnFamily{
		Family:      fam,
		name:        name,
		pageSize:    DefaultPageSize,
		parallelism: defaultParallelism,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(cf)
	}
	cf.logger = cf.logger.With("family", name)
	return cf
}

func (cf *ColumnFamily) Name() string {
	return cf.name
}

// EachOptions tune a single row traversal.
type EachOptions struct {
	// StartBeyond resumes after this key; it is not returned again.
	StartBeyond []byte
	BatchSize   int
	Reversed    bool
	Options     types.Options
	Transform   func(types.Column) (types.Column, error)
}

// Cursor returns a paging cursor over every column of row.
func (cf *ColumnFamily) Cursor(row string, eo EachOptions) (*iterator.Cursor, error) {
	q := iterator.Query{
		Direction: types.DirectionOf(eo.Reversed),
		PageSize:  eo.BatchSize,
		Options:   eo.Options,
	}
	if q.PageSize <= 0 {
		q.PageSize = cf.pageSize
	}

	opts := []iterator.CursorOption{iterator.WithLogger(cf.logger)}
	if len(eo.StartBeyond) > 0 {
		opts = append(opts, iterator.WithStart(eo.StartBeyond))
	}
	if eo.Transform != nil {
		opts = append(opts, iterator.WithTransform(eo.Transform))
	}
	if cf.retries > 0 {
		opts = append(opts, iterator.WithRetry(cf.retries, cf.backoff))
	}
	return iterator.NewCursor(cf.Family, row, q, opts...)
}

// EachColumn returns a lazy sequence over every column of row.
func (cf *ColumnFamily) EachColumn(row string, eo EachOptions) (*iterator.Sequence, error) {
	c, err := cf.Cursor(row, eo)
	if err != nil {
		return nil, err
	}
	return iterator.NewSequence(c), nil
}

// GetRows reads rows concurrently. Rows with nothing selected are left out.
func (cf *ColumnFamily) GetRows(ctx context.Context, rows []string, sl types.Slice) (map[string]types.Page, error) {
	var (
		mu  sync.Mutex
		res = make(map[string]types.Page, len(rows))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cf.parallelism)
	for _, row := range rows {
		g.Go(func() error {
			page, err := cf.Family.GetRow(gctx, row, sl)
			if err != nil {
				return err
			}
			if p, ok := page.Get(); ok {
				mu.Lock()
				res[row] = p
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
