package iterator

import (
	"context"
	"errors"

	"github.com/samber/mo"

	"widerow/pkg/types"
)

// ErrDone is returned by Next once no further columns remain.
// It is not a failure and is returned again on every later call.
var ErrDone = errors.New("iterator: no more columns")

// Iterator pulls columns one at a time.
type Iterator interface {
	// Next returns the next column, or ErrDone when the sequence is over.
	Next(ctx context.Context) (types.Column, error)
}

// PageFetcher fetches one page of a row.
//
// A present but empty page means the row exists and nothing satisfies the
// request; mo.None means the row does not exist.
type PageFetcher interface {
	FetchPage(ctx context.Context, req types.PageRequest) (mo.Option[types.Page], error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, req types.PageRequest) (mo.Option[types.Page], error)

func (f PageFetcherFunc) FetchPage(ctx context.Context, req types.PageRequest) (mo.Option[types.Page], error) {
	return f(ctx, req)
}
