package iterator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"widerow/pkg/dberrors"
	"widerow/pkg/types"
)

// minOverlapPage is the smallest page that can hold the repeated boundary
// column and one new column.
const minOverlapPage = 2

// Phase is the lifecycle stage of a Cursor.
type Phase uint8

const (
	NotStarted Phase = iota
	Active
	Exhausted
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not_started"
	case Active:
		return "active"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Query describes how a row is paged.
type Query struct {
	Direction types.Direction
	PageSize  int
	Options   types.Options
}

// Cursor walks all columns of one row page by page.
//
// Consecutive pages overlap by one column: a continuation page is requested
// from the last emitted key, and stores treat that bound as inclusive. The
// cursor drops the repeated column and stops as soon as a page brings no new
// key, whatever the page length was. Pages that start at a boundary ask for
// at least two columns, so a page size of one still makes progress.
//
// A Cursor is single-use and must not be shared between goroutines.
type Cursor struct {
	fetcher PageFetcher
	row     string
	query   Query
	cfg     cursorConfig

	phase   Phase
	lastKey []byte
	buf     pageBuffer
}

// NewCursor validates the query eagerly; nothing is fetched until the first
// call to Next.
func NewCursor(fetcher PageFetcher, row string, q Query, opts ...CursorOption) (*Cursor, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: nil page fetcher", dberrors.ErrInvalidArgument)
	}
	if q.PageSize <= 0 {
		return nil, fmt.Errorf("%w: page size must be positive, got %d", dberrors.ErrInvalidArgument, q.PageSize)
	}
	if !q.Direction.Valid() {
		return nil, fmt.Errorf("%w: unknown direction %s", dberrors.ErrInvalidArgument, q.Direction)
	}

	cfg := defaultCursorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	q.Options = q.Options.Clone()
	return &Cursor{
		fetcher: fetcher,
		row:     row,
		query:   q,
		cfg:     cfg,
	}, nil
}

// Row returns the row key being traversed.
func (c *Cursor) Row() string {
	return c.row
}

// Phase reports where the cursor is in its lifecycle.
func (c *Cursor) Phase() Phase {
	return c.phase
}

// Buffered returns the number of fetched columns not yet returned.
func (c *Cursor) Buffered() int {
	return c.buf.len()
}

// Next returns the next column of the row or ErrDone.
//
// Errors from the page fetcher are returned as is and leave the cursor
// untouched, so Next may simply be called again.
func (c *Cursor) Next(ctx context.Context) (types.Column, error) {
	for {
		switch c.phase {
		case Exhausted:
			return types.Column{}, ErrDone

		case NotStarted:
			from, resume := StartBoundary(c.query.Direction), false
			if c.cfg.start != nil {
				from, resume = c.cfg.start, true
			}
			page, err := c.fetch(ctx, from, resume)
			if err != nil {
				return types.Column{}, err
			}
			c.buf.fill(page)
			if resume {
				c.buf.dropBoundary(from, c.cfg.keyEqual)
			}
			if c.buf.len() == 0 {
				c.phase = Exhausted
				return types.Column{}, ErrDone
			}
			c.phase = Active

		case Active:
			if _, ok := c.buf.peek(); ok {
				return c.emit()
			}
			page, err := c.fetch(ctx, c.lastKey, true)
			if err != nil {
				return types.Column{}, err
			}
			c.buf.fill(page)
			c.buf.dropBoundary(c.lastKey, c.cfg.keyEqual)
			if c.buf.len() == 0 {
				c.phase = Exhausted
				c.lastKey = nil
				return types.Column{}, ErrDone
			}
		}
	}
}

// emit hands out the front column. A failing transform leaves it buffered.
func (c *Cursor) emit() (types.Column, error) {
	col, _ := c.buf.peek()
	out := col
	if c.cfg.transform != nil {
		var err error
		if out, err = c.cfg.transform(col); err != nil {
			return types.Column{}, err
		}
	}
	c.buf.pop()
	c.lastKey = col.Key
	return out, nil
}

// fetch requests one page from the store. overlap marks pages whose first
// column may repeat from.
func (c *Cursor) fetch(ctx context.Context, from []byte, overlap bool) (types.Page, error) {
	req := types.PageRequest{
		Row:       c.row,
		From:      from,
		Direction: c.query.Direction,
		PageSize:  c.query.PageSize,
	}
	if overlap {
		req.PageSize = max(req.PageSize, minOverlapPage)
	}

	for attempt := 0; ; attempt++ {
		req.Options = c.query.Options.Clone()
		res, err := c.fetcher.FetchPage(ctx, req)
		if err == nil {
			page, _ := res.Get()
			c.cfg.logger.DebugContext(ctx, "column page fetched",
				"row", c.row, "from", from, "direction", c.query.Direction,
				"requested", req.PageSize, "got", len(page), "absent", res.IsAbsent())
			return page, nil
		}

		if attempt >= c.cfg.retries || !retryable(ctx, err) {
			return nil, err
		}

		c.cfg.logger.WarnContext(ctx, "column page fetch failed, retrying",
			"row", c.row, "attempt", attempt+1, "error", err)

		timer := time.NewTimer(c.cfg.backoff * time.Duration(attempt+1))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		}
	}
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
