package store

import (
	"bytes"
	"slices"

	"github.com/zhangyunhao116/skipmap"

	"widerow/pkg/types"
)

type columnSet = skipmap.FuncMap[[]byte, []byte]

// row keeps its columns sorted by key.
type row struct {
	cols *columnSet
}

func newRow() *row {
	return &row{
		cols: skipmap.NewFunc[[]byte, []byte](func(a, b []byte) bool {
			return bytes.Compare(a, b) < 0
		}),
	}
}

// slice returns the columns selected by s in s's direction.
func (r *row) slice(s types.Slice) types.Page {
	if len(s.Columns) > 0 {
		return r.named(s)
	}
	if s.Reversed {
		return r.rangeDesc(s)
	}
	return r.rangeAsc(s)
}

func (r *row) named(s types.Slice) types.Page {
	names := slices.Clone(s.Columns)
	slices.SortFunc(names, bytes.Compare)
	names = slices.CompactFunc(names, bytes.Equal)
	if s.Reversed {
		slices.Reverse(names)
	}

	page := types.Page{}
	for _, name := range names {
		if s.Limit > 0 && len(page) >= s.Limit {
			break
		}
		if v, ok := r.cols.Load(name); ok {
			page = append(page, column(name, v))
		}
	}
	return page
}

// rangeAsc walks from the first column of the row: skipmap has no seek, so
// a page starting deep in a row costs its offset in comparisons.
func (r *row) rangeAsc(s types.Slice) types.Page {
	page := types.Page{}
	r.cols.Range(func(k, v []byte) bool {
		if len(s.To) > 0 && bytes.Compare(k, s.To) > 0 {
			return false
		}
		if !s.InRange(k) {
			return true
		}
		page = append(page, column(k, v))
		return s.Limit == 0 || len(page) < s.Limit
	})
	return page
}

// skipmap only walks forward, so keep the last Limit matches in a ring and
// read it back newest first.
func (r *row) rangeDesc(s types.Slice) types.Page {
	var (
		ring   []types.Column
		oldest int
	)
	r.cols.Range(func(k, v []byte) bool {
		if len(s.From) > 0 && bytes.Compare(k, s.From) > 0 {
			return false
		}
		if !s.InRange(k) {
			return true
		}
		if s.Limit > 0 && len(ring) == s.Limit {
			ring[oldest] = types.Column{Key: k, Value: v}
			oldest = (oldest + 1) % s.Limit
			return true
		}
		ring = append(ring, types.Column{Key: k, Value: v})
		return true
	})

	page := make(types.Page, 0, len(ring))
	for i := range len(ring) {
		c := ring[(oldest+len(ring)-1-i)%len(ring)]
		page = append(page, column(c.Key, c.Value))
	}
	return page
}

func (r *row) count(s types.Slice) int {
	if len(s.Columns) == 0 && len(s.From) == 0 && len(s.To) == 0 && s.Limit == 0 {
		return r.cols.Len()
	}
	return len(r.slice(s))
}

// column copies k and v so callers never alias stored bytes.
func column(k, v []byte) types.Column {
	return types.Column{Key: bytes.Clone(k), Value: bytes.Clone(v)}
}
