package types

import (
	"bytes"
	"fmt"
	"maps"
	"strings"

	"widerow/pkg/dberrors"
)

// Column is a single (key, value) entry of a row.
type Column struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

// Page is one batch of columns in the order the store returned them.
// The order is the row order for the requested direction.
type Page []Column

// Keys returns the column keys of the page in order.
func (p Page) Keys() [][]byte {
	keys := make([][]byte, len(p))
	for i, c := range p {
		keys[i] = c.Key
	}
	return keys
}

// Direction is the column-key order of a traversal.
type Direction uint8

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	switch d {
	case Ascending:
		return "asc"
	case Descending:
		return "desc"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Reversed reports whether the store should be queried in reversed order.
func (d Direction) Reversed() bool {
	return d == Descending
}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == Ascending || d == Descending
}

// ParseDirection accepts "asc"/"ascending" and "desc"/"descending".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending", "reversed":
		return Descending, nil
	default:
		return Ascending, fmt.Errorf("unknown direction %q", s)
	}
}

// DirectionOf maps a reversed flag onto a Direction.
func DirectionOf(reversed bool) Direction {
	if reversed {
		return Descending
	}
	return Ascending
}

// Options is an opaque bag of per-query settings (consistency level,
// comparator and validation hints, ...) forwarded to the store unchanged.
type Options map[string]string

// Clone returns an independent copy of o. A nil bag stays nil.
func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	return maps.Clone(o)
}

// PageRequest is a single page fetch against one row.
type PageRequest struct {
	Row       string
	From      []byte
	Direction Direction
	PageSize  int
	Options   Options
}

// NodeID identifies a node in a cluster.
type NodeID string

// SeqN is a monotonically increasing sequence used for WAL ordering.
type SeqN = uint64

// Slice selects columns of a row: either an explicit list of names, or a
// key range. From is the bound the scan starts at (the upper bound when
// Reversed); empty bounds are open. Limit 0 means no limit.
type Slice struct {
	From     []byte   `json:"from,omitempty"`
	To       []byte   `json:"to,omitempty"`
	Columns  [][]byte `json:"columns,omitempty"`
	Reversed bool     `json:"reversed,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// SliceOf turns a page request into the equivalent slice.
func SliceOf(req PageRequest) Slice {
	return Slice{
		From:     req.From,
		Reversed: req.Direction.Reversed(),
		Limit:    req.PageSize,
	}
}

// Validate rejects slices that mix a column list with a range.
func (s Slice) Validate() error {
	if len(s.Columns) > 0 && (len(s.From) > 0 || len(s.To) > 0) {
		return fmt.Errorf("%w: set either columns or a range, not both", dberrors.ErrInvalidArgument)
	}
	if s.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", dberrors.ErrInvalidArgument, s.Limit)
	}
	return nil
}

// InRange reports whether key lies within the slice's range bounds.
func (s Slice) InRange(key []byte) bool {
	lo, hi := s.From, s.To
	if s.Reversed {
		lo, hi = s.To, s.From
	}
	if len(lo) > 0 && bytes.Compare(key, lo) < 0 {
		return false
	}
	if len(hi) > 0 && bytes.Compare(key, hi) > 0 {
		return false
	}
	return true
}
