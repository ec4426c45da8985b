package rpc

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"widerow/pkg/dberrors"
	"widerow/pkg/types"
)

// Query parameters of the rows API. Keys travel as raw bytes, percent-encoded.
const (
	ParamFrom     = "from"
	ParamTo       = "to"
	ParamReversed = "reversed"
	ParamCount    = "count"
	ParamLimit    = "limit"
	ParamColumn   = "column"
	ParamDelta    = "delta"

	optionPrefix = "opt."
)

// EncodePage turns a page request into query parameters.
func EncodePage(req types.PageRequest) url.Values {
	q := url.Values{}
	q.Set(ParamFrom, string(req.From))
	q.Set(ParamCount, strconv.Itoa(req.PageSize))
	if req.Direction.Reversed() {
		q.Set(ParamReversed, "true")
	}
	for k, v := range req.Options {
		q.Set(optionPrefix+k, v)
	}
	return q
}

// DecodePage is the inverse of EncodePage.
func DecodePage(row string, q url.Values) (types.PageRequest, error) {
	reversed, err := parseBool(q, ParamReversed)
	if err != nil {
		return types.PageRequest{}, err
	}
	count, err := parseInt(q, ParamCount)
	if err != nil {
		return types.PageRequest{}, err
	}
	if count <= 0 {
		return types.PageRequest{}, fmt.Errorf("%w: %s must be positive", dberrors.ErrInvalidArgument, ParamCount)
	}

	req := types.PageRequest{
		Row:       row,
		From:      []byte(q.Get(ParamFrom)),
		Direction: types.DirectionOf(reversed),
		PageSize:  count,
	}
	for k, vs := range q {
		if name, ok := strings.CutPrefix(k, optionPrefix); ok && len(vs) > 0 {
			if req.Options == nil {
				req.Options = types.Options{}
			}
			req.Options[name] = vs[0]
		}
	}
	return req, nil
}

// EncodeSlice turns a slice into query parameters.
func EncodeSlice(s types.Slice) url.Values {
	q := url.Values{}
	if len(s.From) > 0 {
		q.Set(ParamFrom, string(s.From))
	}
	if len(s.To) > 0 {
		q.Set(ParamTo, string(s.To))
	}
	for _, c := range s.Columns {
		q.Add(ParamColumn, string(c))
	}
	if s.Reversed {
		q.Set(ParamReversed, "true")
	}
	if s.Limit > 0 {
		q.Set(ParamLimit, strconv.Itoa(s.Limit))
	}
	return q
}

// DecodeSlice is the inverse of EncodeSlice.
func DecodeSlice(q url.Values) (types.Slice, error) {
	reversed, err := parseBool(q, ParamReversed)
	if err != nil {
		return types.Slice{}, err
	}
	limit, err := parseInt(q, ParamLimit)
	if err != nil {
		return types.Slice{}, err
	}

	s := types.Slice{
		Reversed: reversed,
		Limit:    limit,
	}
	if v := q.Get(ParamFrom); v != "" {
		s.From = []byte(v)
	}
	if v := q.Get(ParamTo); v != "" {
		s.To = []byte(v)
	}
	for _, c := range q[ParamColumn] {
		s.Columns = append(s.Columns, []byte(c))
	}
	return s, s.Validate()
}

func parseBool(q url.Values, name string) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", dberrors.ErrInvalidArgument, name, v)
	}
	return b, nil
}

func parseInt(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", dberrors.ErrInvalidArgument, name, v)
	}
	return n, nil
}
