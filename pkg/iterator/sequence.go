package iterator

import (
	"context"
	"errors"
	"iter"

	"widerow/pkg/types"
)

// Sequence exposes an Iterator as pull, push and range-over-func traversals.
// It is lazy and cannot be restarted.
type Sequence struct {
	it Iterator
}

func NewSequence(it Iterator) *Sequence {
	return &Sequence{it: it}
}

// Next returns the next column or ErrDone.
func (s *Sequence) Next(ctx context.Context) (types.Column, error) {
	return s.it.Next(ctx)
}

// Each calls fn for every remaining column in order. It stops at the first
// error from fn or from the underlying iterator and returns it.
func (s *Sequence) Each(ctx context.Context, fn func(key, value []byte) error) error {
	for {
		col, err := s.it.Next(ctx)
		if errors.Is(err, ErrDone) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(col.Key, col.Value); err != nil {
			return err
		}
	}
}

// All returns the remaining columns as an iter.Seq2. A failure is yielded
// once as a zero column with a non-nil error, after which the range ends.
func (s *Sequence) All(ctx context.Context) iter.Seq2[types.Column, error] {
	return func(yield func(types.Column, error) bool) {
		for {
			col, err := s.it.Next(ctx)
			if errors.Is(err, ErrDone) {
				return
			}
			if err != nil {
				yield(types.Column{}, err)
				return
			}
			if !yield(col, nil) {
				return
			}
		}
	}
}

// Collect drains it into a slice.
func Collect(ctx context.Context, it Iterator) ([]types.Column, error) {
	var out []types.Column
	for {
		col, err := it.Next(ctx)
		if errors.Is(err, ErrDone) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, col)
	}
}

// Mapped is a lazy sequence of values derived from columns.
type Mapped[T any] struct {
	src Iterator
	fn  func(key, value []byte) (T, error)
}

// Map derives a lazy sequence by applying fn to every column of src.
func Map[T any](src Iterator, fn func(key, value []byte) (T, error)) *Mapped[T] {
	return &Mapped[T]{src: src, fn: fn}
}

// Next returns the next mapped value or ErrDone.
func (m *Mapped[T]) Next(ctx context.Context) (T, error) {
	var zero T
	col, err := m.src.Next(ctx)
	if err != nil {
		return zero, err
	}
	return m.fn(col.Key, col.Value)
}

// Each calls fn for every remaining mapped value.
func (m *Mapped[T]) Each(ctx context.Context, fn func(T) error) error {
	for {
		v, err := m.Next(ctx)
		if errors.Is(err, ErrDone) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

// Collect drains the sequence into a slice.
func (m *Mapped[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	err := m.Each(ctx, func(v T) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

// Values maps every column to its value.
func Values(src Iterator) *Mapped[[]byte] {
	return Map(src, func(_, value []byte) ([]byte, error) {
		return value, nil
	})
}
