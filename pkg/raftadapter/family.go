package raftadapter

import (
	"context"

	"widerow/pkg/family"
	"widerow/pkg/types"
)

type iExecutor interface {
	Execute(ctx context.Context, cmd Cmd) (int64, error)
}

// Replicated serves reads from the local family and sends every write
// through raft, so it returns once the write is applied locally.
type Replicated struct {
	family.Reader
	node iExecutor
}

var _ family.Family = (*Replicated)(nil)

func NewReplicated(local family.Reader, node iExecutor) *Replicated {
	return &Replicated{Reader: local, node: node}
}

func (r *Replicated) Update(ctx context.Context, row string, columns []types.Column) error {
	if len(columns) == 0 {
		return nil
	}
	_, err := r.node.Execute(ctx, UpdateCmd(row, columns))
	return err
}

func (r *Replicated) DeleteRow(ctx context.Context, row string) error {
	_, err := r.node.Execute(ctx, DeleteRowCmd(row))
	return err
}

func (r *Replicated) DeleteColumns(ctx context.Context, row string, columns [][]byte) error {
	if len(columns) == 0 {
		return nil
	}
	_, err := r.node.Execute(ctx, DeleteColumnsCmd(row, columns))
	return err
}

func (r *Replicated) Increment(ctx context.Context, row string, column []byte, delta int64) (int64, error) {
	return r.node.Execute(ctx, IncrementCmd(row, column, delta))
}
