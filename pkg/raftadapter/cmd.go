package raftadapter

import (
	"fmt"

	"github.com/google/uuid"

	"widerow/pkg/store"
	"widerow/pkg/types"
)

// Cmd is one replicated column-family mutation.
type Cmd struct {
	Op      store.Operation `json:"op"`
	Row     string          `json:"row"`
	Columns []types.Column  `json:"columns,omitempty"`
	Names   [][]byte        `json:"names,omitempty"`
	Delta   int64           `json:"delta,omitempty"`
	ID      uuid.UUID       `json:"id"`
}

func UpdateCmd(row string, columns []types.Column) Cmd {
	return Cmd{Op: store.UpdateOp, Row: row, Columns: columns, ID: uuid.New()}
}

func DeleteRowCmd(row string) Cmd {
	return Cmd{Op: store.DeleteRowOp, Row: row, ID: uuid.New()}
}

func DeleteColumnsCmd(row string, names [][]byte) Cmd {
	return Cmd{Op: store.DeleteColumnOp, Row: row, Names: names, ID: uuid.New()}
}

func IncrementCmd(row string, column []byte, delta int64) Cmd {
	return Cmd{Op: store.IncrementOp, Row: row, Names: [][]byte{column}, Delta: delta, ID: uuid.New()}
}

func (c Cmd) validate() error {
	if c.Row == "" {
		return fmt.Errorf("invalid command: %w", store.ErrEmptyKey)
	}
	switch c.Op {
	case store.UpdateOp:
		if len(c.Columns) == 0 {
			return fmt.Errorf("invalid command: no columns to update")
		}
	case store.DeleteColumnOp:
		if len(c.Names) == 0 {
			return fmt.Errorf("invalid command: no columns to delete")
		}
	case store.IncrementOp:
		if len(c.Names) != 1 || len(c.Names[0]) == 0 {
			return fmt.Errorf("invalid command: increment needs one column")
		}
	case store.DeleteRowOp:
	default:
		return fmt.Errorf("unknown operation: %v", c.Op)
	}
	return nil
}
