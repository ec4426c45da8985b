package store

import "fmt"

// Operation is a column mutation kind, as logged and replicated.
type Operation uint8

const (
	UpdateOp Operation = iota + 1
	DeleteColumnOp
	DeleteRowOp
	IncrementOp
)

func (op Operation) String() string {
	switch op {
	case UpdateOp:
		return "update"
	case DeleteColumnOp:
		return "delete_column"
	case DeleteRowOp:
		return "delete_row"
	case IncrementOp:
		return "increment"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// MD packs the operation of a WAL entry together with its column kind.
type MD uint64

type columnKind uint8

const (
	kindRegular columnKind = iota
	kindCounter
)

func newMD(op Operation, kind columnKind) MD {
	return MD(uint64(kind)<<8 | uint64(op))
}

func (md MD) operation() Operation {
	return Operation(uint64(md) & 0xff)
}

func (md MD) kind() columnKind {
	return columnKind(md >> 8)
}
