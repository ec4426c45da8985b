package types

import (
	"encoding/binary"
	"fmt"
)

// CounterSize is the encoded size of a counter column value.
const CounterSize = 8

// EncodeCounter encodes a counter column value.
func EncodeCounter(v int64) []byte {
	b := make([]byte, CounterSize)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// DecodeCounter decodes a counter column value. A missing value is zero.
func DecodeCounter(b []byte) (int64, error) {
	switch len(b) {
	case 0:
		return 0, nil
	case CounterSize:
		return int64(binary.BigEndian.Uint64(b)), nil
	default:
		return 0, fmt.Errorf("counter value has %d bytes, want %d", len(b), CounterSize)
	}
}
