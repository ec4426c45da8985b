package persistence

import (
	"bytes"
	"encoding/binary"
)

// Column keys are laid out as uvarint(len(row)) | row | column, so every
// column of a row shares one prefix and sorts by column bytes within it.

func rowPrefix(row string) []byte {
	b := make([]byte, 0, binary.MaxVarintLen64+len(row))
	b = binary.AppendUvarint(b, uint64(len(row)))
	return append(b, row...)
}

func columnKey(prefix, column []byte) []byte {
	k := make([]byte, 0, len(prefix)+len(column))
	k = append(k, prefix...)
	return append(k, column...)
}

// prefixEnd is the smallest key greater than every key starting with prefix,
// or nil when there is none.
func prefixEnd(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
