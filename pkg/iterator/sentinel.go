package iterator

import "widerow/pkg/types"

// StartBoundary returns the "from" value of the first page request.
//
// Ascending traversals start at a single zero byte, which sorts before every
// legal column key. Reversed queries read an empty "from" as "start at the
// last column".
func StartBoundary(dir types.Direction) []byte {
	if dir == types.Descending {
		return []byte{}
	}
	return []byte{0x00}
}
