package iterator

import (
	"slices"

	"widerow/pkg/types"
)

// pageBuffer holds fetched columns that were not handed out yet.
type pageBuffer struct {
	cols types.Page
}

func (b *pageBuffer) len() int {
	return len(b.cols)
}

// fill replaces the buffer with a private copy of page.
func (b *pageBuffer) fill(page types.Page) {
	b.cols = slices.Clone(page)
}

func (b *pageBuffer) peek() (types.Column, bool) {
	if len(b.cols) == 0 {
		return types.Column{}, false
	}
	return b.cols[0], true
}

func (b *pageBuffer) pop() (types.Column, bool) {
	if len(b.cols) == 0 {
		return types.Column{}, false
	}
	c := b.cols[0]
	b.cols[0] = types.Column{}
	b.cols = b.cols[1:]
	return c, true
}

// dropBoundary removes the leading column when it repeats the key the
// previous page ended on. Stores treat "from" as inclusive, so every
// continuation page starts with it.
func (b *pageBuffer) dropBoundary(boundary []byte, equal func(a, b []byte) bool) {
	if len(b.cols) > 0 && equal(b.cols[0].Key, boundary) {
		b.pop()
	}
}
