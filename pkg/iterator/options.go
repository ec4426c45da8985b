package iterator

import (
	"bytes"
	"log/slog"
	"time"

	"widerow/pkg/types"
)

// CursorOption customizes a Cursor at construction.
type CursorOption func(*cursorConfig)

type cursorConfig struct {
	transform func(types.Column) (types.Column, error)
	keyEqual  func(a, b []byte) bool
	start     []byte
	retries   int
	backoff   time.Duration
	logger    *slog.Logger
}

func defaultCursorConfig() cursorConfig {
	return cursorConfig{
		keyEqual: bytes.Equal,
		logger:   slog.Default(),
	}
}

// WithTransform applies fn to every column before it is returned.
// Boundary detection keeps using the raw key.
func WithTransform(fn func(types.Column) (types.Column, error)) CursorOption {
	return func(c *cursorConfig) {
		c.transform = fn
	}
}

// WithKeyEqual sets the key equality used to detect the repeated boundary
// column. It must agree with the store's comparator.
func WithKeyEqual(eq func(a, b []byte) bool) CursorOption {
	return func(c *cursorConfig) {
		if eq != nil {
			c.keyEqual = eq
		}
	}
}

// WithStart begins the traversal strictly after key instead of at the
// start of the row.
func WithStart(key []byte) CursorOption {
	return func(c *cursorConfig) {
		if key != nil {
			c.start = bytes.Clone(key)
		}
	}
}

// WithRetry retries a failed page fetch up to attempts more times, waiting
// backoff*n before the n-th retry. Context errors are never retried.
func WithRetry(attempts int, backoff time.Duration) CursorOption {
	return func(c *cursorConfig) {
		if attempts > 0 {
			c.retries = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithLogger sets the logger used for page fetch diagnostics.
func WithLogger(l *slog.Logger) CursorOption {
	return func(c *cursorConfig) {
		if l != nil {
			c.logger = l
		}
	}
}
