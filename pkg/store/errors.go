package store

import "widerow/pkg/dberrors"

var (
	ErrTooLargeEntry = dberrors.ErrTooLargeEntry
	ErrEmptyKey      = dberrors.ErrEmptyKey
)
