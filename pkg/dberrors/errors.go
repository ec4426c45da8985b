package dberrors

import "errors"

var (
	ErrNotFound        = errors.New("widerow: not found")
	ErrClosed          = errors.New("widerow: closed")
	ErrInvalidArgument = errors.New("widerow: invalid argument")
	ErrTooLargeEntry   = errors.New("widerow: entry is too large")
	ErrEmptyKey        = errors.New("widerow: empty row or column key")
)
