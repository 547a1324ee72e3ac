package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound      = errors.New("observation not found")
	ErrClosed        = errors.New("store closed")
	ErrUnknownDriver = errors.New("unknown store driver")
)
