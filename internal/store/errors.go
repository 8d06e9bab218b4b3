package store

import "errors"

var (
	// ErrNotFound is returned when a tenant-scoped lookup matches no row.
	ErrNotFound = errors.New("record not found")
)
