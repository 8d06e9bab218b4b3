package crm

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when the CRM API kept failing after the
	// configured number of retries.
	ErrUnavailable = errors.New("crm api unavailable")

	// ErrUnauthorized is returned when the tenant's CRM credentials are rejected.
	ErrUnauthorized = errors.New("crm credentials rejected")

	// ErrBadResponse is returned when the CRM API answered with something
	// that is not a record page.
	ErrBadResponse = errors.New("unexpected crm response")

	// ErrMappingIncomplete is returned when a field mapping does not cover
	// every required canonical attribute.
	ErrMappingIncomplete = errors.New("field mapping incomplete")
)

// PageError reports which entity and page a fetch failed on, so a sync
// summary can name the exact point of failure.
type PageError struct {
	Entity string
	Page   int
	Err    error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("fetching %s page %d: %v", e.Entity, e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }
