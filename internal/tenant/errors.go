package tenant

import "errors"

var (
	// ErrMissingTenant is returned when an operation runs without a tenant context.
	ErrMissingTenant = errors.New("tenant context missing")

	// ErrTenantMismatch is returned when a row's tenant identifier does not
	// match the context of the operation touching it.
	ErrTenantMismatch = errors.New("tenant mismatch")
)
