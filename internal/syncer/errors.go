package syncer

import "errors"

var (
	// ErrSyncInProgress is returned when a sync is requested for a tenant
	// that already has one running. Requests are rejected, not queued.
	ErrSyncInProgress = errors.New("sync already in progress for tenant")

	// ErrUnknownMode is returned for a sync mode other than full or incremental.
	ErrUnknownMode = errors.New("unknown sync mode")

	// errMalformedRecord marks a CRM record missing required attributes.
	// Such records are skipped; they never fail the page.
	errMalformedRecord = errors.New("malformed crm record")
)
