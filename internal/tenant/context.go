// Package tenant carries the active tenant through every pipeline call.
// Operations never rely on ambient state to learn which company they act
// for; they receive a Context and check every row against it.
package tenant

import (
	"fmt"

	"churn-service/internal/model"
)

// Context identifies the tenant an operation is scoped to. It is a plain
// value object; a zero Context is invalid.
type Context struct {
	ID   uint
	Name string
}

// NewContext builds a tenant context from a stored tenant row.
func NewContext(t *model.Tenant) Context {
	return Context{ID: t.ID, Name: t.Name}
}

// Validate reports whether the context identifies a tenant at all.
func (c Context) Validate() error {
	if c.ID == 0 {
		return ErrMissingTenant
	}
	return nil
}

// Check verifies that a row's tenant identifier matches this context.
// A mismatch is a programming error in the calling code, never a condition
// to silently correct.
func (c Context) Check(tenantID uint) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if tenantID != c.ID {
		return fmt.Errorf("%w: row belongs to tenant %d, context is tenant %d",
			ErrTenantMismatch, tenantID, c.ID)
	}
	return nil
}

// String makes log lines readable without exposing anything sensitive.
func (c Context) String() string {
	return fmt.Sprintf("tenant(%d:%s)", c.ID, c.Name)
}
