package model

import (
	"time"
)

// Ticket priorities and statuses as normalized from the CRM.
const (
	TicketPriorityLow    = "low"
	TicketPriorityMedium = "medium"
	TicketPriorityHigh   = "high"
	TicketPriorityUrgent = "urgent"

	TicketStatusOpen       = "open"
	TicketStatusInProgress = "in_progress"
	TicketStatusResolved   = "resolved"
	TicketStatusClosed     = "closed"
)

// Ticket stores a support ticket synced from the CRM. The owning customer is
// referenced by its external CRM identifier, not by local row ID, so ticket
// pages can be committed before or after the customer page that mentions them.
type Ticket struct {
	ID       uint `json:"id" gorm:"primaryKey"`
	TenantID uint `json:"tenant_id" gorm:"index;not null;uniqueIndex:idx_tenant_crm_ticket"`

	CRMTicketID   string `json:"crm_ticket_id" gorm:"type:varchar(100);not null;uniqueIndex:idx_tenant_crm_ticket"`
	CRMCustomerID string `json:"crm_customer_id" gorm:"type:varchar(100);index:idx_ticket_customer;not null"`

	Subject     string `json:"subject" gorm:"type:varchar(255)"`
	Description string `json:"description" gorm:"type:text"`
	Category    string `json:"category" gorm:"type:varchar(100)"`
	Priority    string `json:"priority" gorm:"type:varchar(20)"`
	Status      string `json:"status" gorm:"type:varchar(50);index:idx_ticket_status"`

	// OpenedAt is the CRM-side creation time; recency features use it
	OpenedAt   time.Time  `json:"opened_at" gorm:"index"`
	ResolvedAt *time.Time `json:"resolved_at"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SyncedAt  *time.Time `json:"synced_at"`
}

// ResolutionHours returns the time taken to resolve the ticket, zero while open.
func (t *Ticket) ResolutionHours() float64 {
	if t.ResolvedAt == nil {
		return 0
	}
	return t.ResolvedAt.Sub(t.OpenedAt).Hours()
}
