package model

import (
	"time"
)

// Payment statuses as normalized from the CRM.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// DefaultCurrency is assumed when the CRM omits a currency code.
const DefaultCurrency = "USD"

// Payment stores a payment transaction synced from the CRM, ordered by PaidAt
// for the recency and regularity features.
type Payment struct {
	ID       uint `json:"id" gorm:"primaryKey"`
	TenantID uint `json:"tenant_id" gorm:"index;not null;uniqueIndex:idx_tenant_crm_payment"`

	CRMPaymentID  string `json:"crm_payment_id" gorm:"type:varchar(100);not null;uniqueIndex:idx_tenant_crm_payment"`
	CRMCustomerID string `json:"crm_customer_id" gorm:"type:varchar(100);index:idx_payment_customer;not null"`

	Amount   float64 `json:"amount" gorm:"not null"`
	Currency string  `json:"currency" gorm:"type:varchar(10)"`
	Method   string  `json:"method" gorm:"type:varchar(50)"`
	Status   string  `json:"status" gorm:"type:varchar(20)"`

	Reference string `json:"reference" gorm:"type:varchar(100)"`

	PaidAt time.Time `json:"paid_at" gorm:"not null;index"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SyncedAt  *time.Time `json:"synced_at"`
}
