package model

import (
	"time"
)

// Customer statuses as reported by the CRM.
const (
	CustomerStatusActive    = "active"
	CustomerStatusInactive  = "inactive"
	CustomerStatusSuspended = "suspended"
	CustomerStatusChurned   = "churned"
)

// Customer stores customer data synced from the CRM. Rows are created and
// updated by the synchronizer only; the prediction path never writes profile
// fields, it only refreshes the denormalized churn columns.
type Customer struct {
	ID       uint `json:"id" gorm:"primaryKey"`
	TenantID uint `json:"tenant_id" gorm:"index;not null;uniqueIndex:idx_tenant_crm_customer"`

	// External CRM identifier, opaque string, unique per tenant
	CRMCustomerID string `json:"crm_customer_id" gorm:"type:varchar(100);not null;uniqueIndex:idx_tenant_crm_customer"`

	Name    string `json:"name" gorm:"type:varchar(200);not null"`
	Email   string `json:"email" gorm:"type:varchar(120);index"`
	Phone   string `json:"phone" gorm:"type:varchar(50)"`
	Address string `json:"address" gorm:"type:text"`

	Status      string `json:"status" gorm:"type:varchar(20);default:'active';index:idx_customer_status"`
	AccountType string `json:"account_type" gorm:"type:varchar(50)"`

	MonthlyCharges     float64 `json:"monthly_charges" gorm:"default:0"`
	OutstandingBalance float64 `json:"outstanding_balance" gorm:"default:0"`

	ServiceType   string `json:"service_type" gorm:"type:varchar(100)"`
	BandwidthPlan string `json:"bandwidth_plan" gorm:"type:varchar(50)"`

	SignupDate *time.Time `json:"signup_date"`

	// Denormalized latest prediction, refreshed when a prediction is stored
	ChurnRisk        string     `json:"churn_risk,omitempty" gorm:"type:varchar(20);index:idx_customer_risk"`
	ChurnProbability *float64   `json:"churn_probability,omitempty"`
	LastPredictionAt *time.Time `json:"last_prediction_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SyncedAt  *time.Time `json:"synced_at"`
}

func (Customer) TableName() string { return "customers" }
