package model

import (
	"time"

	"gorm.io/gorm"
)

// Sync status values stored on the tenant row.
const (
	SyncStatusPending   = "pending"
	SyncStatusSyncing   = "syncing"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

// Tenant represents an isolated company-scoped partition of all data.
// Every other row in the system carries a TenantID matching one of these.
type Tenant struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	Name   string `json:"name" gorm:"type:varchar(100);uniqueIndex"`
	Slug   string `json:"slug" gorm:"type:varchar(100);uniqueIndex"`
	Active bool   `json:"active" gorm:"default:true"`

	// CRM configuration
	CRMAPIURL string `json:"crm_api_url" gorm:"type:varchar(255)"`
	CRMAPIKey string `json:"-" gorm:"type:varchar(255)"`

	// Settings as JSON
	Settings string `json:"settings" gorm:"type:jsonb"`

	// Sync bookkeeping. LastSyncedAt only advances when a sync run
	// completes in full, so a failed run can be retried safely.
	SyncStatus    string     `json:"sync_status" gorm:"type:varchar(20);default:'pending'"`
	LastSyncError string     `json:"last_sync_error,omitempty" gorm:"type:text"`
	TotalSyncs    int        `json:"total_syncs" gorm:"default:0"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}
