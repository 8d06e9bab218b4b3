// Package store persists synced CRM entities and churn predictions. Every
// query is scoped by tenant; nothing in this package reads or writes across
// tenant boundaries.
package store

import (
	"context"
	"errors"
	"time"

	"churn-service/internal/model"
	"churn-service/internal/tenant"
	"churn-service/prometheus"

	"gorm.io/gorm"
)

// UpsertAction reports what an upsert did with an incoming record.
type UpsertAction string

const (
	UpsertCreated UpsertAction = "created"
	UpsertUpdated UpsertAction = "updated"
	UpsertSkipped UpsertAction = "skipped"
)

// EntityStore persists customers, tickets and payments keyed by (tenant,
// external CRM identifier). Re-applying the same record is a no-op.
type EntityStore struct {
	db *gorm.DB
}

// NewEntityStore creates an entity store over a database handle.
func NewEntityStore(db *gorm.DB) *EntityStore {
	return &EntityStore{db: db}
}

// UpsertCustomer inserts or updates a customer by its external identifier.
// An incoming record identical to the stored one is skipped so incremental
// syncs can report real change counts.
func (s *EntityStore) UpsertCustomer(ctx context.Context, tctx tenant.Context, incoming *model.Customer) (UpsertAction, error) {
	if err := tctx.Check(incoming.TenantID); err != nil {
		return "", err
	}
	defer prometheus.TrackDBOperation("upsert_customer")(time.Now())

	var existing model.Customer
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND crm_customer_id = ?", tctx.ID, incoming.CRMCustomerID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.db.WithContext(ctx).Create(incoming).Error; err != nil {
			return "", err
		}
		return UpsertCreated, nil
	}
	if err != nil {
		return "", err
	}

	if customerUnchanged(&existing, incoming) {
		if err := s.touchSyncedAt(ctx, &existing, incoming.SyncedAt); err != nil {
			return "", err
		}
		return UpsertSkipped, nil
	}

	updates := map[string]any{
		"name":                incoming.Name,
		"email":               incoming.Email,
		"phone":               incoming.Phone,
		"address":             incoming.Address,
		"status":              incoming.Status,
		"account_type":        incoming.AccountType,
		"service_type":        incoming.ServiceType,
		"bandwidth_plan":      incoming.BandwidthPlan,
		"monthly_charges":     incoming.MonthlyCharges,
		"outstanding_balance": incoming.OutstandingBalance,
		"signup_date":         incoming.SignupDate,
		"synced_at":           incoming.SyncedAt,
	}
	if err := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
		return "", err
	}
	return UpsertUpdated, nil
}

// touchSyncedAt advances synced_at on an otherwise unchanged row so data age
// is measured against the latest sync, not the last one that changed the row.
func (s *EntityStore) touchSyncedAt(ctx context.Context, row any, syncedAt *time.Time) error {
	if syncedAt == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(row).Update("synced_at", syncedAt).Error
}

func customerUnchanged(existing, incoming *model.Customer) bool {
	return existing.Name == incoming.Name &&
		existing.Email == incoming.Email &&
		existing.Phone == incoming.Phone &&
		existing.Address == incoming.Address &&
		existing.Status == incoming.Status &&
		existing.AccountType == incoming.AccountType &&
		existing.ServiceType == incoming.ServiceType &&
		existing.BandwidthPlan == incoming.BandwidthPlan &&
		existing.MonthlyCharges == incoming.MonthlyCharges &&
		existing.OutstandingBalance == incoming.OutstandingBalance &&
		timePtrEqual(existing.SignupDate, incoming.SignupDate)
}

// UpsertTicket inserts or updates a ticket by its external identifier.
func (s *EntityStore) UpsertTicket(ctx context.Context, tctx tenant.Context, incoming *model.Ticket) (UpsertAction, error) {
	if err := tctx.Check(incoming.TenantID); err != nil {
		return "", err
	}
	defer prometheus.TrackDBOperation("upsert_ticket")(time.Now())

	var existing model.Ticket
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND crm_ticket_id = ?", tctx.ID, incoming.CRMTicketID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.db.WithContext(ctx).Create(incoming).Error; err != nil {
			return "", err
		}
		return UpsertCreated, nil
	}
	if err != nil {
		return "", err
	}

	if ticketUnchanged(&existing, incoming) {
		if err := s.touchSyncedAt(ctx, &existing, incoming.SyncedAt); err != nil {
			return "", err
		}
		return UpsertSkipped, nil
	}

	updates := map[string]any{
		"crm_customer_id": incoming.CRMCustomerID,
		"subject":         incoming.Subject,
		"description":     incoming.Description,
		"category":        incoming.Category,
		"priority":        incoming.Priority,
		"status":          incoming.Status,
		"opened_at":       incoming.OpenedAt,
		"resolved_at":     incoming.ResolvedAt,
		"synced_at":       incoming.SyncedAt,
	}
	if err := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
		return "", err
	}
	return UpsertUpdated, nil
}

func ticketUnchanged(existing, incoming *model.Ticket) bool {
	return existing.CRMCustomerID == incoming.CRMCustomerID &&
		existing.Subject == incoming.Subject &&
		existing.Description == incoming.Description &&
		existing.Category == incoming.Category &&
		existing.Priority == incoming.Priority &&
		existing.Status == incoming.Status &&
		existing.OpenedAt.Equal(incoming.OpenedAt) &&
		timePtrEqual(existing.ResolvedAt, incoming.ResolvedAt)
}

// UpsertPayment inserts or updates a payment by its external identifier.
func (s *EntityStore) UpsertPayment(ctx context.Context, tctx tenant.Context, incoming *model.Payment) (UpsertAction, error) {
	if err := tctx.Check(incoming.TenantID); err != nil {
		return "", err
	}
	defer prometheus.TrackDBOperation("upsert_payment")(time.Now())

	var existing model.Payment
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND crm_payment_id = ?", tctx.ID, incoming.CRMPaymentID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.db.WithContext(ctx).Create(incoming).Error; err != nil {
			return "", err
		}
		return UpsertCreated, nil
	}
	if err != nil {
		return "", err
	}

	if paymentUnchanged(&existing, incoming) {
		if err := s.touchSyncedAt(ctx, &existing, incoming.SyncedAt); err != nil {
			return "", err
		}
		return UpsertSkipped, nil
	}

	updates := map[string]any{
		"crm_customer_id": incoming.CRMCustomerID,
		"amount":          incoming.Amount,
		"currency":        incoming.Currency,
		"method":          incoming.Method,
		"status":          incoming.Status,
		"reference":       incoming.Reference,
		"paid_at":         incoming.PaidAt,
		"synced_at":       incoming.SyncedAt,
	}
	if err := s.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
		return "", err
	}
	return UpsertUpdated, nil
}

func paymentUnchanged(existing, incoming *model.Payment) bool {
	return existing.CRMCustomerID == incoming.CRMCustomerID &&
		existing.Amount == incoming.Amount &&
		existing.Currency == incoming.Currency &&
		existing.Method == incoming.Method &&
		existing.Status == incoming.Status &&
		existing.Reference == incoming.Reference &&
		existing.PaidAt.Equal(incoming.PaidAt)
}

// GetCustomer fetches one customer by external identifier.
func (s *EntityStore) GetCustomer(ctx context.Context, tctx tenant.Context, customerID string) (*model.Customer, error) {
	if err := tctx.Validate(); err != nil {
		return nil, err
	}
	defer prometheus.TrackDBOperation("get_customer")(time.Now())

	var customer model.Customer
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND crm_customer_id = ?", tctx.ID, customerID).
		First(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// ListTickets returns all tickets for one customer, oldest first.
func (s *EntityStore) ListTickets(ctx context.Context, tctx tenant.Context, customerID string) ([]model.Ticket, error) {
	if err := tctx.Validate(); err != nil {
		return nil, err
	}
	defer prometheus.TrackDBOperation("list_tickets")(time.Now())

	var tickets []model.Ticket
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND crm_customer_id = ?", tctx.ID, customerID).
		Order("opened_at asc").
		Find(&tickets).Error
	return tickets, err
}

// ListPayments returns all payments for one customer, oldest first.
func (s *EntityStore) ListPayments(ctx context.Context, tctx tenant.Context, customerID string) ([]model.Payment, error) {
	if err := tctx.Validate(); err != nil {
		return nil, err
	}
	defer prometheus.TrackDBOperation("list_payments")(time.Now())

	var payments []model.Payment
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND crm_customer_id = ?", tctx.ID, customerID).
		Order("paid_at asc").
		Find(&payments).Error
	return payments, err
}

// ListActiveCustomerIDs returns the external identifiers of every active
// customer, for tenant-wide prediction runs.
func (s *EntityStore) ListActiveCustomerIDs(ctx context.Context, tctx tenant.Context) ([]string, error) {
	if err := tctx.Validate(); err != nil {
		return nil, err
	}
	defer prometheus.TrackDBOperation("list_active_customers")(time.Now())

	var ids []string
	err := s.db.WithContext(ctx).
		Model(&model.Customer{}).
		Where("tenant_id = ? AND status = ?", tctx.ID, model.CustomerStatusActive).
		Order("crm_customer_id asc").
		Pluck("crm_customer_id", &ids).Error
	return ids, err
}

// CountByEntity returns per-entity row counts for the sync status endpoint.
func (s *EntityStore) CountByEntity(ctx context.Context, tctx tenant.Context) (customers, tickets, payments int64, err error) {
	if err = tctx.Validate(); err != nil {
		return 0, 0, 0, err
	}
	defer prometheus.TrackDBOperation("count_entities")(time.Now())

	if err = s.db.WithContext(ctx).Model(&model.Customer{}).Where("tenant_id = ?", tctx.ID).Count(&customers).Error; err != nil {
		return 0, 0, 0, err
	}
	if err = s.db.WithContext(ctx).Model(&model.Ticket{}).Where("tenant_id = ?", tctx.ID).Count(&tickets).Error; err != nil {
		return 0, 0, 0, err
	}
	if err = s.db.WithContext(ctx).Model(&model.Payment{}).Where("tenant_id = ?", tctx.ID).Count(&payments).Error; err != nil {
		return 0, 0, 0, err
	}
	return customers, tickets, payments, nil
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
