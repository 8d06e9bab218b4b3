package syncer

import (
	"fmt"
	"time"

	"churn-service/internal/crm"
	"churn-service/internal/model"
	"churn-service/internal/tenant"
)

// Conversion from mapped CRM records to local models. A record missing a
// required attribute is malformed; the caller skips it rather than failing
// the page.

func customerFromRecord(tctx tenant.Context, rec crm.Record, syncedAt time.Time) (*model.Customer, error) {
	id := rec.AsString(crm.AttrID)
	name := rec.AsString(crm.AttrName)
	if id == "" || name == "" {
		return nil, fmt.Errorf("%w: customer missing id or name", errMalformedRecord)
	}

	status := rec.AsString(crm.AttrStatus)
	if status == "" {
		status = model.CustomerStatusActive
	}

	return &model.Customer{
		TenantID:           tctx.ID,
		CRMCustomerID:      id,
		Name:               name,
		Email:              rec.AsString(crm.AttrEmail),
		Phone:              rec.AsString(crm.AttrPhone),
		Address:            rec.AsString(crm.AttrAddress),
		Status:             status,
		AccountType:        rec.AsString(crm.AttrAccountType),
		MonthlyCharges:     rec.AsFloat(crm.AttrMonthlyCharges),
		OutstandingBalance: rec.AsFloat(crm.AttrOutstandingBalance),
		ServiceType:        rec.AsString(crm.AttrServiceType),
		BandwidthPlan:      rec.AsString(crm.AttrBandwidthPlan),
		SignupDate:         rec.AsTime(crm.AttrSignupDate),
		SyncedAt:           &syncedAt,
	}, nil
}

func ticketFromRecord(tctx tenant.Context, rec crm.Record, syncedAt time.Time) (*model.Ticket, error) {
	id := rec.AsString(crm.AttrID)
	customerID := rec.AsString(crm.AttrCustomerID)
	openedAt := rec.AsTime(crm.AttrOpenedAt)
	if id == "" || customerID == "" || openedAt == nil {
		return nil, fmt.Errorf("%w: ticket missing id, customer or opened_at", errMalformedRecord)
	}

	return &model.Ticket{
		TenantID:      tctx.ID,
		CRMTicketID:   id,
		CRMCustomerID: customerID,
		Subject:       rec.AsString(crm.AttrSubject),
		Description:   rec.AsString(crm.AttrDescription),
		Category:      rec.AsString(crm.AttrCategory),
		Priority:      rec.AsString(crm.AttrPriority),
		Status:        rec.AsString(crm.AttrStatus),
		OpenedAt:      *openedAt,
		ResolvedAt:    rec.AsTime(crm.AttrResolvedAt),
		SyncedAt:      &syncedAt,
	}, nil
}

func paymentFromRecord(tctx tenant.Context, rec crm.Record, syncedAt time.Time) (*model.Payment, error) {
	id := rec.AsString(crm.AttrID)
	customerID := rec.AsString(crm.AttrCustomerID)
	paidAt := rec.AsTime(crm.AttrPaidAt)
	if id == "" || customerID == "" || paidAt == nil {
		return nil, fmt.Errorf("%w: payment missing id, customer or paid_at", errMalformedRecord)
	}

	status := rec.AsString(crm.AttrStatus)
	if status == "" {
		status = model.PaymentStatusCompleted
	}

	// Mirror the column default so a re-synced record compares equal to the
	// stored row instead of triggering a spurious update.
	currency := rec.AsString(crm.AttrCurrency)
	if currency == "" {
		currency = model.DefaultCurrency
	}

	return &model.Payment{
		TenantID:      tctx.ID,
		CRMPaymentID:  id,
		CRMCustomerID: customerID,
		Amount:        rec.AsFloat(crm.AttrAmount),
		Currency:      currency,
		Method:        rec.AsString(crm.AttrMethod),
		Status:        status,
		Reference:     rec.AsString(crm.AttrReference),
		PaidAt:        *paidAt,
		SyncedAt:      &syncedAt,
	}, nil
}
