// Package syncer pulls tenant-scoped CRM entities into the local store,
// either as a full snapshot or incrementally from the tenant's last
// successful sync.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"churn-service/internal/crm"
	"churn-service/internal/model"
	"churn-service/internal/store"
	"churn-service/internal/tenant"
	"churn-service/pkg/logger"
	"churn-service/prometheus"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sync modes.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// EntityResult counts what one entity's sync did.
type EntityResult struct {
	New     int `json:"new"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Summary reports one sync run. A run with Errors did not advance the
// tenant's sync cursor; already-committed pages stay committed and are
// reconciled by upsert on the next run.
type Summary struct {
	Mode      string        `json:"mode"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Customers EntityResult `json:"customers"`
	Tickets   EntityResult `json:"tickets"`
	Payments  EntityResult `json:"payments"`

	Errors []string `json:"errors,omitempty"`
}

func (s *Summary) resultFor(entity string) *EntityResult {
	switch entity {
	case crm.EntityCustomers:
		return &s.Customers
	case crm.EntityTickets:
		return &s.Tickets
	default:
		return &s.Payments
	}
}

// FetcherFactory builds a CRM client from a tenant's connection settings.
type FetcherFactory func(t *model.Tenant) crm.Fetcher

// Synchronizer runs CRM syncs. At most one sync per tenant runs at a time;
// concurrent requests for the same tenant are rejected. Different tenants
// sync independently.
type Synchronizer struct {
	db         *gorm.DB
	entities   *store.EntityStore
	mapping    crm.Mapping
	newFetcher FetcherFactory

	mu       sync.Mutex
	inflight map[uint]bool

	now func() time.Time
}

// New creates a synchronizer.
func New(db *gorm.DB, entities *store.EntityStore, mapping crm.Mapping, newFetcher FetcherFactory) *Synchronizer {
	return &Synchronizer{
		db:         db,
		entities:   entities,
		mapping:    mapping,
		newFetcher: newFetcher,
		inflight:   make(map[uint]bool),
		now:        time.Now,
	}
}

// InProgress reports whether a sync is currently running for a tenant.
func (s *Synchronizer) InProgress(tenantID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[tenantID]
}

func (s *Synchronizer) acquire(tenantID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[tenantID] {
		return false
	}
	s.inflight[tenantID] = true
	return true
}

func (s *Synchronizer) release(tenantID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, tenantID)
}

// Sync runs one sync for a tenant. The three entity streams are fetched
// concurrently; a failure in any of them marks the whole run failed and
// leaves the tenant's sync cursor where it was, so the next incremental run
// re-covers the window.
func (s *Synchronizer) Sync(ctx context.Context, t *model.Tenant, mode string) (*Summary, error) {
	if mode != ModeFull && mode != ModeIncremental {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if err := s.mapping.Validate(); err != nil {
		return nil, err
	}

	if !s.acquire(t.ID) {
		prometheus.RecordSyncRejected()
		return nil, fmt.Errorf("%w: tenant %d", ErrSyncInProgress, t.ID)
	}
	defer s.release(t.ID)

	tctx := tenant.NewContext(t)
	log := logger.FromContext(ctx)

	syncStart := s.now().UTC()
	var updatedSince *time.Time
	if mode == ModeIncremental && t.LastSyncedAt != nil {
		updatedSince = t.LastSyncedAt
	}

	if err := s.setStatus(ctx, t, model.SyncStatusSyncing, ""); err != nil {
		return nil, err
	}

	log.Info("Starting CRM sync",
		zap.Uint("tenant_id", t.ID),
		zap.String("mode", mode),
		zap.Timep("updated_since", updatedSince))

	summary := &Summary{Mode: mode, StartedAt: syncStart}
	fetcher := s.newFetcher(t)

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		results = map[string]*EntityResult{}
	)
	for _, entity := range []string{crm.EntityCustomers, crm.EntityTickets, crm.EntityPayments} {
		wg.Add(1)
		go func(entity string) {
			defer wg.Done()

			result, err := s.syncEntity(ctx, tctx, fetcher, entity, updatedSince, syncStart)
			errMu.Lock()
			defer errMu.Unlock()
			results[entity] = result
			if err != nil {
				summary.Errors = append(summary.Errors, err.Error())
			}
		}(entity)
	}
	wg.Wait()

	for entity, result := range results {
		*summary.resultFor(entity) = *result
	}
	summary.Duration = s.now().UTC().Sub(syncStart)
	prometheus.RecordSyncDuration(mode, summary.Duration.Seconds())

	if len(summary.Errors) > 0 {
		prometheus.RecordSyncOperation(mode, "failure")
		if err := s.setStatus(ctx, t, model.SyncStatusFailed, summary.Errors[0]); err != nil {
			log.Error("Failed to record sync failure", zap.Uint("tenant_id", t.ID), zap.Error(err))
		}
		log.Warn("CRM sync failed",
			zap.Uint("tenant_id", t.ID),
			zap.Strings("errors", summary.Errors))
		return summary, nil
	}

	if err := s.complete(ctx, t, syncStart); err != nil {
		return nil, err
	}
	prometheus.RecordSyncOperation(mode, "success")

	log.Info("CRM sync completed",
		zap.Uint("tenant_id", t.ID),
		zap.String("mode", mode),
		zap.Int("customers_new", summary.Customers.New),
		zap.Int("tickets_new", summary.Tickets.New),
		zap.Int("payments_new", summary.Payments.New),
		zap.Duration("duration", summary.Duration))
	return summary, nil
}

// TestConnection verifies a tenant's CRM credentials without syncing.
func (s *Synchronizer) TestConnection(ctx context.Context, t *model.Tenant) error {
	type tester interface {
		TestConnection(ctx context.Context) error
	}
	f, ok := s.newFetcher(t).(tester)
	if !ok {
		return nil
	}
	return f.TestConnection(ctx)
}

func (s *Synchronizer) syncEntity(ctx context.Context, tctx tenant.Context, fetcher crm.Fetcher, entity string, updatedSince *time.Time, syncedAt time.Time) (*EntityResult, error) {
	result := &EntityResult{}

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		p, err := fetcher.FetchPage(ctx, entity, page, updatedSince)
		if err != nil {
			return result, err
		}

		mapping := s.mapping.ForEntity(entity)
		for _, raw := range p.Records {
			action, err := s.applyRecord(ctx, tctx, entity, mapping.Apply(raw), syncedAt)
			if err != nil {
				if isMalformed(err) {
					logger.FromContext(ctx).Warn("Skipping malformed CRM record",
						zap.String("entity", entity),
						zap.Int("page", page),
						zap.Error(err))
					result.Skipped++
					prometheus.RecordSyncedRecords(entity, string(store.UpsertSkipped), 1)
					continue
				}
				return result, fmt.Errorf("%s page %d: %w", entity, page, err)
			}
			result.count(action)
			prometheus.RecordSyncedRecords(entity, string(action), 1)
		}

		// An empty page is terminal even when the CRM claims more; some
		// backends set has_more unconditionally and would loop us forever.
		if !p.HasMore || len(p.Records) == 0 {
			return result, nil
		}
	}
}

func (r *EntityResult) count(action store.UpsertAction) {
	switch action {
	case store.UpsertCreated:
		r.New++
	case store.UpsertUpdated:
		r.Updated++
	default:
		r.Skipped++
	}
}

func isMalformed(err error) bool {
	return errors.Is(err, errMalformedRecord)
}

func (s *Synchronizer) applyRecord(ctx context.Context, tctx tenant.Context, entity string, rec crm.Record, syncedAt time.Time) (store.UpsertAction, error) {
	switch entity {
	case crm.EntityCustomers:
		c, err := customerFromRecord(tctx, rec, syncedAt)
		if err != nil {
			return store.UpsertSkipped, err
		}
		return s.entities.UpsertCustomer(ctx, tctx, c)
	case crm.EntityTickets:
		t, err := ticketFromRecord(tctx, rec, syncedAt)
		if err != nil {
			return store.UpsertSkipped, err
		}
		return s.entities.UpsertTicket(ctx, tctx, t)
	default:
		p, err := paymentFromRecord(tctx, rec, syncedAt)
		if err != nil {
			return store.UpsertSkipped, err
		}
		return s.entities.UpsertPayment(ctx, tctx, p)
	}
}

func (s *Synchronizer) setStatus(ctx context.Context, t *model.Tenant, status, errMsg string) error {
	t.SyncStatus = status
	t.LastSyncError = errMsg
	return s.db.WithContext(ctx).Model(t).Updates(map[string]any{
		"sync_status":     status,
		"last_sync_error": errMsg,
	}).Error
}

func (s *Synchronizer) complete(ctx context.Context, t *model.Tenant, syncStart time.Time) error {
	t.SyncStatus = model.SyncStatusCompleted
	t.LastSyncError = ""
	t.LastSyncedAt = &syncStart
	t.TotalSyncs++
	return s.db.WithContext(ctx).Model(t).Updates(map[string]any{
		"sync_status":     model.SyncStatusCompleted,
		"last_sync_error": "",
		"last_synced_at":  syncStart,
		"total_syncs":     t.TotalSyncs,
	}).Error
}
