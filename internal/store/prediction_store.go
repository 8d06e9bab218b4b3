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

// LatestPrediction is a prediction read back with staleness computed at read
// time. PredictionAge is measured against "now"; DataAge is measured against
// the customer's last sync, so a customer re-synced after scoring reads as
// stale even when the prediction itself is fresh.
type LatestPrediction struct {
	Prediction    model.Prediction `json:"prediction"`
	PredictionAge time.Duration    `json:"prediction_age"`
	DataAge       time.Duration    `json:"data_age"`
	Stale         bool             `json:"stale"`
}

// PredictionStore persists scoring results. New runs insert new rows; prior
// rows are superseded, never deleted, so trend queries stay possible.
type PredictionStore struct {
	db *gorm.DB

	// Predictions older than this, or scored before the customer's latest
	// sync, are flagged stale on read.
	maxAge time.Duration

	now func() time.Time
}

// NewPredictionStore creates a prediction store over a database handle.
func NewPredictionStore(db *gorm.DB, maxAge time.Duration) *PredictionStore {
	return &PredictionStore{db: db, maxAge: maxAge, now: time.Now}
}

// Save inserts a prediction and refreshes the customer's denormalized churn
// columns in one transaction. The insert supersedes prior rows by recency,
// it does not overwrite them.
func (s *PredictionStore) Save(ctx context.Context, tctx tenant.Context, p *model.Prediction) error {
	if err := tctx.Check(p.TenantID); err != nil {
		return err
	}
	defer prometheus.TrackDBOperation("save_prediction")(time.Now())

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"churn_risk":         p.ChurnRisk,
			"churn_probability":  p.ChurnProbability,
			"last_prediction_at": p.CreatedAt,
		}
		return tx.Model(&model.Customer{}).
			Where("tenant_id = ? AND crm_customer_id = ?", tctx.ID, p.CustomerID).
			Updates(updates).Error
	})
}

// GetLatest returns the most recent prediction for one customer with read-time
// staleness metadata.
func (s *PredictionStore) GetLatest(ctx context.Context, tctx tenant.Context, customerID string) (*LatestPrediction, error) {
	if err := tctx.Validate(); err != nil {
		return nil, err
	}
	defer prometheus.TrackDBOperation("get_latest_prediction")(time.Now())

	var p model.Prediction
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND customer_id = ?", tctx.ID, customerID).
		Order("created_at desc, id desc").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var customer model.Customer
	err = s.db.WithContext(ctx).
		Where("tenant_id = ? AND crm_customer_id = ?", tctx.ID, customerID).
		First(&customer).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return s.annotate(p, customer.SyncedAt), nil
}

// GetLatestBatch returns the most recent prediction per requested customer.
// Customers with no prediction yet are absent from the result.
func (s *PredictionStore) GetLatestBatch(ctx context.Context, tctx tenant.Context, customerIDs []string) (map[string]*LatestPrediction, error) {
	if err := tctx.Validate(); err != nil {
		return nil, err
	}
	if len(customerIDs) == 0 {
		return map[string]*LatestPrediction{}, nil
	}
	defer prometheus.TrackDBOperation("get_latest_batch")(time.Now())

	var rows []model.Prediction
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND customer_id IN ?", tctx.ID, customerIDs).
		Order("created_at desc, id desc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	syncedAt, err := s.syncTimes(ctx, tctx, customerIDs)
	if err != nil {
		return nil, err
	}

	// Rows arrive newest first, so the first row seen per customer wins.
	out := make(map[string]*LatestPrediction, len(customerIDs))
	for i := range rows {
		id := rows[i].CustomerID
		if _, seen := out[id]; seen {
			continue
		}
		out[id] = s.annotate(rows[i], syncedAt[id])
	}
	return out, nil
}

// ListHighRisk returns the latest prediction of every customer whose current
// churn probability meets the threshold, highest probability first.
func (s *PredictionStore) ListHighRisk(ctx context.Context, tctx tenant.Context, threshold float64) ([]*LatestPrediction, error) {
	if err := tctx.Validate(); err != nil {
		return nil, err
	}
	defer prometheus.TrackDBOperation("list_high_risk")(time.Now())

	// The customers table carries the denormalized latest probability, so
	// the threshold filter never scans prediction history.
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&model.Customer{}).
		Where("tenant_id = ? AND churn_probability >= ?", tctx.ID, threshold).
		Order("churn_probability desc").
		Pluck("crm_customer_id", &ids).Error
	if err != nil {
		return nil, err
	}

	latest, err := s.GetLatestBatch(ctx, tctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*LatestPrediction, 0, len(ids))
	for _, id := range ids {
		if lp, ok := latest[id]; ok {
			out = append(out, lp)
		}
	}
	return out, nil
}

// GetTrend returns one customer's prediction history inside a time window,
// oldest first.
func (s *PredictionStore) GetTrend(ctx context.Context, tctx tenant.Context, customerID string, window time.Duration) ([]model.Prediction, error) {
	if err := tctx.Validate(); err != nil {
		return nil, err
	}
	defer prometheus.TrackDBOperation("get_trend")(time.Now())

	since := s.now().UTC().Add(-window)

	var rows []model.Prediction
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND customer_id = ? AND created_at >= ?", tctx.ID, customerID, since).
		Order("created_at asc, id asc").
		Find(&rows).Error
	return rows, err
}

// CountByRisk returns the number of customers currently in each risk tier.
func (s *PredictionStore) CountByRisk(ctx context.Context, tctx tenant.Context) (map[string]int64, error) {
	if err := tctx.Validate(); err != nil {
		return nil, err
	}
	defer prometheus.TrackDBOperation("count_by_risk")(time.Now())

	type row struct {
		ChurnRisk string
		N         int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&model.Customer{}).
		Select("churn_risk, count(*) as n").
		Where("tenant_id = ? AND churn_risk <> ''", tctx.ID).
		Group("churn_risk").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := map[string]int64{
		model.RiskLow:    0,
		model.RiskMedium: 0,
		model.RiskHigh:   0,
	}
	for _, r := range rows {
		out[r.ChurnRisk] = r.N
	}
	prometheus.UpdateHighRiskCustomers(tctx.ID, int(out[model.RiskHigh]))
	return out, nil
}

func (s *PredictionStore) annotate(p model.Prediction, syncedAt *time.Time) *LatestPrediction {
	now := s.now().UTC()

	lp := &LatestPrediction{
		Prediction:    p,
		PredictionAge: now.Sub(p.CreatedAt),
	}
	if syncedAt != nil {
		lp.DataAge = syncedAt.Sub(p.CreatedAt)
	}

	// Stale when too old, or when the customer was re-synced after scoring.
	lp.Stale = lp.PredictionAge > s.maxAge || lp.DataAge > 0
	return lp
}

func (s *PredictionStore) syncTimes(ctx context.Context, tctx tenant.Context, customerIDs []string) (map[string]*time.Time, error) {
	type row struct {
		CRMCustomerID string
		SyncedAt      *time.Time
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&model.Customer{}).
		Select("crm_customer_id, synced_at").
		Where("tenant_id = ? AND crm_customer_id IN ?", tctx.ID, customerIDs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]*time.Time, len(rows))
	for i := range rows {
		out[rows[i].CRMCustomerID] = rows[i].SyncedAt
	}
	return out, nil
}
