package churn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"churn-service/internal/feature"
	"churn-service/internal/model"
	"churn-service/internal/tenant"
	"churn-service/pkg/config"
	"churn-service/pkg/logger"
	"churn-service/prometheus"

	"go.uber.org/zap"
)

// EntityReader is what the predictor needs to assemble feature inputs for a
// customer during batch runs.
type EntityReader interface {
	GetCustomer(ctx context.Context, tctx tenant.Context, customerID string) (*model.Customer, error)
	ListTickets(ctx context.Context, tctx tenant.Context, customerID string) ([]model.Ticket, error)
	ListPayments(ctx context.Context, tctx tenant.Context, customerID string) ([]model.Payment, error)
}

// PredictionWriter persists scoring results.
type PredictionWriter interface {
	Save(ctx context.Context, tctx tenant.Context, p *model.Prediction) error
}

// Predictor applies a loaded model artifact to feature vectors.
type Predictor struct {
	loader  *Loader
	reader  EntityReader
	writer  PredictionWriter
	version string

	highThreshold   float64
	mediumThreshold float64
	highMargin      float64
	mediumMargin    float64
	topN            int
	batchWorkers    int

	now func() time.Time
}

// NewPredictor wires a predictor from configuration.
func NewPredictor(loader *Loader, reader EntityReader, writer PredictionWriter, cfg *config.PredictionConfig, version string) *Predictor {
	return &Predictor{
		loader:          loader,
		reader:          reader,
		writer:          writer,
		version:         version,
		highThreshold:   cfg.HighThreshold,
		mediumThreshold: cfg.MediumThreshold,
		highMargin:      cfg.HighConfidence,
		mediumMargin:    cfg.MediumConfidence,
		topN:            cfg.TopRiskFactors,
		batchWorkers:    cfg.BatchWorkers,
		now:             time.Now,
	}
}

// RiskTier buckets a probability. Boundary values belong to the higher tier:
// exactly 0.4 is medium, exactly 0.7 is high.
func (p *Predictor) RiskTier(probability float64) string {
	switch {
	case probability >= p.highThreshold:
		return model.RiskHigh
	case probability >= p.mediumThreshold:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// Confidence labels how far the probability sits from the nearest tier
// boundary; a score close to a boundary could flip tiers with small input
// noise, so it earns a lower label.
func (p *Predictor) Confidence(probability float64) string {
	distance := math.Min(
		math.Abs(probability-p.mediumThreshold),
		math.Abs(probability-p.highThreshold),
	)
	// A tolerance absorbs float subtraction noise so a probability sitting
	// exactly one margin from a boundary lands in the documented band.
	switch {
	case distance >= p.highMargin-confidenceEpsilon:
		return model.RiskHigh
	case distance >= p.mediumMargin-confidenceEpsilon:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

const confidenceEpsilon = 1e-9

// Predict scores one customer from an already-built feature vector and
// persists the result. The vector's schema version must match the loaded
// artifact's training schema.
func (p *Predictor) Predict(ctx context.Context, tctx tenant.Context, customer *model.Customer, vec feature.Vector) (*model.Prediction, error) {
	if err := tctx.Check(customer.TenantID); err != nil {
		return nil, err
	}

	artifact, err := p.loader.Load(p.version)
	if err != nil {
		return nil, err
	}
	if vec.SchemaVersion != artifact.Meta.FeatureSchema {
		return nil, fmt.Errorf("%w: vector schema %q, artifact schema %q",
			ErrSchemaMismatch, vec.SchemaVersion, artifact.Meta.FeatureSchema)
	}

	start := time.Now()
	standardized := artifact.Preprocessor.Transform(vec.Values)
	probability := artifact.Model.PredictProba(standardized)
	prometheus.RecordPredictionDuration(time.Since(start).Seconds())

	risk := p.RiskTier(probability)
	now := p.now().UTC()

	prediction := &model.Prediction{
		TenantID:         tctx.ID,
		CustomerID:       customer.CRMCustomerID,
		ChurnProbability: probability,
		ChurnRisk:        risk,
		Confidence:       p.Confidence(probability),
		ModelVersion:     artifact.Meta.Version,
		ModelType:        artifact.Model.Type(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := prediction.SetRiskFactors(p.explain(artifact, standardized)); err != nil {
		return nil, err
	}
	if err := prediction.SetFeatureValues(vec.ToMap()); err != nil {
		return nil, err
	}

	if err := p.writer.Save(ctx, tctx, prediction); err != nil {
		return nil, fmt.Errorf("saving prediction for customer %s: %w", customer.CRMCustomerID, err)
	}

	prometheus.RecordPrediction(risk)
	return prediction, nil
}

// explain combines feature importances with the vector's standardized
// deviation from the population baseline and keeps the top-N contributors by
// absolute weight.
func (p *Predictor) explain(artifact *Artifact, standardized []float64) []model.RiskFactor {
	importances := artifact.Model.FeatureImportances()

	factors := make([]model.RiskFactor, 0, len(feature.Names))
	for i, name := range feature.Names {
		if i >= len(importances) || i >= len(standardized) {
			break
		}
		factors = append(factors, model.RiskFactor{
			Feature: name,
			Weight:  importances[i] * standardized[i],
		})
	}

	sort.SliceStable(factors, func(i, j int) bool {
		return math.Abs(factors[i].Weight) > math.Abs(factors[j].Weight)
	})

	if len(factors) > p.topN {
		factors = factors[:p.topN]
	}
	return factors
}

// BatchOutcome is one customer's result within a batch run.
type BatchOutcome struct {
	CustomerID string            `json:"customer_id"`
	Prediction *model.Prediction `json:"prediction,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// BatchSummary reports a batch prediction run: per-customer outcomes plus
// aggregate counts, never a single pass/fail flag.
type BatchSummary struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Outcomes  []BatchOutcome `json:"outcomes"`
}

// PredictBatch builds vectors and scores a set of customers. Scorings are
// independent: one customer's failure is recorded in the summary without
// aborting the rest, and the resulting set does not depend on submission
// order. The artifact is loaded up front; if that fails the whole batch is
// rejected before any prediction is written.
func (p *Predictor) PredictBatch(ctx context.Context, tctx tenant.Context, customerIDs []string) (*BatchSummary, error) {
	if err := tctx.Validate(); err != nil {
		return nil, err
	}
	if _, err := p.loader.Load(p.version); err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)

	// One asOf for the whole batch keeps each customer's vector independent
	// of when its goroutine happened to run.
	asOf := p.now().UTC()

	workers := p.batchWorkers
	if workers < 1 {
		workers = 1
	}

	outcomes := make([]BatchOutcome, len(customerIDs))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, customerID := range customerIDs {
		if ctx.Err() != nil {
			outcomes[i] = BatchOutcome{CustomerID: customerID, Error: ctx.Err().Error()}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, customerID string) {
			defer wg.Done()
			defer func() { <-sem }()

			prediction, err := p.predictOne(ctx, tctx, customerID, asOf)
			if err != nil {
				prometheus.RecordPredictionError(errorReason(err))
				log.Warn("Scoring failed for customer",
					zap.String("customer_id", customerID),
					zap.Uint("tenant_id", tctx.ID),
					zap.Error(err))
				outcomes[i] = BatchOutcome{CustomerID: customerID, Error: err.Error()}
				return
			}
			outcomes[i] = BatchOutcome{CustomerID: customerID, Prediction: prediction}
		}(i, customerID)
	}
	wg.Wait()

	// Summaries are reported in customer order, not completion order.
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].CustomerID < outcomes[j].CustomerID })

	summary := &BatchSummary{Total: len(outcomes), Outcomes: outcomes}
	for i := range outcomes {
		if outcomes[i].Error == "" {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	return summary, nil
}

func (p *Predictor) predictOne(ctx context.Context, tctx tenant.Context, customerID string, asOf time.Time) (*model.Prediction, error) {
	customer, err := p.reader.GetCustomer(ctx, tctx, customerID)
	if err != nil {
		return nil, err
	}
	tickets, err := p.reader.ListTickets(ctx, tctx, customerID)
	if err != nil {
		return nil, err
	}
	payments, err := p.reader.ListPayments(ctx, tctx, customerID)
	if err != nil {
		return nil, err
	}

	vec, err := feature.Build(tctx, customer, tickets, payments, asOf)
	if err != nil {
		return nil, err
	}

	return p.Predict(ctx, tctx, customer, vec)
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, ErrArtifactNotFound), errors.Is(err, ErrArtifactCorrupt):
		return "artifact"
	case errors.Is(err, tenant.ErrTenantMismatch), errors.Is(err, tenant.ErrMissingTenant):
		return "tenant"
	default:
		return "other"
	}
}
