package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"churn-service/internal/churn"
	"churn-service/internal/jobs"
	"churn-service/internal/store"
	"churn-service/internal/tenant"
	"churn-service/pkg/config"
	"churn-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// BatchPredictionRequest defines the structure for batch scoring requests
type BatchPredictionRequest struct {
	CustomerIDs []string `json:"customer_ids"`
}

// PredictionHandler exposes churn scoring and prediction reads over HTTP.
type PredictionHandler struct {
	predictor   *churn.Predictor
	predictions *store.PredictionStore
	entities    *store.EntityStore
	pool        *jobs.Pool
	cfg         *config.PredictionConfig
}

// NewPredictionHandler creates a prediction handler.
func NewPredictionHandler(p *churn.Predictor, predictions *store.PredictionStore, entities *store.EntityStore, pool *jobs.Pool, cfg *config.PredictionConfig) *PredictionHandler {
	return &PredictionHandler{
		predictor:   p,
		predictions: predictions,
		entities:    entities,
		pool:        pool,
		cfg:         cfg,
	}
}

func tenantContextFromEcho(c echo.Context) (tenant.Context, error) {
	tenantID, ok := c.Get("tenant_id").(uint)
	if !ok || tenantID == 0 {
		return tenant.Context{}, errors.New("tenant context missing")
	}
	name, _ := c.Get("tenant_name").(string)
	return tenant.Context{ID: tenantID, Name: name}, nil
}

// RunPredictions scores every active customer in the background
func (h *PredictionHandler) RunPredictions(c echo.Context) error {
	log := logger.FromEcho(c)

	tctx, err := tenantContextFromEcho(c)
	if err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "tenant context required"})
	}

	job, err := h.pool.Submit(fmt.Sprintf("predict:%d", tctx.ID), func(ctx context.Context) error {
		ids, err := h.entities.ListActiveCustomerIDs(ctx, tctx)
		if err != nil {
			return err
		}
		summary, err := h.predictor.PredictBatch(ctx, tctx, ids)
		if err != nil {
			return err
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d customers failed to score", summary.Failed, summary.Total)
		}
		return nil
	})
	if errors.Is(err, jobs.ErrJobAlreadyRunning) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "prediction run already in progress"})
	}
	if errors.Is(err, jobs.ErrQueueFull) {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "too many pending jobs, try again later"})
	}
	if err != nil {
		log.Error("Failed to enqueue prediction run", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start prediction run"})
	}

	log.Info("Prediction run enqueued", zap.Uint("tenant_id", tctx.ID), zap.String("job_id", job.ID))
	return c.JSON(http.StatusAccepted, echo.Map{
		"job_id": job.ID,
		"status": job.Status,
	})
}

// BatchPredict scores a named set of customers synchronously
func (h *PredictionHandler) BatchPredict(c echo.Context) error {
	log := logger.FromEcho(c)

	tctx, err := tenantContextFromEcho(c)
	if err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "tenant context required"})
	}

	var req BatchPredictionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request data"})
	}
	if len(req.CustomerIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "customer_ids is required"})
	}

	summary, err := h.predictor.PredictBatch(c.Request().Context(), tctx, req.CustomerIDs)
	if err != nil {
		log.Error("Batch prediction failed", zap.Uint("tenant_id", tctx.ID), zap.Error(err))
		if errors.Is(err, churn.ErrArtifactNotFound) || errors.Is(err, churn.ErrArtifactCorrupt) {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "model artifact unavailable"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "batch prediction failed"})
	}

	return c.JSON(http.StatusOK, summary)
}

// GetPrediction returns the latest prediction for one customer with
// staleness metadata
func (h *PredictionHandler) GetPrediction(c echo.Context) error {
	tctx, err := tenantContextFromEcho(c)
	if err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "tenant context required"})
	}

	customerID := c.Param("customer_id")
	latest, err := h.predictions.GetLatest(c.Request().Context(), tctx, customerID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no prediction for customer"})
	}
	if err != nil {
		logger.FromEcho(c).Error("Failed to read prediction", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read prediction"})
	}

	return c.JSON(http.StatusOK, predictionResponse(latest))
}

// GetTrend returns a customer's prediction history within a day window
func (h *PredictionHandler) GetTrend(c echo.Context) error {
	tctx, err := tenantContextFromEcho(c)
	if err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "tenant context required"})
	}

	days := 30
	if raw := c.QueryParam("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "days must be a positive integer"})
		}
		days = parsed
	}

	customerID := c.Param("customer_id")
	trend, err := h.predictions.GetTrend(c.Request().Context(), tctx, customerID, time.Duration(days)*24*time.Hour)
	if err != nil {
		logger.FromEcho(c).Error("Failed to read trend", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read trend"})
	}

	points := make([]echo.Map, 0, len(trend))
	for i := range trend {
		points = append(points, echo.Map{
			"churn_probability": trend[i].ChurnProbability,
			"churn_risk":        trend[i].ChurnRisk,
			"model_version":     trend[i].ModelVersion,
			"created_at":        trend[i].CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"customer_id": customerID,
		"days":        days,
		"points":      points,
	})
}

// ListHighRisk returns customers whose current probability meets the threshold
func (h *PredictionHandler) ListHighRisk(c echo.Context) error {
	tctx, err := tenantContextFromEcho(c)
	if err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "tenant context required"})
	}

	threshold := h.cfg.HighThreshold
	if raw := c.QueryParam("threshold"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "threshold must be between 0 and 1"})
		}
		threshold = parsed
	}

	highRisk, err := h.predictions.ListHighRisk(c.Request().Context(), tctx, threshold)
	if err != nil {
		logger.FromEcho(c).Error("Failed to list high-risk customers", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list high-risk customers"})
	}

	out := make([]echo.Map, 0, len(highRisk))
	for _, lp := range highRisk {
		out = append(out, predictionResponse(lp))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"threshold": threshold,
		"count":     len(out),
		"customers": out,
	})
}

// PredictionSummary returns the tenant's risk tier distribution
func (h *PredictionHandler) PredictionSummary(c echo.Context) error {
	tctx, err := tenantContextFromEcho(c)
	if err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "tenant context required"})
	}

	counts, err := h.predictions.CountByRisk(c.Request().Context(), tctx)
	if err != nil {
		logger.FromEcho(c).Error("Failed to summarize risk tiers", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to summarize risk tiers"})
	}

	return c.JSON(http.StatusOK, echo.Map{"risk_distribution": counts})
}

func predictionResponse(lp *store.LatestPrediction) echo.Map {
	factors, _ := lp.Prediction.GetRiskFactors()
	values, _ := lp.Prediction.GetFeatureValues()

	return echo.Map{
		"customer_id":       lp.Prediction.CustomerID,
		"churn_probability": lp.Prediction.ChurnProbability,
		"churn_risk":        lp.Prediction.ChurnRisk,
		"confidence":        lp.Prediction.Confidence,
		"model_version":     lp.Prediction.ModelVersion,
		"model_type":        lp.Prediction.ModelType,
		"risk_factors":      factors,
		"feature_values":    values,
		"created_at":        lp.Prediction.CreatedAt,
		"staleness": echo.Map{
			"prediction_age_seconds": lp.PredictionAge.Seconds(),
			"data_age_seconds":       lp.DataAge.Seconds(),
			"stale":                  lp.Stale,
		},
	}
}
