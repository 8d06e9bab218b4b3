package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"churn-service/internal/crm"
	"churn-service/internal/jobs"
	"churn-service/internal/model"
	"churn-service/internal/store"
	"churn-service/internal/syncer"
	"churn-service/internal/tenant"
	"churn-service/pkg/database"
	"churn-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// SyncRequest defines the structure for sync trigger requests
type SyncRequest struct {
	Mode string `json:"mode"`
}

// SyncHandler exposes CRM sync operations over HTTP.
type SyncHandler struct {
	syncer   *syncer.Synchronizer
	pool     *jobs.Pool
	entities *store.EntityStore
}

// NewSyncHandler creates a sync handler.
func NewSyncHandler(s *syncer.Synchronizer, pool *jobs.Pool, entities *store.EntityStore) *SyncHandler {
	return &SyncHandler{syncer: s, pool: pool, entities: entities}
}

// tenantFromEcho resolves the authenticated tenant row. The tenant ID always
// comes from the JWT, never from the request body.
func tenantFromEcho(c echo.Context) (*model.Tenant, error) {
	tenantID, ok := c.Get("tenant_id").(uint)
	if !ok || tenantID == 0 {
		return nil, errors.New("tenant context missing")
	}

	var t model.Tenant
	if err := database.GetDB().First(&t, tenantID).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// TriggerSync starts a background sync for the current tenant
func (h *SyncHandler) TriggerSync(c echo.Context) error {
	log := logger.FromEcho(c)

	var req SyncRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "Invalid request data"})
	}
	if req.Mode == "" {
		req.Mode = syncer.ModeIncremental
	}
	if req.Mode != syncer.ModeFull && req.Mode != syncer.ModeIncremental {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": fmt.Sprintf("mode must be %q or %q", syncer.ModeFull, syncer.ModeIncremental),
		})
	}

	t, err := tenantFromEcho(c)
	if err != nil {
		log.Warn("Failed to resolve tenant", zap.Error(err))
		return c.JSON(http.StatusForbidden, echo.Map{"error": "tenant context required"})
	}
	if !t.Active {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "tenant is not active"})
	}
	if t.CRMAPIURL == "" {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "tenant has no CRM connection configured"})
	}

	log.Info("Sync requested",
		zap.Uint("tenant_id", t.ID),
		zap.String("mode", req.Mode))

	job, err := h.pool.Submit(fmt.Sprintf("sync:%d", t.ID), func(ctx context.Context) error {
		summary, err := h.syncer.Sync(ctx, t, req.Mode)
		if err != nil {
			return err
		}
		// A run with page errors completes with a summary, not an error;
		// surface it so the job status matches the run outcome.
		if len(summary.Errors) > 0 {
			return fmt.Errorf("sync finished with %d error(s): %s", len(summary.Errors), summary.Errors[0])
		}
		return nil
	})
	if errors.Is(err, jobs.ErrJobAlreadyRunning) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "sync already in progress"})
	}
	if errors.Is(err, jobs.ErrQueueFull) {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "too many pending jobs, try again later"})
	}
	if err != nil {
		log.Error("Failed to enqueue sync", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start sync"})
	}

	return c.JSON(http.StatusAccepted, echo.Map{
		"job_id": job.ID,
		"mode":   req.Mode,
		"status": job.Status,
	})
}

// SyncStatus reports the tenant's sync state and local record counts
func (h *SyncHandler) SyncStatus(c echo.Context) error {
	log := logger.FromEcho(c)

	t, err := tenantFromEcho(c)
	if err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "tenant context required"})
	}
	tctx := tenant.Context{ID: t.ID, Name: t.Name}

	customers, tickets, payments, err := h.entities.CountByEntity(c.Request().Context(), tctx)
	if err != nil {
		log.Error("Failed to count synced records", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read sync status"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"sync_status":     t.SyncStatus,
		"last_sync_error": t.LastSyncError,
		"last_synced_at":  t.LastSyncedAt,
		"total_syncs":     t.TotalSyncs,
		"in_progress":     h.syncer.InProgress(t.ID),
		"records": echo.Map{
			"customers": customers,
			"tickets":   tickets,
			"payments":  payments,
		},
	})
}

// TestConnection verifies the tenant's CRM credentials without syncing
func (h *SyncHandler) TestConnection(c echo.Context) error {
	log := logger.FromEcho(c)

	t, err := tenantFromEcho(c)
	if err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "tenant context required"})
	}
	if t.CRMAPIURL == "" {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "tenant has no CRM connection configured"})
	}

	if err := h.syncer.TestConnection(c.Request().Context(), t); err != nil {
		log.Warn("CRM connection test failed", zap.Uint("tenant_id", t.ID), zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, crm.ErrUnauthorized) {
			status = http.StatusUnauthorized
		}
		return c.JSON(status, echo.Map{"ok": false, "error": err.Error()})
	}

	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}
