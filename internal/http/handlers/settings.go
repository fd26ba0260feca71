package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/callquality/backend/internal/biztel"
	"github.com/callquality/backend/internal/db"
	"github.com/callquality/backend/internal/service"
	"github.com/callquality/backend/internal/utils"
)

type SyncTriggerRequest struct {
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
	QueueID   *int   `json:"queue_id" validate:"omitempty,gt=0"`
	// Process enqueues the tenant's pending calls once the sync finishes.
	Process bool `json:"process"`
}

type SyncTriggerResponse struct {
	service.SyncResult
	Queued int `json:"queued"`
}

type BiztelSettingsRequest struct {
	APIKey    string  `json:"api_key" validate:"required"`
	APISecret *string `json:"api_secret"`
	BaseURL   string  `json:"base_url" validate:"required,url"`
}

type BiztelSettingsResponse struct {
	APIKeyMasked string     `json:"api_key_masked"`
	BaseURL      string     `json:"base_url"`
	IsConfigured bool       `json:"is_configured"`
	LastSyncAt   *time.Time `json:"last_sync_at"`
}

// parseWindowBound reads a sync window bound. A date without a time covers the
// whole day, so an end date of 2024-01-31 means 2024-01-31 23:59:59.
func parseWindowBound(raw string, end bool, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		if end {
			t = t.Add(24*time.Hour - time.Second)
		}
		return t, true
	}
	t := biztel.ParseTime(raw, loc)
	return t, !t.IsZero()
}

// @Summary Sync call history
// @Description Pulls completed calls for the window from the telephony provider
// @Tags sync
// @Accept json
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Param payload body SyncTriggerRequest true "Sync window"
// @Success 200 {object} SyncTriggerResponse
// @Router /api/tenants/{tenant_id}/sync [post]
func (h *Handler) TriggerSync(c *gin.Context) {
	var req SyncTriggerRequest
	if !h.bindJSON(c, &req) {
		return
	}
	start, ok := parseWindowBound(req.StartDate, false, h.location())
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid start_date", req.StartDate)
		return
	}
	end, ok := parseWindowBound(req.EndDate, true, h.location())
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid end_date", req.EndDate)
		return
	}
	if !end.After(start) {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "end_date must be after start_date", nil)
		return
	}

	tenantID := c.Param("tenant_id")
	ctx := c.Request.Context()
	result, err := h.Sync.Sync(ctx, tenantID, service.SyncRequest{Start: start, End: end, QueueID: req.QueueID})
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Tenant not found", nil)
		return
	case errors.Is(err, service.ErrNoCredentials):
		writeError(c, http.StatusBadRequest, "NOT_CONFIGURED", "Biztel credentials are not configured", nil)
		return
	case errors.Is(err, biztel.ErrAuth):
		writeError(c, http.StatusBadGateway, "PROVIDER_AUTH", "Biztel rejected the credentials", err.Error())
		return
	case err != nil:
		writeError(c, http.StatusBadGateway, "SYNC_FAILED", "Sync failed", err.Error())
		return
	}

	out := SyncTriggerResponse{SyncResult: result}
	if req.Process && h.Jobs != nil {
		if out.Queued, err = h.Jobs.ProcessPending(ctx, tenantID, service.DefaultPendingLimit); err != nil {
			h.Logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("enqueue after sync failed")
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) SyncRunsLatest(c *gin.Context) {
	run, err := h.Store.GetLatestSyncRun(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		writeStoreError(c, err, "Sync run")
		return
	}
	c.JSON(http.StatusOK, run)
}

// @Summary Biztel settings
// @Tags settings
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Success 200 {object} BiztelSettingsResponse
// @Router /api/tenants/{tenant_id}/settings/biztel [get]
func (h *Handler) BiztelSettings(c *gin.Context) {
	t, err := h.Store.GetTenant(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		writeStoreError(c, err, "Tenant")
		return
	}
	out := BiztelSettingsResponse{IsConfigured: t.HasBiztelCredentials(), LastSyncAt: t.LastSyncAt}
	if t.BiztelAPIKey != nil {
		out.APIKeyMasked = utils.MaskSecret(*t.BiztelAPIKey)
	}
	if t.BiztelBaseURL != nil {
		out.BaseURL = *t.BiztelBaseURL
	}
	c.JSON(http.StatusOK, out)
}

// @Summary Update Biztel settings
// @Tags settings
// @Accept json
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Param payload body BiztelSettingsRequest true "Credentials"
// @Success 200 {object} BiztelSettingsResponse
// @Router /api/tenants/{tenant_id}/settings/biztel [put]
func (h *Handler) UpdateBiztelSettings(c *gin.Context) {
	var req BiztelSettingsRequest
	if !h.bindJSON(c, &req) {
		return
	}
	tenantID := c.Param("tenant_id")
	baseURL := strings.TrimRight(strings.TrimSpace(req.BaseURL), "/")
	if err := h.Store.UpdateBiztelSettings(c.Request.Context(), tenantID, strings.TrimSpace(req.APIKey), req.APISecret, baseURL); err != nil {
		writeStoreError(c, err, "Tenant")
		return
	}
	if h.Clients != nil {
		h.Clients.Evict(tenantID)
	}
	h.Logger.Info().Str("tenant_id", tenantID).Msg("biztel settings updated")
	h.BiztelSettings(c)
}

// @Summary Test Biztel connection
// @Tags settings
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Success 200 {object} map[string]any
// @Router /api/tenants/{tenant_id}/settings/biztel/test [post]
func (h *Handler) TestBiztelConnection(c *gin.Context) {
	n, err := h.Sync.TestConnection(c.Request.Context(), c.Param("tenant_id"))
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Tenant not found", nil)
	case errors.Is(err, service.ErrNoCredentials):
		c.JSON(http.StatusOK, gin.H{"success": false, "message": "Biztel credentials are not configured"})
	case err != nil:
		c.JSON(http.StatusOK, gin.H{"success": false, "message": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Connection successful", "records_found": n})
	}
}
