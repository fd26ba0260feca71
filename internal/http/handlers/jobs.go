package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/callquality/backend/internal/service"
)

func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer", raw)
		return 0, false
	}
	return n, true
}

// @Summary Enqueue pending calls
// @Tags jobs
// @Produce json
// @Param tenant_id query string false "Restrict to one tenant"
// @Param limit query int false "Max calls"
// @Success 202 {object} map[string]any
// @Router /api/jobs/process-pending [post]
func (h *Handler) ProcessPending(c *gin.Context) {
	limit, ok := queryLimit(c, service.DefaultPendingLimit)
	if !ok {
		return
	}
	n, err := h.Jobs.ProcessPending(c.Request.Context(), c.Query("tenant_id"), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "JOB_FAILED", "Failed to enqueue pending calls", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": n})
}

func (h *Handler) RetryFailed(c *gin.Context) {
	limit, ok := queryLimit(c, service.DefaultRetryLimit)
	if !ok {
		return
	}
	n, err := h.Jobs.RetryFailed(c.Request.Context(), c.Query("tenant_id"), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "JOB_FAILED", "Failed to retry calls", err.Error())
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"reset": n})
}

func (h *Handler) CleanupRecordings(c *gin.Context) {
	report, err := h.Jobs.CleanupExpired(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "JOB_FAILED", "Cleanup failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) DailySync(c *gin.Context) {
	report, err := h.Jobs.DailySync(c.Request.Context(), time.Now())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "JOB_FAILED", "Daily sync failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}
