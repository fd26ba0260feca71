package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/callquality/backend/internal/db"
	"github.com/callquality/backend/internal/models"
	"github.com/callquality/backend/internal/service"
	"github.com/callquality/backend/internal/storage"
)

// Repository is the slice of *db.Store the web layer reads and writes.
type Repository interface {
	Ping(ctx context.Context) error

	ListCalls(ctx context.Context, f db.CallFilter) ([]models.CallRecord, error)
	GetTenantCallRecord(ctx context.Context, tenantID, callID string) (models.CallRecord, error)
	GetCallAnalysis(ctx context.Context, tenantID, callID string) (models.AnalysisResult, []models.EmotionSample, error)
	CreateCall(ctx context.Context, c models.CallRecord) (models.CallRecord, error)
	FindOperatorByBiztelID(ctx context.Context, tenantID, biztelOperatorID string) (models.Operator, error)
	CreateOperator(ctx context.Context, op models.Operator) (models.Operator, error)

	GetTenant(ctx context.Context, tenantID string) (models.Tenant, error)
	UpdateBiztelSettings(ctx context.Context, tenantID, apiKey string, apiSecret *string, baseURL string) error
	GetLatestSyncRun(ctx context.Context, tenantID string) (models.SyncRun, error)

	ListFlows(ctx context.Context, tenantID string, activeOnly bool) ([]models.OperationFlow, error)
	GetFlow(ctx context.Context, tenantID, flowID string) (models.OperationFlow, error)
	CreateFlow(ctx context.Context, f models.OperationFlow) (models.OperationFlow, error)
	UpdateFlow(ctx context.Context, f models.OperationFlow) (models.OperationFlow, error)
	DeleteFlow(ctx context.Context, tenantID, flowID string) error

	ListPrompts(ctx context.Context, tenantID string) ([]models.AnalysisPrompt, error)
	UpsertPrompt(ctx context.Context, p models.AnalysisPrompt) (models.AnalysisPrompt, error)
}

type Syncer interface {
	Sync(ctx context.Context, tenantID string, req service.SyncRequest) (service.SyncResult, error)
	TestConnection(ctx context.Context, tenantID string) (int, error)
}

type Reanalyzer interface {
	Reanalyze(ctx context.Context, tenantID, callID string) error
}

type Jobs interface {
	ProcessPending(ctx context.Context, tenantID string, limit int) (int, error)
	RetryFailed(ctx context.Context, tenantID string, limit int) (int, error)
	CleanupExpired(ctx context.Context) (service.CleanupReport, error)
	DailySync(ctx context.Context, now time.Time) (service.DailySyncReport, error)
}

// ClientEvicter drops cached provider clients after a credential change.
type ClientEvicter interface {
	Evict(tenantID string)
}

type Handler struct {
	Store     Repository
	Storage   storage.Store
	Sync      Syncer
	Pipeline  Reanalyzer
	Jobs      Jobs
	Queue     service.Enqueuer
	Clients   ClientEvicter
	Validator *validator.Validate
	Logger    zerolog.Logger
	AdminKey  string

	RecordingTTLDays int
	SignedURLMinutes int
	LenientInts      bool
	// Location is applied to zoneless timestamps in requests and imports.
	Location *time.Location
}

func (h *Handler) location() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// writeStoreError maps a repository error to 404 or 500.
func writeStoreError(c *gin.Context, err error, what string) {
	if errors.Is(err, db.ErrNotFound) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
		return
	}
	writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load "+what, err.Error())
}

// bindJSON decodes and validates the request body, writing the 400 itself.
func (h *Handler) bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return false
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return false
	}
	return true
}
