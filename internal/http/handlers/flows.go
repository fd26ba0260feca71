package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/callquality/backend/internal/models"
)

type FlowRequest struct {
	Name                   string          `json:"name" validate:"required,max=255"`
	ClassificationCriteria *string         `json:"classification_criteria"`
	FlowDefinition         json.RawMessage `json:"flow_definition"`
	IsActive               *bool           `json:"is_active"`
}

func (r FlowRequest) toFlow(tenantID string) (models.OperationFlow, bool) {
	if len(r.FlowDefinition) > 0 && !json.Valid(r.FlowDefinition) {
		return models.OperationFlow{}, false
	}
	f := models.OperationFlow{
		TenantID:               tenantID,
		Name:                   strings.TrimSpace(r.Name),
		ClassificationCriteria: r.ClassificationCriteria,
		FlowDefinition:         r.FlowDefinition,
		IsActive:               true,
	}
	if r.IsActive != nil {
		f.IsActive = *r.IsActive
	}
	return f, true
}

type PromptRequest struct {
	PromptText string `json:"prompt_text" validate:"required"`
	IsActive   *bool  `json:"is_active"`
}

func (h *Handler) FlowsList(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	items, err := h.Store.ListFlows(c.Request.Context(), c.Param("tenant_id"), activeOnly)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list flows", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) FlowDetails(c *gin.Context) {
	f, err := h.Store.GetFlow(c.Request.Context(), c.Param("tenant_id"), c.Param("flow_id"))
	if err != nil {
		writeStoreError(c, err, "Flow")
		return
	}
	c.JSON(http.StatusOK, f)
}

// @Summary Create operation flow
// @Tags flows
// @Accept json
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Param payload body FlowRequest true "Flow"
// @Success 201 {object} models.OperationFlow
// @Router /api/tenants/{tenant_id}/flows [post]
func (h *Handler) CreateFlow(c *gin.Context) {
	var req FlowRequest
	if !h.bindJSON(c, &req) {
		return
	}
	flow, ok := req.toFlow(c.Param("tenant_id"))
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "flow_definition must be valid JSON", nil)
		return
	}
	created, err := h.Store.CreateFlow(c.Request.Context(), flow)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create flow", err.Error())
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) UpdateFlow(c *gin.Context) {
	var req FlowRequest
	if !h.bindJSON(c, &req) {
		return
	}
	flow, ok := req.toFlow(c.Param("tenant_id"))
	if !ok {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "flow_definition must be valid JSON", nil)
		return
	}
	flow.ID = c.Param("flow_id")
	updated, err := h.Store.UpdateFlow(c.Request.Context(), flow)
	if err != nil {
		writeStoreError(c, err, "Flow")
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteFlow(c *gin.Context) {
	if err := h.Store.DeleteFlow(c.Request.Context(), c.Param("tenant_id"), c.Param("flow_id")); err != nil {
		writeStoreError(c, err, "Flow")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) PromptsList(c *gin.Context) {
	items, err := h.Store.ListPrompts(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list prompts", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Upsert analysis prompt
// @Description Replaces the tenant's prompt of the given type
// @Tags prompts
// @Accept json
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Param prompt_type path string true "quality_score | summary | emotion | flow_classification | flow_compliance | custom"
// @Param payload body PromptRequest true "Prompt"
// @Success 200 {object} models.AnalysisPrompt
// @Router /api/tenants/{tenant_id}/prompts/{prompt_type} [put]
func (h *Handler) UpsertPrompt(c *gin.Context) {
	promptType := c.Param("prompt_type")
	if !models.ValidPromptType(promptType) {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown prompt type", promptType)
		return
	}
	var req PromptRequest
	if !h.bindJSON(c, &req) {
		return
	}
	p := models.AnalysisPrompt{
		TenantID:   c.Param("tenant_id"),
		PromptType: promptType,
		PromptText: req.PromptText,
		IsActive:   true,
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	saved, err := h.Store.UpsertPrompt(c.Request.Context(), p)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to save prompt", err.Error())
		return
	}
	c.JSON(http.StatusOK, saved)
}
