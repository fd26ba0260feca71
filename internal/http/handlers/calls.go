package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/callquality/backend/internal/biztel"
	"github.com/callquality/backend/internal/db"
	"github.com/callquality/backend/internal/models"
	"github.com/callquality/backend/internal/service"
	"github.com/callquality/backend/internal/storage"
)

const (
	defaultCallLimit = 50
	maxCallLimit     = 200
)

var audioExts = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".mp4": true, ".ogg": true, ".webm": true, ".flac": true,
}

type CallDetail struct {
	models.CallRecord
	AudioURL *string `json:"audio_url"`
}

type AnalysisDetail struct {
	models.AnalysisResult
	EmotionSamples []models.EmotionSample `json:"emotion_samples"`
}

type UploadResponse struct {
	CallRecordID string    `json:"call_record_id"`
	BlobPath     string    `json:"blob_path"`
	SignedURL    string    `json:"signed_url"`
	ExpiresAt    time.Time `json:"expires_at"`
	Queued       bool      `json:"queued"`
}

// @Summary List calls
// @Tags calls
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Param status query string false "pending | processing | completed | failed"
// @Param skip query int false "Offset"
// @Param limit query int false "Page size (max 200)"
// @Success 200 {object} map[string]any
// @Router /api/tenants/{tenant_id}/calls [get]
func (h *Handler) CallsList(c *gin.Context) {
	f := db.CallFilter{TenantID: c.Param("tenant_id"), Status: strings.TrimSpace(c.Query("status"))}
	if f.Status != "" && !models.ValidAnalysisStatus(f.Status) {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Unknown status", f.Status)
		return
	}

	var err error
	if f.Limit, err = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultCallLimit))); err != nil || f.Limit < 1 || f.Limit > maxCallLimit {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("limit must be between 1 and %d", maxCallLimit), nil)
		return
	}
	if f.Skip, err = strconv.Atoi(c.DefaultQuery("skip", "0")); err != nil || f.Skip < 0 {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "skip must be a non-negative integer", nil)
		return
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := strings.TrimSpace(c.Query(name))
		if raw == "" {
			continue
		}
		t := biztel.ParseTime(raw, h.location())
		if t.IsZero() {
			t, err = time.ParseInLocation("2006-01-02", raw, h.location())
			if err != nil {
				writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid "+name+" date", raw)
				return
			}
		}
		*dst = &t
	}

	items, err := h.Store.ListCalls(c.Request.Context(), f)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list calls", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": f.Limit, "skip": f.Skip})
}

// @Summary Call details
// @Tags calls
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Param id path string true "Call ID"
// @Success 200 {object} CallDetail
// @Router /api/tenants/{tenant_id}/calls/{id} [get]
func (h *Handler) CallDetails(c *gin.Context) {
	ctx := c.Request.Context()
	call, err := h.Store.GetTenantCallRecord(ctx, c.Param("tenant_id"), c.Param("id"))
	if err != nil {
		writeStoreError(c, err, "Call")
		return
	}

	out := CallDetail{CallRecord: call}
	if call.HasAudio() && h.Storage != nil {
		url, err := h.Storage.GenerateSignedURL(ctx, *call.AudioFilePath, h.SignedURLMinutes)
		if err != nil {
			h.Logger.Warn().Err(err).Str("call_id", call.ID).Msg("sign audio url failed")
		} else {
			out.AudioURL = &url
		}
	}
	c.JSON(http.StatusOK, out)
}

// @Summary Call analysis
// @Tags calls
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Param id path string true "Call ID"
// @Success 200 {object} AnalysisDetail
// @Router /api/tenants/{tenant_id}/calls/{id}/analysis [get]
func (h *Handler) CallAnalysis(c *gin.Context) {
	res, samples, err := h.Store.GetCallAnalysis(c.Request.Context(), c.Param("tenant_id"), c.Param("id"))
	if err != nil {
		writeStoreError(c, err, "Analysis")
		return
	}
	c.JSON(http.StatusOK, AnalysisDetail{AnalysisResult: res, EmotionSamples: samples})
}

// @Summary Reanalyze a call
// @Tags calls
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Param id path string true "Call ID"
// @Success 202 {object} map[string]any
// @Router /api/tenants/{tenant_id}/calls/{id}/reanalyze [post]
func (h *Handler) Reanalyze(c *gin.Context) {
	callID := c.Param("id")
	err := h.Pipeline.Reanalyze(c.Request.Context(), c.Param("tenant_id"), callID)
	switch {
	case errors.Is(err, service.ErrNoAudio):
		writeError(c, http.StatusConflict, "NO_AUDIO", "Call has no stored recording", nil)
		return
	case err != nil:
		writeStoreError(c, err, "Call")
		return
	}

	queued := false
	if h.Queue != nil {
		queued = h.Queue.Enqueue([]string{callID}) == 1
	}
	c.JSON(http.StatusAccepted, gin.H{"call_record_id": callID, "status": models.StatusPending, "queued": queued})
}

// @Summary Upload a recording
// @Description Stores the audio and creates a pending call record for it
// @Tags calls
// @Accept multipart/form-data
// @Produce json
// @Param tenant_id path string true "Tenant ID"
// @Param file formData file true "audio file"
// @Param event_datetime formData string false "Call start time"
// @Success 201 {object} UploadResponse
// @Router /api/tenants/{tenant_id}/calls/upload [post]
func (h *Handler) UploadAudio(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	file, err := c.FormFile("file")
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "file required", nil)
		return
	}
	if !audioExts[strings.ToLower(filepath.Ext(file.Filename))] {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "unsupported audio format", file.Filename)
		return
	}

	ctx := c.Request.Context()
	if _, err := h.Store.GetTenant(ctx, tenantID); err != nil {
		writeStoreError(c, err, "Tenant")
		return
	}

	f, err := file.Open()
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "cannot read file", err.Error())
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "cannot read file", err.Error())
		return
	}
	if len(data) == 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "file is empty", nil)
		return
	}

	call := models.CallRecord{
		TenantID:       tenantID,
		CallerNumber:   formOptional(c, "caller_number"),
		CalleeNumber:   formOptional(c, "callee_number"),
		CallCenterName: formOptional(c, "call_center_name"),
		BusinessLabel:  formOptional(c, "business_label"),
		AnalysisStatus: models.StatusPending,
	}
	if raw := strings.TrimSpace(c.PostForm("event_datetime")); raw != "" {
		call.EventDatetime = biztel.ParseTime(raw, h.location())
		if call.EventDatetime.IsZero() {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid event_datetime", raw)
			return
		}
	}

	up, err := h.Storage.Upload(ctx, storage.UploadInput{
		Data:             data,
		Filename:         file.Filename,
		TenantID:         tenantID,
		ContentType:      storage.ContentTypeFor(file.Filename),
		TTLDays:          h.RecordingTTLDays,
		SignedURLMinutes: h.SignedURLMinutes,
	})
	if err != nil {
		writeError(c, http.StatusBadGateway, "STORAGE_ERROR", "Failed to store recording", err.Error())
		return
	}
	call.AudioFilePath = &up.BlobPath

	created, err := h.Store.CreateCall(ctx, call)
	if err != nil {
		if _, derr := h.Storage.Delete(ctx, up.BlobPath); derr != nil {
			h.Logger.Warn().Err(derr).Str("blob_path", up.BlobPath).Msg("remove orphaned recording failed")
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create call", err.Error())
		return
	}

	queued := false
	if h.Queue != nil {
		queued = h.Queue.Enqueue([]string{created.ID}) == 1
	}
	c.JSON(http.StatusCreated, UploadResponse{
		CallRecordID: created.ID,
		BlobPath:     up.BlobPath,
		SignedURL:    up.SignedURL,
		ExpiresAt:    up.ExpiresAt,
		Queued:       queued,
	})
}

func formOptional(c *gin.Context, key string) *string {
	v := strings.TrimSpace(c.PostForm(key))
	if v == "" {
		return nil
	}
	return &v
}
