package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/callquality/backend/internal/biztel"
	"github.com/callquality/backend/internal/db"
	"github.com/callquality/backend/internal/models"
	"github.com/callquality/backend/internal/storage"
)

const maxSyncErrors = 20

var ErrNoCredentials = errors.New("tenant has no telephony credentials configured")

type SyncRepository interface {
	GetTenant(ctx context.Context, tenantID string) (models.Tenant, error)
	CreateSyncRun(ctx context.Context, tenantID string) (string, error)
	FinishSyncRun(ctx context.Context, runID, status string, summary []byte) error
	TouchTenantSync(ctx context.Context, tenantID string, at time.Time) error
	UpsertSyncedCall(ctx context.Context, c models.CallRecord) (models.CallRecord, bool, error)
	FindOperatorByBiztelID(ctx context.Context, tenantID, biztelOperatorID string) (models.Operator, error)
	CreateOperator(ctx context.Context, op models.Operator) (models.Operator, error)
	SetCallAudioPath(ctx context.Context, tenantID, callID, path string) error
}

type SyncRequest struct {
	Start   time.Time
	End     time.Time
	QueueID *int
}

type SyncResult struct {
	TotalRecords         int      `json:"total_records"`
	NewRecords           int      `json:"new_records"`
	UpdatedRecords       int      `json:"updated_records"`
	RecordingsDownloaded int      `json:"recordings_downloaded"`
	Errors               []string `json:"errors"`
	ErrorCount           int      `json:"error_count"`
}

func (r *SyncResult) addError(format string, args ...any) {
	r.ErrorCount++
	if len(r.Errors) < maxSyncErrors {
		r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	}
}

// SyncService pulls a tenant's call history into call_records and stores the
// recordings that are available.
type SyncService struct {
	Repo    SyncRepository
	Clients *biztel.ClientCache
	Storage storage.Store
	TTLDays int
	Logger  zerolog.Logger
	Now     func() time.Time
}

func (s *SyncService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *SyncService) Sync(ctx context.Context, tenantID string, req SyncRequest) (SyncResult, error) {
	result := SyncResult{Errors: []string{}}

	tenant, err := s.Repo.GetTenant(ctx, tenantID)
	if err != nil {
		return result, err
	}
	if !tenant.HasBiztelCredentials() {
		return result, ErrNoCredentials
	}

	runID, err := s.Repo.CreateSyncRun(ctx, tenant.ID)
	if err != nil {
		return result, err
	}
	log := s.Logger.With().Str("tenant_id", tenant.ID).Str("sync_run_id", runID).Logger()

	client := s.clientFor(tenant)
	records, err := client.FetchCallHistoryPaginated(ctx, biztel.Query{
		Start:   req.Start,
		End:     req.End,
		QueueID: req.QueueID,
		Events:  biztel.CompletedEvents,
	})
	if err != nil {
		result.addError("fetch call history: %v", err)
		s.finishRun(ctx, log, runID, models.RunFailed, result)
		return result, err
	}
	result.TotalRecords = len(records)

	operators := map[string]*string{}
	for _, rec := range records {
		if ctx.Err() != nil {
			result.addError("sync interrupted: %v", ctx.Err())
			break
		}
		s.syncRecord(ctx, log, client, tenant.ID, rec, operators, &result)
	}

	status := models.RunSuccess
	if result.ErrorCount > 0 {
		status = models.RunPartial
	}
	s.finishRun(ctx, log, runID, status, result)
	if err := s.Repo.TouchTenantSync(ctx, tenant.ID, s.now()); err != nil {
		log.Warn().Err(err).Msg("update last_sync_at failed")
	}

	log.Info().
		Int("total", result.TotalRecords).
		Int("new", result.NewRecords).
		Int("updated", result.UpdatedRecords).
		Int("recordings", result.RecordingsDownloaded).
		Int("errors", result.ErrorCount).
		Msg("sync finished")
	return result, nil
}

func (s *SyncService) syncRecord(ctx context.Context, log zerolog.Logger, client *biztel.Client, tenantID string, rec biztel.CallHistoryRecord, operators map[string]*string, result *SyncResult) {
	if rec.RequestID == "" {
		result.addError("record without request_id skipped")
		return
	}

	operatorID, err := s.resolveOperator(ctx, tenantID, rec, operators)
	if err != nil {
		result.addError("%s: resolve operator: %v", rec.RequestID, err)
	}

	eventAt := rec.StartTime
	if eventAt.IsZero() {
		eventAt = s.now()
	}
	requestID := rec.RequestID
	call, created, err := s.Repo.UpsertSyncedCall(ctx, models.CallRecord{
		TenantID:            tenantID,
		BiztelID:            &requestID,
		RequestID:           &requestID,
		EventDatetime:       eventAt,
		CallCenterName:      optional(rec.QueueName),
		CallCenterExtension: optional(rec.QueueExten),
		BusinessLabel:       optional(rec.BusinessName),
		OperatorID:          operatorID,
		EventType:           optional(rec.Event),
		CallerNumber:        optional(rec.CallerID),
		CalleeNumber:        optional(rec.CalledID),
		WaitTimeSeconds:     rec.HoldTime,
		TalkTimeSeconds:     rec.CallTime,
		AnalysisStatus:      models.StatusPending,
	})
	if err != nil {
		result.addError("%s: save call: %v", rec.RequestID, err)
		return
	}
	if created {
		result.NewRecords++
	} else {
		result.UpdatedRecords++
	}

	if !rec.HasRecording || call.HasAudio() {
		return
	}
	if err := s.storeRecording(ctx, client, tenantID, call.ID, rec.RequestID); err != nil {
		log.Warn().Err(err).Str("request_id", rec.RequestID).Msg("recording download failed")
		result.addError("%s: recording: %v", rec.RequestID, err)
		return
	}
	result.RecordingsDownloaded++
}

// resolveOperator maps the provider account onto an operator row, creating
// it when the provider supplies a name. Results, misses included, are cached
// for the rest of the run.
func (s *SyncService) resolveOperator(ctx context.Context, tenantID string, rec biztel.CallHistoryRecord, cache map[string]*string) (*string, error) {
	if rec.AccountID == "" {
		return nil, nil
	}
	if id, ok := cache[rec.AccountID]; ok {
		return id, nil
	}

	op, err := s.Repo.FindOperatorByBiztelID(ctx, tenantID, rec.AccountID)
	switch {
	case err == nil:
		cache[rec.AccountID] = &op.ID
		return &op.ID, nil
	case !errors.Is(err, db.ErrNotFound):
		return nil, err
	}

	if rec.AccountName == "" {
		cache[rec.AccountID] = nil
		return nil, nil
	}
	accountID := rec.AccountID
	op, err = s.Repo.CreateOperator(ctx, models.Operator{TenantID: tenantID, BiztelOperatorID: &accountID, Name: rec.AccountName})
	if err != nil {
		return nil, err
	}
	cache[rec.AccountID] = &op.ID
	return &op.ID, nil
}

func (s *SyncService) storeRecording(ctx context.Context, client *biztel.Client, tenantID, callID, requestID string) error {
	audio, err := client.DownloadRecording(ctx, requestID, biztel.ContentMonaural)
	if err != nil {
		return err
	}
	up, err := s.Storage.Upload(ctx, storage.UploadInput{
		Data:     audio,
		Filename: requestID + ".wav",
		TenantID: tenantID,
		TTLDays:  s.TTLDays,
	})
	if err != nil {
		return err
	}
	return s.Repo.SetCallAudioPath(ctx, tenantID, callID, up.BlobPath)
}

func (s *SyncService) clientFor(tenant models.Tenant) *biztel.Client {
	return s.Clients.Get(tenant.ID, biztel.Credentials{
		APIKey:    deref(tenant.BiztelAPIKey),
		APISecret: deref(tenant.BiztelAPISecret),
		BaseURL:   deref(tenant.BiztelBaseURL),
	})
}

func (s *SyncService) finishRun(ctx context.Context, log zerolog.Logger, runID, status string, result SyncResult) {
	summary, _ := json.Marshal(result)
	if err := s.Repo.FinishSyncRun(context.WithoutCancel(ctx), runID, status, summary); err != nil {
		log.Warn().Err(err).Msg("record sync run failed")
	}
}

// TestConnection probes the provider with the tenant's stored credentials
// using a one-record history query over the last day.
func (s *SyncService) TestConnection(ctx context.Context, tenantID string) (int, error) {
	tenant, err := s.Repo.GetTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if !tenant.HasBiztelCredentials() {
		return 0, ErrNoCredentials
	}
	return s.clientFor(tenant).TestConnection(ctx)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
