package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/callquality/backend/internal/db"
	"github.com/callquality/backend/internal/models"
)

// memRepo is an in-memory stand-in for db.Store covering what the services use.
type memRepo struct {
	mu        sync.Mutex
	seq       int
	tenants   map[string]models.Tenant
	calls     map[string]*models.CallRecord
	operators []models.Operator
	flows     []models.OperationFlow
	prompts   map[string]models.AnalysisPrompt
	analyses  map[string]models.AnalysisResult
	samples   map[string][]models.EmotionSample
	runs      map[string]string
	statuses  map[string][]string
	lastSync  map[string]time.Time
}

func newMemRepo() *memRepo {
	return &memRepo{
		tenants:  map[string]models.Tenant{},
		calls:    map[string]*models.CallRecord{},
		prompts:  map[string]models.AnalysisPrompt{},
		analyses: map[string]models.AnalysisResult{},
		samples:  map[string][]models.EmotionSample{},
		runs:     map[string]string{},
		statuses: map[string][]string{},
		lastSync: map[string]time.Time{},
	}
}

func (r *memRepo) nextID(prefix string) string {
	r.seq++
	return fmt.Sprintf("%s-%d", prefix, r.seq)
}

func (r *memRepo) addCall(c models.CallRecord) models.CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == "" {
		c.ID = r.nextID("call")
	}
	r.calls[c.ID] = &c
	return c
}

func (r *memRepo) call(id string) models.CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.calls[id]
}

func (r *memRepo) GetTenant(ctx context.Context, tenantID string) (models.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return models.Tenant{}, db.ErrNotFound
	}
	return t, nil
}

func (r *memRepo) ListSyncableTenants(ctx context.Context) ([]models.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Tenant
	for _, t := range r.tenants {
		if t.IsActive && t.HasBiztelCredentials() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) CreateSyncRun(ctx context.Context, tenantID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID("run")
	r.runs[id] = models.RunRunning
	return id, nil
}

func (r *memRepo) FinishSyncRun(ctx context.Context, runID, status string, summary []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runID] = status
	return nil
}

func (r *memRepo) TouchTenantSync(ctx context.Context, tenantID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSync[tenantID] = at
	return nil
}

func (r *memRepo) UpsertSyncedCall(ctx context.Context, c models.CallRecord) (models.CallRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.calls {
		if existing.TenantID == c.TenantID && existing.RequestID != nil && *existing.RequestID == *c.RequestID {
			if c.OperatorID != nil {
				existing.OperatorID = c.OperatorID
			}
			existing.EventDatetime = c.EventDatetime
			return *existing, false, nil
		}
	}
	c.ID = r.nextID("call")
	r.calls[c.ID] = &c
	return c, true, nil
}

func (r *memRepo) FindOperatorByBiztelID(ctx context.Context, tenantID, biztelOperatorID string) (models.Operator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range r.operators {
		if op.TenantID == tenantID && op.BiztelOperatorID != nil && *op.BiztelOperatorID == biztelOperatorID {
			return op, nil
		}
	}
	return models.Operator{}, db.ErrNotFound
}

func (r *memRepo) CreateOperator(ctx context.Context, op models.Operator) (models.Operator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op.ID = r.nextID("op")
	op.IsActive = true
	r.operators = append(r.operators, op)
	return op, nil
}

func (r *memRepo) SetCallAudioPath(ctx context.Context, tenantID, callID, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok || c.TenantID != tenantID {
		return db.ErrNotFound
	}
	c.AudioFilePath = &path
	return nil
}

func (r *memRepo) GetCallRecord(ctx context.Context, callID string) (models.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return models.CallRecord{}, db.ErrNotFound
	}
	return *c, nil
}

func (r *memRepo) GetTenantCallRecord(ctx context.Context, tenantID, callID string) (models.CallRecord, error) {
	c, err := r.GetCallRecord(ctx, callID)
	if err != nil || c.TenantID != tenantID {
		return models.CallRecord{}, db.ErrNotFound
	}
	return c, nil
}

func (r *memRepo) UpdateCallStatus(ctx context.Context, callID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return db.ErrNotFound
	}
	c.AnalysisStatus = status
	r.statuses[callID] = append(r.statuses[callID], status)
	return nil
}

func (r *memRepo) ClaimCall(ctx context.Context, callID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return false, db.ErrNotFound
	}
	if c.AnalysisStatus != models.StatusPending && c.AnalysisStatus != models.StatusFailed {
		return false, nil
	}
	c.AnalysisStatus = models.StatusProcessing
	r.statuses[callID] = append(r.statuses[callID], models.StatusProcessing)
	return true, nil
}

func (r *memRepo) ListActiveFlows(ctx context.Context, tenantID string) ([]models.OperationFlow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.OperationFlow
	for _, f := range r.flows {
		if f.TenantID == tenantID && f.IsActive {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *memRepo) GetActivePrompt(ctx context.Context, tenantID, promptType string) (models.AnalysisPrompt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prompts[tenantID+"/"+promptType]
	if !ok || !p.IsActive {
		return models.AnalysisPrompt{}, db.ErrNotFound
	}
	return p, nil
}

func (r *memRepo) SaveAnalysis(ctx context.Context, w db.AnalysisWrite) (models.AnalysisResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := w.Result
	if prev, ok := r.analyses[w.CallRecordID]; ok {
		res.ID = prev.ID
	} else {
		res.ID = r.nextID("analysis")
	}
	r.analyses[w.CallRecordID] = res
	samples := make([]models.EmotionSample, len(w.Samples))
	for i, s := range w.Samples {
		s.AnalysisID = res.ID
		samples[i] = s
	}
	r.samples[res.ID] = samples

	c := r.calls[w.CallRecordID]
	if w.OperationFlowID != nil {
		c.OperationFlowID = w.OperationFlowID
	}
	c.InquiryCategory = w.InquiryCategory
	c.AnalysisStatus = models.StatusCompleted
	r.statuses[c.ID] = append(r.statuses[c.ID], models.StatusCompleted)
	return res, nil
}

func (r *memRepo) ListPendingCallIDs(ctx context.Context, tenantID string, limit int) ([]string, error) {
	return r.idsWithStatus(tenantID, models.StatusPending, limit, ""), nil
}

func (r *memRepo) ResetFailedCalls(ctx context.Context, tenantID string, limit int) ([]string, error) {
	return r.idsWithStatus(tenantID, models.StatusFailed, limit, models.StatusPending), nil
}

func (r *memRepo) idsWithStatus(tenantID, status string, limit int, setTo string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, c := range r.calls {
		if c.AnalysisStatus == status && c.HasAudio() && (tenantID == "" || c.TenantID == tenantID) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	if setTo != "" {
		for _, id := range ids {
			r.calls[id].AnalysisStatus = setTo
		}
	}
	return ids
}
