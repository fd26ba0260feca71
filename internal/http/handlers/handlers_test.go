package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/callquality/backend/internal/db"
	"github.com/callquality/backend/internal/models"
	"github.com/callquality/backend/internal/service"
	"github.com/callquality/backend/internal/storage"
)

func TestParseCallRowsLenientInts(t *testing.T) {
	content := "\ufeffevent_datetime,operator_id,operator_name,caller_number,wait_time_seconds,talk_time_seconds\n" +
		"2024-01-15 10:30:00,42,Sato,0312345678,15,300\n" +
		"2024/01/15 11:00,,,,abc,12.0\n" +
		",,,,,\n" +
		"not-a-date,,,,,\n"
	fh := makeMultipartFile(t, "file", "calls.csv", content)
	records, err := readSheet(fh)
	if err != nil {
		t.Fatalf("read sheet: %v", err)
	}

	rows, summary, err := parseCallRows(records, time.UTC, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TotalRows != 3 || summary.SkippedCount != 1 {
		t.Fatalf("expected 3 rows with 1 skipped, got %+v", summary)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 parsed rows, got %d", len(rows))
	}
	first := rows[0]
	if first.OperatorBiztelID != "42" || first.OperatorName != "Sato" {
		t.Fatalf("unexpected operator columns: %+v", first)
	}
	if first.Call.WaitTimeSeconds == nil || *first.Call.WaitTimeSeconds != 15 || *first.Call.TalkTimeSeconds != 300 {
		t.Fatalf("unexpected durations: %+v", first.Call)
	}
	second := rows[1].Call
	if second.WaitTimeSeconds != nil {
		t.Fatalf("expected unreadable wait time to be dropped, got %d", *second.WaitTimeSeconds)
	}
	if second.TalkTimeSeconds == nil || *second.TalkTimeSeconds != 12 {
		t.Fatalf("expected talk time 12, got %v", second.TalkTimeSeconds)
	}
	if second.EventDatetime.Hour() != 11 || second.CallerNumber != nil {
		t.Fatalf("unexpected second row: %+v", second)
	}
	if len(summary.Warnings) != 1 || !strings.Contains(summary.Warnings[0], "row 3") {
		t.Fatalf("expected one warning for row 3, got %v", summary.Warnings)
	}
}

func TestParseCallRowsStrictIntsSkipRow(t *testing.T) {
	records := [][]string{
		{"event_datetime", "wait_time_seconds"},
		{"2024-01-15 10:30:00", "ten"},
		{"2024-01-15 10:31:00", "10"},
	}
	rows, summary, err := parseCallRows(records, time.UTC, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || summary.SkippedCount != 1 || len(summary.Errors) != 1 {
		t.Fatalf("expected 1 row and 1 error, got rows=%d summary=%+v", len(rows), summary)
	}
}

func TestParseCallRowsRequiresEventColumn(t *testing.T) {
	if _, _, err := parseCallRows([][]string{{"caller_number"}, {"0312345678"}}, time.UTC, true); err == nil {
		t.Fatalf("expected missing column error")
	}
}

func TestReadSheetXLSX(t *testing.T) {
	book := excelize.NewFile()
	sheet := book.GetSheetName(0)
	if err := book.SetSheetRow(sheet, "A1", &[]any{"日時", "通話時間", "業務ラベル"}); err != nil {
		t.Fatalf("set header: %v", err)
	}
	if err := book.SetSheetRow(sheet, "A2", &[]any{"2024-01-15 10:30:00", 120, "sales"}); err != nil {
		t.Fatalf("set row: %v", err)
	}
	buf, err := book.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	records, err := readSheet(makeMultipartFile(t, "file", "calls.xlsx", buf.String()))
	if err != nil {
		t.Fatalf("read sheet: %v", err)
	}
	rows, _, err := parseCallRows(records, time.UTC, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	c := rows[0].Call
	if c.TalkTimeSeconds == nil || *c.TalkTimeSeconds != 120 || c.BusinessLabel == nil || *c.BusinessLabel != "sales" {
		t.Fatalf("unexpected call: %+v", c)
	}
}

func TestParseWindowBound(t *testing.T) {
	end, ok := parseWindowBound("2024-01-31", true, time.UTC)
	if !ok || !end.Equal(time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)) {
		t.Fatalf("unexpected end bound %v", end)
	}
	start, ok := parseWindowBound("2024-01-01T00:00:00", false, time.UTC)
	if !ok || !start.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start bound %v", start)
	}
	if _, ok := parseWindowBound("yesterday", false, time.UTC); ok {
		t.Fatalf("expected invalid bound")
	}
}

// fakeStore implements the calls the tests exercise; anything else panics on
// the nil embedded interface.
type fakeStore struct {
	Repository
	tenant    models.Tenant
	calls     map[string]models.CallRecord
	created   []models.CallRecord
	lastQuery db.CallFilter
	settings  []string
}

func (f *fakeStore) GetTenant(_ context.Context, id string) (models.Tenant, error) {
	if id != f.tenant.ID {
		return models.Tenant{}, db.ErrNotFound
	}
	return f.tenant, nil
}

func (f *fakeStore) ListCalls(_ context.Context, q db.CallFilter) ([]models.CallRecord, error) {
	f.lastQuery = q
	return []models.CallRecord{}, nil
}

func (f *fakeStore) GetTenantCallRecord(_ context.Context, tenantID, id string) (models.CallRecord, error) {
	c, ok := f.calls[id]
	if !ok || c.TenantID != tenantID {
		return models.CallRecord{}, db.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) CreateCall(_ context.Context, c models.CallRecord) (models.CallRecord, error) {
	c.ID = "call-new"
	f.created = append(f.created, c)
	return c, nil
}

func (f *fakeStore) UpdateBiztelSettings(_ context.Context, tenantID, apiKey string, _ *string, baseURL string) error {
	f.settings = []string{tenantID, apiKey, baseURL}
	f.tenant.BiztelAPIKey = &apiKey
	f.tenant.BiztelBaseURL = &baseURL
	return nil
}

type fakeQueue struct{ ids []string }

func (q *fakeQueue) Enqueue(ids []string) int {
	q.ids = append(q.ids, ids...)
	return len(ids)
}

type fakeReanalyzer struct{ err error }

func (r fakeReanalyzer) Reanalyze(context.Context, string, string) error { return r.err }

type fakeSyncer struct{ called bool }

func (s *fakeSyncer) Sync(context.Context, string, service.SyncRequest) (service.SyncResult, error) {
	s.called = true
	return service.SyncResult{TotalRecords: 2, NewRecords: 2}, nil
}

func (s *fakeSyncer) TestConnection(context.Context, string) (int, error) { return 1, nil }

type evictions struct{ tenants []string }

func (e *evictions) Evict(tenantID string) { e.tenants = append(e.tenants, tenantID) }

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	if h.Validator == nil {
		h.Validator = validator.New()
	}
	h.Logger = zerolog.Nop()
	r := gin.New()
	t := r.Group("/api/tenants/:tenant_id")
	t.GET("/calls", h.CallsList)
	t.GET("/calls/:id", h.CallDetails)
	t.POST("/calls/:id/reanalyze", h.Reanalyze)
	t.POST("/calls/upload", h.UploadAudio)
	t.POST("/sync", h.TriggerSync)
	t.GET("/settings/biztel", h.BiztelSettings)
	t.PUT("/settings/biztel", h.UpdateBiztelSettings)
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCallsListLimits(t *testing.T) {
	store := &fakeStore{}
	r := newTestRouter(&Handler{Store: store})

	w := doJSON(r, http.MethodGet, "/api/tenants/t1/calls?status=completed", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if store.lastQuery.Limit != 50 || store.lastQuery.TenantID != "t1" || store.lastQuery.Status != "completed" {
		t.Fatalf("unexpected filter %+v", store.lastQuery)
	}

	for _, q := range []string{"limit=201", "limit=0", "skip=-1", "status=done", "from=someday"} {
		if w := doJSON(r, http.MethodGet, "/api/tenants/t1/calls?"+q, nil); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestCallDetailsSignsAudio(t *testing.T) {
	path := "audio/t1/2024/01/15/abcd1234.wav"
	store := &fakeStore{calls: map[string]models.CallRecord{
		"c1": {ID: "c1", TenantID: "t1", AudioFilePath: &path},
	}}
	r := newTestRouter(&Handler{Store: store, Storage: storage.NewMemoryStore()})

	w := doJSON(r, http.MethodGet, "/api/tenants/t1/calls/c1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if url, _ := body["audio_url"].(string); !strings.Contains(url, path) {
		t.Fatalf("expected signed url for %s, got %v", path, body["audio_url"])
	}

	if w := doJSON(r, http.MethodGet, "/api/tenants/t2/calls/c1", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected cross-tenant read to 404, got %d", w.Code)
	}
}

func TestReanalyzeEnqueues(t *testing.T) {
	q := &fakeQueue{}
	r := newTestRouter(&Handler{Store: &fakeStore{}, Pipeline: fakeReanalyzer{}, Queue: q})
	w := doJSON(r, http.MethodPost, "/api/tenants/t1/calls/c1/reanalyze", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if len(q.ids) != 1 || q.ids[0] != "c1" {
		t.Fatalf("expected c1 queued, got %v", q.ids)
	}

	r = newTestRouter(&Handler{Store: &fakeStore{}, Pipeline: fakeReanalyzer{err: service.ErrNoAudio}, Queue: q})
	if w := doJSON(r, http.MethodPost, "/api/tenants/t1/calls/c1/reanalyze", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 without audio, got %d", w.Code)
	}
}

func TestTriggerSyncValidatesWindow(t *testing.T) {
	syncer := &fakeSyncer{}
	r := newTestRouter(&Handler{Store: &fakeStore{}, Sync: syncer})

	w := doJSON(r, http.MethodPost, "/api/tenants/t1/sync", map[string]any{"start_date": "2024-01-31", "end_date": "2024-01-01"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted window, got %d", w.Code)
	}
	w = doJSON(r, http.MethodPost, "/api/tenants/t1/sync", map[string]any{"start_date": "2024-01-01", "end_date": "2024-01-31", "queue_id": 0})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for queue_id 0, got %d", w.Code)
	}
	if syncer.called {
		t.Fatalf("sync must not run for invalid input")
	}

	w = doJSON(r, http.MethodPost, "/api/tenants/t1/sync", map[string]any{"start_date": "2024-01-01", "end_date": "2024-01-31"})
	if w.Code != http.StatusOK || !syncer.called {
		t.Fatalf("expected sync to run, got %d", w.Code)
	}
}

func TestBiztelSettingsMaskedAndEvicted(t *testing.T) {
	store := &fakeStore{tenant: models.Tenant{ID: "t1"}}
	ev := &evictions{}
	r := newTestRouter(&Handler{Store: store, Clients: ev})

	w := doJSON(r, http.MethodPut, "/api/tenants/t1/settings/biztel", map[string]any{
		"api_key":  "abcdefgh1234",
		"base_url": "https://example.biztel.jp:8000/",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if store.settings[2] != "https://example.biztel.jp:8000" {
		t.Fatalf("expected trailing slash trimmed, got %q", store.settings[2])
	}
	if len(ev.tenants) != 1 || ev.tenants[0] != "t1" {
		t.Fatalf("expected client cache eviction, got %v", ev.tenants)
	}

	var body BiztelSettingsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.APIKeyMasked != "********1234" || !body.IsConfigured {
		t.Fatalf("unexpected settings view %+v", body)
	}
	if strings.Contains(w.Body.String(), "abcdefgh") {
		t.Fatalf("api key leaked in response")
	}

	if w := doJSON(r, http.MethodPut, "/api/tenants/t1/settings/biztel", map[string]any{"api_key": "k", "base_url": "nope"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid base_url, got %d", w.Code)
	}
}

func TestUploadAudioCreatesPendingCall(t *testing.T) {
	store := &fakeStore{tenant: models.Tenant{ID: "t1"}}
	blobs := storage.NewMemoryStore()
	q := &fakeQueue{}
	r := newTestRouter(&Handler{Store: store, Storage: blobs, Queue: q, RecordingTTLDays: 3})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "call.wav")
	_, _ = part.Write([]byte("RIFFdata"))
	_ = mw.WriteField("caller_number", "0312345678")
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, "/api/tenants/t1/calls/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(store.created) != 1 {
		t.Fatalf("expected one call created, got %d", len(store.created))
	}
	call := store.created[0]
	if call.AnalysisStatus != models.StatusPending || !call.HasAudio() || *call.CallerNumber != "0312345678" {
		t.Fatalf("unexpected call %+v", call)
	}
	data, err := blobs.Download(context.Background(), *call.AudioFilePath)
	if err != nil || string(data) != "RIFFdata" {
		t.Fatalf("expected stored audio, got %q (%v)", data, err)
	}
	if len(q.ids) != 1 || q.ids[0] != "call-new" {
		t.Fatalf("expected new call queued, got %v", q.ids)
	}
}

func makeMultipartFile(t *testing.T, fieldName, filename, content string) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write content: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	reader := multipart.NewReader(&buf, writer.Boundary())
	form, err := reader.ReadForm(int64(buf.Len()))
	if err != nil {
		t.Fatalf("read form: %v", err)
	}
	files := form.File[fieldName]
	if len(files) == 0 {
		t.Fatalf("no file headers found")
	}
	return files[0]
}
