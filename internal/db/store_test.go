package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/callquality/backend/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := New(ctx, url)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx, zerolog.Nop()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func createTestTenant(t *testing.T, store *Store) string {
	t.Helper()
	var id string
	err := store.Pool.QueryRow(context.Background(),
		`INSERT INTO tenants (name) VALUES ($1) RETURNING id`, "test-"+uuid.NewString()).Scan(&id)
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	t.Cleanup(func() {
		_, _ = store.Pool.Exec(context.Background(), `DELETE FROM tenants WHERE id = $1`, id)
	})
	return id
}

func createTestCall(t *testing.T, store *Store, tenantID, status string, withAudio bool) models.CallRecord {
	t.Helper()
	c := models.CallRecord{TenantID: tenantID, AnalysisStatus: status, EventDatetime: time.Now().UTC()}
	if withAudio {
		path := "audio/" + tenantID + "/" + uuid.NewString() + ".wav"
		c.AudioFilePath = &path
	}
	out, err := store.CreateCall(context.Background(), c)
	if err != nil {
		t.Fatalf("create call: %v", err)
	}
	return out
}

func countRows(t *testing.T, store *Store, query string, args ...any) int {
	t.Helper()
	var n int
	if err := store.Pool.QueryRow(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestUpsertSyncedCallIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	tenantID := createTestTenant(t, store)
	ctx := context.Background()

	requestID := "REQ-" + uuid.NewString()
	first := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	call := models.CallRecord{TenantID: tenantID, RequestID: &requestID, EventDatetime: first}

	created, isNew, err := store.UpsertSyncedCall(ctx, call)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if !isNew {
		t.Fatalf("expected first upsert to create the row")
	}
	if created.AnalysisStatus != models.StatusPending {
		t.Fatalf("expected pending, got %s", created.AnalysisStatus)
	}

	call.EventDatetime = first.Add(time.Minute)
	updated, isNew, err := store.UpsertSyncedCall(ctx, call)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if isNew {
		t.Fatalf("expected second upsert to update the existing row")
	}
	if updated.ID != created.ID {
		t.Fatalf("expected same id %s, got %s", created.ID, updated.ID)
	}
	if !updated.EventDatetime.Equal(call.EventDatetime) {
		t.Fatalf("expected event time refreshed to %s, got %s", call.EventDatetime, updated.EventDatetime)
	}

	if n := countRows(t, store, `SELECT COUNT(*) FROM call_records WHERE tenant_id = $1 AND request_id = $2`, tenantID, requestID); n != 1 {
		t.Fatalf("expected 1 row, got %d", n)
	}
}

func TestSaveAnalysisReplacesEmotionSamples(t *testing.T) {
	store := openTestStore(t)
	tenantID := createTestTenant(t, store)
	call := createTestCall(t, store, tenantID, models.StatusProcessing, true)
	ctx := context.Background()

	write := func(transcript string, samples []models.EmotionSample) models.AnalysisResult {
		t.Helper()
		score := 80.0
		res, err := store.SaveAnalysis(ctx, AnalysisWrite{
			CallRecordID: call.ID,
			Result:       models.AnalysisResult{CallRecordID: call.ID, Transcript: transcript, OverallScore: &score},
			Samples:      samples,
		})
		if err != nil {
			t.Fatalf("save analysis: %v", err)
		}
		return res
	}

	first := write("一回目", []models.EmotionSample{
		{Timestamp: 0, EmotionType: "Joy", Confidence: 0.6, Emotions: map[string]float64{"Joy": 0.6}},
		{Timestamp: 1, EmotionType: "Calmness", Confidence: 0.5},
		{Timestamp: 2, EmotionType: "Anger", Confidence: 0.4},
	})
	second := write("二回目", []models.EmotionSample{
		{Timestamp: 0.5, EmotionType: "Interest", Confidence: 0.7, Emotions: map[string]float64{"Interest": 0.7}},
	})

	if second.ID != first.ID {
		t.Fatalf("expected analysis id to be kept, got %s then %s", first.ID, second.ID)
	}
	if n := countRows(t, store, `SELECT COUNT(*) FROM analysis_results WHERE call_record_id = $1`, call.ID); n != 1 {
		t.Fatalf("expected 1 analysis row, got %d", n)
	}

	res, samples, err := store.GetCallAnalysis(ctx, tenantID, call.ID)
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if res.Transcript != "二回目" {
		t.Fatalf("expected latest transcript, got %q", res.Transcript)
	}
	if len(samples) != 1 || samples[0].EmotionType != "Interest" {
		t.Fatalf("expected only the latest sample, got %+v", samples)
	}
	if samples[0].Emotions["Interest"] != 0.7 {
		t.Fatalf("expected emotion scores round-tripped, got %v", samples[0].Emotions)
	}

	got, err := store.GetCallRecord(ctx, call.ID)
	if err != nil {
		t.Fatalf("get call: %v", err)
	}
	if got.AnalysisStatus != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.AnalysisStatus)
	}
}

func TestResetFailedCallsHonoursLimitAndTenant(t *testing.T) {
	store := openTestStore(t)
	tenantA := createTestTenant(t, store)
	tenantB := createTestTenant(t, store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		createTestCall(t, store, tenantA, models.StatusFailed, true)
	}
	noAudio := createTestCall(t, store, tenantA, models.StatusFailed, false)
	other := createTestCall(t, store, tenantB, models.StatusFailed, true)

	ids, err := store.ResetFailedCalls(ctx, tenantA, 2)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 calls reset, got %d", len(ids))
	}
	for _, id := range ids {
		c, err := store.GetTenantCallRecord(ctx, tenantA, id)
		if err != nil {
			t.Fatalf("reset call %s not in tenant A: %v", id, err)
		}
		if c.AnalysisStatus != models.StatusPending {
			t.Fatalf("expected pending, got %s", c.AnalysisStatus)
		}
	}

	if n := countRows(t, store, `SELECT COUNT(*) FROM call_records WHERE tenant_id = $1 AND analysis_status = $2 AND audio_file_path IS NOT NULL`, tenantA, models.StatusFailed); n != 1 {
		t.Fatalf("expected 1 failed call with audio left in tenant A, got %d", n)
	}
	for _, id := range []string{noAudio.ID, other.ID} {
		c, err := store.GetCallRecord(ctx, id)
		if err != nil {
			t.Fatalf("get call: %v", err)
		}
		if c.AnalysisStatus != models.StatusFailed {
			t.Fatalf("expected call %s untouched, got %s", id, c.AnalysisStatus)
		}
	}
}

func TestClaimCall(t *testing.T) {
	store := openTestStore(t)
	tenantID := createTestTenant(t, store)
	ctx := context.Background()

	cases := []struct {
		status string
		want   bool
	}{
		{models.StatusPending, true},
		{models.StatusFailed, true},
		{models.StatusProcessing, false},
		{models.StatusCompleted, false},
	}
	for _, tc := range cases {
		call := createTestCall(t, store, tenantID, tc.status, true)
		got, err := store.ClaimCall(ctx, call.ID)
		if err != nil {
			t.Fatalf("%s: claim: %v", tc.status, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected claimed=%v, got %v", tc.status, tc.want, got)
		}
	}

	call := createTestCall(t, store, tenantID, models.StatusPending, true)
	if ok, _ := store.ClaimCall(ctx, call.ID); !ok {
		t.Fatalf("expected first claim to succeed")
	}
	if ok, _ := store.ClaimCall(ctx, call.ID); ok {
		t.Fatalf("expected second claim to be refused")
	}
}
