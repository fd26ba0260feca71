package emotion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentimentScoreBalancedIsZero(t *testing.T) {
	assert.Equal(t, 0.0, SentimentScore(map[string]float64{"Joy": 0.4, "Anger": 0.4}))
	assert.Equal(t, 0.0, SentimentScore(map[string]float64{}))
	assert.Equal(t, 0.0, SentimentScore(map[string]float64{"Boredom": 0.9}))
}

func TestSentimentScoreRange(t *testing.T) {
	assert.InDelta(t, 1.0, SentimentScore(map[string]float64{"Joy": 0.5}), 1e-9)
	assert.InDelta(t, -1.0, SentimentScore(map[string]float64{"Fear": 0.5}), 1e-9)
	assert.InDelta(t, 0.5, SentimentScore(map[string]float64{"Calmness": 0.3, "Sadness": 0.1}), 1e-9)
}

func TestSummarize(t *testing.T) {
	res := Summarize([]Prediction{
		{Start: 0, End: 3, Emotions: map[string]float64{"Joy": 0.8, "Anger": 0.1}},
		{Start: 3, End: 7.5, Emotions: map[string]float64{"Joy": 0.2, "Anger": 0.5}},
	})
	assert.Len(t, res.Averaged, len(Names))
	assert.InDelta(t, 0.5, res.Averaged["Joy"], 1e-9)
	assert.InDelta(t, 0.3, res.Averaged["Anger"], 1e-9)
	assert.Equal(t, "Joy", res.OverallDominant)
	assert.Equal(t, 7.5, res.Duration)
	assert.InDelta(t, 0.25, res.SentimentScore, 1e-9)
}

func humeServer(t *testing.T, states []string, polls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Hume-Api-Key") != "hume-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/batch/jobs":
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			files, _ := req["files"].([]any)
			if len(files) != 1 {
				t.Errorf("expected one file, got %v", req["files"])
			}
			_, _ = w.Write([]byte(`{"job_id":"job-1"}`))
		case r.URL.Path == "/batch/jobs/job-1":
			n := int(atomic.AddInt32(polls, 1)) - 1
			if n >= len(states) {
				n = len(states) - 1
			}
			_, _ = w.Write([]byte(`{"state":{"status":"` + states[n] + `","message":"bad audio"}}`))
		case r.URL.Path == "/batch/jobs/job-1/predictions":
			_, _ = w.Write([]byte(`[{"results":{"predictions":[{"models":{"prosody":{"grouped_predictions":[{"predictions":[
				{"time":{"begin":0,"end":2.5},"emotions":[{"name":"Calmness","score":0.7},{"name":"Anger","score":0.1}]},
				{"time":{"begin":2.5,"end":6},"emotions":[{"name":"Calmness","score":0.3},{"name":"Anger","score":0.6}]}
			]}]}}}]}},{"error":"skipped"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestHume(url string) *HumeClient {
	h := NewHumeClient("hume-key", url)
	h.PollInterval = 5 * time.Millisecond
	h.MaxWait = time.Second
	return h
}

func TestHumeAnalyzePollsUntilCompleted(t *testing.T) {
	var polls int32
	srv := humeServer(t, []string{"QUEUED", "IN_PROGRESS", "COMPLETED"}, &polls)
	defer srv.Close()

	res, err := newTestHume(srv.URL).Analyze(context.Background(), []byte("audio"), "call.wav")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&polls))
	require.Len(t, res.Predictions, 2)
	assert.Equal(t, "Calmness", res.Predictions[0].Dominant)
	assert.Equal(t, "Anger", res.Predictions[1].Dominant)
	assert.Equal(t, 0.6, res.Predictions[1].DominantScore)
	assert.Equal(t, 6.0, res.Duration)
	assert.InDelta(t, 0.5, res.Averaged["Calmness"], 1e-9)
}

func TestHumeAnalyzeJobFailed(t *testing.T) {
	var polls int32
	srv := humeServer(t, []string{"FAILED"}, &polls)
	defer srv.Close()

	_, err := newTestHume(srv.URL).Analyze(context.Background(), []byte("audio"), "call.mp3")
	var jobErr *JobFailedError
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "bad audio", jobErr.Message)
}

func TestHumeAnalyzeTimesOut(t *testing.T) {
	var polls int32
	srv := humeServer(t, []string{"IN_PROGRESS"}, &polls)
	defer srv.Close()

	h := newTestHume(srv.URL)
	h.MaxWait = 30 * time.Millisecond
	_, err := h.Analyze(context.Background(), []byte("audio"), "call.mp3")
	assert.True(t, errors.Is(err, ErrTimeout), "expected timeout, got %v", err)
	assert.Greater(t, atomic.LoadInt32(&polls), int32(1))
}

func TestMockIsDeterministic(t *testing.T) {
	a, err := Mock{}.Analyze(context.Background(), nil, "x.mp3")
	require.NoError(t, err)
	b, _ := Mock{}.Analyze(context.Background(), nil, "x.mp3")
	assert.Equal(t, a, b)
	assert.Len(t, a.Predictions, 4)
}
