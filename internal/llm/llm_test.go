package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callquality/backend/internal/models"
)

func TestParseJSONResponseShapes(t *testing.T) {
	cases := map[string]string{
		"bare":          `{"score": 85}`,
		"fenced":        "Here you go:\n```json\n{\"score\": 85}\n```\nThanks",
		"fenced no tag": "```\n{\"score\": 85}\n```",
		"embedded":      `The result is {"score": 85} as requested.`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseJSONResponse(raw)
			require.NoError(t, err)
			assert.Equal(t, 85.0, got["score"])
		})
	}
}

func TestParseJSONResponseFailure(t *testing.T) {
	raw := "no json here " + strings.Repeat("x", 1000)
	_, err := ParseJSONResponse(raw)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Len(t, perr.Raw, maxRawInError)
	assert.True(t, strings.HasPrefix(err.Error(), "could not parse JSON from response: no json here"))
}

func TestParseErrorKeepsValidUTF8(t *testing.T) {
	raw := "x" + strings.Repeat("申し訳ありません", 100)
	_, err := ParseJSONResponse(raw)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.LessOrEqual(t, len(perr.Raw), maxRawInError)
	assert.True(t, utf8.ValidString(perr.Raw))
}

func TestDecodeJSONResponse(t *testing.T) {
	var v struct {
		Score int `json:"score"`
	}
	require.NoError(t, DecodeJSONResponse("```json\n{\"score\": 90}\n```", &v))
	assert.Equal(t, 90, v.Score)
}

type scripted struct {
	mu      sync.Mutex
	replies map[Kind]string
	errs    map[Kind]error
	calls   []Prompt
}

func (s *scripted) Complete(ctx context.Context, p Prompt) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, p)
	if err := s.errs[p.Kind]; err != nil {
		return "", err
	}
	if r, ok := s.replies[p.Kind]; ok {
		return r, nil
	}
	return "{}", nil
}

func (s *scripted) kinds() map[Kind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[Kind]int{}
	for _, c := range s.calls {
		out[c.Kind]++
	}
	return out
}

func TestAnalysesApplyDefaultsAndClamp(t *testing.T) {
	p := &scripted{replies: map[Kind]string{
		KindClassify: `{"flow_id": "null", "confidence": 1.7}`,
		KindQuality:  `{"overall_score": "120", "criteria_scores": {"greeting": 8}}`,
		KindSummary:  `{"summary": "s"}`,
		KindFillers:  `{"filler_count": -3, "silence_duration": "2.5"}`,
	}}
	a := &Analyzer{Provider: p}
	ctx := context.Background()

	cls, err := a.ClassifyFlow(ctx, "t", nil)
	require.NoError(t, err)
	assert.Nil(t, cls.FlowID)
	assert.Equal(t, 1.0, cls.Confidence)

	q, err := a.ScoreQuality(ctx, "t", "")
	require.NoError(t, err)
	assert.Equal(t, 100.0, q.OverallScore)
	assert.Equal(t, 8.0, q.CriteriaScores["greeting"])
	assert.NotNil(t, q.Strengths)

	s, err := a.Summarize(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, DefaultInquiryCategory, s.InquiryCategory)
	assert.Nil(t, s.Resolution)

	f, err := a.AnalyzeFillers(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 0, f.FillerCount)
	assert.Equal(t, 2.5, f.SilenceDuration)
}

func TestScoreQualityUsesCustomPrompt(t *testing.T) {
	p := &scripted{replies: map[Kind]string{KindQuality: `{"overall_score": 50}`}}
	_, err := (&Analyzer{Provider: p}).ScoreQuality(context.Background(), "t", "独自の評価基準")
	require.NoError(t, err)
	require.Len(t, p.calls, 1)
	assert.Equal(t, "独自の評価基準", p.calls[0].System)
}

func testFlows() []models.OperationFlow {
	crit := "注文に関する問い合わせ"
	return []models.OperationFlow{
		{ID: "flow-a", Name: "注文確認", ClassificationCriteria: &crit, FlowDefinition: json.RawMessage(`{"steps":[{"name":"本人確認"}]}`)},
		{ID: "flow-b", Name: "空フロー", FlowDefinition: json.RawMessage(`{}`)},
	}
}

func TestFullAnalysisClassifiesThenChecksCompliance(t *testing.T) {
	p := &scripted{replies: map[Kind]string{
		KindClassify:   `{"flow_id": "flow-a", "flow_name": "注文確認", "confidence": 0.9}`,
		KindCompliance: `{"is_compliant": true, "overall_score": 90, "step_results": [{"step": "本人確認", "completed": true}]}`,
		KindQuality:    `{"overall_score": 80}`,
		KindSummary:    `{"summary": "s", "inquiry_category": "注文確認"}`,
		KindFillers:    `{"filler_count": 1}`,
	}}
	res, err := (&Analyzer{Provider: p}).FullAnalysis(context.Background(), "t", FullAnalysisInput{Flows: testFlows()})
	require.NoError(t, err)

	require.NotNil(t, res.FlowClassification)
	require.NotNil(t, res.FlowCompliance)
	require.NotNil(t, res.Flow)
	assert.Equal(t, "flow-a", res.Flow.ID)
	assert.True(t, res.FlowCompliance.IsCompliant)
	assert.Len(t, res.FlowCompliance.StepResults, 1)
	assert.Equal(t, 80.0, res.Quality.OverallScore)
	assert.Equal(t, "注文確認", res.Summary.InquiryCategory)
	assert.Equal(t, map[Kind]int{KindClassify: 1, KindCompliance: 1, KindQuality: 1, KindSummary: 1, KindFillers: 1}, p.kinds())
	for _, c := range p.calls {
		if c.Kind == KindCompliance {
			assert.Contains(t, c.User, "本人確認")
		}
	}
}

func TestFullAnalysisSkipsComplianceWithoutUsableFlow(t *testing.T) {
	flows := testFlows()

	p := &scripted{replies: map[Kind]string{KindClassify: `{"flow_id": "unknown"}`}}
	res, err := (&Analyzer{Provider: p}).FullAnalysis(context.Background(), "t", FullAnalysisInput{Flows: flows})
	require.NoError(t, err)
	assert.Nil(t, res.FlowCompliance)
	assert.Nil(t, res.Flow)
	assert.Equal(t, 0, p.kinds()[KindCompliance])

	p = &scripted{}
	res, err = (&Analyzer{Provider: p}).FullAnalysis(context.Background(), "t", FullAnalysisInput{Flows: flows, PreselectedFlow: &flows[1]})
	require.NoError(t, err)
	assert.Nil(t, res.FlowCompliance)
	assert.Nil(t, res.FlowClassification)
	assert.Equal(t, 0, p.kinds()[KindClassify])
	assert.Equal(t, 0, p.kinds()[KindCompliance])

	p = &scripted{}
	_, err = (&Analyzer{Provider: p}).FullAnalysis(context.Background(), "t", FullAnalysisInput{})
	require.NoError(t, err)
	assert.Equal(t, map[Kind]int{KindQuality: 1, KindSummary: 1, KindFillers: 1}, p.kinds())
}

func TestFullAnalysisFailsWhenAnySubAnalysisFails(t *testing.T) {
	p := &scripted{errs: map[Kind]error{KindSummary: errors.New("upstream down")}}
	_, err := (&Analyzer{Provider: p}).FullAnalysis(context.Background(), "t", FullAnalysisInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestOpenAIProviderComplete(t *testing.T) {
	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"score\": 1}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key", srv.URL+"/v1", "test-model", 0)
	out, err := p.Complete(context.Background(), Prompt{Kind: KindQuality, System: "sys", User: "usr"})
	require.NoError(t, err)
	assert.Equal(t, `{"score": 1}`, out)
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 2000, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "usr", got.Messages[1].Content)
}

func TestMockProviderParses(t *testing.T) {
	res, err := (&Analyzer{Provider: MockProvider{}}).FullAnalysis(context.Background(), "t", FullAnalysisInput{Flows: testFlows()})
	require.NoError(t, err)
	assert.Equal(t, 75.0, res.Quality.OverallScore)
	assert.Nil(t, res.FlowCompliance)
}
