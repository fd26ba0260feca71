package llm

import "context"

// MockProvider answers every analysis with a fixed, well-formed response. It
// backs local runs without an LLM key.
type MockProvider struct{}

func (MockProvider) Complete(ctx context.Context, p Prompt) (string, error) {
	switch p.Kind {
	case KindClassify:
		return "```json\n{\"flow_id\": null, \"flow_name\": null, \"confidence\": 0.0, \"reasoning\": \"mock provider does not classify\"}\n```", nil
	case KindCompliance:
		return `{"is_compliant": true, "overall_score": 80, "step_results": [], "missing_steps": [], "issues": []}`, nil
	case KindQuality:
		return `{"overall_score": 75, "criteria_scores": {"greeting": 8, "listening": 15, "clarity": 15, "problem_solving": 18, "closing": 8, "language": 11}, "strengths": ["丁寧な挨拶"], "improvements": ["結論を先に伝える"]}`, nil
	case KindSummary:
		return `{"summary": "商品の使い方に関する問い合わせ。", "inquiry_category": "商品問い合わせ", "key_points": [], "resolution": null, "follow_up_required": false}`, nil
	case KindFillers:
		return `{"filler_count": 2, "fillers": [{"word": "えーと", "count": 2}], "silence_duration": 1.5, "silence_segments": []}`, nil
	}
	return "{}", nil
}
