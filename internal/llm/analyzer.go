package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/callquality/backend/internal/models"
)

type FlowClassification struct {
	FlowID     *string `json:"flow_id"`
	FlowName   *string `json:"flow_name"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

type StepResult struct {
	Step      string `json:"step"`
	Completed bool   `json:"completed"`
	Notes     string `json:"notes"`
}

type Compliance struct {
	IsCompliant  bool         `json:"is_compliant"`
	OverallScore float64      `json:"overall_score"`
	StepResults  []StepResult `json:"step_results"`
	MissingSteps []string     `json:"missing_steps"`
	Issues       []string     `json:"issues"`
}

type Quality struct {
	OverallScore   float64            `json:"overall_score"`
	CriteriaScores map[string]float64 `json:"criteria_scores"`
	Strengths      []string           `json:"strengths"`
	Improvements   []string           `json:"improvements"`
}

type Summary struct {
	Summary          string   `json:"summary"`
	InquiryCategory  string   `json:"inquiry_category"`
	KeyPoints        []string `json:"key_points"`
	Resolution       *string  `json:"resolution"`
	FollowUpRequired bool     `json:"follow_up_required"`
}

type FillerWord struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

type SilenceSegment struct {
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
}

type FillerAnalysis struct {
	FillerCount     int              `json:"filler_count"`
	Fillers         []FillerWord     `json:"fillers"`
	SilenceDuration float64          `json:"silence_duration"`
	SilenceSegments []SilenceSegment `json:"silence_segments"`
}

type FullAnalysisInput struct {
	Flows           []models.OperationFlow
	PreselectedFlow *models.OperationFlow
	// QualityPrompt replaces the default quality rubric when set.
	QualityPrompt string
}

type FullAnalysis struct {
	FlowClassification *FlowClassification `json:"flow_classification,omitempty"`
	FlowCompliance     *Compliance         `json:"flow_compliance,omitempty"`
	Quality            Quality             `json:"quality_score"`
	Summary            Summary             `json:"summary"`
	Fillers            FillerAnalysis      `json:"filler_analysis"`
	// Flow is the preselected or classified flow, if one was resolved.
	Flow *models.OperationFlow `json:"-"`
}

// Analyzer runs the call analyses against a Provider. Every method is one
// prompt/response round trip.
type Analyzer struct {
	Provider Provider
}

func (a *Analyzer) ask(ctx context.Context, p Prompt) (map[string]any, error) {
	raw, err := a.Provider.Complete(ctx, p)
	if err != nil {
		return nil, err
	}
	data, err := ParseJSONResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Kind, err)
	}
	return data, nil
}

func (a *Analyzer) ClassifyFlow(ctx context.Context, transcript string, flows []models.OperationFlow) (FlowClassification, error) {
	lines := make([]string, 0, len(flows))
	for _, f := range flows {
		criteria := "N/A"
		if f.ClassificationCriteria != nil && *f.ClassificationCriteria != "" {
			criteria = *f.ClassificationCriteria
		}
		lines = append(lines, fmt.Sprintf("- ID: %s, Name: %s, Criteria: %s", f.ID, f.Name, criteria))
	}
	data, err := a.ask(ctx, Prompt{
		Kind:   KindClassify,
		System: classifySystemPrompt,
		User:   fmt.Sprintf(classifyUserTemplate, strings.Join(lines, "\n"), transcript),
	})
	if err != nil {
		return FlowClassification{}, err
	}
	return FlowClassification{
		FlowID:     getOptString(data, "flow_id"),
		FlowName:   getOptString(data, "flow_name"),
		Confidence: clamp(getFloat(data, "confidence", 0), 0, 1),
		Reasoning:  getString(data, "reasoning", ""),
	}, nil
}

func (a *Analyzer) CheckCompliance(ctx context.Context, transcript string, flowDefinition json.RawMessage) (Compliance, error) {
	def := string(flowDefinition)
	var pretty any
	if err := json.Unmarshal(flowDefinition, &pretty); err == nil {
		if b, err := json.MarshalIndent(pretty, "", "  "); err == nil {
			def = string(b)
		}
	}
	data, err := a.ask(ctx, Prompt{
		Kind:   KindCompliance,
		System: complianceSystemPrompt,
		User:   fmt.Sprintf(complianceUserTemplate, def, transcript),
	})
	if err != nil {
		return Compliance{}, err
	}
	out := Compliance{
		IsCompliant:  getBool(data, "is_compliant"),
		OverallScore: clamp(getFloat(data, "overall_score", 0), 0, 100),
		StepResults:  []StepResult{},
		MissingSteps: getStrings(data, "missing_steps"),
		Issues:       getStrings(data, "issues"),
	}
	for _, s := range getObjects(data, "step_results") {
		out.StepResults = append(out.StepResults, StepResult{
			Step:      getString(s, "step", ""),
			Completed: getBool(s, "completed"),
			Notes:     getString(s, "notes", ""),
		})
	}
	return out, nil
}

func (a *Analyzer) ScoreQuality(ctx context.Context, transcript, customPrompt string) (Quality, error) {
	system := DefaultQualityPrompt
	if strings.TrimSpace(customPrompt) != "" {
		system = customPrompt
	}
	data, err := a.ask(ctx, Prompt{
		Kind:   KindQuality,
		System: system,
		User:   fmt.Sprintf(qualityUserTemplate, transcript),
	})
	if err != nil {
		return Quality{}, err
	}
	out := Quality{
		OverallScore:   clamp(getFloat(data, "overall_score", 0), 0, 100),
		CriteriaScores: map[string]float64{},
		Strengths:      getStrings(data, "strengths"),
		Improvements:   getStrings(data, "improvements"),
	}
	if crit, ok := data["criteria_scores"].(map[string]any); ok {
		for name := range crit {
			out.CriteriaScores[name] = clamp(getFloat(crit, name, 0), 0, 100)
		}
	}
	return out, nil
}

func (a *Analyzer) Summarize(ctx context.Context, transcript string) (Summary, error) {
	data, err := a.ask(ctx, Prompt{
		Kind:   KindSummary,
		System: summarySystemPrompt,
		User:   fmt.Sprintf(summaryUserTemplate, transcript),
	})
	if err != nil {
		return Summary{}, err
	}
	category := strings.TrimSpace(getString(data, "inquiry_category", ""))
	if category == "" {
		category = DefaultInquiryCategory
	}
	return Summary{
		Summary:          getString(data, "summary", ""),
		InquiryCategory:  category,
		KeyPoints:        getStrings(data, "key_points"),
		Resolution:       getOptString(data, "resolution"),
		FollowUpRequired: getBool(data, "follow_up_required"),
	}, nil
}

func (a *Analyzer) AnalyzeFillers(ctx context.Context, transcript string) (FillerAnalysis, error) {
	data, err := a.ask(ctx, Prompt{
		Kind:   KindFillers,
		System: fillerSystemPrompt,
		User:   fmt.Sprintf(fillerUserTemplate, transcript),
	})
	if err != nil {
		return FillerAnalysis{}, err
	}
	out := FillerAnalysis{
		FillerCount:     int(clamp(getFloat(data, "filler_count", 0), 0, 1e9)),
		Fillers:         []FillerWord{},
		SilenceDuration: clamp(getFloat(data, "silence_duration", 0), 0, 1e9),
		SilenceSegments: []SilenceSegment{},
	}
	for _, f := range getObjects(data, "fillers") {
		out.Fillers = append(out.Fillers, FillerWord{
			Word:  getString(f, "word", ""),
			Count: int(clamp(getFloat(f, "count", 0), 0, 1e9)),
		})
	}
	for _, s := range getObjects(data, "silence_segments") {
		out.SilenceSegments = append(out.SilenceSegments, SilenceSegment{
			Description: getString(s, "description", ""),
			Duration:    clamp(getFloat(s, "duration", 0), 0, 1e9),
		})
	}
	return out, nil
}

// FullAnalysis runs every analysis over the transcript. Quality, summary and
// filler analysis run alongside the classification step; compliance waits for
// classification and only runs against a flow with a non-empty definition.
func (a *Analyzer) FullAnalysis(ctx context.Context, transcript string, in FullAnalysisInput) (FullAnalysis, error) {
	var out FullAnalysis
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		flow := in.PreselectedFlow
		if flow == nil && len(in.Flows) > 0 {
			cls, err := a.ClassifyFlow(ctx, transcript, in.Flows)
			if err != nil {
				return err
			}
			out.FlowClassification = &cls
			if cls.FlowID != nil {
				flow = findFlow(in.Flows, *cls.FlowID)
			}
		}
		out.Flow = flow
		if flow == nil || !hasDefinition(flow.FlowDefinition) {
			return nil
		}
		comp, err := a.CheckCompliance(ctx, transcript, flow.FlowDefinition)
		if err != nil {
			return err
		}
		out.FlowCompliance = &comp
		return nil
	})
	g.Go(func() error {
		q, err := a.ScoreQuality(ctx, transcript, in.QualityPrompt)
		out.Quality = q
		return err
	})
	g.Go(func() error {
		s, err := a.Summarize(ctx, transcript)
		out.Summary = s
		return err
	})
	g.Go(func() error {
		f, err := a.AnalyzeFillers(ctx, transcript)
		out.Fillers = f
		return err
	})

	if err := g.Wait(); err != nil {
		return FullAnalysis{}, err
	}
	return out, nil
}

func findFlow(flows []models.OperationFlow, id string) *models.OperationFlow {
	for i := range flows {
		if flows[i].ID == id {
			return &flows[i]
		}
	}
	return nil
}

func hasDefinition(def json.RawMessage) bool {
	s := strings.TrimSpace(string(def))
	switch s {
	case "", "null", "{}", "[]", `""`:
		return false
	}
	return true
}
