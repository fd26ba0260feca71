package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/callquality/backend/internal/db"
	"github.com/callquality/backend/internal/emotion"
	"github.com/callquality/backend/internal/llm"
	"github.com/callquality/backend/internal/models"
	"github.com/callquality/backend/internal/storage"
	"github.com/callquality/backend/internal/transcription"
)

var (
	ErrNoAudio = errors.New("call has no stored recording")
	// ErrNotClaimed means the call was not pending or failed when a worker
	// tried to pick it up, usually because another worker already has it.
	ErrNotClaimed = errors.New("call is not waiting for analysis")
)

type PipelineRepository interface {
	GetCallRecord(ctx context.Context, callID string) (models.CallRecord, error)
	GetTenantCallRecord(ctx context.Context, tenantID, callID string) (models.CallRecord, error)
	UpdateCallStatus(ctx context.Context, callID, status string) error
	ClaimCall(ctx context.Context, callID string) (bool, error)
	ListActiveFlows(ctx context.Context, tenantID string) ([]models.OperationFlow, error)
	GetActivePrompt(ctx context.Context, tenantID, promptType string) (models.AnalysisPrompt, error)
	SaveAnalysis(ctx context.Context, w db.AnalysisWrite) (models.AnalysisResult, error)
}

type CallAnalyzer interface {
	FullAnalysis(ctx context.Context, transcript string, in llm.FullAnalysisInput) (llm.FullAnalysis, error)
}

// Result carries the outcome of one concurrent branch.
type Result[T any] struct {
	Value T
	Err   error
}

func goResult[T any](ctx context.Context, fn func(context.Context) (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		v, err := fn(ctx)
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}

type branches struct {
	Transcript Result[transcription.Transcript]
	Emotion    Result[emotion.Result]
}

type Outcome struct {
	CallRecordID     string   `json:"call_record_id"`
	Status           string   `json:"status"`
	OverallScore     *float64 `json:"overall_score"`
	InquiryCategory  *string  `json:"inquiry_category"`
	EmotionAvailable bool     `json:"emotion_available"`
	Attempts         int      `json:"attempts"`
}

// Pipeline analyzes one call: transcription and emotion inference run side by
// side, then the transcript goes through the LLM analyses and everything is
// persisted in one transaction.
type Pipeline struct {
	Repo        PipelineRepository
	Storage     storage.Store
	Transcriber transcription.Transcriber
	// Emotion is optional. Without it calls complete with no emotion data.
	Emotion     emotion.Analyzer
	LLM         CallAnalyzer
	Language    string
	MaxAttempts int
	RetryDelay  time.Duration
	Logger      zerolog.Logger
}

// Process claims a call and runs the pipeline for it, retrying failed
// attempts with exponential backoff. The call is marked failed only once every
// attempt is spent. A call interrupted by cancellation goes back to pending.
func (p *Pipeline) Process(ctx context.Context, callID string) (Outcome, error) {
	call, err := p.Repo.GetCallRecord(ctx, callID)
	if err != nil {
		return Outcome{CallRecordID: callID}, err
	}
	if !call.HasAudio() {
		return Outcome{CallRecordID: callID, Status: call.AnalysisStatus}, ErrNoAudio
	}
	log := p.Logger.With().Str("call_id", call.ID).Str("tenant_id", call.TenantID).Logger()

	claimed, err := p.Repo.ClaimCall(ctx, call.ID)
	if err != nil {
		return Outcome{CallRecordID: call.ID, Status: call.AnalysisStatus}, err
	}
	if !claimed {
		log.Debug().Str("status", call.AnalysisStatus).Msg("call not claimable, skipping")
		return Outcome{CallRecordID: call.ID, Status: call.AnalysisStatus}, ErrNotClaimed
	}

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.RetryDelay
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = time.Minute
	}
	bo.MaxInterval = 10 * bo.InitialInterval
	bo.MaxElapsedTime = 0

	var (
		out Outcome
		n   int
	)
	op := func() error {
		n++
		res, err := p.attempt(ctx, log, call)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Int("attempt", n).Dur("retry_in", wait).Msg("analysis attempt failed")
	}

	err = backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx), notify)
	if err != nil {
		status := models.StatusFailed
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			status = models.StatusPending
		}
		if uerr := p.Repo.UpdateCallStatus(context.WithoutCancel(ctx), call.ID, status); uerr != nil {
			log.Error().Err(uerr).Str("status", status).Msg("update call status")
		}
		if status == models.StatusPending {
			log.Warn().Err(err).Int("attempts", n).Msg("analysis interrupted, call returned to pending")
		} else {
			log.Error().Err(err).Int("attempts", n).Msg("analysis failed")
		}
		return Outcome{CallRecordID: call.ID, Status: status, Attempts: n}, err
	}
	out.Attempts = n
	log.Info().Int("attempts", n).Bool("emotion", out.EmotionAvailable).Msg("analysis completed")
	return out, nil
}

func (p *Pipeline) attempt(ctx context.Context, log zerolog.Logger, call models.CallRecord) (Outcome, error) {
	audio, err := p.Storage.Download(ctx, *call.AudioFilePath)
	if err != nil {
		return Outcome{}, fmt.Errorf("download recording: %w", err)
	}

	br := p.runBranches(ctx, audio, path.Base(*call.AudioFilePath))
	if br.Transcript.Err != nil {
		return Outcome{}, fmt.Errorf("transcription: %w", br.Transcript.Err)
	}
	emotionOK := br.Emotion.Err == nil
	if !emotionOK && !errors.Is(br.Emotion.Err, errEmotionDisabled) {
		log.Warn().Err(br.Emotion.Err).Msg("emotion inference failed, continuing without emotion data")
	}

	flows, err := p.Repo.ListActiveFlows(ctx, call.TenantID)
	if err != nil {
		return Outcome{}, err
	}
	// Every run classifies again so a reanalysis can correct the flow.
	in := llm.FullAnalysisInput{Flows: flows}
	prompt, err := p.Repo.GetActivePrompt(ctx, call.TenantID, models.PromptQualityScore)
	switch {
	case err == nil:
		in.QualityPrompt = prompt.PromptText
	case !errors.Is(err, db.ErrNotFound):
		return Outcome{}, err
	}

	transcript := br.Transcript.Value
	full, err := p.LLM.FullAnalysis(ctx, transcription.FormatWithTimestamps(transcript), in)
	if err != nil {
		return Outcome{}, fmt.Errorf("llm analysis: %w", err)
	}

	w, err := buildAnalysisWrite(call.ID, transcript, full, br.Emotion)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := p.Repo.SaveAnalysis(ctx, w); err != nil {
		return Outcome{}, fmt.Errorf("save analysis: %w", err)
	}
	return Outcome{
		CallRecordID:     call.ID,
		Status:           models.StatusCompleted,
		OverallScore:     w.Result.OverallScore,
		InquiryCategory:  w.InquiryCategory,
		EmotionAvailable: emotionOK,
	}, nil
}

var errEmotionDisabled = errors.New("emotion inference not configured")

func (p *Pipeline) runBranches(ctx context.Context, audio []byte, filename string) branches {
	language := p.Language
	tr := goResult(ctx, func(ctx context.Context) (transcription.Transcript, error) {
		return p.Transcriber.Transcribe(ctx, audio, filename, language)
	})
	em := goResult(ctx, func(ctx context.Context) (emotion.Result, error) {
		if p.Emotion == nil {
			return emotion.Result{}, errEmotionDisabled
		}
		return p.Emotion.Analyze(ctx, audio, filename)
	})
	return branches{Transcript: <-tr, Emotion: <-em}
}

func buildAnalysisWrite(callID string, tr transcription.Transcript, full llm.FullAnalysis, em Result[emotion.Result]) (db.AnalysisWrite, error) {
	quality, err := json.Marshal(full.Quality)
	if err != nil {
		return db.AnalysisWrite{}, err
	}
	score := full.Quality.OverallScore
	res := models.AnalysisResult{
		CallRecordID:    callID,
		Transcript:      tr.Text,
		OverallScore:    &score,
		QualityDetails:  quality,
		FillersCount:    full.Fillers.FillerCount,
		SilenceDuration: full.Fillers.SilenceDuration,
		Summary:         optional(full.Summary.Summary),
	}
	if full.FlowCompliance != nil {
		compliant := full.FlowCompliance.IsCompliant
		res.FlowCompliance = &compliant
		if res.ComplianceDetails, err = json.Marshal(full.FlowCompliance); err != nil {
			return db.AnalysisWrite{}, err
		}
	}

	w := db.AnalysisWrite{
		CallRecordID:    callID,
		Samples:         []models.EmotionSample{},
		InquiryCategory: optional(full.Summary.InquiryCategory),
	}
	if full.Flow != nil {
		id := full.Flow.ID
		w.OperationFlowID = &id
	}
	if em.Err == nil {
		sentiment := em.Value.SentimentScore
		res.SentimentScore = &sentiment
		for _, pr := range em.Value.Predictions {
			w.Samples = append(w.Samples, models.EmotionSample{
				Timestamp:   pr.Start,
				EmotionType: pr.Dominant,
				Confidence:  pr.DominantScore,
				Emotions:    pr.Emotions,
			})
		}
	}
	w.Result = res
	return w, nil
}

// Reanalyze puts a call back into the pending state so the next batch picks
// it up again.
func (p *Pipeline) Reanalyze(ctx context.Context, tenantID, callID string) error {
	call, err := p.Repo.GetTenantCallRecord(ctx, tenantID, callID)
	if err != nil {
		return err
	}
	if !call.HasAudio() {
		return ErrNoAudio
	}
	return p.Repo.UpdateCallStatus(ctx, call.ID, models.StatusPending)
}
