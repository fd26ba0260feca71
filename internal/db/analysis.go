package db

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/callquality/backend/internal/models"
)

// AnalysisWrite is everything one successful pipeline run persists for a call.
type AnalysisWrite struct {
	CallRecordID    string
	Result          models.AnalysisResult
	Samples         []models.EmotionSample
	OperationFlowID *string
	InquiryCategory *string
}

// SaveAnalysis upserts the analysis row, replaces its emotion samples and marks
// the call completed, all in one transaction.
func (s *Store) SaveAnalysis(ctx context.Context, w AnalysisWrite) (models.AnalysisResult, error) {
	var saved models.AnalysisResult
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		res, err := s.UpsertAnalysisResult(ctx, tx, w.CallRecordID, w.Result)
		if err != nil {
			return err
		}
		if err := s.ReplaceEmotionSamples(ctx, tx, res.ID, w.Samples); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE call_records
			SET operation_flow_id = COALESCE($1, operation_flow_id),
				inquiry_category = $2,
				analysis_status = $3,
				updated_at = NOW()
			WHERE id = $4
		`, w.OperationFlowID, w.InquiryCategory, models.StatusCompleted, w.CallRecordID)
		if err != nil {
			return err
		}
		saved = res
		return nil
	})
	return saved, err
}

func (s *Store) UpsertAnalysisResult(ctx context.Context, tx pgx.Tx, callID string, a models.AnalysisResult) (models.AnalysisResult, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO analysis_results (call_record_id, transcript, flow_compliance, compliance_details, overall_score,
			quality_details, fillers_count, silence_duration, summary, sentiment_score)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (call_record_id) DO UPDATE SET
			transcript = EXCLUDED.transcript,
			flow_compliance = EXCLUDED.flow_compliance,
			compliance_details = EXCLUDED.compliance_details,
			overall_score = EXCLUDED.overall_score,
			quality_details = EXCLUDED.quality_details,
			fillers_count = EXCLUDED.fillers_count,
			silence_duration = EXCLUDED.silence_duration,
			summary = EXCLUDED.summary,
			sentiment_score = EXCLUDED.sentiment_score,
			updated_at = NOW()
		RETURNING `+analysisColumns,
		callID, a.Transcript, a.FlowCompliance, nullJSON(a.ComplianceDetails), a.OverallScore,
		nullJSON(a.QualityDetails), a.FillersCount, a.SilenceDuration, a.Summary, a.SentimentScore)
	return scanAnalysis(row)
}

// ReplaceEmotionSamples clears every sample of the analysis before inserting
// the new batch, so a reanalysis never accumulates samples from older runs.
func (s *Store) ReplaceEmotionSamples(ctx context.Context, tx pgx.Tx, analysisID string, samples []models.EmotionSample) error {
	if _, err := tx.Exec(ctx, `DELETE FROM emotion_samples WHERE analysis_id = $1`, analysisID); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(samples))
	for _, smp := range samples {
		features, err := json.Marshal(map[string]any{"emotions": smp.Emotions})
		if err != nil {
			return err
		}
		id := smp.ID
		if id == "" {
			id = uuid.NewString()
		}
		rows = append(rows, []any{id, analysisID, smp.Timestamp, smp.EmotionType, smp.Confidence, features})
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"emotion_samples"}, []string{"id", "analysis_id", "timestamp", "emotion_type", "confidence", "audio_features"}, pgx.CopyFromRows(rows))
	return err
}

const analysisColumns = `id, call_record_id, transcript, flow_compliance, compliance_details, overall_score, quality_details,
	fillers_count, silence_duration, summary, sentiment_score, created_at, updated_at`

func scanAnalysis(row pgx.Row) (models.AnalysisResult, error) {
	var (
		a          models.AnalysisResult
		compliance []byte
		quality    []byte
	)
	err := row.Scan(&a.ID, &a.CallRecordID, &a.Transcript, &a.FlowCompliance, &compliance, &a.OverallScore, &quality,
		&a.FillersCount, &a.SilenceDuration, &a.Summary, &a.SentimentScore, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	a.ComplianceDetails = compliance
	a.QualityDetails = quality
	return a, nil
}

// GetCallAnalysis returns the analysis of a tenant's call together with its
// emotion samples ordered by time.
func (s *Store) GetCallAnalysis(ctx context.Context, tenantID, callID string) (models.AnalysisResult, []models.EmotionSample, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT a.id, a.call_record_id, a.transcript, a.flow_compliance, a.compliance_details, a.overall_score, a.quality_details,
			a.fillers_count, a.silence_duration, a.summary, a.sentiment_score, a.created_at, a.updated_at
		FROM analysis_results a
		JOIN call_records c ON c.id = a.call_record_id
		WHERE c.tenant_id = $1 AND a.call_record_id = $2
	`, tenantID, callID)
	a, err := scanAnalysis(row)
	if err != nil {
		return models.AnalysisResult{}, nil, notFound(err)
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT id, analysis_id, timestamp, emotion_type, confidence, audio_features, created_at
		FROM emotion_samples WHERE analysis_id = $1 ORDER BY timestamp ASC
	`, a.ID)
	if err != nil {
		return models.AnalysisResult{}, nil, err
	}
	defer rows.Close()

	samples := []models.EmotionSample{}
	for rows.Next() {
		var (
			smp      models.EmotionSample
			features []byte
		)
		if err := rows.Scan(&smp.ID, &smp.AnalysisID, &smp.Timestamp, &smp.EmotionType, &smp.Confidence, &features, &smp.CreatedAt); err != nil {
			return models.AnalysisResult{}, nil, err
		}
		if len(features) > 0 {
			var tmp struct {
				Emotions map[string]float64 `json:"emotions"`
			}
			if err := json.Unmarshal(features, &tmp); err == nil {
				smp.Emotions = tmp.Emotions
			}
		}
		samples = append(samples, smp)
	}
	return a, samples, rows.Err()
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
