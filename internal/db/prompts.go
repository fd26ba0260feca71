package db

import (
	"context"

	"github.com/callquality/backend/internal/models"
)

func (s *Store) GetActivePrompt(ctx context.Context, tenantID, promptType string) (models.AnalysisPrompt, error) {
	var p models.AnalysisPrompt
	err := s.Pool.QueryRow(ctx, `
		SELECT id, tenant_id, prompt_type, prompt_text, is_active, is_default, updated_at
		FROM analysis_prompts WHERE tenant_id = $1 AND prompt_type = $2 AND is_active
	`, tenantID, promptType).Scan(&p.ID, &p.TenantID, &p.PromptType, &p.PromptText, &p.IsActive, &p.IsDefault, &p.UpdatedAt)
	return p, notFound(err)
}

func (s *Store) ListPrompts(ctx context.Context, tenantID string) ([]models.AnalysisPrompt, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, tenant_id, prompt_type, prompt_text, is_active, is_default, updated_at
		FROM analysis_prompts WHERE tenant_id = $1 ORDER BY prompt_type ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.AnalysisPrompt{}
	for rows.Next() {
		var p models.AnalysisPrompt
		if err := rows.Scan(&p.ID, &p.TenantID, &p.PromptType, &p.PromptText, &p.IsActive, &p.IsDefault, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPrompt(ctx context.Context, p models.AnalysisPrompt) (models.AnalysisPrompt, error) {
	var out models.AnalysisPrompt
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO analysis_prompts (tenant_id, prompt_type, prompt_text, is_active, is_default)
		VALUES ($1,$2,$3,$4,FALSE)
		ON CONFLICT (tenant_id, prompt_type) DO UPDATE SET
			prompt_text = EXCLUDED.prompt_text,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
		RETURNING id, tenant_id, prompt_type, prompt_text, is_active, is_default, updated_at
	`, p.TenantID, p.PromptType, p.PromptText, p.IsActive).Scan(&out.ID, &out.TenantID, &out.PromptType, &out.PromptText, &out.IsActive, &out.IsDefault, &out.UpdatedAt)
	return out, err
}
