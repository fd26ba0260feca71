package db

import (
	"context"

	"github.com/callquality/backend/internal/models"
)

func (s *Store) CreateSyncRun(ctx context.Context, tenantID string) (string, error) {
	var id string
	err := s.Pool.QueryRow(ctx, `INSERT INTO sync_runs (tenant_id, status, started_at) VALUES ($1, $2, NOW()) RETURNING id`, tenantID, models.RunRunning).Scan(&id)
	return id, err
}

func (s *Store) FinishSyncRun(ctx context.Context, runID string, status string, summary []byte) error {
	_, err := s.Pool.Exec(ctx, `UPDATE sync_runs SET status = $1, summary = $2, finished_at = NOW() WHERE id = $3`, status, summary, runID)
	return err
}

func (s *Store) GetLatestSyncRun(ctx context.Context, tenantID string) (models.SyncRun, error) {
	var (
		r       models.SyncRun
		summary []byte
	)
	err := s.Pool.QueryRow(ctx, `
		SELECT id, tenant_id, status, started_at, finished_at, summary
		FROM sync_runs WHERE tenant_id = $1 ORDER BY started_at DESC LIMIT 1
	`, tenantID).Scan(&r.ID, &r.TenantID, &r.Status, &r.StartedAt, &r.FinishedAt, &summary)
	if err != nil {
		return models.SyncRun{}, notFound(err)
	}
	r.Summary = summary
	return r, nil
}
