package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/callquality/backend/internal/models"
)

const tenantColumns = `id, name, biztel_api_key, biztel_api_secret, biztel_base_url, is_active, last_sync_at`

func scanTenant(row pgx.Row) (models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.BiztelAPIKey, &t.BiztelAPISecret, &t.BiztelBaseURL, &t.IsActive, &t.LastSyncAt)
	return t, err
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (models.Tenant, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, tenantID)
	t, err := scanTenant(row)
	return t, notFound(err)
}

// ListSyncableTenants returns active tenants with provider credentials configured.
func (s *Store) ListSyncableTenants(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+tenantColumns+` FROM tenants
		WHERE is_active AND biztel_api_key IS NOT NULL AND biztel_api_key <> ''
			AND biztel_base_url IS NOT NULL AND biztel_base_url <> ''
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateBiztelSettings(ctx context.Context, tenantID, apiKey string, apiSecret *string, baseURL string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE tenants SET biztel_api_key = $1, biztel_api_secret = $2, biztel_base_url = $3, updated_at = NOW()
		WHERE id = $4
	`, apiKey, apiSecret, baseURL, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) TouchTenantSync(ctx context.Context, tenantID string, at time.Time) error {
	_, err := s.Pool.Exec(ctx, `UPDATE tenants SET last_sync_at = $1 WHERE id = $2`, at, tenantID)
	return err
}
