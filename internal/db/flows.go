package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/callquality/backend/internal/models"
)

const flowColumns = `id, tenant_id, name, classification_criteria, flow_definition, is_active, created_at, updated_at`

func scanFlow(row pgx.Row) (models.OperationFlow, error) {
	var (
		f   models.OperationFlow
		def []byte
	)
	if err := row.Scan(&f.ID, &f.TenantID, &f.Name, &f.ClassificationCriteria, &def, &f.IsActive, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return models.OperationFlow{}, err
	}
	f.FlowDefinition = def
	return f, nil
}

func (s *Store) ListFlows(ctx context.Context, tenantID string, activeOnly bool) ([]models.OperationFlow, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+flowColumns+` FROM operation_flows
		WHERE tenant_id = $1 AND (NOT $2 OR is_active)
		ORDER BY name ASC
	`, tenantID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.OperationFlow{}
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) ListActiveFlows(ctx context.Context, tenantID string) ([]models.OperationFlow, error) {
	return s.ListFlows(ctx, tenantID, true)
}

func (s *Store) GetFlow(ctx context.Context, tenantID, flowID string) (models.OperationFlow, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+flowColumns+` FROM operation_flows WHERE tenant_id = $1 AND id = $2`, tenantID, flowID)
	f, err := scanFlow(row)
	return f, notFound(err)
}

func (s *Store) CreateFlow(ctx context.Context, f models.OperationFlow) (models.OperationFlow, error) {
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO operation_flows (tenant_id, name, classification_criteria, flow_definition, is_active)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING `+flowColumns,
		f.TenantID, f.Name, f.ClassificationCriteria, nullJSON(f.FlowDefinition), f.IsActive)
	return scanFlow(row)
}

func (s *Store) UpdateFlow(ctx context.Context, f models.OperationFlow) (models.OperationFlow, error) {
	row := s.Pool.QueryRow(ctx, `
		UPDATE operation_flows
		SET name = $1, classification_criteria = $2, flow_definition = $3, is_active = $4, updated_at = NOW()
		WHERE tenant_id = $5 AND id = $6
		RETURNING `+flowColumns,
		f.Name, f.ClassificationCriteria, nullJSON(f.FlowDefinition), f.IsActive, f.TenantID, f.ID)
	out, err := scanFlow(row)
	return out, notFound(err)
}

func (s *Store) DeleteFlow(ctx context.Context, tenantID, flowID string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM operation_flows WHERE tenant_id = $1 AND id = $2`, tenantID, flowID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
