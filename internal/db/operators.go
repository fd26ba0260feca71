package db

import (
	"context"

	"github.com/callquality/backend/internal/models"
)

func (s *Store) FindOperatorByBiztelID(ctx context.Context, tenantID, biztelOperatorID string) (models.Operator, error) {
	var op models.Operator
	err := s.Pool.QueryRow(ctx, `
		SELECT id, tenant_id, biztel_operator_id, name, is_active, created_at
		FROM operators WHERE tenant_id = $1 AND biztel_operator_id = $2
	`, tenantID, biztelOperatorID).Scan(&op.ID, &op.TenantID, &op.BiztelOperatorID, &op.Name, &op.IsActive, &op.CreatedAt)
	return op, notFound(err)
}

// CreateOperator inserts an operator. A concurrent sync that created the same
// provider operator first wins, and its row is returned.
func (s *Store) CreateOperator(ctx context.Context, op models.Operator) (models.Operator, error) {
	var out models.Operator
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO operators (tenant_id, biztel_operator_id, name, is_active)
		VALUES ($1,$2,$3,TRUE)
		ON CONFLICT (tenant_id, biztel_operator_id) DO UPDATE SET name = operators.name
		RETURNING id, tenant_id, biztel_operator_id, name, is_active, created_at
	`, op.TenantID, op.BiztelOperatorID, op.Name).Scan(&out.ID, &out.TenantID, &out.BiztelOperatorID, &out.Name, &out.IsActive, &out.CreatedAt)
	return out, err
}
