package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/callquality/backend/internal/models"
)

const callColumns = `id, tenant_id, biztel_id, request_id, event_datetime, call_center_name, call_center_extension,
	business_label, operator_id, operation_flow_id, inquiry_category, event_type, caller_number, callee_number,
	wait_time_seconds, talk_time_seconds, audio_file_path, analysis_status, created_at, updated_at`

func scanCall(row pgx.Row) (models.CallRecord, error) {
	var c models.CallRecord
	err := row.Scan(&c.ID, &c.TenantID, &c.BiztelID, &c.RequestID, &c.EventDatetime, &c.CallCenterName, &c.CallCenterExtension,
		&c.BusinessLabel, &c.OperatorID, &c.OperationFlowID, &c.InquiryCategory, &c.EventType, &c.CallerNumber, &c.CalleeNumber,
		&c.WaitTimeSeconds, &c.TalkTimeSeconds, &c.AudioFilePath, &c.AnalysisStatus, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// UpsertSyncedCall inserts a call keyed by (tenant_id, request_id). An existing
// row only gets its operator linkage and event time refreshed. The returned
// bool reports whether the row was newly created.
func (s *Store) UpsertSyncedCall(ctx context.Context, c models.CallRecord) (models.CallRecord, bool, error) {
	if c.RequestID == nil || *c.RequestID == "" {
		return models.CallRecord{}, false, fmt.Errorf("request_id is required for synced calls")
	}
	if c.AnalysisStatus == "" {
		c.AnalysisStatus = models.StatusPending
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO call_records (tenant_id, biztel_id, request_id, event_datetime, call_center_name, call_center_extension,
			business_label, operator_id, event_type, caller_number, callee_number, wait_time_seconds, talk_time_seconds,
			analysis_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (tenant_id, request_id) DO UPDATE SET
			operator_id = COALESCE(EXCLUDED.operator_id, call_records.operator_id),
			event_datetime = EXCLUDED.event_datetime,
			updated_at = NOW()
		RETURNING `+callColumns+`, (xmax = 0) AS inserted
	`, c.TenantID, c.BiztelID, c.RequestID, c.EventDatetime, c.CallCenterName, c.CallCenterExtension,
		c.BusinessLabel, c.OperatorID, c.EventType, c.CallerNumber, c.CalleeNumber, c.WaitTimeSeconds, c.TalkTimeSeconds,
		c.AnalysisStatus)

	var (
		out      models.CallRecord
		inserted bool
	)
	err := row.Scan(&out.ID, &out.TenantID, &out.BiztelID, &out.RequestID, &out.EventDatetime, &out.CallCenterName, &out.CallCenterExtension,
		&out.BusinessLabel, &out.OperatorID, &out.OperationFlowID, &out.InquiryCategory, &out.EventType, &out.CallerNumber, &out.CalleeNumber,
		&out.WaitTimeSeconds, &out.TalkTimeSeconds, &out.AudioFilePath, &out.AnalysisStatus, &out.CreatedAt, &out.UpdatedAt, &inserted)
	if err != nil {
		return models.CallRecord{}, false, err
	}
	return out, inserted, nil
}

// CreateCall inserts a call that did not come from the provider (direct upload
// or bulk metadata import).
func (s *Store) CreateCall(ctx context.Context, c models.CallRecord) (models.CallRecord, error) {
	if c.AnalysisStatus == "" {
		c.AnalysisStatus = models.StatusPending
	}
	if c.EventDatetime.IsZero() {
		c.EventDatetime = time.Now().UTC()
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO call_records (tenant_id, biztel_id, request_id, event_datetime, call_center_name, call_center_extension,
			business_label, operator_id, event_type, caller_number, callee_number, wait_time_seconds, talk_time_seconds,
			audio_file_path, analysis_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING `+callColumns,
		c.TenantID, c.BiztelID, c.RequestID, c.EventDatetime, c.CallCenterName, c.CallCenterExtension,
		c.BusinessLabel, c.OperatorID, c.EventType, c.CallerNumber, c.CalleeNumber, c.WaitTimeSeconds, c.TalkTimeSeconds,
		c.AudioFilePath, c.AnalysisStatus)
	return scanCall(row)
}

// GetCallRecord loads a call by id regardless of tenant. Only the pipeline uses
// it; every later read is scoped by the tenant the call belongs to.
func (s *Store) GetCallRecord(ctx context.Context, callID string) (models.CallRecord, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+callColumns+` FROM call_records WHERE id = $1`, callID)
	c, err := scanCall(row)
	return c, notFound(err)
}

func (s *Store) GetTenantCallRecord(ctx context.Context, tenantID, callID string) (models.CallRecord, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+callColumns+` FROM call_records WHERE tenant_id = $1 AND id = $2`, tenantID, callID)
	c, err := scanCall(row)
	return c, notFound(err)
}

type CallFilter struct {
	TenantID string
	Status   string
	From     *time.Time
	To       *time.Time
	Limit    int
	Skip     int
}

func (s *Store) ListCalls(ctx context.Context, f CallFilter) ([]models.CallRecord, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Skip < 0 {
		f.Skip = 0
	}

	query := `SELECT ` + callColumns + ` FROM call_records`
	args := []any{f.TenantID}
	wheres := []string{"tenant_id = $1"}
	if f.Status != "" {
		args = append(args, f.Status)
		wheres = append(wheres, fmt.Sprintf("analysis_status = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		wheres = append(wheres, fmt.Sprintf("event_datetime >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		wheres = append(wheres, fmt.Sprintf("event_datetime < $%d", len(args)))
	}
	query += " WHERE " + strings.Join(wheres, " AND ")
	query += " ORDER BY event_datetime DESC LIMIT $" + fmt.Sprint(len(args)+1) + " OFFSET $" + fmt.Sprint(len(args)+2)
	args = append(args, f.Limit, f.Skip)

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.CallRecord{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SetCallAudioPath(ctx context.Context, tenantID, callID, path string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE call_records SET audio_file_path = $1, updated_at = NOW() WHERE tenant_id = $2 AND id = $3`, path, tenantID, callID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpdateCallStatus(ctx context.Context, callID, status string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE call_records SET analysis_status = $1, updated_at = NOW() WHERE id = $2`, status, callID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimCall moves a pending or failed call to processing. It reports false
// when the call is in any other state, so two workers never analyse the same
// call at once.
func (s *Store) ClaimCall(ctx context.Context, callID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE call_records SET analysis_status = $1, updated_at = NOW()
		WHERE id = $2 AND analysis_status IN ($3, $4)
	`, models.StatusProcessing, callID, models.StatusPending, models.StatusFailed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListPendingCallIDs returns pending calls that have a stored recording, oldest
// first. An empty tenantID selects across all tenants.
func (s *Store) ListPendingCallIDs(ctx context.Context, tenantID string, limit int) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id FROM call_records
		WHERE analysis_status = $1 AND audio_file_path IS NOT NULL
			AND ($2 = '' OR tenant_id = $2)
		ORDER BY event_datetime ASC
		LIMIT $3
	`, models.StatusPending, tenantID, limit)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

// ResetFailedCalls moves up to limit failed calls with recordings back to
// pending and returns their ids.
func (s *Store) ResetFailedCalls(ctx context.Context, tenantID string, limit int) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `
		UPDATE call_records SET analysis_status = $1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM call_records
			WHERE analysis_status = $2 AND audio_file_path IS NOT NULL
				AND ($3 = '' OR tenant_id = $3)
			ORDER BY updated_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id
	`, models.StatusPending, models.StatusFailed, tenantID, limit)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
