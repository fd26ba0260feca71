package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// Migration is one ordered schema step. Statements must be idempotent so a
// crash between applying and recording a version can safely re-run it.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []Migration{
	{Version: 1, Description: "initial schema", SQL: schemaV1},
	{Version: 2, Description: "analysis prompts and sync runs", SQL: schemaV2},
}

func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}

func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.Pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// Migrate brings the schema up to the latest version.
func (s *Store) Migrate(ctx context.Context, logger zerolog.Logger) error {
	if _, err := s.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current >= latestVersion() {
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info().Int("version", m.Version).Str("description", m.Description).Msg("applying migration")
		err := s.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, m.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name TEXT NOT NULL,
	biztel_api_key TEXT,
	biztel_api_secret TEXT,
	biztel_base_url TEXT,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	last_sync_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS ix_tenants_name ON tenants (name);

CREATE TABLE IF NOT EXISTS operators (
	id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	biztel_operator_id TEXT,
	name TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_operators_tenant_biztel ON operators (tenant_id, biztel_operator_id);

CREATE TABLE IF NOT EXISTS operation_flows (
	id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	classification_criteria TEXT,
	flow_definition JSONB,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS ix_operation_flows_tenant_id ON operation_flows (tenant_id);

CREATE TABLE IF NOT EXISTS call_records (
	id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	biztel_id TEXT,
	request_id TEXT,
	event_datetime TIMESTAMPTZ NOT NULL,
	call_center_name TEXT,
	call_center_extension TEXT,
	business_label TEXT,
	operator_id TEXT REFERENCES operators(id) ON DELETE SET NULL,
	operation_flow_id TEXT REFERENCES operation_flows(id) ON DELETE SET NULL,
	inquiry_category TEXT,
	event_type TEXT,
	caller_number TEXT,
	callee_number TEXT,
	wait_time_seconds INT,
	talk_time_seconds INT,
	audio_file_path TEXT,
	analysis_status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_call_records_tenant_request ON call_records (tenant_id, request_id);
CREATE INDEX IF NOT EXISTS ix_call_records_analysis_status ON call_records (analysis_status);
CREATE INDEX IF NOT EXISTS ix_call_records_event_datetime ON call_records (event_datetime);
CREATE INDEX IF NOT EXISTS ix_call_records_tenant_id ON call_records (tenant_id);

CREATE TABLE IF NOT EXISTS analysis_results (
	id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	call_record_id TEXT NOT NULL UNIQUE REFERENCES call_records(id) ON DELETE CASCADE,
	transcript TEXT NOT NULL DEFAULT '',
	flow_compliance BOOLEAN,
	compliance_details JSONB,
	overall_score DOUBLE PRECISION,
	quality_details JSONB,
	fillers_count INT NOT NULL DEFAULT 0,
	silence_duration DOUBLE PRECISION NOT NULL DEFAULT 0,
	summary TEXT,
	sentiment_score DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS emotion_samples (
	id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	analysis_id TEXT NOT NULL REFERENCES analysis_results(id) ON DELETE CASCADE,
	timestamp DOUBLE PRECISION NOT NULL CHECK (timestamp >= 0),
	emotion_type TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	audio_features JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS ix_emotion_samples_analysis_id ON emotion_samples (analysis_id);
`

const schemaV2 = `
CREATE TABLE IF NOT EXISTS analysis_prompts (
	id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	prompt_type TEXT NOT NULL,
	prompt_text TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	is_default BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_analysis_prompts_tenant_type ON analysis_prompts (tenant_id, prompt_type);

CREATE TABLE IF NOT EXISTS sync_runs (
	id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	finished_at TIMESTAMPTZ,
	summary JSONB
);
CREATE INDEX IF NOT EXISTS ix_sync_runs_tenant_started ON sync_runs (tenant_id, started_at DESC);
`
