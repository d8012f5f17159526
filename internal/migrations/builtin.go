package migrations

// Builtin is the runtime's own schema, merged with user-supplied
// migrations and applied in lexicographic version order (§4.10). Table
// and column names here are load-bearing: every
// internal/infrastructure/postgres repository's SQL was written against
// exactly these names.
var Builtin = []Migration{
	{
		Version: "0000",
		Name:    "core_schema",
		SQL: `
CREATE TABLE IF NOT EXISTS forge_nodes (
	id VARCHAR PRIMARY KEY,
	hostname VARCHAR NOT NULL,
	address VARCHAR NOT NULL,
	http_port INTEGER NOT NULL,
	rpc_port INTEGER NOT NULL,
	roles TEXT[] NOT NULL DEFAULT '{}',
	capabilities TEXT[] NOT NULL DEFAULT '{}',
	status VARCHAR NOT NULL,
	last_heartbeat TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	current_connections INTEGER NOT NULL DEFAULT 0,
	current_jobs INTEGER NOT NULL DEFAULT 0,
	cpu_usage DOUBLE PRECISION NOT NULL DEFAULT 0,
	memory_usage DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS forge_leaders (
	role VARCHAR PRIMARY KEY,
	holder_node VARCHAR NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL,
	lease_until TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS forge_jobs (
	id VARCHAR PRIMARY KEY,
	type VARCHAR NOT NULL,
	args_json JSONB NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	status VARCHAR NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 1,
	backoff VARCHAR NOT NULL,
	max_backoff_ms BIGINT NOT NULL,
	timeout_ms BIGINT NOT NULL,
	retry_on TEXT[] NOT NULL DEFAULT '{}',
	scheduled_at TIMESTAMPTZ NOT NULL,
	required_capability VARCHAR,
	idempotency_key VARCHAR,
	claimed_by_node VARCHAR,
	claimed_at TIMESTAMPTZ,
	last_heartbeat TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	error TEXT,
	output_json JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS forge_jobs_idempotency_key_idx
	ON forge_jobs (type, idempotency_key)
	WHERE idempotency_key IS NOT NULL AND status NOT IN ('completed', 'failed', 'dead_letter');

CREATE INDEX IF NOT EXISTS forge_jobs_claimable_idx
	ON forge_jobs (status, scheduled_at)
	WHERE status IN ('pending', 'retry');

CREATE TABLE IF NOT EXISTS forge_cron_runs (
	id VARCHAR PRIMARY KEY,
	cron_name VARCHAR NOT NULL,
	scheduled_time TIMESTAMPTZ NOT NULL,
	status VARCHAR NOT NULL,
	is_catch_up BOOLEAN NOT NULL DEFAULT false,
	job_id VARCHAR,
	actual_start TIMESTAMPTZ,
	actual_end TIMESTAMPTZ,
	UNIQUE (cron_name, scheduled_time)
);

CREATE TABLE IF NOT EXISTS forge_workflow_runs (
	id VARCHAR PRIMARY KEY,
	name VARCHAR NOT NULL,
	version INTEGER NOT NULL,
	input_json JSONB,
	output_json JSONB,
	status VARCHAR NOT NULL,
	current_step VARCHAR NOT NULL DEFAULT '',
	step_results_json JSONB NOT NULL DEFAULT '{}',
	waiting_event VARCHAR,
	waiting_timeout TIMESTAMPTZ,
	wake_at TIMESTAMPTZ,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	error TEXT,
	trace_id VARCHAR
);

CREATE INDEX IF NOT EXISTS forge_workflow_runs_waiting_idx
	ON forge_workflow_runs (status, wake_at)
	WHERE status = 'waiting';

CREATE TABLE IF NOT EXISTS forge_workflow_steps (
	id VARCHAR PRIMARY KEY,
	workflow_run_id VARCHAR NOT NULL REFERENCES forge_workflow_runs (id) ON DELETE CASCADE,
	step_name VARCHAR NOT NULL,
	status VARCHAR NOT NULL,
	result_json JSONB,
	error TEXT,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	UNIQUE (workflow_run_id, step_name)
);

CREATE TABLE IF NOT EXISTS forge_workflow_events (
	id VARCHAR PRIMARY KEY,
	event_name VARCHAR NOT NULL,
	correlation_id VARCHAR NOT NULL,
	payload_json JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	consumed_at TIMESTAMPTZ,
	consumed_by VARCHAR
);

CREATE INDEX IF NOT EXISTS forge_workflow_events_pending_idx
	ON forge_workflow_events (event_name, correlation_id)
	WHERE consumed_at IS NULL;

CREATE TABLE IF NOT EXISTS forge_rate_limits (
	key VARCHAR PRIMARY KEY,
	tokens DOUBLE PRECISION NOT NULL,
	last_refill TIMESTAMPTZ NOT NULL,
	max_tokens DOUBLE PRECISION NOT NULL,
	refill_rate DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS forge_sessions (
	id VARCHAR PRIMARY KEY,
	node_id VARCHAR NOT NULL,
	user_id VARCHAR,
	status VARCHAR NOT NULL,
	subscription_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_active TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS forge_sessions_node_idx ON forge_sessions (node_id);

CREATE TABLE IF NOT EXISTS forge_subscriptions (
	id VARCHAR PRIMARY KEY,
	session_id VARCHAR NOT NULL REFERENCES forge_sessions (id) ON DELETE CASCADE,
	query_fingerprint VARCHAR NOT NULL,
	table_name VARCHAR NOT NULL,
	read_set_kind VARCHAR NOT NULL,
	row_ids TEXT[] NOT NULL DEFAULT '{}',
	predicate TEXT,
	last_delta_version BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS forge_subscriptions_table_idx ON forge_subscriptions (table_name);

CREATE TABLE IF NOT EXISTS forge_users (
	id VARCHAR PRIMARY KEY,
	email VARCHAR NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS forge_magic_tokens (
	id VARCHAR PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id VARCHAR NOT NULL REFERENCES forge_users (id) ON DELETE CASCADE,
	token_hash VARCHAR NOT NULL UNIQUE,
	expires_at TIMESTAMPTZ NOT NULL,
	used_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`,
	},
	{
		Version: "0001",
		Name:    "change_notify_triggers",
		SQL: `
CREATE OR REPLACE FUNCTION forge_notify_change() RETURNS trigger AS $$
DECLARE
	row_id TEXT;
	payload TEXT;
BEGIN
	IF TG_OP = 'DELETE' THEN
		row_id := OLD.id::TEXT;
	ELSE
		row_id := NEW.id::TEXT;
	END IF;
	payload := TG_TABLE_NAME || ':' || lower(TG_OP) || ':' || row_id;
	PERFORM pg_notify('forge_changes', payload);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

CREATE TRIGGER forge_notify_jobs_change
	AFTER INSERT OR UPDATE OR DELETE ON forge_jobs
	FOR EACH ROW EXECUTE FUNCTION forge_notify_change();

CREATE TRIGGER forge_notify_workflow_runs_change
	AFTER INSERT OR UPDATE OR DELETE ON forge_workflow_runs
	FOR EACH ROW EXECUTE FUNCTION forge_notify_change();

CREATE OR REPLACE FUNCTION forge_notify_workflow_event() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('forge_workflow_events', NEW.event_name || ':' || NEW.correlation_id);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

CREATE TRIGGER forge_notify_workflow_event_insert
	AFTER INSERT ON forge_workflow_events
	FOR EACH ROW EXECUTE FUNCTION forge_notify_workflow_event();
`,
	},
	{
		Version: "0002",
		Name:    "observability_tables",
		SQL: `
CREATE TABLE IF NOT EXISTS forge_metrics (
	id BIGSERIAL PRIMARY KEY,
	name VARCHAR NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	labels_json JSONB,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS forge_logs (
	id BIGSERIAL PRIMARY KEY,
	level VARCHAR NOT NULL,
	message TEXT NOT NULL,
	attrs_json JSONB,
	node_id VARCHAR,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS forge_traces (
	id BIGSERIAL PRIMARY KEY,
	trace_id VARCHAR NOT NULL,
	span_name VARCHAR NOT NULL,
	duration_ms DOUBLE PRECISION NOT NULL,
	attrs_json JSONB,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS forge_metrics_recorded_idx ON forge_metrics (recorded_at);
CREATE INDEX IF NOT EXISTS forge_logs_recorded_idx ON forge_logs (recorded_at);
CREATE INDEX IF NOT EXISTS forge_traces_trace_idx ON forge_traces (trace_id);
`,
	},
}
