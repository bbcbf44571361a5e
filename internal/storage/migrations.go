package storage

type migration struct {
	version int
	sql     string
}

// migrations are applied in order on open. Statements use the subset of SQL
// shared by SQLite and PostgreSQL.
var migrations = []migration{
	{
		version: 1,
		sql: `CREATE TABLE IF NOT EXISTS anomaly_events (
	id              TEXT PRIMARY KEY,
	ts              BIGINT NOT NULL,
	metric_type     TEXT NOT NULL,
	anomaly_type    TEXT NOT NULL,
	severity        TEXT NOT NULL,
	value           DOUBLE PRECISION NOT NULL,
	baseline        DOUBLE PRECISION NOT NULL,
	std_dev         DOUBLE PRECISION NOT NULL,
	z_score         DOUBLE PRECISION NOT NULL,
	threshold       DOUBLE PRECISION NOT NULL,
	message         TEXT NOT NULL,
	correlation_id  TEXT,
	related_metrics TEXT,
	resolved        BOOLEAN NOT NULL DEFAULT FALSE,
	resolved_at     BIGINT,
	duration_ms     BIGINT
)`,
	},
	{
		version: 2,
		sql:     `CREATE INDEX IF NOT EXISTS idx_anomaly_events_ts ON anomaly_events (ts)`,
	},
	{
		version: 3,
		sql: `CREATE TABLE IF NOT EXISTS anomaly_groups (
	correlation_id  TEXT PRIMARY KEY,
	ts              BIGINT NOT NULL,
	pattern         TEXT NOT NULL,
	severity        TEXT NOT NULL,
	diagnosis       TEXT NOT NULL,
	recommendations TEXT NOT NULL,
	member_ids      TEXT NOT NULL
)`,
	},
	{
		version: 4,
		sql:     `CREATE INDEX IF NOT EXISTS idx_anomaly_groups_ts ON anomaly_groups (ts)`,
	},
}
