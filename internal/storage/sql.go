package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/betterdb/anomaly-engine/internal/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// SQLStore persists events and groups through database/sql. SQLite (pure Go)
// and PostgreSQL are supported.
type SQLStore struct {
	db *sqlx.DB
}

type eventRow struct {
	ID             string         `db:"id"`
	Timestamp      int64          `db:"ts"`
	MetricType     string         `db:"metric_type"`
	AnomalyType    string         `db:"anomaly_type"`
	Severity       string         `db:"severity"`
	Value          float64        `db:"value"`
	Baseline       float64        `db:"baseline"`
	StdDev         float64        `db:"std_dev"`
	ZScore         float64        `db:"z_score"`
	Threshold      float64        `db:"threshold"`
	Message        string         `db:"message"`
	CorrelationID  sql.NullString `db:"correlation_id"`
	RelatedMetrics sql.NullString `db:"related_metrics"`
	Resolved       bool           `db:"resolved"`
	ResolvedAt     sql.NullInt64  `db:"resolved_at"`
	DurationMs     sql.NullInt64  `db:"duration_ms"`
}

type groupRow struct {
	CorrelationID   string `db:"correlation_id"`
	Timestamp       int64  `db:"ts"`
	Pattern         string `db:"pattern"`
	Severity        string `db:"severity"`
	Diagnosis       string `db:"diagnosis"`
	Recommendations string `db:"recommendations"`
	MemberIDs       string `db:"member_ids"`
}

const eventColumns = `id, ts, metric_type, anomaly_type, severity, value, baseline, std_dev, z_score, threshold,
	message, correlation_id, related_metrics, resolved, resolved_at, duration_ms`

const groupColumns = `correlation_id, ts, pattern, severity, diagnosis, recommendations, member_ids`

// NewSQLStore opens the database, verifies connectivity and applies pending
// migrations.
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// A single writer avoids SQLITE_BUSY between the monitor and readers.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	s := &SQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_versions (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}
	for _, m := range migrations {
		var count int
		if err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`), m.version); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO schema_versions (version) VALUES (?)`), m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *SQLStore) SaveEvents(ctx context.Context, events []models.AnomalyEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]eventRow, 0, len(events))
	for _, ev := range events {
		row, err := toEventRow(ev)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	query := `INSERT INTO anomaly_events (` + eventColumns + `)
	VALUES (:id, :ts, :metric_type, :anomaly_type, :severity, :value, :baseline, :std_dev, :z_score, :threshold,
		:message, :correlation_id, :related_metrics, :resolved, :resolved_at, :duration_ms)
	ON CONFLICT (id) DO UPDATE SET
		severity = excluded.severity,
		value = excluded.value,
		message = excluded.message,
		correlation_id = excluded.correlation_id,
		related_metrics = excluded.related_metrics,
		resolved = excluded.resolved,
		resolved_at = excluded.resolved_at,
		duration_ms = excluded.duration_ms`

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, row := range rows {
			if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
				return fmt.Errorf("insert event %s: %w", row.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) SaveGroups(ctx context.Context, groups []models.CorrelatedAnomalyGroup) error {
	if len(groups) == 0 {
		return nil
	}
	insertGroup := `INSERT INTO anomaly_groups (` + groupColumns + `)
	VALUES (:correlation_id, :ts, :pattern, :severity, :diagnosis, :recommendations, :member_ids)
	ON CONFLICT (correlation_id) DO NOTHING`
	stampMember := s.db.Rebind(`UPDATE anomaly_events SET correlation_id = ?, related_metrics = ? WHERE id = ?`)

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, g := range groups {
			row, err := toGroupRow(g)
			if err != nil {
				return err
			}
			if _, err := tx.NamedExecContext(ctx, insertGroup, row); err != nil {
				return fmt.Errorf("insert group %s: %w", g.CorrelationID, err)
			}
			for _, member := range g.Anomalies {
				related, err := encodeRelated(member.RelatedMetrics)
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, stampMember, member.CorrelationID, related, member.ID); err != nil {
					return fmt.Errorf("stamp event %s: %w", member.ID, err)
				}
			}
		}
		return nil
	})
}

func (s *SQLStore) ResolveEvents(ctx context.Context, ids []string, resolvedAt int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`UPDATE anomaly_events
	SET resolved = ?, resolved_at = ?, duration_ms = CASE WHEN ? > ts THEN ? - ts ELSE 0 END
	WHERE resolved = ? AND id IN (?)`, true, resolvedAt, resolvedAt, resolvedAt, false, ids)
	if err != nil {
		return 0, fmt.Errorf("build resolve query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("resolve events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("resolve events: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) GetGroup(ctx context.Context, correlationID string) (models.CorrelatedAnomalyGroup, error) {
	var row groupRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+groupColumns+` FROM anomaly_groups WHERE correlation_id = ?`), correlationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CorrelatedAnomalyGroup{}, ErrNotFound
	}
	if err != nil {
		return models.CorrelatedAnomalyGroup{}, fmt.Errorf("get group %s: %w", correlationID, err)
	}
	return s.hydrate(ctx, row)
}

func (s *SQLStore) ListEvents(ctx context.Context, q EventQuery) ([]models.AnomalyEvent, error) {
	var (
		where []string
		args  []any
	)
	if q.Since > 0 {
		where = append(where, "ts >= ?")
		args = append(args, q.Since)
	}
	if q.Until > 0 {
		where = append(where, "ts <= ?")
		args = append(args, q.Until)
	}
	if q.Metric != "" {
		where = append(where, "metric_type = ?")
		args = append(args, string(q.Metric))
	}
	if q.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(q.Severity))
	}
	if q.UnresolvedOnly {
		where = append(where, "resolved = ?")
		args = append(args, false)
	}
	query := `SELECT ` + eventColumns + ` FROM anomaly_events` + whereClause(where) + ` ORDER BY ts DESC, id LIMIT ?`
	args = append(args, normaliseLimit(q.Limit))

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return fromEventRows(rows)
}

func (s *SQLStore) ListGroups(ctx context.Context, q GroupQuery) ([]models.CorrelatedAnomalyGroup, error) {
	var (
		where []string
		args  []any
	)
	if q.Since > 0 {
		where = append(where, "ts >= ?")
		args = append(args, q.Since)
	}
	if q.Until > 0 {
		where = append(where, "ts <= ?")
		args = append(args, q.Until)
	}
	if q.Pattern != "" {
		where = append(where, "pattern = ?")
		args = append(args, string(q.Pattern))
	}
	if q.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(q.Severity))
	}
	query := `SELECT ` + groupColumns + ` FROM anomaly_groups` + whereClause(where) + ` ORDER BY ts DESC, correlation_id LIMIT ?`
	args = append(args, normaliseLimit(q.Limit))

	var rows []groupRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	out := make([]models.CorrelatedAnomalyGroup, 0, len(rows))
	for _, row := range rows {
		g, err := s.hydrate(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *SQLStore) Summary(ctx context.Context, since int64) (models.Summary, error) {
	summary := newSummary()

	var counts []struct {
		MetricType string `db:"metric_type"`
		Severity   string `db:"severity"`
		Resolved   bool   `db:"resolved"`
		Count      int    `db:"n"`
	}
	err := s.db.SelectContext(ctx, &counts, s.db.Rebind(`SELECT metric_type, severity, resolved, COUNT(*) AS n
	FROM anomaly_events WHERE ts >= ? GROUP BY metric_type, severity, resolved`), since)
	if err != nil {
		return summary, fmt.Errorf("summarise events: %w", err)
	}
	for _, c := range counts {
		summary.TotalEvents += c.Count
		if !c.Resolved {
			summary.UnresolvedCount += c.Count
		}
		summary.BySeverity[models.Severity(c.Severity)] += c.Count
		summary.ByMetric[models.MetricType(c.MetricType)] += c.Count
	}

	var patterns []struct {
		Pattern string `db:"pattern"`
		Count   int    `db:"n"`
	}
	err = s.db.SelectContext(ctx, &patterns, s.db.Rebind(`SELECT pattern, COUNT(*) AS n
	FROM anomaly_groups WHERE ts >= ? GROUP BY pattern`), since)
	if err != nil {
		return summary, fmt.Errorf("summarise groups: %w", err)
	}
	for _, p := range patterns {
		summary.ByPattern[models.AnomalyPattern(p.Pattern)] += p.Count
	}
	return summary, nil
}

func (s *SQLStore) Prune(ctx context.Context, before int64) (int, error) {
	var removed int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM anomaly_events WHERE ts < ?`), before)
		if err != nil {
			return fmt.Errorf("prune events: %w", err)
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM anomaly_groups WHERE ts < ?`), before); err != nil {
			return fmt.Errorf("prune groups: %w", err)
		}
		return nil
	})
	return int(removed), err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) inTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) hydrate(ctx context.Context, row groupRow) (models.CorrelatedAnomalyGroup, error) {
	g := models.CorrelatedAnomalyGroup{
		CorrelationID: row.CorrelationID,
		Timestamp:     row.Timestamp,
		Pattern:       models.AnomalyPattern(row.Pattern),
		Severity:      models.Severity(row.Severity),
		Diagnosis:     row.Diagnosis,
		Anomalies:     []models.AnomalyEvent{},
	}
	if err := json.Unmarshal([]byte(row.Recommendations), &g.Recommendations); err != nil {
		return g, fmt.Errorf("decode recommendations for %s: %w", row.CorrelationID, err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(row.MemberIDs), &ids); err != nil {
		return g, fmt.Errorf("decode members for %s: %w", row.CorrelationID, err)
	}
	if len(ids) == 0 {
		return g, nil
	}

	query, args, err := sqlx.In(`SELECT `+eventColumns+` FROM anomaly_events WHERE id IN (?) ORDER BY ts, id`, ids)
	if err != nil {
		return g, fmt.Errorf("build member query: %w", err)
	}
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return g, fmt.Errorf("load members for %s: %w", row.CorrelationID, err)
	}
	members, err := fromEventRows(rows)
	if err != nil {
		return g, err
	}
	g.Anomalies = members
	return g, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func toEventRow(ev models.AnomalyEvent) (eventRow, error) {
	related, err := encodeRelated(ev.RelatedMetrics)
	if err != nil {
		return eventRow{}, err
	}
	row := eventRow{
		ID:             ev.ID,
		Timestamp:      ev.Timestamp,
		MetricType:     string(ev.MetricType),
		AnomalyType:    string(ev.AnomalyType),
		Severity:       string(ev.Severity),
		Value:          ev.Value,
		Baseline:       ev.Baseline,
		StdDev:         ev.StdDev,
		ZScore:         ev.ZScore,
		Threshold:      ev.Threshold,
		Message:        ev.Message,
		CorrelationID:  sql.NullString{String: ev.CorrelationID, Valid: ev.CorrelationID != ""},
		RelatedMetrics: related,
		Resolved:       ev.Resolved,
	}
	if ev.ResolvedAt != nil {
		row.ResolvedAt = sql.NullInt64{Int64: *ev.ResolvedAt, Valid: true}
	}
	if ev.DurationMs != nil {
		row.DurationMs = sql.NullInt64{Int64: *ev.DurationMs, Valid: true}
	}
	return row, nil
}

func fromEventRows(rows []eventRow) ([]models.AnomalyEvent, error) {
	out := make([]models.AnomalyEvent, 0, len(rows))
	for _, row := range rows {
		ev := models.AnomalyEvent{
			ID:          row.ID,
			Timestamp:   row.Timestamp,
			MetricType:  models.MetricType(row.MetricType),
			AnomalyType: models.AnomalyType(row.AnomalyType),
			Severity:    models.Severity(row.Severity),
			Value:       row.Value,
			Baseline:    row.Baseline,
			StdDev:      row.StdDev,
			ZScore:      row.ZScore,
			Threshold:   row.Threshold,
			Message:     row.Message,
			Resolved:    row.Resolved,
		}
		if row.CorrelationID.Valid {
			ev.CorrelationID = row.CorrelationID.String
		}
		if row.RelatedMetrics.Valid && row.RelatedMetrics.String != "" {
			if err := json.Unmarshal([]byte(row.RelatedMetrics.String), &ev.RelatedMetrics); err != nil {
				return nil, fmt.Errorf("decode related metrics for %s: %w", row.ID, err)
			}
		}
		if row.ResolvedAt.Valid {
			v := row.ResolvedAt.Int64
			ev.ResolvedAt = &v
		}
		if row.DurationMs.Valid {
			v := row.DurationMs.Int64
			ev.DurationMs = &v
		}
		out = append(out, ev)
	}
	return out, nil
}

func toGroupRow(g models.CorrelatedAnomalyGroup) (groupRow, error) {
	recs := g.Recommendations
	if recs == nil {
		recs = []string{}
	}
	recsJSON, err := json.Marshal(recs)
	if err != nil {
		return groupRow{}, fmt.Errorf("encode recommendations: %w", err)
	}
	ids := make([]string, 0, len(g.Anomalies))
	for _, member := range g.Anomalies {
		ids = append(ids, member.ID)
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return groupRow{}, fmt.Errorf("encode member ids: %w", err)
	}
	return groupRow{
		CorrelationID:   g.CorrelationID,
		Timestamp:       g.Timestamp,
		Pattern:         string(g.Pattern),
		Severity:        string(g.Severity),
		Diagnosis:       g.Diagnosis,
		Recommendations: string(recsJSON),
		MemberIDs:       string(idsJSON),
	}, nil
}

func encodeRelated(related []models.MetricType) (sql.NullString, error) {
	if len(related) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(related)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode related metrics: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
