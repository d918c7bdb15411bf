package metadata

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is the embedded single-node registry. The schema is created on
// open; WAL keeps readers unblocked during upserts.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the registry at path. ":memory:" works
// for throwaway stores.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storeErr("opening sqlite registry", err)
	}
	// modernc's driver is not safe for concurrent writes over one connection pool >1.
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

var _ Store = (*SQLite)(nil)

func (s *SQLite) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS datasets (
			name TEXT PRIMARY KEY,
			last_version TEXT NOT NULL,
			last_commit TEXT NOT NULL,
			risk_level TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dataset TEXT NOT NULL,
			version TEXT NOT NULL,
			strategy TEXT NOT NULL,
			status TEXT NOT NULL,
			degraded INTEGER NOT NULL DEFAULT 0,
			degraded_from TEXT NOT NULL DEFAULT '',
			critical INTEGER NOT NULL DEFAULT 0,
			warnings INTEGER NOT NULL DEFAULT 0,
			info INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS reports_dataset ON reports(dataset, id DESC);`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			dataset TEXT NOT NULL,
			consumer TEXT NOT NULL,
			status TEXT NOT NULL,
			approved_at DATETIME NOT NULL,
			PRIMARY KEY (dataset, consumer)
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return storeErr("migrating sqlite registry", err)
		}
	}
	return nil
}

func (s *SQLite) UpsertDataset(ctx context.Context, row DatasetRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO datasets (name, last_version, last_commit, risk_level, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			last_version = excluded.last_version,
			last_commit = excluded.last_commit,
			risk_level = excluded.risk_level,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		row.Name, row.LastVersion, row.LastCommit, row.RiskLevel, row.Status,
		row.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return storeErr("upserting dataset row", err)
	}
	return nil
}

func (s *SQLite) GetDataset(ctx context.Context, name string) (*DatasetRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, last_version, last_commit, risk_level, status, updated_at
		FROM datasets WHERE name = ?`, name)
	return scanDataset(row)
}

func (s *SQLite) ListDatasets(ctx context.Context) ([]DatasetRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, last_version, last_commit, risk_level, status, updated_at
		FROM datasets ORDER BY name`)
	if err != nil {
		return nil, storeErr("listing datasets", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DatasetRow
	for rows.Next() {
		var d DatasetRow
		var updated string
		if err := rows.Scan(&d.Name, &d.LastVersion, &d.LastCommit, &d.RiskLevel, &d.Status, &updated); err != nil {
			return nil, storeErr("scanning dataset row", err)
		}
		d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("listing datasets", err)
	}
	return out, nil
}

func (s *SQLite) RecordReport(ctx context.Context, row ReportRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (dataset, version, strategy, status, degraded, degraded_from, critical, warnings, info, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Dataset, row.Version, row.Strategy, row.Status, boolInt(row.Degraded), row.DegradedFrom,
		row.Critical, row.Warnings, row.Info, row.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return storeErr("recording report row", err)
	}
	return nil
}

func (s *SQLite) ListReports(ctx context.Context, dataset string, limit int) ([]ReportRow, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT dataset, version, strategy, status, degraded, degraded_from, critical, warnings, info, created_at
		FROM reports WHERE dataset = ? ORDER BY id DESC LIMIT ?`, dataset, limit)
	if err != nil {
		return nil, storeErr("listing reports", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ReportRow
	for rows.Next() {
		var r ReportRow
		var degraded int
		var created string
		if err := rows.Scan(&r.Dataset, &r.Version, &r.Strategy, &r.Status, &degraded, &r.DegradedFrom,
			&r.Critical, &r.Warnings, &r.Info, &created); err != nil {
			return nil, storeErr("scanning report row", err)
		}
		r.Degraded = degraded != 0
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("listing reports", err)
	}
	return out, nil
}

func (s *SQLite) UpsertSubscription(ctx context.Context, row SubscriptionRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (dataset, consumer, status, approved_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (dataset, consumer) DO UPDATE SET
			status = excluded.status,
			approved_at = excluded.approved_at`,
		row.Dataset, row.Consumer, row.Status, row.ApprovedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return storeErr("upserting subscription row", err)
	}
	return nil
}

func (s *SQLite) GetSubscription(ctx context.Context, dataset, consumer string) (*SubscriptionRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT dataset, consumer, status, approved_at
		FROM subscriptions WHERE dataset = ? AND consumer = ?`, dataset, consumer)

	var sub SubscriptionRow
	var approved string
	err := row.Scan(&sub.Dataset, &sub.Consumer, &sub.Status, &approved)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("reading subscription row", err)
	}
	sub.ApprovedAt, _ = time.Parse(time.RFC3339Nano, approved)
	return &sub, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func scanDataset(row *sql.Row) (*DatasetRow, error) {
	var d DatasetRow
	var updated string
	err := row.Scan(&d.Name, &d.LastVersion, &d.LastCommit, &d.RiskLevel, &d.Status, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("reading dataset row", err)
	}
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &d, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
