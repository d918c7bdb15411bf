package metadata

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
)

// Postgres is the shared multi-node registry.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects with a lib/pq DSN and migrates the schema.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, storeErr("opening postgres registry", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, storeErr("reaching postgres registry", err)
	}
	s := &Postgres{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgres wraps an existing handle. Migration is the caller's concern;
// tests use this with a mock.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

func (s *Postgres) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS datasets (
			name TEXT PRIMARY KEY,
			last_version TEXT NOT NULL,
			last_commit TEXT NOT NULL,
			risk_level TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id BIGSERIAL PRIMARY KEY,
			dataset TEXT NOT NULL,
			version TEXT NOT NULL,
			strategy TEXT NOT NULL,
			status TEXT NOT NULL,
			degraded BOOLEAN NOT NULL DEFAULT FALSE,
			degraded_from TEXT NOT NULL DEFAULT '',
			critical INTEGER NOT NULL DEFAULT 0,
			warnings INTEGER NOT NULL DEFAULT 0,
			info INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS reports_dataset ON reports(dataset, id DESC)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			dataset TEXT NOT NULL,
			consumer TEXT NOT NULL,
			status TEXT NOT NULL,
			approved_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (dataset, consumer)
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(context.Background(), q); err != nil {
			return storeErr("migrating postgres registry", err)
		}
	}
	return nil
}

func (s *Postgres) UpsertDataset(ctx context.Context, row DatasetRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO datasets (name, last_version, last_commit, risk_level, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			last_version = EXCLUDED.last_version,
			last_commit = EXCLUDED.last_commit,
			risk_level = EXCLUDED.risk_level,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		row.Name, row.LastVersion, row.LastCommit, row.RiskLevel, row.Status, row.UpdatedAt.UTC())
	if err != nil {
		return storeErr("upserting dataset row", err)
	}
	return nil
}

func (s *Postgres) GetDataset(ctx context.Context, name string) (*DatasetRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, last_version, last_commit, risk_level, status, updated_at
		FROM datasets WHERE name = $1`, name)

	var d DatasetRow
	err := row.Scan(&d.Name, &d.LastVersion, &d.LastCommit, &d.RiskLevel, &d.Status, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("reading dataset row", err)
	}
	return &d, nil
}

func (s *Postgres) ListDatasets(ctx context.Context) ([]DatasetRow, error) {
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
		if err := rows.Scan(&d.Name, &d.LastVersion, &d.LastCommit, &d.RiskLevel, &d.Status, &d.UpdatedAt); err != nil {
			return nil, storeErr("scanning dataset row", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("listing datasets", err)
	}
	return out, nil
}

func (s *Postgres) RecordReport(ctx context.Context, row ReportRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (dataset, version, strategy, status, degraded, degraded_from, critical, warnings, info, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		row.Dataset, row.Version, row.Strategy, row.Status, row.Degraded, row.DegradedFrom,
		row.Critical, row.Warnings, row.Info, row.CreatedAt.UTC())
	if err != nil {
		return storeErr("recording report row", err)
	}
	return nil
}

func (s *Postgres) ListReports(ctx context.Context, dataset string, limit int) ([]ReportRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT dataset, version, strategy, status, degraded, degraded_from, critical, warnings, info, created_at
		FROM reports WHERE dataset = $1 ORDER BY id DESC LIMIT $2`, dataset, limit)
	if err != nil {
		return nil, storeErr("listing reports", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ReportRow
	for rows.Next() {
		var r ReportRow
		if err := rows.Scan(&r.Dataset, &r.Version, &r.Strategy, &r.Status, &r.Degraded, &r.DegradedFrom,
			&r.Critical, &r.Warnings, &r.Info, &r.CreatedAt); err != nil {
			return nil, storeErr("scanning report row", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("listing reports", err)
	}
	return out, nil
}

func (s *Postgres) UpsertSubscription(ctx context.Context, row SubscriptionRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (dataset, consumer, status, approved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dataset, consumer) DO UPDATE SET
			status = EXCLUDED.status,
			approved_at = EXCLUDED.approved_at`,
		row.Dataset, row.Consumer, row.Status, row.ApprovedAt.UTC())
	if err != nil {
		return storeErr("upserting subscription row", err)
	}
	return nil
}

func (s *Postgres) GetSubscription(ctx context.Context, dataset, consumer string) (*SubscriptionRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT dataset, consumer, status, approved_at
		FROM subscriptions WHERE dataset = $1 AND consumer = $2`, dataset, consumer)

	var sub SubscriptionRow
	err := row.Scan(&sub.Dataset, &sub.Consumer, &sub.Status, &sub.ApprovedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("reading subscription row", err)
	}
	return &sub, nil
}

func (s *Postgres) Close() error { return s.db.Close() }
