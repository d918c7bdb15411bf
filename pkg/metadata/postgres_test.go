package metadata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

func mockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestPostgresUpsertDataset(t *testing.T) {
	s, mock := mockPostgres(t)
	now := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO datasets`).
		WithArgs("orders", "1.1.0", "abc789", "medium", "warning", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertDataset(context.Background(), DatasetRow{
		Name: "orders", LastVersion: "1.1.0", LastCommit: "abc789",
		RiskLevel: "medium", Status: "warning", UpdatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetDataset(t *testing.T) {
	s, mock := mockPostgres(t)
	now := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT name, last_version, last_commit, risk_level, status, updated_at`).
		WithArgs("orders").
		WillReturnRows(sqlmock.NewRows(
			[]string{"name", "last_version", "last_commit", "risk_level", "status", "updated_at"}).
			AddRow("orders", "1.1.0", "abc789", "medium", "warning", now))

	got, err := s.GetDataset(context.Background(), "orders")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "1.1.0", got.LastVersion)
	require.Equal(t, now, got.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetDatasetAbsent(t *testing.T) {
	s, mock := mockPostgres(t)

	mock.ExpectQuery(`SELECT name, last_version`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(
			[]string{"name", "last_version", "last_commit", "risk_level", "status", "updated_at"}))

	got, err := s.GetDataset(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresErrorsWrapAsMetadataIO(t *testing.T) {
	s, mock := mockPostgres(t)

	mock.ExpectExec(`INSERT INTO reports`).
		WillReturnError(errors.New("connection reset"))

	err := s.RecordReport(context.Background(), ReportRow{Dataset: "orders", Version: "1.0.0"})
	require.True(t, contracts.IsKind(err, contracts.KindMetadataIO))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListReports(t *testing.T) {
	s, mock := mockPostgres(t)
	now := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

	cols := []string{"dataset", "version", "strategy", "status", "degraded", "degraded_from",
		"critical", "warnings", "info", "created_at"}
	mock.ExpectQuery(`SELECT dataset, version, strategy, status`).
		WithArgs("orders", 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("orders", "1.1.0", "balanced", "warning", true, "thorough", 0, 2, 1, now).
			AddRow("orders", "1.0.0", "fast", "passed", false, "", 0, 0, 0, now.Add(-time.Hour)))

	reports, err := s.ListReports(context.Background(), "orders", 2)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	require.True(t, reports[0].Degraded)
	require.Equal(t, "thorough", reports[0].DegradedFrom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSubscriptionRoundTrip(t *testing.T) {
	s, mock := mockPostgres(t)
	now := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO subscriptions`).
		WithArgs("orders", "crm", "approved", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT dataset, consumer, status, approved_at`).
		WithArgs("orders", "crm").
		WillReturnRows(sqlmock.NewRows([]string{"dataset", "consumer", "status", "approved_at"}).
			AddRow("orders", "crm", "approved", now))

	ctx := context.Background()
	require.NoError(t, s.UpsertSubscription(ctx, SubscriptionRow{
		Dataset: "orders", Consumer: "crm", Status: "approved", ApprovedAt: now,
	}))
	sub, err := s.GetSubscription(ctx, "orders", "crm")
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.Equal(t, "approved", sub.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
