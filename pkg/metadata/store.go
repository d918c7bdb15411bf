// Package metadata is the dataset registry: which datasets exist, their
// last committed version and commit, validation report summaries, and
// approved subscriptions. History holds the contracts themselves; this
// store holds the queryable state around them.
package metadata

import (
	"context"
	"time"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

// DatasetRow is the registry entry for one dataset.
type DatasetRow struct {
	Name        string
	LastVersion string
	LastCommit  string
	RiskLevel   string
	Status      string
	UpdatedAt   time.Time
}

// ReportRow is a validation report summary kept for audit listing.
// Reports never enter history; this table is their only record.
type ReportRow struct {
	Dataset      string
	Version      string
	Strategy     string
	Status       string
	Degraded     bool
	DegradedFrom string
	Critical     int
	Warnings     int
	Info         int
	CreatedAt    time.Time
}

// SubscriptionRow records an approved consumer subscription.
type SubscriptionRow struct {
	Dataset    string
	Consumer   string
	Status     string
	ApprovedAt time.Time
}

// Store is the registry abstraction. Get* methods return (nil, nil) for
// absent rows; callers that need an error translate to not_found.
type Store interface {
	UpsertDataset(ctx context.Context, row DatasetRow) error
	GetDataset(ctx context.Context, name string) (*DatasetRow, error)
	ListDatasets(ctx context.Context) ([]DatasetRow, error)

	RecordReport(ctx context.Context, row ReportRow) error
	ListReports(ctx context.Context, dataset string, limit int) ([]ReportRow, error)

	UpsertSubscription(ctx context.Context, row SubscriptionRow) error
	GetSubscription(ctx context.Context, dataset, consumer string) (*SubscriptionRow, error)

	Close() error
}

func storeErr(op string, err error) error {
	return contracts.NewError(contracts.KindMetadataIO, "", "", op, err)
}
