package service

import (
	"context"

	"github.com/datapact-labs/datapact/pkg/contracts"
	"github.com/datapact-labs/datapact/pkg/history"
	"github.com/datapact-labs/datapact/pkg/metadata"
	"github.com/datapact-labs/datapact/pkg/render"
)

// ApproveSubscription publishes a successor revision carrying the approved
// SLA: the latest committed contract plus the consumer's agreement, pushed
// through the same validate-version-commit pipeline as any other
// submission. Adding a consumer is an additive change, so the successor
// lands one minor version up. The registry subscription row is a side
// record of the approval, written once the commit holds.
func (s *Service) ApproveSubscription(ctx context.Context, dataset string, sla contracts.SubscriptionSLA) (*Result, error) {
	if sla.Consumer == "" {
		err := contracts.NewError(contracts.KindInvalidContract, dataset, "",
			"subscription approval names no consumer", nil)
		s.countError(ctx, err)
		return nil, err
	}

	unlock := s.lockDataset(dataset)
	defer unlock()

	predecessor, err := s.loadPredecessor(ctx, dataset)
	if err != nil {
		s.countError(ctx, err)
		return nil, err
	}
	if predecessor == nil {
		err := contracts.NewError(contracts.KindNotFound, dataset, "",
			"dataset not registered", nil)
		s.countError(ctx, err)
		return nil, err
	}

	candidate := predecessor.Clone()
	candidate.Version = "" // the successor's version is assigned after validation
	if existing := candidate.Subscription(sla.Consumer); existing != nil {
		*existing = sla
	} else {
		candidate.Subscriptions = append(candidate.Subscriptions, sla)
	}
	candidate.Normalize()
	if err := candidate.Validate(); err != nil {
		s.countError(ctx, err)
		return nil, err
	}
	candidate.Fingerprint = contracts.SchemaFingerprint(candidate)

	res, err := s.publish(ctx, candidate, predecessor, contracts.StrategyAdaptive, "", 0)
	if err != nil {
		return res, err
	}

	row := metadata.SubscriptionRow{
		Dataset:    dataset,
		Consumer:   sla.Consumer,
		Status:     "approved",
		ApprovedAt: s.now().UTC(),
	}
	if err := s.meta.UpsertSubscription(ctx, row); err != nil {
		s.log.Warn("subscription row not recorded after commit",
			"dataset", dataset, "consumer", sla.Consumer, "error", err)
	}
	s.log.Info("subscription approved",
		"dataset", dataset, "consumer", sla.Consumer, "version", res.Version)
	return res, nil
}

// GetContract loads a committed contract. An empty version resolves to
// the dataset's latest published version.
func (s *Service) GetContract(ctx context.Context, dataset, version string) (*contracts.Contract, *history.Commit, error) {
	if version == "" {
		row, err := s.meta.GetDataset(ctx, dataset)
		if err != nil {
			return nil, nil, err
		}
		if row == nil {
			return nil, nil, contracts.NewError(contracts.KindNotFound, dataset, "",
				"dataset not registered", nil)
		}
		version = row.LastVersion
	}
	blob, commit, err := s.history.RefRead(ctx, history.RefName(dataset, version))
	if err != nil {
		return nil, nil, err
	}
	contract, _, err := render.ParseText(blob)
	if err != nil {
		return nil, nil, contracts.NewError(contracts.KindHistoryIO, dataset, version,
			"committed contract no longer parses", err)
	}
	return contract, commit, nil
}

// History exposes the underlying store for log/diff/tag passthrough.
func (s *Service) History() history.Store { return s.history }

// ListDatasets lists registered datasets.
func (s *Service) ListDatasets(ctx context.Context) ([]metadata.DatasetRow, error) {
	return s.meta.ListDatasets(ctx)
}

// ListReports lists a dataset's validation report summaries, newest first.
func (s *Service) ListReports(ctx context.Context, dataset string, limit int) ([]metadata.ReportRow, error) {
	return s.meta.ListReports(ctx, dataset, limit)
}
