// Package service coordinates the full contract lifecycle: build a
// candidate from raw input, validate it against the policy corpus, gate
// the commit on the verdict, and record the published version in history,
// registry, and archive mirror.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/datapact-labs/datapact/pkg/archive"
	"github.com/datapact-labs/datapact/pkg/builder"
	"github.com/datapact-labs/datapact/pkg/contracts"
	"github.com/datapact-labs/datapact/pkg/history"
	"github.com/datapact-labs/datapact/pkg/metadata"
	"github.com/datapact-labs/datapact/pkg/observability"
	"github.com/datapact-labs/datapact/pkg/orchestrator"
	"github.com/datapact-labs/datapact/pkg/render"
)

// commitAttempts bounds CAS retries when the head moves under a commit.
const commitAttempts = 3

// Submission is one raw contract document to publish.
type Submission struct {
	Raw      []byte
	Format   builder.Format
	Strategy contracts.Strategy
	Author   string
	// Deadline bounds the validation run. Zero means no deadline.
	Deadline time.Duration
}

// Result is the outcome of a submission. Report is present whenever
// validation ran, committed or not.
type Result struct {
	Contract  *contracts.Contract
	Report    *contracts.ValidationReport
	Committed bool
	CommitID  string
	Version   string
	Change    builder.Change
}

// Service is the coordinator. All fields are required except Telemetry.
type Service struct {
	orch      *orchestrator.Orchestrator
	history   history.Store
	meta      metadata.Store
	mirror    archive.Store
	telemetry *observability.Provider
	log       *slog.Logger
	now       func() time.Time

	// datasets serializes submissions per dataset so the
	// read-predecessor / commit window stays consistent in-process.
	dsMu     sync.Mutex
	datasets map[string]*sync.Mutex
}

// Options wires a Service.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	History      history.Store
	Metadata     metadata.Store
	Archive      archive.Store
	Telemetry    *observability.Provider
	Logger       *slog.Logger
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "service")
	}
	mirror := opts.Archive
	if mirror == nil {
		mirror = archive.Discard{}
	}
	return &Service{
		orch:      opts.Orchestrator,
		history:   opts.History,
		meta:      opts.Metadata,
		mirror:    mirror,
		telemetry: opts.Telemetry,
		log:       logger,
		now:       time.Now,
		datasets:  make(map[string]*sync.Mutex),
	}
}

// CreateOrUpdateContract publishes a contract revision. The submission is
// built, validated against the latest committed predecessor, and committed
// only when the report neither failed nor was cut by the deadline.
func (s *Service) CreateOrUpdateContract(ctx context.Context, sub Submission) (*Result, error) {
	candidate, err := builder.Build(sub.Raw, sub.Format)
	if err != nil {
		s.countError(ctx, err)
		return nil, err
	}

	unlock := s.lockDataset(candidate.Dataset)
	defer unlock()

	predecessor, err := s.loadPredecessor(ctx, candidate.Dataset)
	if err != nil {
		s.countError(ctx, err)
		return nil, err
	}
	return s.publish(ctx, candidate, predecessor, sub.Strategy, sub.Author, sub.Deadline)
}

// publish validates a built candidate against its predecessor and commits
// it when the verdict allows. The caller holds the dataset lock.
func (s *Service) publish(ctx context.Context, candidate, predecessor *contracts.Contract,
	strategy contracts.Strategy, author string, deadline time.Duration) (*Result, error) {
	vctx := ctx
	if deadline > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	start := s.now()
	report, err := s.orch.Validate(vctx, orchestrator.Request{
		Contract:    candidate,
		Predecessor: predecessor,
		Strategy:    strategy,
	})
	if err != nil {
		s.countError(ctx, err)
		return nil, err
	}
	s.recordValidation(ctx, report, s.now().Sub(start))
	s.recordReportRow(ctx, report)

	result := &Result{Contract: candidate, Report: report}

	if report.Meta.DeadlineExceeded {
		err := contracts.NewError(contracts.KindDeadlineExceeded,
			candidate.Dataset, candidate.Version,
			"validation cut short by deadline; contract not committed", nil)
		s.countError(ctx, err)
		return result, err
	}
	if report.Status == contracts.StatusFailed {
		err := contracts.NewError(contracts.KindValidationFailed,
			candidate.Dataset, candidate.Version,
			fmt.Sprintf("%d critical finding(s)", report.Counts.Failures), nil)
		s.countError(ctx, err)
		return result, err
	}

	version, change, err := builder.AssignVersion(predecessor, candidate)
	if err != nil {
		s.countError(ctx, err)
		return result, err
	}
	candidate.Version = version
	result.Version = version
	result.Change = change

	commit, err := s.commitContract(ctx, candidate, change, author)
	if err != nil {
		s.countError(ctx, err)
		return result, err
	}
	result.Committed = true
	result.CommitID = commit.ID
	if s.telemetry != nil {
		s.telemetry.RecordCommit(ctx, string(change.Kind))
	}

	s.recordDatasetRow(ctx, candidate, report, commit)
	s.mirrorCommit(ctx, candidate, commit)

	s.log.Info("contract published",
		"dataset", candidate.Dataset,
		"version", version,
		"change", change.Kind,
		"commit", commit.Short(),
		"status", report.Status)
	return result, nil
}

// loadPredecessor resolves the dataset's latest committed contract via the
// registry row, falling back to nothing for first publications. A registry
// row whose ref vanished from history is a store inconsistency and errors.
func (s *Service) loadPredecessor(ctx context.Context, dataset string) (*contracts.Contract, error) {
	row, err := s.meta.GetDataset(ctx, dataset)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	blob, _, err := s.history.RefRead(ctx, history.RefName(dataset, row.LastVersion))
	if err != nil {
		return nil, contracts.NewError(contracts.KindHistoryIO, dataset, row.LastVersion,
			"registry points at a missing history ref", err)
	}
	predecessor, _, err := render.ParseText(blob)
	if err != nil {
		return nil, contracts.NewError(contracts.KindHistoryIO, dataset, row.LastVersion,
			"committed contract no longer parses", err)
	}
	return predecessor, nil
}

// commitContract renders both forms, stages them, and commits under a
// head CAS. A moved head (another dataset publishing concurrently) retries
// with a re-read head; staged blobs are discarded when the commit loses.
func (s *Service) commitContract(ctx context.Context, c *contracts.Contract, change builder.Change, author string) (*history.Commit, error) {
	text, err := render.Text(c, s.now())
	if err != nil {
		return nil, err
	}
	canon, err := render.Canonical(c)
	if err != nil {
		return nil, err
	}

	textID, err := s.history.Put(ctx, text)
	if err != nil {
		return nil, err
	}
	structID, err := s.history.Put(ctx, canon)
	if err != nil {
		s.discard(ctx, textID)
		return nil, err
	}

	refText := history.RefName(c.Dataset, c.Version)
	in := history.CommitInput{
		Refs: map[string]string{
			refText:                       textID,
			refText + history.StructSuffix: structID,
		},
		Message: fmt.Sprintf("publish %s v%s (%s)", c.Dataset, c.Version, builder.Summary(change)),
		Author:  author,
	}

	var commit *history.Commit
	for attempt := 0; attempt < commitAttempts; attempt++ {
		head, err := s.history.Head(ctx)
		if err != nil {
			s.discard(ctx, textID, structID)
			return nil, err
		}
		in.ExpectedHead = &head
		commit, err = s.history.Commit(ctx, in)
		if err == nil {
			return commit, nil
		}
		if !contracts.IsKind(err, contracts.KindHistoryConflict) || attempt == commitAttempts-1 {
			s.discard(ctx, textID, structID)
			return nil, err
		}
		s.log.Warn("head moved during commit, retrying",
			"dataset", c.Dataset, "attempt", attempt+1)
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	s.discard(ctx, textID, structID)
	return nil, contracts.Errorf(contracts.KindHistoryConflict,
		"commit of %s lost the head race %d times", c.Dataset, commitAttempts)
}

func (s *Service) discard(ctx context.Context, ids ...string) {
	for _, id := range ids {
		if err := s.history.Discard(ctx, id); err != nil {
			s.log.Warn("staged blob cleanup failed", "object", id, "error", err)
		}
	}
}

// recordDatasetRow updates the registry after a successful commit. History
// already holds the truth, so a registry failure is logged and swallowed;
// the row converges on the next publication.
func (s *Service) recordDatasetRow(ctx context.Context, c *contracts.Contract, report *contracts.ValidationReport, commit *history.Commit) {
	err := s.meta.UpsertDataset(ctx, metadata.DatasetRow{
		Name:        c.Dataset,
		LastVersion: c.Version,
		LastCommit:  commit.ID,
		RiskLevel:   string(report.Meta.RiskLevel),
		Status:      string(report.Status),
		UpdatedAt:   s.now().UTC(),
	})
	if err != nil {
		s.log.Warn("registry update failed after commit",
			"dataset", c.Dataset, "version", c.Version, "error", err)
	}
}

// recordReportRow files the report summary for audit listing. Reports are
// never written to history.
func (s *Service) recordReportRow(ctx context.Context, report *contracts.ValidationReport) {
	err := s.meta.RecordReport(ctx, metadata.ReportRow{
		Dataset:      report.Dataset,
		Version:      report.Version,
		Strategy:     string(report.Meta.StrategyExecuted),
		Status:       string(report.Status),
		Degraded:     report.Meta.DegradedFrom != "",
		DegradedFrom: string(report.Meta.DegradedFrom),
		Critical:     report.Counts.Failures,
		Warnings:     report.Counts.Warnings,
		Info:         len(report.Findings) - report.Counts.Failures - report.Counts.Warnings,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		s.log.Warn("report summary not recorded", "dataset", report.Dataset, "error", err)
	}
}

// mirrorCommit pushes the committed forms to the archive. Best-effort:
// failures warn and never unwind the commit.
func (s *Service) mirrorCommit(ctx context.Context, c *contracts.Contract, commit *history.Commit) {
	prefix := c.Dataset + "/" + c.Version + "/"

	text, err := s.history.Get(ctx, commit.Refs[history.RefName(c.Dataset, c.Version)])
	if err == nil {
		s.mirrorOne(ctx, prefix+"contract.txt", text)
	}
	canon, err := s.history.Get(ctx, commit.Refs[history.RefName(c.Dataset, c.Version)+history.StructSuffix])
	if err == nil {
		s.mirrorOne(ctx, prefix+"contract.json", canon)
	}
	record, err := json.Marshal(commit)
	if err == nil {
		s.mirrorOne(ctx, prefix+"commit.json", record)
	}
}

func (s *Service) mirrorOne(ctx context.Context, key string, data []byte) {
	if err := s.mirror.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		s.log.Warn("archive mirror failed", "key", key, "error", err)
	}
}

func (s *Service) lockDataset(name string) func() {
	s.dsMu.Lock()
	mu, ok := s.datasets[name]
	if !ok {
		mu = &sync.Mutex{}
		s.datasets[name] = mu
	}
	s.dsMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (s *Service) recordValidation(ctx context.Context, report *contracts.ValidationReport, took time.Duration) {
	if s.telemetry == nil {
		return
	}
	s.telemetry.RecordValidation(ctx,
		string(report.Meta.StrategyExecuted),
		string(report.Status),
		report.Meta.DegradedFrom != "",
		took)
}

func (s *Service) countError(ctx context.Context, err error) {
	if s.telemetry == nil {
		return
	}
	if kind := contracts.KindOf(err); kind != "" {
		s.telemetry.RecordErrorKind(ctx, string(kind))
	}
}
