// Package orchestrator decides how much evaluation a contract gets and
// drives the engine tiers. Strategy selection is risk-aware: hotter
// contracts buy more semantic coverage, cold ones settle for the rule
// tier and return fast.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/datapact-labs/datapact/pkg/analyzer"
	"github.com/datapact-labs/datapact/pkg/contracts"
	"github.com/datapact-labs/datapact/pkg/engine"
	"github.com/datapact-labs/datapact/pkg/engine/rule"
	"github.com/datapact-labs/datapact/pkg/engine/semantic"
	"github.com/datapact-labs/datapact/pkg/policy"
)

// Request is one validation to run. An empty Strategy means ADAPTIVE.
type Request struct {
	Contract    *contracts.Contract
	Predecessor *contracts.Contract
	Strategy    contracts.Strategy
}

// Orchestrator owns strategy resolution and tier coordination. The
// semantic evaluator may be nil when no backend is configured; every
// strategy then degrades to the rule tier.
type Orchestrator struct {
	catalog  *policy.Catalog
	rules    *rule.Evaluator
	semantic *semantic.Evaluator
	log      *slog.Logger
	now      func() time.Time
}

func New(catalog *policy.Catalog, rules *rule.Evaluator, sem *semantic.Evaluator, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default().With("component", "orchestrator")
	}
	return &Orchestrator{
		catalog:  catalog,
		rules:    rules,
		semantic: sem,
		log:      logger,
		now:      time.Now,
	}
}

// Validate runs the policy corpus against the contract under the requested
// strategy and assembles the report. Degradation (semantic backend down)
// and deadline cuts are recorded in the report metadata, never surfaced as
// errors; only invalid requests and internal rule-tier failures error out.
func (o *Orchestrator) Validate(ctx context.Context, req Request) (*contracts.ValidationReport, error) {
	if req.Contract == nil {
		return nil, contracts.Errorf(contracts.KindInvalidContract, "no contract to validate")
	}
	requested := req.Strategy
	if requested == "" {
		requested = contracts.StrategyAdaptive
	}
	if !requested.Valid() {
		return nil, contracts.Errorf(contracts.KindInvalidContract, "unknown strategy %q", req.Strategy)
	}

	start := o.now()
	snap := o.catalog.Snapshot()
	analysis := analyzer.Analyze(req.Contract)

	planned := resolve(requested, analysis)
	reasoning := planReasoning(requested, planned, analysis)

	in := engine.Input{Contract: req.Contract, Predecessor: req.Predecessor}

	var deadlineCut bool
	ruleFindings, err := o.rules.Evaluate(ctx, snap, in)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			deadlineCut = true
		} else {
			return nil, err
		}
	}

	executed := planned
	var degradedFrom contracts.Strategy
	var semFindings []contracts.Finding
	var attempted []string
	failures := 0

	if !deadlineCut && planned != contracts.StrategyFast {
		ids := semanticSelection(planned, analysis)
		out, semErr := o.runSemantic(ctx, snap, in, ids)
		switch {
		case semErr == nil:
			semFindings, attempted, failures = out.Findings, out.Attempted, out.Failures
		case contracts.IsKind(semErr, contracts.KindSemanticUnavailable):
			executed = contracts.StrategyFast
			degradedFrom = planned
			reasoning += "; semantic backend unavailable, degraded to FAST"
			o.log.Warn("semantic tier unavailable, running rule tier only",
				"dataset", req.Contract.Dataset, "planned", planned)
		case errors.Is(semErr, context.DeadlineExceeded) || errors.Is(semErr, context.Canceled):
			deadlineCut = true
			if out != nil {
				semFindings, attempted, failures = out.Findings, out.Attempted, out.Failures
			}
		default:
			return nil, semErr
		}
	}

	merged := engine.Merge(ruleFindings, semFindings)
	status := contracts.ComputeStatus(merged)
	if deadlineCut && status == contracts.StatusPassed {
		// An interrupted run cannot vouch for the contract.
		status = contracts.StatusWarning
	}

	engines := []string{o.rules.Name()}
	if len(attempted) > 0 {
		engines = append(engines, "semantic")
	}
	evaluated := len(snap.Rules()) + len(attempted)

	report := &contracts.ValidationReport{
		ID:          uuid.New().String(),
		Dataset:     req.Contract.Dataset,
		Version:     req.Contract.Version,
		Fingerprint: req.Contract.Fingerprint,
		Status:      status,
		Findings:    merged,
		Counts:      contracts.CountFindings(merged, evaluated),
		Meta: contracts.Meta{
			StrategyRequested: requested,
			StrategyExecuted:  executed,
			DegradedFrom:      degradedFrom,
			RiskLevel:         analysis.RiskLevel,
			ComplexityScore:   analysis.ComplexityScore,
			EnginesUsed:       engines,
			SemanticPolicies:  attempted,
			SemanticFailures:  failures,
			Reasoning:         reasoning,
			DeadlineExceeded:  deadlineCut,
			Elapsed:           o.now().Sub(start),
			CatalogVersion:    snap.Version(),
		},
		GeneratedAt: o.now().UTC(),
	}

	o.log.Info("validation finished",
		"dataset", req.Contract.Dataset,
		"status", report.Status,
		"strategy", executed,
		"findings", len(merged),
		"elapsed", report.Meta.Elapsed)
	return report, nil
}

// runSemantic hides the nil-evaluator case behind the same unavailability
// signal a dead backend produces.
func (o *Orchestrator) runSemantic(ctx context.Context, snap *policy.Snapshot, in engine.Input, ids []string) (*semantic.Outcome, error) {
	if o.semantic == nil {
		return nil, contracts.NewError(contracts.KindSemanticUnavailable,
			in.Contract.Dataset, in.Contract.Version, "no semantic backend configured", nil)
	}
	if ids != nil && len(ids) == 0 {
		// BALANCED selected nothing; not a degradation.
		return &semantic.Outcome{}, nil
	}
	in.PolicyIDs = ids
	return o.semantic.Run(ctx, snap, in)
}

// resolve turns ADAPTIVE into a concrete strategy. Explicit strategies
// pass through.
func resolve(requested contracts.Strategy, a analyzer.Analysis) contracts.Strategy {
	if requested != contracts.StrategyAdaptive {
		return requested
	}
	switch {
	case a.RiskLevel == contracts.RiskCritical || a.RiskLevel == contracts.RiskHigh:
		return contracts.StrategyThorough
	case a.RiskLevel == contracts.RiskLow && a.ComplexityScore < 30:
		return contracts.StrategyFast
	default:
		return contracts.StrategyBalanced
	}
}

// semanticSelection returns the policy IDs the strategy wants from the
// semantic tier: nil for all of them (THOROUGH), a possibly-empty subset
// for BALANCED.
func semanticSelection(planned contracts.Strategy, a analyzer.Analysis) []string {
	if planned != contracts.StrategyBalanced {
		return nil
	}
	picked := make(map[string]bool, 4)
	if a.HasPII || a.SensitiveNameHints {
		picked["SEM001"] = true // contextual PII detection
	}
	if a.ComplianceTagCount >= 1 {
		picked["SEM004"] = true // compliance-tag intent
	}
	if a.ComplexityScore >= 50 {
		picked["SEM002"] = true // business-logic consistency
	}
	if a.HasPII || a.Classification == contracts.ClassConfidential || a.Classification == contracts.ClassRestricted {
		picked["SEM003"] = true // security patterns
	}
	ids := make([]string, 0, len(picked))
	for id := range picked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func planReasoning(requested, planned contracts.Strategy, a analyzer.Analysis) string {
	if requested != contracts.StrategyAdaptive {
		return fmt.Sprintf("strategy %s requested explicitly", requested)
	}
	return fmt.Sprintf("risk=%s complexity=%.1f: adaptive selected %s", a.RiskLevel, a.ComplexityScore, planned)
}
