package rule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/datapact-labs/datapact/pkg/contracts"
	"github.com/datapact-labs/datapact/pkg/engine"
	"github.com/datapact-labs/datapact/pkg/policy"
)

// Evaluator runs the deterministic tier. It is stateless and safe for
// concurrent use.
type Evaluator struct {
	log *slog.Logger
}

func New(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default().With("component", "rule-engine")
	}
	return &Evaluator{log: logger}
}

func (e *Evaluator) Name() string { return "rule" }

// Evaluate runs every rule policy in the snapshot against the contract.
// A defective policy (panic, expression eval error) is contained as an
// info finding; only context cancellation aborts the tier, returning the
// findings gathered so far alongside the context error.
func (e *Evaluator) Evaluate(ctx context.Context, snap *policy.Snapshot, in engine.Input) ([]contracts.Finding, error) {
	var doc, predDoc map[string]any
	var findings []contracts.Finding

	for _, p := range snap.Rules() {
		if !in.Selected(p.ID) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return findings, fmt.Errorf("rule tier interrupted: %w", err)
		}
		if p.Expression != "" && doc == nil {
			var err error
			doc, predDoc, err = documents(in)
			if err != nil {
				return findings, contracts.NewError(contracts.KindRuleInternal,
					in.Contract.Dataset, in.Contract.Version, "building expression document", err)
			}
		}
		findings = append(findings, e.runPolicy(p, in, doc, predDoc)...)
	}
	contracts.SortFindings(findings)
	return findings, nil
}

func (e *Evaluator) runPolicy(p *policy.Policy, in engine.Input, doc, predDoc map[string]any) (out []contracts.Finding) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("rule policy panicked", "policy", p.ID, "panic", r)
			out = []contracts.Finding{engineErrorFinding(p, fmt.Sprintf("policy panicked: %v", r))}
		}
	}()

	if p.Predicate != "" {
		fn, ok := predicates[p.Predicate]
		if !ok {
			// Load-time validation makes this unreachable; contain anyway.
			return []contracts.Finding{engineErrorFinding(p, fmt.Sprintf("predicate %q vanished from the vocabulary", p.Predicate))}
		}
		var found []contracts.Finding
		for _, v := range fn(Context{Contract: in.Contract, Predecessor: in.Predecessor}) {
			found = append(found, contracts.Finding{
				PolicyID:          p.ID,
				PolicyDescription: p.Description,
				Category:          p.Category,
				Severity:          p.Severity,
				Field:             v.Field,
				Message:           v.Message,
				Remediation:       p.Remediation,
				Source:            contracts.SourceRule,
				Confidence:        1.0,
			})
		}
		return found
	}

	// An untyped nil binds the predecessor variable to CEL null; a typed
	// nil map would surface as an empty map instead.
	var pred any
	if predDoc != nil {
		pred = predDoc
	}
	val, _, err := p.Program().Eval(map[string]any{
		"contract":        doc,
		"predecessor":     pred,
		"has_predecessor": in.Predecessor != nil,
	})
	if err != nil {
		e.log.Warn("expression policy evaluation errored", "policy", p.ID, "error", err)
		return []contracts.Finding{engineErrorFinding(p, fmt.Sprintf("expression evaluation failed: %v", err))}
	}
	compliant, ok := val.Value().(bool)
	if !ok {
		return []contracts.Finding{engineErrorFinding(p, "expression produced a non-boolean result")}
	}
	if compliant {
		return nil
	}
	return []contracts.Finding{{
		PolicyID:          p.ID,
		PolicyDescription: p.Description,
		Category:          p.Category,
		Severity:          p.Severity,
		Message:           p.Description,
		Remediation:       p.Remediation,
		Source:            contracts.SourceRule,
		Confidence:        1.0,
	}}
}

// engineErrorFinding is the containment shape for defective policies: an
// info finding tagged engine-error, never a failed run.
func engineErrorFinding(p *policy.Policy, msg string) contracts.Finding {
	return contracts.Finding{
		PolicyID:          p.ID,
		PolicyDescription: p.Description,
		Category:          p.Category,
		Severity:          contracts.SeverityInfo,
		Field:             "engine-error",
		Message:           msg,
		Source:            contracts.SourceRule,
		Confidence:        1.0,
	}
}

// documents renders the contract (and predecessor, when present) into the
// map form CEL expressions evaluate against.
func documents(in engine.Input) (doc, predDoc map[string]any, err error) {
	doc, err = toDocument(in.Contract)
	if err != nil {
		return nil, nil, err
	}
	if in.Predecessor != nil {
		predDoc, err = toDocument(in.Predecessor)
		if err != nil {
			return nil, nil, err
		}
	}
	return doc, predDoc, nil
}

func toDocument(c *contracts.Contract) (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	// Convenience keys so expressions stay short. The document always
	// carries owner and governance maps even when every member is defaulted.
	doc["pii_fields"] = toAny(c.PIIFields())
	doc["field_names"] = toAny(c.FieldNames())
	if _, ok := doc["owner"]; !ok {
		doc["owner"] = map[string]any{}
	}
	if _, ok := doc["governance"]; !ok {
		doc["governance"] = map[string]any{}
	}
	if _, ok := doc["quality"]; !ok {
		doc["quality"] = map[string]any{}
	}
	return doc, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
