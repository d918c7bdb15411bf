package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/datapact-labs/datapact/pkg/contracts"
	"github.com/datapact-labs/datapact/pkg/engine"
	"github.com/datapact-labs/datapact/pkg/llm"
	"github.com/datapact-labs/datapact/pkg/policy"
)

// Options bound the semantic tier.
type Options struct {
	// Timeout applies to each model call. Default 30s.
	Timeout time.Duration
	// Fanout is the per-contract call concurrency. Default 4.
	Fanout int
	// MaxInflight caps model calls across all concurrent validations.
	// Default 32.
	MaxInflight int
	// ProbeInterval is the minimum gap between availability probes.
	// Default 1m.
	ProbeInterval time.Duration
	// MaxTokens is the per-call output budget. Default 512.
	MaxTokens int

	Logger *slog.Logger
}

func (o *Options) withDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Fanout <= 0 {
		o.Fanout = 4
	}
	if o.MaxInflight <= 0 {
		o.MaxInflight = 32
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = time.Minute
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 512
	}
	if o.Logger == nil {
		o.Logger = slog.Default().With("component", "semantic-engine")
	}
}

// Outcome is what a semantic run produced. Attempted lists every policy
// sent to the backend; Failures counts the calls that yielded no usable
// judgment (transport error, timeout, unparseable answer, cancellation).
// A failed call that was not cut by the caller's deadline is contained as
// an info finding tagged semantic-unavailable, so the report still names
// the policy that went unjudged.
type Outcome struct {
	Findings  []contracts.Finding
	Attempted []string
	Failures  int
}

// Evaluator runs semantic policies against a language model backend. It is
// safe for concurrent use; the in-flight cap is shared across validations.
type Evaluator struct {
	client   llm.Client
	opts     Options
	log      *slog.Logger
	inflight chan struct{}

	mu        sync.Mutex
	available bool
	probeGate *rate.Limiter
}

// New builds an Evaluator and probes the backend once so the first
// validation already knows whether to degrade.
func New(ctx context.Context, client llm.Client, opts Options) *Evaluator {
	opts.withDefaults()
	e := &Evaluator{
		client:    client,
		opts:      opts,
		log:       opts.Logger,
		inflight:  make(chan struct{}, opts.MaxInflight),
		probeGate: rate.NewLimiter(rate.Every(opts.ProbeInterval), 1),
	}
	e.available = e.probe(ctx)
	e.probeGate.Allow() // the constructor probe consumes the first slot
	if !e.available {
		e.log.Warn("semantic backend unavailable at startup")
	}
	return e
}

func (e *Evaluator) Name() string { return "semantic" }

// Available returns the cached backend verdict, re-probing at most once
// per probe interval.
func (e *Evaluator) Available(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.probeGate.Allow() {
		was := e.available
		e.available = e.probe(ctx)
		if was != e.available {
			e.log.Info("semantic backend availability changed", "available", e.available)
		}
	}
	return e.available
}

func (e *Evaluator) probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.client.Probe(pctx); err != nil {
		e.log.Debug("semantic probe failed", "error", err)
		return false
	}
	return true
}

// Evaluate satisfies the tier interface. Orchestration uses Run to also
// get the attempt accounting.
func (e *Evaluator) Evaluate(ctx context.Context, snap *policy.Snapshot, in engine.Input) ([]contracts.Finding, error) {
	out, err := e.Run(ctx, snap, in)
	if out == nil {
		return nil, err
	}
	return out.Findings, err
}

var _ engine.Engine = (*Evaluator)(nil)

// Run evaluates the selected semantic policies with bounded fan-out. One
// model call failing, timing out, or answering garbage never disturbs its
// siblings; it is counted in Outcome.Failures instead. Context expiry
// cancels the calls still in flight, keeps the findings already gathered,
// and surfaces the context error.
func (e *Evaluator) Run(ctx context.Context, snap *policy.Snapshot, in engine.Input) (*Outcome, error) {
	var selected []*policy.Policy
	for _, p := range snap.Semantic() {
		if in.Selected(p.ID) {
			selected = append(selected, p)
		}
	}
	out := &Outcome{}
	if len(selected) == 0 {
		return out, nil
	}

	if !e.Available(ctx) {
		return nil, contracts.NewError(contracts.KindSemanticUnavailable,
			in.Contract.Dataset, in.Contract.Version, "language model backend unavailable", nil)
	}

	doc, err := json.MarshalIndent(in.Contract, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("semantic: render contract document: %w", err)
	}

	local := make(chan struct{}, e.opts.Fanout)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures int
		findings []contracts.Finding
	)

	for _, p := range selected {
		out.Attempted = append(out.Attempted, p.ID)
		wg.Add(1)
		go func(p *policy.Policy) {
			defer wg.Done()

			// Local slot first, then the process-wide one; released in
			// reverse. The fixed order keeps concurrent validations from
			// deadlocking on each other.
			select {
			case local <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				failures++
				mu.Unlock()
				return
			}
			defer func() { <-local }()
			select {
			case e.inflight <- struct{}{}:
			case <-ctx.Done():
				mu.Lock()
				failures++
				mu.Unlock()
				return
			}
			defer func() { <-e.inflight }()

			f, callErr := e.judge(ctx, p, doc)
			mu.Lock()
			defer mu.Unlock()
			if callErr != nil {
				failures++
				// Deadline cuts contribute nothing; every other failure is
				// contained as an info finding for the affected policy.
				if ctx.Err() == nil {
					findings = append(findings, unavailableFinding(p, callErr))
				}
				return
			}
			if f != nil {
				findings = append(findings, *f)
			}
		}(p)
	}
	wg.Wait()

	contracts.SortFindings(findings)
	out.Findings = findings
	out.Failures = failures
	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("semantic tier interrupted: %w", err)
	}
	return out, nil
}

// judge runs one policy. A nil finding with nil error means the model
// found the contract compliant (or answered unknown for a policy that
// does not report unknowns).
func (e *Evaluator) judge(ctx context.Context, p *policy.Policy, doc []byte) (*contracts.Finding, error) {
	cctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	resp, err := e.client.Complete(cctx, llm.Request{
		Prompt:      buildPrompt(p, doc),
		MaxTokens:   e.opts.MaxTokens,
		Temperature: 0,
	})
	if err != nil {
		e.log.Warn("semantic call failed", "policy", p.ID, "error", err)
		return nil, err
	}

	j, err := ParseJudgment(resp.Text, p.Schema())
	if err != nil {
		e.log.Warn("semantic judgment unusable", "policy", p.ID, "error", err)
		return nil, err
	}

	switch j.Verdict {
	case VerdictCompliant:
		return nil, nil
	case VerdictUnknown:
		if !p.ReportUnknown {
			return nil, nil
		}
		return &contracts.Finding{
			PolicyID:          p.ID,
			PolicyDescription: p.Description,
			Category:          p.Category,
			Severity:          contracts.SeverityInfo,
			Field:             j.Field,
			Message:           "model could not reach a verdict",
			Remediation:       p.Remediation,
			Source:            contracts.SourceSemantic,
			Confidence:        j.Confidence,
			Reasoning:         j.Reasoning,
		}, nil
	default: // violation
		msg := j.Reasoning
		if msg == "" {
			msg = p.Description
		}
		return &contracts.Finding{
			PolicyID:          p.ID,
			PolicyDescription: p.Description,
			Category:          p.Category,
			Severity:          p.Severity,
			Field:             j.Field,
			Message:           msg,
			Remediation:       p.Remediation,
			Source:            contracts.SourceSemantic,
			Confidence:        j.Confidence,
			Reasoning:         j.Reasoning,
		}, nil
	}
}

// unavailableFinding contains a failed call the same way the rule tier
// contains a defective predicate: the policy stays visible in the report
// without inventing a violation.
func unavailableFinding(p *policy.Policy, cause error) contracts.Finding {
	return contracts.Finding{
		PolicyID:          p.ID,
		PolicyDescription: p.Description,
		Category:          p.Category,
		Severity:          contracts.SeverityInfo,
		Field:             "semantic-unavailable",
		Message:           fmt.Sprintf("policy not judged: %v", cause),
		Source:            contracts.SourceSemantic,
		Confidence:        0,
	}
}

// buildPrompt appends the contract document and the answer format to the
// policy's question.
func buildPrompt(p *policy.Policy, doc []byte) string {
	return p.Prompt +
		"\n\nData contract under review:\n" + string(doc) +
		"\n\nAnswer with a single JSON object: " +
		`{"verdict": "compliant"|"violation"|"unknown", "confidence": <0..1>, "reasoning": "<short explanation>", "field": "<field name, when one field is at fault>"}`
}
