// Package policy loads, validates, and publishes the governance policy
// catalog. A catalog load is all-or-nothing: every policy in every bundle
// must be well-formed, every CEL expression and judgment schema must
// compile, or the whole load is rejected and the previously published
// snapshot stays in effect.
package policy

import (
	"regexp"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

// Policy is one governance check. Rule policies carry either a built-in
// predicate reference or a CEL expression; semantic policies carry a prompt
// template and optionally a judgment schema.
type Policy struct {
	ID          string             `yaml:"id" json:"id"`
	Category    contracts.Category `yaml:"-" json:"category"`
	Description string             `yaml:"description" json:"description"`
	Severity    contracts.Severity `yaml:"severity" json:"severity"`
	Remediation string             `yaml:"remediation,omitempty" json:"remediation,omitempty"`

	// Rule policies: exactly one of Predicate or Expression.
	Predicate  string `yaml:"predicate,omitempty" json:"predicate,omitempty"`
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`

	// Semantic policies.
	Prompt         string `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	JudgmentSchema string `yaml:"judgment_schema,omitempty" json:"judgment_schema,omitempty"`
	ReportUnknown  bool   `yaml:"report_unknown,omitempty" json:"report_unknown,omitempty"`

	program cel.Program
	schema  *jsonschema.Schema
}

// IsSemantic reports whether the policy is evaluated by the semantic tier.
func (p *Policy) IsSemantic() bool { return p.Category == contracts.CategorySemantic }

// Program returns the compiled CEL program for expression policies, nil
// otherwise.
func (p *Policy) Program() cel.Program { return p.program }

// Schema returns the compiled judgment schema, nil when the policy relies
// on the default judgment shape.
func (p *Policy) Schema() *jsonschema.Schema { return p.schema }

var policyIDRe = regexp.MustCompile(`^[A-Z][A-Z0-9_-]{2,31}$`)

// Snapshot is an immutable catalog view. Validation runs hold one snapshot
// for their whole lifetime and never observe a reload.
type Snapshot struct {
	version  string
	policies []Policy
	byID     map[string]int
	rules    []*Policy
	semantic []*Policy
}

// Version is a content hash over the canonical form of every policy in the
// snapshot. Two snapshots with the same version are interchangeable.
func (s *Snapshot) Version() string { return s.version }

// Len returns the number of policies in the snapshot.
func (s *Snapshot) Len() int { return len(s.policies) }

// Policies returns all policies ordered by ID.
func (s *Snapshot) Policies() []Policy {
	out := make([]Policy, len(s.policies))
	copy(out, s.policies)
	return out
}

// Rules returns the deterministic-tier policies ordered by ID.
func (s *Snapshot) Rules() []*Policy { return s.rules }

// Semantic returns the semantic-tier policies ordered by ID.
func (s *Snapshot) Semantic() []*Policy { return s.semantic }

// ByID looks a policy up by its identifier.
func (s *Snapshot) ByID(id string) (*Policy, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return &s.policies[i], true
}

func newSnapshot(policies []Policy) *Snapshot {
	sort.Slice(policies, func(i, j int) bool { return policies[i].ID < policies[j].ID })
	s := &Snapshot{
		policies: policies,
		byID:     make(map[string]int, len(policies)),
	}
	for i := range s.policies {
		p := &s.policies[i]
		s.byID[p.ID] = i
		if p.IsSemantic() {
			s.semantic = append(s.semantic, p)
		} else {
			s.rules = append(s.rules, p)
		}
	}
	s.version = snapshotVersion(s.policies)
	return s
}
