package contracts

import (
	"sort"
	"time"
)

// Severity orders finding impact. Critical findings fail the run.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityCritical: 2, SeverityWarning: 1, SeverityInfo: 0,
}

// Rank returns the ordering weight of s; higher is more severe.
// Unknown labels rank below info.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is one of the three known severities.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// Category groups policies by the concern they protect.
type Category string

const (
	CategorySensitiveData    Category = "sensitive_data"
	CategoryDataQuality      Category = "data_quality"
	CategorySchemaGovernance Category = "schema_governance"
	CategorySemantic         Category = "semantic"
)

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool {
	switch c {
	case CategorySensitiveData, CategoryDataQuality, CategorySchemaGovernance, CategorySemantic:
		return true
	}
	return false
}

// Source names the engine tier that produced a finding.
type Source string

const (
	SourceRule     Source = "rule"
	SourceSemantic Source = "semantic"
)

// Status is the overall verdict of a validation run.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
)

// Strategy selects how much evaluation effort a run spends.
type Strategy string

const (
	StrategyFast     Strategy = "FAST"
	StrategyBalanced Strategy = "BALANCED"
	StrategyThorough Strategy = "THOROUGH"
	StrategyAdaptive Strategy = "ADAPTIVE"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyFast, StrategyBalanced, StrategyThorough, StrategyAdaptive:
		return true
	}
	return false
}

// Risk grades how much scrutiny a contract deserves.
type Risk string

const (
	RiskCritical Risk = "critical"
	RiskHigh     Risk = "high"
	RiskMedium   Risk = "medium"
	RiskLow      Risk = "low"
)

// Finding is one policy's objection (or note) against a contract.
type Finding struct {
	PolicyID          string   `json:"policy_id"`
	PolicyDescription string   `json:"policy_description,omitempty"`
	Category          Category `json:"category"`
	Severity          Severity `json:"severity"`
	// Field scopes the finding: a bare field name, a dotted path like
	// "governance.retention_days", or empty for contract scope.
	Field       string  `json:"field,omitempty"`
	Message     string  `json:"message"`
	Remediation string  `json:"remediation,omitempty"`
	Source      Source  `json:"source"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

// Counts summarizes a report. Passed counts policies that were evaluated
// and produced no finding; Warnings and Failures count findings.
type Counts struct {
	Passed   int `json:"passed"`
	Warnings int `json:"warnings"`
	Failures int `json:"failures"`
}

// Meta records how the report was produced.
type Meta struct {
	StrategyRequested Strategy      `json:"strategy_requested"`
	StrategyExecuted  Strategy      `json:"strategy_executed"`
	DegradedFrom      Strategy      `json:"degraded_from,omitempty"`
	RiskLevel         Risk          `json:"risk_level"`
	ComplexityScore   float64       `json:"complexity_score"`
	EnginesUsed       []string      `json:"engines_used"`
	SemanticPolicies  []string      `json:"semantic_policies,omitempty"`
	SemanticFailures  int           `json:"semantic_failures,omitempty"`
	Reasoning         string        `json:"reasoning,omitempty"`
	DeadlineExceeded  bool          `json:"deadline_exceeded,omitempty"`
	Elapsed           time.Duration `json:"elapsed_ns"`
	CatalogVersion    string        `json:"catalog_version,omitempty"`
}

// ValidationReport is the complete result of evaluating one contract.
type ValidationReport struct {
	ID          string    `json:"id"`
	Dataset     string    `json:"dataset"`
	Version     string    `json:"version,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Status      Status    `json:"status"`
	Findings    []Finding `json:"findings"`
	Counts      Counts    `json:"counts"`
	Meta        Meta      `json:"meta"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ComputeStatus derives the overall verdict from findings: any critical
// finding fails the run, otherwise any warning degrades it, otherwise it
// passes. Info findings never change the status.
func ComputeStatus(findings []Finding) Status {
	status := StatusPassed
	for i := range findings {
		switch findings[i].Severity {
		case SeverityCritical:
			return StatusFailed
		case SeverityWarning:
			status = StatusWarning
		}
	}
	return status
}

// CountFindings tallies report counts. evaluated is the number of policies
// the run actually executed.
func CountFindings(findings []Finding, evaluated int) Counts {
	c := Counts{}
	flagged := make(map[string]bool, len(findings))
	for i := range findings {
		switch findings[i].Severity {
		case SeverityCritical:
			c.Failures++
		case SeverityWarning:
			c.Warnings++
		}
		flagged[findings[i].PolicyID] = true
	}
	c.Passed = evaluated - len(flagged)
	if c.Passed < 0 {
		c.Passed = 0
	}
	return c
}

// SortFindings orders findings deterministically: severity descending,
// then policy ID, then field path.
func SortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := &findings[i], &findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.PolicyID != b.PolicyID {
			return a.PolicyID < b.PolicyID
		}
		return a.Field < b.Field
	})
}

// HasCritical reports whether any finding is critical.
func HasCritical(findings []Finding) bool {
	for i := range findings {
		if findings[i].Severity == SeverityCritical {
			return true
		}
	}
	return false
}
