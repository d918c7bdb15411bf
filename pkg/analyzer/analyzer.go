// Package analyzer grades a contract by risk and complexity so that
// orchestration can budget evaluation effort before any policy runs. The
// analysis is pure: same contract, same answer.
package analyzer

import (
	"fmt"
	"math"
	"strings"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

// Analysis is the risk profile of one contract.
type Analysis struct {
	RiskLevel       contracts.Risk `json:"risk_level"`
	ComplexityScore float64        `json:"complexity_score"`

	FieldCount         int                      `json:"field_count"`
	HasPII             bool                     `json:"has_pii"`
	PIIFields          []string                 `json:"pii_fields,omitempty"`
	SensitiveNameHints bool                     `json:"sensitive_name_hints,omitempty"`
	Classification     contracts.Classification `json:"classification"`
	ComplianceTagCount int                      `json:"compliance_tag_count"`

	// Concerns explains the drivers in short strings, at most six,
	// deterministic order.
	Concerns []string `json:"concerns,omitempty"`
}

// classificationWeight feeds the complexity score.
var classificationWeight = map[contracts.Classification]float64{
	contracts.ClassPublic:       0,
	contracts.ClassInternal:     5,
	contracts.ClassConfidential: 10,
	contracts.ClassRestricted:   15,
}

// sensitiveNameTokens flags fields that look personal even without a pii
// marker. Matched against underscore-separated name tokens.
var sensitiveNameTokens = map[string]bool{
	"ssn": true, "social": true, "email": true, "phone": true,
	"mobile": true, "address": true, "birth": true, "dob": true,
	"passport": true, "salary": true, "income": true, "iban": true,
	"card": true, "gender": true, "health": true, "medical": true,
	"biometric": true, "location": true,
}

const maxConcerns = 6

// Analyze computes the contract's risk profile.
//
// complexity_score is bounded to [0,100]:
//
//	min(30, 1.5·fields) + min(20, 5·pii) + min(20, 10·tags)
//	+ min(15, 3·quality_rules) + classification weight
func Analyze(c *contracts.Contract) Analysis {
	a := Analysis{
		FieldCount:         len(c.Schema),
		PIIFields:          c.PIIFields(),
		Classification:     c.Governance.Classification,
		ComplianceTagCount: len(c.Governance.ComplianceTags),
	}
	a.HasPII = len(a.PIIFields) > 0
	a.SensitiveNameHints = hasSensitiveNames(c)

	quality := qualityRuleCount(&c.Quality)
	a.ComplexityScore = math.Min(30, 1.5*float64(a.FieldCount)) +
		math.Min(20, 5*float64(len(a.PIIFields))) +
		math.Min(20, 10*float64(a.ComplianceTagCount)) +
		math.Min(15, 3*float64(quality)) +
		classificationWeight[c.Governance.Classification]

	a.RiskLevel = riskLevel(&a, c)
	a.Concerns = concerns(&a, c)
	return a
}

func riskLevel(a *Analysis, c *contracts.Contract) contracts.Risk {
	class := c.Governance.Classification
	switch {
	case class == contracts.ClassRestricted || a.ComplianceTagCount >= 3:
		return contracts.RiskCritical
	case (class == contracts.ClassConfidential && (a.HasPII || a.ComplianceTagCount >= 1)) ||
		a.ComplianceTagCount >= 2 ||
		a.ComplexityScore >= 70:
		return contracts.RiskHigh
	case a.HasPII || a.ComplianceTagCount >= 1 ||
		class == contracts.ClassConfidential ||
		a.FieldCount > 15 ||
		a.ComplexityScore >= 40:
		return contracts.RiskMedium
	default:
		return contracts.RiskLow
	}
}

func qualityRuleCount(q *contracts.Quality) int {
	n := 0
	if q.CompletenessThreshold != nil {
		n++
	}
	if q.AccuracyThreshold != nil {
		n++
	}
	if q.FreshnessHorizon > 0 {
		n++
	}
	if q.AvailabilityTarget != nil {
		n++
	}
	if q.Tier != "" {
		n++
	}
	return n + len(q.UniquenessKeys)
}

func hasSensitiveNames(c *contracts.Contract) bool {
	for i := range c.Schema {
		for _, tok := range strings.Split(c.Schema[i].Name, "_") {
			if sensitiveNameTokens[tok] {
				return true
			}
		}
	}
	return false
}

// concerns lists the risk drivers in a fixed order so reports stay stable.
func concerns(a *Analysis, c *contracts.Contract) []string {
	var out []string
	add := func(s string) {
		if len(out) < maxConcerns {
			out = append(out, s)
		}
	}

	if a.HasPII {
		add(fmt.Sprintf("%d field(s) carry PII", len(a.PIIFields)))
	} else if a.SensitiveNameHints {
		add("field names look personal but carry no pii flag")
	}
	class := c.Governance.Classification
	if class == contracts.ClassConfidential || class == contracts.ClassRestricted {
		add("classification " + string(class))
	}
	if a.ComplianceTagCount > 0 {
		add(fmt.Sprintf("%d compliance tag(s)", a.ComplianceTagCount))
	}
	if a.FieldCount > 15 {
		add(fmt.Sprintf("wide schema (%d fields)", a.FieldCount))
	}
	if a.ComplexityScore >= 70 {
		add(fmt.Sprintf("high complexity score (%.1f)", a.ComplexityScore))
	}
	if n := len(c.Subscriptions); n > 0 {
		add(fmt.Sprintf("%d subscription SLA(s)", n))
	}
	if c.Governance.EncryptionRequired && !a.HasPII {
		add("encryption required without declared PII")
	}
	return out
}
