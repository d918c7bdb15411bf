package rule

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/datapact-labs/datapact/pkg/contracts"
	"github.com/datapact-labs/datapact/pkg/engine"
	"github.com/datapact-labs/datapact/pkg/policy"
)

func intp(v int) *int { return &v }

func floatp(v float64) *float64 { return &v }

// cleanContract satisfies every canonical rule policy.
func cleanContract() *contracts.Contract {
	c := &contracts.Contract{
		Dataset: "committed_orders",
		Owner: contracts.Ownership{
			Name:    "Order Platform",
			Contact: "orders@example.com",
			Domain:  "commerce",
		},
		Schema: []contracts.Field{
			{Name: "order_id", Type: contracts.TypeUUID, Required: true, Unique: true, Description: "Order identifier"},
			{Name: "customer_ref", Type: contracts.TypeString, MaxLength: intp(64), Description: "Opaque customer reference"},
			{Name: "amount", Type: contracts.TypeDecimal, Description: "Order total"},
			{Name: "placed_at", Type: contracts.TypeTimestamp, Required: true, Description: "Order placement time"},
		},
		Governance: contracts.Governance{
			Classification:   contracts.ClassInternal,
			RetentionDays:    intp(365),
			VersioningPolicy: "semver; breaking changes bump major",
		},
		Quality: contracts.Quality{
			CompletenessThreshold: floatp(0.99),
			AccuracyThreshold:     floatp(0.97),
			FreshnessHorizon:      contracts.Duration(24 * time.Hour),
			UniquenessKeys:        [][]string{{"order_id"}},
			Tier:                  "gold",
		},
	}
	c.Normalize()
	return c
}

func corpus(t *testing.T) *policy.Snapshot {
	t.Helper()
	snap, err := policy.LoadEmbedded(policy.Options{KnownPredicate: KnownPredicate})
	if err != nil {
		t.Fatalf("embedded corpus: %v", err)
	}
	return snap
}

func TestCleanContractHasNoRuleFindings(t *testing.T) {
	findings, err := New(nil).Evaluate(context.Background(), corpus(t), engine.Input{Contract: cleanContract()})
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 0 {
		t.Fatalf("clean contract produced findings: %+v", findings)
	}
}

func TestEachCanonicalRuleFires(t *testing.T) {
	cases := []struct {
		policyID string
		severity contracts.Severity
		mutate   func(c *contracts.Contract)
	}{
		{"SD001", contracts.SeverityCritical, func(c *contracts.Contract) {
			c.Schema[1].PII = true
		}},
		{"SD002", contracts.SeverityCritical, func(c *contracts.Contract) {
			c.Governance.Classification = contracts.ClassConfidential
			c.Governance.RetentionDays = nil
		}},
		{"SD003", contracts.SeverityWarning, func(c *contracts.Contract) {
			c.Schema[1].PII = true
			c.Governance.EncryptionRequired = true
			c.Governance.DataResidency = "eu"
		}},
		{"SD004", contracts.SeverityCritical, func(c *contracts.Contract) {
			c.Governance.Classification = contracts.ClassRestricted
		}},
		{"SD005", contracts.SeverityCritical, func(c *contracts.Contract) {
			c.Schema[1].PII = true
			c.Governance.EncryptionRequired = true
			c.Governance.ComplianceTags = []string{"gdpr"}
		}},
		{"DQ001", contracts.SeverityCritical, func(c *contracts.Contract) {
			c.Governance.Classification = contracts.ClassConfidential
			c.Quality.CompletenessThreshold = floatp(0.90)
		}},
		{"DQ002", contracts.SeverityWarning, func(c *contracts.Contract) {
			c.Quality.FreshnessHorizon = 0 // placed_at is a timestamp
		}},
		{"DQ003", contracts.SeverityWarning, func(c *contracts.Contract) {
			c.Quality.UniquenessKeys = nil
		}},
		{"DQ004", contracts.SeverityWarning, func(c *contracts.Contract) {
			c.Quality.AccuracyThreshold = floatp(0.80) // internal floor is 0.85
		}},
		{"DQ005", contracts.SeverityWarning, func(c *contracts.Contract) {
			c.Quality.Tier = ""
		}},
		{"SG001", contracts.SeverityWarning, func(c *contracts.Contract) {
			c.Schema[2].Description = ""
		}},
		{"SG002", contracts.SeverityCritical, func(c *contracts.Contract) {
			c.Schema[3].Nullable = true // placed_at is required
		}},
		{"SG003", contracts.SeverityCritical, func(c *contracts.Contract) {
			c.Owner.Contact = ""
		}},
		{"SG004", contracts.SeverityWarning, func(c *contracts.Contract) {
			c.Schema[1].MaxLength = nil
		}},
		{"SG005", contracts.SeverityWarning, func(c *contracts.Contract) {
			c.Schema[1].Enum = []string{"standard"}
		}},
		{"SG007", contracts.SeverityWarning, func(c *contracts.Contract) {
			c.Governance.VersioningPolicy = ""
		}},
	}

	eval := New(nil)
	snap := corpus(t)
	for _, tc := range cases {
		t.Run(tc.policyID, func(t *testing.T) {
			c := cleanContract()
			tc.mutate(c)
			findings, err := eval.Evaluate(context.Background(), snap, engine.Input{Contract: c})
			if err != nil {
				t.Fatal(err)
			}
			var hit *contracts.Finding
			for i := range findings {
				if findings[i].PolicyID == tc.policyID {
					hit = &findings[i]
					break
				}
			}
			if hit == nil {
				t.Fatalf("policy %s did not fire; findings: %+v", tc.policyID, findings)
			}
			if hit.Severity != tc.severity {
				t.Fatalf("policy %s severity = %s, want %s", tc.policyID, hit.Severity, tc.severity)
			}
			if hit.Source != contracts.SourceRule || hit.Confidence != 1.0 {
				t.Fatalf("rule finding malformed: %+v", hit)
			}
			if tc.severity != contracts.SeverityInfo && hit.Remediation == "" {
				t.Fatalf("policy %s finding lacks remediation", tc.policyID)
			}
		})
	}
}

// TestConfidentialPIIProfile pins the corpus semantics on a contract that
// mixes satisfied and violated sensitive-data policies: retention is
// declared (SD002 stays quiet) while compliance tags are missing (SD003
// fires) and the completeness commitment sits below the confidential floor
// (DQ001 fires critical).
func TestConfidentialPIIProfile(t *testing.T) {
	c := &contracts.Contract{
		Dataset: "customer_accounts",
		Owner: contracts.Ownership{
			Name:    "Accounts Team",
			Contact: "accounts@example.com",
		},
		Schema: []contracts.Field{
			{Name: "account_id", Type: contracts.TypeInteger, Required: true, Description: "Account identifier"},
			{Name: "customer_email", Type: contracts.TypeString, Nullable: true, PII: true, MaxLength: intp(255), Description: "Contact email"},
			{Name: "customer_ssn", Type: contracts.TypeString, Required: true, PII: true, MaxLength: intp(11), Description: "Tax identifier"},
		},
		Governance: contracts.Governance{
			Classification:   contracts.ClassConfidential,
			RetentionDays:    intp(2555),
			DataResidency:    "us",
			VersioningPolicy: "semver",
		},
		Quality: contracts.Quality{
			CompletenessThreshold: floatp(0.50),
			UniquenessKeys:        [][]string{{"account_id"}},
			Tier:                  "silver",
		},
	}
	c.Normalize()

	findings, err := New(nil).Evaluate(context.Background(), corpus(t), engine.Input{Contract: c})
	if err != nil {
		t.Fatal(err)
	}

	byPolicy := map[string][]contracts.Finding{}
	for _, f := range findings {
		byPolicy[f.PolicyID] = append(byPolicy[f.PolicyID], f)
	}

	sd001 := byPolicy["SD001"]
	if len(sd001) != 2 {
		t.Fatalf("SD001 findings = %+v, want one per PII field", sd001)
	}
	fields := []string{sd001[0].Field, sd001[1].Field}
	if !reflect.DeepEqual(fields, []string{"customer_email", "customer_ssn"}) {
		t.Fatalf("SD001 fields = %v", fields)
	}

	if len(byPolicy["SD002"]) != 0 {
		t.Fatalf("SD002 fired despite a declared retention period: %+v", byPolicy["SD002"])
	}
	sd003 := byPolicy["SD003"]
	if len(sd003) != 1 || sd003[0].Severity != contracts.SeverityWarning {
		t.Fatalf("SD003 = %+v, want one warning for empty compliance tags", sd003)
	}
	dq001 := byPolicy["DQ001"]
	if len(dq001) != 1 || dq001[0].Severity != contracts.SeverityCritical {
		t.Fatalf("DQ001 = %+v, want one critical for completeness below the floor", dq001)
	}
}

func TestSG006BreakingChangeVersionGate(t *testing.T) {
	eval := New(nil)
	snap := corpus(t)

	prev := cleanContract()
	prev.Version = "1.0.0"

	// Successor drops a field and claims a minor bump.
	next := cleanContract()
	next.Schema = next.Schema[:3]
	next.Quality.UniquenessKeys = [][]string{{"order_id"}}
	next.Version = "1.1.0"

	findings, err := eval.Evaluate(context.Background(), snap,
		engine.Input{Contract: next, Predecessor: prev})
	if err != nil {
		t.Fatal(err)
	}
	var hit *contracts.Finding
	for i := range findings {
		if findings[i].PolicyID == "SG006" {
			hit = &findings[i]
		}
	}
	if hit == nil {
		t.Fatalf("SG006 did not fire: %+v", findings)
	}
	if hit.Severity != contracts.SeverityCritical {
		t.Fatalf("SG006 severity = %s", hit.Severity)
	}

	// Claiming the major bump silences it.
	next.Version = "2.0.0"
	findings, err = eval.Evaluate(context.Background(), snap,
		engine.Input{Contract: next, Predecessor: prev})
	if err != nil {
		t.Fatal(err)
	}
	for i := range findings {
		if findings[i].PolicyID == "SG006" {
			t.Fatalf("SG006 fired despite major bump: %+v", findings[i])
		}
	}

	// An unversioned candidate passes: assignment bumps correctly later.
	next.Version = ""
	findings, err = eval.Evaluate(context.Background(), snap,
		engine.Input{Contract: next, Predecessor: prev})
	if err != nil {
		t.Fatal(err)
	}
	for i := range findings {
		if findings[i].PolicyID == "SG006" {
			t.Fatal("SG006 fired on an unversioned candidate")
		}
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	eval := New(nil)
	snap := corpus(t)
	c := cleanContract()
	c.Schema[1].PII = true
	c.Owner.Contact = ""
	c.Quality.Tier = ""

	a, err := eval.Evaluate(context.Background(), snap, engine.Input{Contract: c})
	if err != nil {
		t.Fatal(err)
	}
	b, err := eval.Evaluate(context.Background(), snap, engine.Input{Contract: c})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("two evaluations differ:\n%+v\n%+v", a, b)
	}
}

func TestPanicContainment(t *testing.T) {
	predicates["test_panics"] = func(Context) []violation { panic("boom") }
	defer delete(predicates, "test_panics")

	dir := t.TempDir()
	bundle := `
category: data_quality
policies:
  - id: BAD001
    description: exploding policy
    severity: critical
    remediation: n/a
    predicate: test_panics
  - id: DQ800
    description: still runs
    severity: info
    predicate: tier_declared
`
	if err := os.WriteFile(filepath.Join(dir, "dq.yaml"), []byte(bundle), 0o600); err != nil {
		t.Fatal(err)
	}
	snap, err := policy.LoadDir(dir, policy.Options{KnownPredicate: KnownPredicate})
	if err != nil {
		t.Fatal(err)
	}

	c := cleanContract()
	c.Quality.Tier = ""
	findings, err := New(nil).Evaluate(context.Background(), snap, engine.Input{Contract: c})
	if err != nil {
		t.Fatalf("panic must not fail the tier: %v", err)
	}

	var contained, sibling bool
	for _, f := range findings {
		if f.PolicyID == "BAD001" {
			contained = true
			if f.Severity != contracts.SeverityInfo || f.Field != "engine-error" {
				t.Fatalf("containment finding malformed: %+v", f)
			}
		}
		if f.PolicyID == "DQ800" {
			sibling = true
		}
	}
	if !contained {
		t.Fatal("panicking policy left no containment finding")
	}
	if !sibling {
		t.Fatal("sibling policy did not run after the panic")
	}
}

func TestExpressionPolicies(t *testing.T) {
	dir := t.TempDir()
	bundle := `
category: schema_governance
policies:
  - id: ORG001
    description: commerce datasets declare stewards
    severity: warning
    remediation: Add owner.stewards.
    expression: >
      contract.owner.domain != "commerce" || size(contract.field_names) == 0 || has(contract.owner.stewards)
  - id: ORG002
    description: errors are contained
    severity: warning
    remediation: n/a
    expression: >
      contract.owner.missing_key == "x"
`
	if err := os.WriteFile(filepath.Join(dir, "sg.yaml"), []byte(bundle), 0o600); err != nil {
		t.Fatal(err)
	}
	snap, err := policy.LoadDir(dir, policy.Options{KnownPredicate: KnownPredicate})
	if err != nil {
		t.Fatal(err)
	}

	c := cleanContract() // commerce domain, no stewards
	findings, err := New(nil).Evaluate(context.Background(), snap, engine.Input{Contract: c})
	if err != nil {
		t.Fatal(err)
	}

	byID := map[string]contracts.Finding{}
	for _, f := range findings {
		byID[f.PolicyID] = f
	}
	v, ok := byID["ORG001"]
	if !ok || v.Severity != contracts.SeverityWarning || v.Source != contracts.SourceRule {
		t.Fatalf("ORG001 = %+v (ok=%v)", v, ok)
	}
	e, ok := byID["ORG002"]
	if !ok || e.Severity != contracts.SeverityInfo || e.Field != "engine-error" {
		t.Fatalf("ORG002 containment = %+v (ok=%v)", e, ok)
	}

	// Satisfying the expression clears the finding.
	c.Owner.Stewards = []string{"alice"}
	findings, err = New(nil).Evaluate(context.Background(), snap, engine.Input{Contract: c})
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range findings {
		if f.PolicyID == "ORG001" {
			t.Fatalf("ORG001 fired despite stewards: %+v", f)
		}
	}
}

func TestEvaluateInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Evaluate(ctx, corpus(t), engine.Input{Contract: cleanContract()})
	if err == nil {
		t.Fatal("cancelled context must interrupt the tier")
	}
}

func TestPredicateVocabularyCoversCorpus(t *testing.T) {
	snap := corpus(t)
	for _, p := range snap.Rules() {
		if p.Predicate == "" {
			continue
		}
		if !KnownPredicate(p.Predicate) {
			t.Fatalf("corpus references unknown predicate %q", p.Predicate)
		}
	}
	if len(PredicateNames()) != 17 {
		t.Fatalf("vocabulary size = %d, want 17", len(PredicateNames()))
	}
}
