package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

func anyPredicate(string) bool { return true }

func knownSet(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(n string) bool { return set[n] }
}

func writeBundle(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadEmbeddedCorpus(t *testing.T) {
	snap, err := LoadEmbedded(Options{KnownPredicate: anyPredicate})
	if err != nil {
		t.Fatalf("embedded corpus must load: %v", err)
	}
	if snap.Len() != 25 {
		t.Fatalf("corpus size = %d, want 25", snap.Len())
	}
	if len(snap.Rules()) != 17 || len(snap.Semantic()) != 8 {
		t.Fatalf("rules=%d semantic=%d", len(snap.Rules()), len(snap.Semantic()))
	}

	sd001, ok := snap.ByID("SD001")
	if !ok || sd001.Severity != contracts.SeverityCritical {
		t.Fatalf("SD001 = %+v", sd001)
	}
	if sd001.Predicate == "" {
		t.Fatal("SD001 must reference a predicate")
	}
	sem001, ok := snap.ByID("SEM001")
	if !ok || sem001.Severity != contracts.SeverityCritical || sem001.Prompt == "" {
		t.Fatalf("SEM001 = %+v", sem001)
	}
	for _, p := range snap.Policies() {
		if p.Severity != contracts.SeverityInfo && p.Remediation == "" {
			t.Fatalf("policy %s lacks remediation", p.ID)
		}
	}
}

func TestLoadDirWithExpressionPolicy(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "governance.yaml", `
category: schema_governance
policies:
  - id: ORG001
    description: Finance datasets declare a steward
    severity: warning
    remediation: Add at least one steward under owner.stewards.
    expression: >
      contract.owner.domain != "finance" || size(contract.owner.stewards) > 0
`)
	snap, err := LoadDir(dir, Options{KnownPredicate: knownSet()})
	if err != nil {
		t.Fatalf("expression bundle must load: %v", err)
	}
	p, ok := snap.ByID("ORG001")
	if !ok || p.Program() == nil {
		t.Fatal("expression policy not compiled")
	}
}

func TestLoadDirRejections(t *testing.T) {
	cases := []struct {
		name   string
		bundle string
		want   string
	}{
		{"unknown category", `
category: mystery
policies:
  - id: X001
    description: d
    severity: info
`, "unknown category"},
		{"bad severity", `
category: data_quality
policies:
  - id: X001
    description: d
    severity: fatal
    remediation: r
`, "severity"},
		{"missing remediation", `
category: data_quality
policies:
  - id: X001
    description: d
    severity: warning
    predicate: known
`, "remediation"},
		{"predicate and expression", `
category: data_quality
policies:
  - id: X001
    description: d
    severity: warning
    remediation: r
    predicate: known
    expression: "true"
`, "exactly one"},
		{"neither predicate nor expression", `
category: data_quality
policies:
  - id: X001
    description: d
    severity: warning
    remediation: r
`, "exactly one"},
		{"unknown predicate", `
category: data_quality
policies:
  - id: X001
    description: d
    severity: warning
    remediation: r
    predicate: never_heard_of_it
`, "unknown predicate"},
		{"expression does not compile", `
category: data_quality
policies:
  - id: X001
    description: d
    severity: warning
    remediation: r
    expression: "contract.schema ==="
`, "compilation failed"},
		{"expression not bool", `
category: data_quality
policies:
  - id: X001
    description: d
    severity: warning
    remediation: r
    expression: "size(contract)"
`, "must evaluate to bool"},
		{"semantic without prompt", `
category: semantic
policies:
  - id: X001
    description: d
    severity: warning
    remediation: r
`, "require a prompt"},
		{"semantic with predicate", `
category: semantic
policies:
  - id: X001
    description: d
    severity: warning
    remediation: r
    predicate: known
    prompt: q
`, "cannot carry predicates"},
		{"rule with prompt", `
category: data_quality
policies:
  - id: X001
    description: d
    severity: warning
    remediation: r
    predicate: known
    prompt: q
`, "cannot carry semantic fields"},
		{"bad judgment schema", `
category: semantic
policies:
  - id: X001
    description: d
    severity: warning
    remediation: r
    prompt: q
    judgment_schema: "{"
`, "judgment schema"},
		{"unknown yaml key", `
category: data_quality
policies:
  - id: X001
    description: d
    severity: warning
    remediation: r
    predicate: known
    punishment: severe
`, "field punishment not found"},
		{"lowercase id", `
category: data_quality
policies:
  - id: x001
    description: d
    severity: warning
    remediation: r
    predicate: known
`, "uppercase"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeBundle(t, dir, "bundle.yaml", tc.bundle)
			_, err := LoadDir(dir, Options{KnownPredicate: knownSet("known")})
			if err == nil {
				t.Fatal("expected load rejection")
			}
			if !contracts.IsKind(err, contracts.KindPolicyCatalog) {
				t.Fatalf("kind = %v", contracts.KindOf(err))
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadDirDuplicateAcrossBundles(t *testing.T) {
	dir := t.TempDir()
	doc := `
category: data_quality
policies:
  - id: DUP001
    description: d
    severity: info
    predicate: known
`
	writeBundle(t, dir, "a.yaml", doc)
	writeBundle(t, dir, "b.yaml", doc)
	_, err := LoadDir(dir, Options{KnownPredicate: knownSet("known")})
	if err == nil || !strings.Contains(err.Error(), "already defined") {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestSnapshotVersionIsContentAddressed(t *testing.T) {
	a, err := LoadEmbedded(Options{KnownPredicate: anyPredicate})
	if err != nil {
		t.Fatal(err)
	}
	b, err := LoadEmbedded(Options{KnownPredicate: anyPredicate})
	if err != nil {
		t.Fatal(err)
	}
	if a.Version() != b.Version() {
		t.Fatal("identical corpus produced different versions")
	}

	dir := t.TempDir()
	writeBundle(t, dir, "dq.yaml", `
category: data_quality
policies:
  - id: DQ900
    description: different corpus
    severity: info
    predicate: known
`)
	c, err := LoadDir(dir, Options{KnownPredicate: knownSet("known")})
	if err != nil {
		t.Fatal(err)
	}
	if c.Version() == a.Version() {
		t.Fatal("different corpus must produce a different version")
	}
}
