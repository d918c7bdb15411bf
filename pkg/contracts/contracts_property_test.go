//go:build property
// +build property

// Property-based tests for fingerprint and report-status invariants.
package contracts_test

import (
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

func fieldsFromNames(names []string) []contracts.Field {
	seen := make(map[string]bool, len(names))
	var fields []contracts.Field
	types := []contracts.FieldType{
		contracts.TypeString, contracts.TypeInteger, contracts.TypeBoolean,
		contracts.TypeTimestamp, contracts.TypeUUID,
	}
	for i, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		fields = append(fields, contracts.Field{
			Name:     n,
			Type:     types[i%len(types)],
			Nullable: i%2 == 0,
			PII:      i%3 == 0,
		})
	}
	return fields
}

func TestFingerprintPermutationInvariance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("shuffling fields preserves the fingerprint", prop.ForAll(
		func(names []string, seed int64) bool {
			fields := fieldsFromNames(names)
			if len(fields) == 0 {
				return true
			}
			a := &contracts.Contract{Schema: fields}
			before := contracts.SchemaFingerprint(a)

			shuffled := make([]contracts.Field, len(fields))
			copy(shuffled, fields)
			r := rand.New(rand.NewSource(seed))
			r.Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			b := &contracts.Contract{Schema: shuffled}

			return before == contracts.SchemaFingerprint(b)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Int64(),
	))

	properties.Property("dropping a field changes the fingerprint", prop.ForAll(
		func(names []string) bool {
			fields := fieldsFromNames(names)
			if len(fields) < 2 {
				return true
			}
			full := &contracts.Contract{Schema: fields}
			truncated := &contracts.Contract{Schema: fields[:len(fields)-1]}
			return contracts.SchemaFingerprint(full) != contracts.SchemaFingerprint(truncated)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func statusRank(s contracts.Status) int {
	switch s {
	case contracts.StatusFailed:
		return 2
	case contracts.StatusWarning:
		return 1
	default:
		return 0
	}
}

func TestStatusMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	severities := []contracts.Severity{
		contracts.SeverityCritical, contracts.SeverityWarning, contracts.SeverityInfo,
	}
	findingsFrom := func(picks []int) []contracts.Finding {
		out := make([]contracts.Finding, 0, len(picks))
		for _, p := range picks {
			if p < 0 {
				p = -p
			}
			out = append(out, contracts.Finding{
				PolicyID: "P", Severity: severities[p%len(severities)],
			})
		}
		return out
	}

	properties.Property("adding findings never improves the status", prop.ForAll(
		func(base []int, extra []int) bool {
			b := findingsFrom(base)
			combined := append(append([]contracts.Finding{}, b...), findingsFrom(extra)...)
			return statusRank(contracts.ComputeStatus(combined)) >= statusRank(contracts.ComputeStatus(b))
		},
		gen.SliceOf(gen.Int()),
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}

func TestNormalizeIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("normalize is idempotent on tag sets", prop.ForAll(
		func(tags []string) bool {
			a := &contracts.Contract{Governance: contracts.Governance{ComplianceTags: tags}}
			a.Normalize()
			once := append([]string{}, a.Governance.ComplianceTags...)
			a.Normalize()
			if len(once) != len(a.Governance.ComplianceTags) {
				return false
			}
			for i := range once {
				if once[i] != a.Governance.ComplianceTags[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}
