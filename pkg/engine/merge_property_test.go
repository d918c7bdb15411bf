//go:build property
// +build property

package engine_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/datapact-labs/datapact/pkg/contracts"
	"github.com/datapact-labs/datapact/pkg/engine"
)

func TestMergeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	severities := []contracts.Severity{
		contracts.SeverityCritical, contracts.SeverityWarning, contracts.SeverityInfo,
	}
	policies := []string{"SD001", "DQ001", "SG003", "SEM002"}
	fields := []string{"", "a", "b"}

	findingsFrom := func(picks []int) []contracts.Finding {
		out := make([]contracts.Finding, 0, len(picks))
		for _, p := range picks {
			if p < 0 {
				p = -p
			}
			out = append(out, contracts.Finding{
				PolicyID: policies[p%len(policies)],
				Field:    fields[(p/7)%len(fields)],
				Severity: severities[(p/3)%len(severities)],
			})
		}
		return out
	}

	properties.Property("merged findings are unique per (policy, field)", prop.ForAll(
		func(a, b []int) bool {
			merged := engine.Merge(findingsFrom(a), findingsFrom(b))
			seen := make(map[[2]string]bool)
			for _, f := range merged {
				k := [2]string{f.PolicyID, f.Field}
				if seen[k] {
					return false
				}
				seen[k] = true
			}
			return true
		},
		gen.SliceOf(gen.Int()),
		gen.SliceOf(gen.Int()),
	))

	properties.Property("merge keeps the most severe duplicate", prop.ForAll(
		func(a, b []int) bool {
			ga, gb := findingsFrom(a), findingsFrom(b)
			maxSev := make(map[[2]string]int)
			for _, f := range append(append([]contracts.Finding{}, ga...), gb...) {
				k := [2]string{f.PolicyID, f.Field}
				if cur, ok := maxSev[k]; !ok || f.Severity.Rank() > cur {
					maxSev[k] = f.Severity.Rank()
				}
			}
			for _, f := range engine.Merge(ga, gb) {
				k := [2]string{f.PolicyID, f.Field}
				if f.Severity.Rank() != maxSev[k] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int()),
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}
