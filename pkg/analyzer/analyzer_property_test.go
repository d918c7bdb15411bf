//go:build property
// +build property

// Property-based coverage of the analyzer bounds.
package analyzer_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/datapact-labs/datapact/pkg/analyzer"
	"github.com/datapact-labs/datapact/pkg/contracts"
)

func contractFrom(fieldCount, piiEvery, tagCount, classPick int, withQuality bool) *contracts.Contract {
	classes := []contracts.Classification{
		contracts.ClassPublic, contracts.ClassInternal,
		contracts.ClassConfidential, contracts.ClassRestricted,
	}
	c := &contracts.Contract{
		Dataset:    "dataset_under_test",
		Governance: contracts.Governance{Classification: classes[classPick%len(classes)]},
	}
	for i := 0; i < fieldCount%48; i++ {
		c.Schema = append(c.Schema, contracts.Field{
			Name: fmt.Sprintf("field_%02d", i),
			Type: contracts.TypeString,
			PII:  piiEvery > 0 && i%piiEvery == 0,
		})
	}
	for i := 0; i < tagCount%7; i++ {
		c.Governance.ComplianceTags = append(c.Governance.ComplianceTags, fmt.Sprintf("tag-%d", i))
	}
	if withQuality {
		v := 0.9
		c.Quality = contracts.Quality{
			CompletenessThreshold: &v,
			AccuracyThreshold:     &v,
			Tier:                  "silver",
			UniquenessKeys:        [][]string{{"field_00"}},
		}
	}
	return c
}

func TestAnalyzerBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	known := map[contracts.Risk]bool{
		contracts.RiskCritical: true, contracts.RiskHigh: true,
		contracts.RiskMedium: true, contracts.RiskLow: true,
	}

	properties.Property("complexity stays within [0,100] and risk resolves", prop.ForAll(
		func(fields, piiEvery, tags, classPick int, withQuality bool) bool {
			a := analyzer.Analyze(contractFrom(abs(fields), abs(piiEvery), abs(tags), abs(classPick), withQuality))
			if a.ComplexityScore < 0 || a.ComplexityScore > 100 {
				return false
			}
			if !known[a.RiskLevel] {
				return false
			}
			return len(a.Concerns) <= 6
		},
		gen.Int(), gen.IntRange(0, 5), gen.Int(), gen.Int(), gen.Bool(),
	))

	properties.Property("restricted classification is always critical", prop.ForAll(
		func(fields, tags int) bool {
			c := contractFrom(abs(fields), 0, abs(tags), 3, false)
			return analyzer.Analyze(c).RiskLevel == contracts.RiskCritical
		},
		gen.Int(), gen.Int(),
	))

	properties.TestingRun(t)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
