//go:build property
// +build property

package builder_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/datapact-labs/datapact/pkg/builder"
	"github.com/datapact-labs/datapact/pkg/contracts"
)

func TestVersionMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	kinds := []builder.ChangeKind{
		builder.ChangeBreaking, builder.ChangeAdditive, builder.ChangeDocs,
	}

	properties.Property("material changes strictly increase the version", prop.ForAll(
		func(major, minor, patch uint8, kindIdx int) bool {
			prev := fmt.Sprintf("%d.%d.%d", major, minor, patch)
			if kindIdx < 0 {
				kindIdx = -kindIdx
			}
			kind := kinds[kindIdx%len(kinds)]

			next, err := builder.NextVersion(prev, builder.Change{Kind: kind})
			if err != nil {
				return false
			}
			pv, err := contracts.ParseVersion(prev)
			if err != nil {
				return false
			}
			nv, err := contracts.ParseVersion(next)
			if err != nil {
				return false
			}
			return nv.GreaterThan(pv)
		},
		gen.UInt8(),
		gen.UInt8(),
		gen.UInt8(),
		gen.Int(),
	))

	properties.Property("no change keeps the version", prop.ForAll(
		func(major, minor, patch uint8) bool {
			prev := fmt.Sprintf("%d.%d.%d", major, minor, patch)
			next, err := builder.NextVersion(prev, builder.Change{Kind: builder.ChangeNone})
			return err == nil && next == prev
		},
		gen.UInt8(),
		gen.UInt8(),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
