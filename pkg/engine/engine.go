// Package engine defines the contract every evaluation tier implements and
// the merge semantics that combine their findings into one report.
package engine

import (
	"context"

	"github.com/datapact-labs/datapact/pkg/contracts"
	"github.com/datapact-labs/datapact/pkg/policy"
)

// Input is one evaluation request. Predecessor is nil for new datasets.
// PolicyIDs narrows the tier to a subset; nil means every policy the tier
// owns.
type Input struct {
	Contract    *contracts.Contract
	Predecessor *contracts.Contract
	PolicyIDs   []string
}

// Selected reports whether the policy id passes the Input filter.
func (in *Input) Selected(id string) bool {
	if len(in.PolicyIDs) == 0 {
		return true
	}
	for _, want := range in.PolicyIDs {
		if want == id {
			return true
		}
	}
	return false
}

// Engine is one evaluation tier.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, snap *policy.Snapshot, in Input) ([]contracts.Finding, error)
}

// Merge combines findings from multiple tiers. Two findings collide when
// they share (policy, field); the more severe one survives, and on equal
// severity the more confident one. The result is ordered deterministically.
func Merge(groups ...[]contracts.Finding) []contracts.Finding {
	type key struct {
		policy string
		field  string
	}
	seen := make(map[key]int)
	var out []contracts.Finding
	for _, group := range groups {
		for _, f := range group {
			k := key{f.PolicyID, f.Field}
			i, dup := seen[k]
			if !dup {
				seen[k] = len(out)
				out = append(out, f)
				continue
			}
			cur := &out[i]
			if f.Severity.Rank() > cur.Severity.Rank() ||
				(f.Severity.Rank() == cur.Severity.Rank() && f.Confidence > cur.Confidence) {
				out[i] = f
			}
		}
	}
	contracts.SortFindings(out)
	return out
}
