package builder

import (
	"github.com/datapact-labs/datapact/pkg/contracts"
)

// NextVersion computes the minimum version a change may publish under:
// breaking bumps major, additive bumps minor, docs bumps patch, and an
// unchanged contract keeps its predecessor's version.
func NextVersion(prev string, change Change) (string, error) {
	v, err := contracts.ParseVersion(prev)
	if err != nil {
		return "", contracts.NewError(contracts.KindInvalidContract, "", prev, "predecessor version", err)
	}
	switch change.Kind {
	case ChangeBreaking:
		next := v.IncMajor()
		return next.String(), nil
	case ChangeAdditive:
		next := v.IncMinor()
		return next.String(), nil
	case ChangeDocs:
		next := v.IncPatch()
		return next.String(), nil
	case ChangeNone:
		return prev, nil
	default:
		return "", contracts.Errorf(contracts.KindInvalidContract, "unknown change kind %q", change.Kind)
	}
}
