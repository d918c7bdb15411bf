// Package builder turns raw contract documents into validated candidate
// contracts, classifies changes between versions, and assigns semantic
// versions.
package builder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

// Format names a raw document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	// FormatAuto sniffs: documents starting with '{' parse as JSON,
	// everything else as YAML.
	FormatAuto Format = ""
)

// Build decodes, normalizes, structurally validates, and fingerprints a raw
// contract document. Unknown keys are rejected: a typo in a governance
// attribute must not silently weaken the contract.
func Build(raw []byte, format Format) (*contracts.Contract, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, contracts.Errorf(contracts.KindInvalidContract, "empty contract document")
	}
	if format == FormatAuto {
		if bytes.HasPrefix(bytes.TrimLeft(raw, " \t\r\n"), []byte("{")) {
			format = FormatJSON
		} else {
			format = FormatYAML
		}
	}

	var c contracts.Contract
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&c); err != nil {
			return nil, contracts.NewError(contracts.KindInvalidContract, "", "", "parsing JSON contract", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil {
			return nil, contracts.NewError(contracts.KindInvalidContract, "", "", "parsing YAML contract", err)
		}
	default:
		return nil, contracts.Errorf(contracts.KindInvalidContract, "unknown document format %q", format)
	}

	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.Fingerprint = contracts.SchemaFingerprint(&c)
	return &c, nil
}

// AssignVersion decides the version a candidate publishes under.
//
// Without a predecessor the first version is 1.0.0 (or the claimed version,
// when the submission asserts one). With a predecessor the change class
// dictates the bump; a claimed version is kept only if it is at least the
// computed bump and strictly above the predecessor. Claim conflicts below
// the bump floor are the rule tier's job to flag (they arrive here only on
// direct library use) and are rejected defensively.
func AssignVersion(predecessor, candidate *contracts.Contract) (string, Change, error) {
	change := Change{Kind: ChangeNone}
	if predecessor == nil {
		if candidate.Version != "" {
			if _, err := contracts.ParseVersion(candidate.Version); err != nil {
				return "", change, contracts.NewError(contracts.KindInvalidContract,
					candidate.Dataset, candidate.Version, "claimed version", err)
			}
			return candidate.Version, change, nil
		}
		return "1.0.0", change, nil
	}

	change = Classify(predecessor, candidate)
	floor, err := NextVersion(predecessor.Version, change)
	if err != nil {
		return "", change, err
	}
	if candidate.Version == "" {
		return floor, change, nil
	}

	claimed, err := contracts.ParseVersion(candidate.Version)
	if err != nil {
		return "", change, contracts.NewError(contracts.KindInvalidContract,
			candidate.Dataset, candidate.Version, "claimed version", err)
	}
	floorV, err := contracts.ParseVersion(floor)
	if err != nil {
		return "", change, err
	}
	if claimed.LessThan(floorV) {
		return "", change, contracts.NewError(contracts.KindValidationFailed,
			candidate.Dataset, candidate.Version,
			fmt.Sprintf("claimed version is below the %s floor %s required by this change", change.Kind, floor), nil)
	}
	return candidate.Version, change, nil
}

// Summary renders a compact one-line description of a change for logs and
// commit messages.
func Summary(change Change) string {
	if len(change.Reasons) == 0 {
		return string(change.Kind)
	}
	return fmt.Sprintf("%s: %s", change.Kind, strings.Join(change.Reasons, "; "))
}
