package contracts

import (
	"fmt"

	semver "github.com/Masterminds/semver/v3"
)

// ParseVersion parses a strict MAJOR.MINOR.PATCH version string.
// Contract versions do not carry "v" prefixes, pre-release tags, or
// build metadata.
func ParseVersion(v string) (*semver.Version, error) {
	sv, err := semver.StrictNewVersion(v)
	if err != nil {
		return nil, err
	}
	if sv.Prerelease() != "" || sv.Metadata() != "" {
		return nil, fmt.Errorf("pre-release and build metadata are not allowed in contract versions")
	}
	return sv, nil
}
