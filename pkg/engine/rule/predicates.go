// Package rule implements the deterministic evaluation tier: a closed
// vocabulary of built-in predicates plus operator-supplied CEL expression
// policies. Given the same contract and catalog snapshot, the tier always
// produces the identical findings.
package rule

import (
	"fmt"
	"sort"
	"strings"

	"github.com/datapact-labs/datapact/pkg/builder"
	"github.com/datapact-labs/datapact/pkg/contracts"
)

// Context is what a predicate may look at. Predecessor is nil for new
// datasets.
type Context struct {
	Contract    *contracts.Contract
	Predecessor *contracts.Contract
}

// violation is a predicate's objection: the field it concerns (empty for
// contract scope) and a specific message. Severity and remediation come
// from the policy that referenced the predicate.
type violation struct {
	Field   string
	Message string
}

type predicateFunc func(pctx Context) []violation

// The predicate vocabulary is closed: policies reference these names and
// nothing else. New checks enter either here (with a release) or as CEL
// expression policies in the catalog.
var predicates = map[string]predicateFunc{
	"pii_requires_encryption":            piiRequiresEncryption,
	"sensitive_class_requires_retention": sensitiveClassRequiresRetention,
	"pii_requires_compliance_tags":       piiRequiresComplianceTags,
	"restricted_requires_use_cases":      restrictedRequiresUseCases,
	"pii_requires_residency":             piiRequiresResidency,
	"sensitive_class_completeness_floor": sensitiveClassCompletenessFloor,
	"timestamp_requires_freshness":       timestampRequiresFreshness,
	"key_fields_have_uniqueness":         keyFieldsHaveUniqueness,
	"accuracy_floor_for_classification":  accuracyFloorForClassification,
	"tier_declared":                      tierDeclared,
	"fields_documented":                  fieldsDocumented,
	"required_nullable_contradiction":    requiredNullableContradiction,
	"owner_identified":                   ownerIdentified,
	"strings_bounded":                    stringsBounded,
	"enums_list_values":                  enumsListValues,
	"breaking_change_needs_major":        breakingChangeNeedsMajor,
	"versioning_policy_declared":         versioningPolicyDeclared,
}

// KnownPredicate reports whether name is in the built-in vocabulary.
// The catalog loader consults it so unknown references fail at load time.
func KnownPredicate(name string) bool {
	_, ok := predicates[name]
	return ok
}

// PredicateNames returns the vocabulary sorted, for diagnostics.
func PredicateNames() []string {
	out := make([]string, 0, len(predicates))
	for name := range predicates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sensitiveClass(c *contracts.Contract) bool {
	cls := c.Governance.Classification
	return cls == contracts.ClassConfidential || cls == contracts.ClassRestricted
}

// piiRequiresEncryption names every offending field so remediation can be
// judged per column, not per dataset.
func piiRequiresEncryption(pctx Context) []violation {
	c := pctx.Contract
	if c.Governance.EncryptionRequired {
		return nil
	}
	var out []violation
	for _, name := range c.PIIFields() {
		out = append(out, violation{
			Field:   name,
			Message: fmt.Sprintf("field %q holds PII but the dataset does not require encryption at rest", name),
		})
	}
	return out
}

func sensitiveClassRequiresRetention(pctx Context) []violation {
	c := pctx.Contract
	if !sensitiveClass(c) || c.Governance.RetentionDays != nil {
		return nil
	}
	return []violation{{
		Field: "governance.retention_days",
		Message: fmt.Sprintf("%s dataset declares no retention period",
			c.Governance.Classification),
	}}
}

func piiRequiresComplianceTags(pctx Context) []violation {
	c := pctx.Contract
	if !c.HasPII() || len(c.Governance.ComplianceTags) > 0 {
		return nil
	}
	return []violation{{
		Field:   "governance.compliance_tags",
		Message: "dataset declares PII fields but carries no compliance tags",
	}}
}

func restrictedRequiresUseCases(pctx Context) []violation {
	g := pctx.Contract.Governance
	if g.Classification != contracts.ClassRestricted || len(g.ApprovedUseCases) > 0 {
		return nil
	}
	return []violation{{
		Field:   "governance.approved_use_cases",
		Message: "restricted dataset does not enumerate any approved use case",
	}}
}

func piiRequiresResidency(pctx Context) []violation {
	c := pctx.Contract
	if !c.HasPII() || c.Governance.DataResidency != "" {
		return nil
	}
	return []violation{{
		Field:   "governance.data_residency",
		Message: "dataset declares PII fields but no data residency",
	}}
}

const sensitiveCompletenessFloor = 0.95

func sensitiveClassCompletenessFloor(pctx Context) []violation {
	c := pctx.Contract
	if !sensitiveClass(c) {
		return nil
	}
	q := c.Quality
	if q.CompletenessThreshold == nil {
		return []violation{{
			Field: "quality.completeness_threshold",
			Message: fmt.Sprintf("%s dataset declares no completeness threshold (floor %.2f)",
				c.Governance.Classification, sensitiveCompletenessFloor),
		}}
	}
	if *q.CompletenessThreshold >= sensitiveCompletenessFloor {
		return nil
	}
	return []violation{{
		Field: "quality.completeness_threshold",
		Message: fmt.Sprintf("%s dataset commits to completeness %.2f, below the %.2f floor",
			c.Governance.Classification, *q.CompletenessThreshold, sensitiveCompletenessFloor),
	}}
}

func timestampRequiresFreshness(pctx Context) []violation {
	c := pctx.Contract
	if c.Quality.FreshnessHorizon != 0 {
		return nil
	}
	for i := range c.Schema {
		if c.Schema[i].Type == contracts.TypeTimestamp {
			return []violation{{
				Field: "quality.freshness_horizon",
				Message: fmt.Sprintf("schema carries timestamp field %q but no freshness horizon is declared",
					c.Schema[i].Name),
			}}
		}
	}
	return nil
}

// keyFieldsHaveUniqueness flags identifier-shaped fields (unique flag, "id",
// or an _id suffix) that no uniqueness key covers.
func keyFieldsHaveUniqueness(pctx Context) []violation {
	c := pctx.Contract
	covered := make(map[string]bool)
	for _, key := range c.Quality.UniquenessKeys {
		for _, f := range key {
			covered[f] = true
		}
	}
	var out []violation
	for i := range c.Schema {
		f := &c.Schema[i]
		keyLike := f.Unique || f.Name == "id" || strings.HasSuffix(f.Name, "_id")
		if keyLike && !covered[f.Name] {
			out = append(out, violation{
				Field:   f.Name,
				Message: fmt.Sprintf("key-like field %q is not covered by any uniqueness key", f.Name),
			})
		}
	}
	return out
}

// accuracyFloors maps each classification to the minimum accuracy a
// contract declaring one may commit to. Absence of a threshold passes;
// DQ004 judges coherence, not presence.
var accuracyFloors = map[contracts.Classification]float64{
	contracts.ClassPublic:       0.80,
	contracts.ClassInternal:     0.85,
	contracts.ClassConfidential: 0.90,
	contracts.ClassRestricted:   0.95,
}

func accuracyFloorForClassification(pctx Context) []violation {
	c := pctx.Contract
	if c.Quality.AccuracyThreshold == nil {
		return nil
	}
	floor, ok := accuracyFloors[c.Governance.Classification]
	if !ok || *c.Quality.AccuracyThreshold >= floor {
		return nil
	}
	return []violation{{
		Field: "quality.accuracy_threshold",
		Message: fmt.Sprintf("accuracy %.2f is below the %.2f floor for %s data",
			*c.Quality.AccuracyThreshold, floor, c.Governance.Classification),
	}}
}

func tierDeclared(pctx Context) []violation {
	if pctx.Contract.Quality.Tier != "" {
		return nil
	}
	return []violation{{
		Field:   "quality.tier",
		Message: "no quality-tier label declared",
	}}
}

func requiredNullableContradiction(pctx Context) []violation {
	var out []violation
	for i := range pctx.Contract.Schema {
		f := &pctx.Contract.Schema[i]
		if f.Required && f.Nullable {
			out = append(out, violation{
				Field:   f.Name,
				Message: fmt.Sprintf("field %q is declared both required and nullable", f.Name),
			})
		}
	}
	return out
}

func fieldsDocumented(pctx Context) []violation {
	var out []violation
	for i := range pctx.Contract.Schema {
		f := &pctx.Contract.Schema[i]
		if f.Description == "" {
			out = append(out, violation{
				Field:   f.Name,
				Message: fmt.Sprintf("field %q has no description", f.Name),
			})
		}
	}
	return out
}

func ownerIdentified(pctx Context) []violation {
	o := pctx.Contract.Owner
	var out []violation
	if o.Name == "" {
		out = append(out, violation{
			Field:   "owner.name",
			Message: "owner declares no name",
		})
	}
	if o.Contact == "" {
		out = append(out, violation{
			Field:   "owner.contact",
			Message: "owner declares no contact channel",
		})
	}
	return out
}

func stringsBounded(pctx Context) []violation {
	var out []violation
	for i := range pctx.Contract.Schema {
		f := &pctx.Contract.Schema[i]
		if f.Type == contracts.TypeString && f.MaxLength == nil {
			out = append(out, violation{
				Field:   f.Name,
				Message: fmt.Sprintf("string field %q declares no max_length", f.Name),
			})
		}
	}
	return out
}

// enumsListValues fires on a one-value enum: normalization already drops
// empty lists, so a singleton is the smallest observable failure to
// enumerate.
func enumsListValues(pctx Context) []violation {
	var out []violation
	for i := range pctx.Contract.Schema {
		f := &pctx.Contract.Schema[i]
		if len(f.Enum) == 1 {
			out = append(out, violation{
				Field:   f.Name,
				Message: fmt.Sprintf("field %q declares a single-value enum; list every permitted value", f.Name),
			})
		}
	}
	return out
}

// breakingChangeNeedsMajor judges the version the submission claims. An
// empty version passes: assignment happens after validation and always
// bumps correctly.
func breakingChangeNeedsMajor(pctx Context) []violation {
	if pctx.Predecessor == nil || pctx.Contract.Version == "" {
		return nil
	}
	change := builder.Classify(pctx.Predecessor, pctx.Contract)
	if change.Kind != builder.ChangeBreaking {
		return nil
	}
	prev, err := contracts.ParseVersion(pctx.Predecessor.Version)
	if err != nil {
		return nil // predecessor came from history; treat unparseable as unversioned
	}
	claimed, err := contracts.ParseVersion(pctx.Contract.Version)
	if err != nil || claimed.Major() > prev.Major() {
		return nil // structural validation rejects bad versions before this runs
	}
	return []violation{{
		Field: "version",
		Message: fmt.Sprintf("breaking change (%s) requires a major bump from %s, but %s was claimed",
			strings.Join(change.Reasons, "; "), pctx.Predecessor.Version, pctx.Contract.Version),
	}}
}

func versioningPolicyDeclared(pctx Context) []violation {
	if pctx.Contract.Governance.VersioningPolicy != "" {
		return nil
	}
	return []violation{{
		Field:   "governance.versioning_policy",
		Message: "no versioning-policy note declared",
	}}
}
