package builder

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

// ChangeKind classifies the difference between two contract versions.
type ChangeKind string

const (
	ChangeNone     ChangeKind = "none"
	ChangeDocs     ChangeKind = "docs"
	ChangeAdditive ChangeKind = "additive"
	ChangeBreaking ChangeKind = "breaking"
)

// Change is the classification verdict with the concrete reasons behind it.
type Change struct {
	Kind    ChangeKind
	Reasons []string
}

// Classify compares a predecessor contract with its candidate successor.
//
// The classification is consumer-oriented for guarantees and writer-oriented
// for schema shape: anything that removes, retypes, or tightens what the
// schema accepts is breaking, as is any weakening of a declared guarantee
// (quality thresholds, retention, encryption, SLAs). Pure widenings and new
// declarations are additive. Text-only edits are docs. Version and
// fingerprint fields are ignored; they describe the change, they are not
// part of it.
func Classify(old, new *contracts.Contract) Change {
	var breaking, additive []string

	oldFields := fieldMap(old)
	newFields := fieldMap(new)

	for _, name := range sortedKeys(oldFields) {
		of := oldFields[name]
		nf, ok := newFields[name]
		if !ok {
			breaking = append(breaking, "field removed: "+name)
			continue
		}
		breaking = append(breaking, fieldBreaks(name, of, nf)...)
		additive = append(additive, fieldWidenings(name, of, nf)...)
	}
	for _, name := range sortedKeys(newFields) {
		if _, ok := oldFields[name]; ok {
			continue
		}
		if newFields[name].Required {
			breaking = append(breaking, "required field added: "+name)
		} else {
			additive = append(additive, "optional field added: "+name)
		}
	}

	breaking = append(breaking, uniquenessTightenings(old, new)...)
	breaking = append(breaking, governanceBreaks(old, new)...)
	additive = append(additive, governanceWidenings(old, new)...)
	breaking = append(breaking, qualityBreaks(old, new)...)
	additive = append(additive, qualityWidenings(old, new)...)
	breaking = append(breaking, subscriptionBreaks(old, new)...)
	additive = append(additive, subscriptionAdditions(old, new)...)

	if len(breaking) > 0 {
		return Change{Kind: ChangeBreaking, Reasons: breaking}
	}
	if len(additive) > 0 {
		return Change{Kind: ChangeAdditive, Reasons: additive}
	}
	if !comparableEqual(old, new) {
		return Change{Kind: ChangeDocs, Reasons: []string{"documentation or metadata text changed"}}
	}
	return Change{Kind: ChangeNone}
}

func fieldMap(c *contracts.Contract) map[string]*contracts.Field {
	m := make(map[string]*contracts.Field, len(c.Schema))
	for i := range c.Schema {
		m[c.Schema[i].Name] = &c.Schema[i]
	}
	return m
}

func sortedKeys(m map[string]*contracts.Field) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fieldBreaks(name string, of, nf *contracts.Field) []string {
	var out []string
	if of.Type != nf.Type {
		out = append(out, fmt.Sprintf("field %s type changed: %s to %s", name, of.Type, nf.Type))
	}
	if !of.Required && nf.Required {
		out = append(out, "field made required: "+name)
	}
	if of.Nullable && !nf.Nullable {
		out = append(out, "field made non-nullable: "+name)
	}
	if of.MaxLength != nil && nf.MaxLength != nil && *nf.MaxLength < *of.MaxLength {
		out = append(out, fmt.Sprintf("field %s max_length reduced: %d to %d", name, *of.MaxLength, *nf.MaxLength))
	}
	if of.MaxLength == nil && nf.MaxLength != nil {
		out = append(out, fmt.Sprintf("field %s gained a max_length bound: %d", name, *nf.MaxLength))
	}
	for _, v := range of.Enum {
		if !containsString(nf.Enum, v) {
			out = append(out, fmt.Sprintf("field %s enum value removed: %s", name, v))
		}
	}
	if len(of.Enum) == 0 && len(nf.Enum) > 0 {
		out = append(out, "field "+name+" gained an enum constraint")
	}
	return out
}

func fieldWidenings(name string, of, nf *contracts.Field) []string {
	var out []string
	if of.Required && !nf.Required {
		out = append(out, "field made optional: "+name)
	}
	if !of.Nullable && nf.Nullable {
		out = append(out, "field made nullable: "+name)
	}
	if of.MaxLength != nil && nf.MaxLength != nil && *nf.MaxLength > *of.MaxLength {
		out = append(out, fmt.Sprintf("field %s max_length increased: %d to %d", name, *of.MaxLength, *nf.MaxLength))
	}
	if of.MaxLength != nil && nf.MaxLength == nil {
		out = append(out, "field "+name+" max_length bound removed")
	}
	for _, v := range nf.Enum {
		if len(of.Enum) > 0 && !containsString(of.Enum, v) {
			out = append(out, fmt.Sprintf("field %s enum value added: %s", name, v))
		}
	}
	if len(of.Enum) > 0 && len(nf.Enum) == 0 {
		out = append(out, "field "+name+" enum constraint removed")
	}
	return out
}

// uniquenessTightenings flags uniqueness keys present in the candidate that
// the predecessor did not declare. Data that previously tolerated
// duplicates stops conforming, so any new key is breaking; key removal is
// widening and needs no reason here.
func uniquenessTightenings(old, new *contracts.Contract) []string {
	oldKeys := make(map[string]bool, len(old.Quality.UniquenessKeys))
	for _, k := range old.Quality.UniquenessKeys {
		oldKeys[strings.Join(k, ",")] = true
	}
	var out []string
	for _, k := range new.Quality.UniquenessKeys {
		joined := strings.Join(k, ",")
		if !oldKeys[joined] {
			out = append(out, "uniqueness key added: ("+joined+")")
		}
	}
	return out
}

func governanceBreaks(old, new *contracts.Contract) []string {
	var out []string
	og, ng := &old.Governance, &new.Governance
	if og.Classification.Rank() >= 0 && ng.Classification.Rank() > og.Classification.Rank() {
		out = append(out, fmt.Sprintf("classification escalated: %s to %s", og.Classification, ng.Classification))
	}
	if og.EncryptionRequired && !ng.EncryptionRequired {
		out = append(out, "encryption requirement dropped")
	}
	if og.RetentionDays != nil && ng.RetentionDays != nil && *ng.RetentionDays < *og.RetentionDays {
		out = append(out, fmt.Sprintf("retention shortened: %d to %d days", *og.RetentionDays, *ng.RetentionDays))
	}
	if og.RetentionDays != nil && ng.RetentionDays == nil {
		out = append(out, "retention declaration removed")
	}
	if og.DataResidency != "" && ng.DataResidency != og.DataResidency {
		out = append(out, "data residency changed: "+og.DataResidency+" to "+orUnset(ng.DataResidency))
	}
	for _, tag := range og.ComplianceTags {
		if !containsString(ng.ComplianceTags, tag) {
			out = append(out, "compliance tag removed: "+tag)
		}
	}
	return out
}

func governanceWidenings(old, new *contracts.Contract) []string {
	var out []string
	og, ng := &old.Governance, &new.Governance
	if ng.Classification.Rank() >= 0 && ng.Classification.Rank() < og.Classification.Rank() {
		out = append(out, fmt.Sprintf("classification relaxed: %s to %s", og.Classification, ng.Classification))
	}
	if !og.EncryptionRequired && ng.EncryptionRequired {
		out = append(out, "encryption requirement added")
	}
	if og.RetentionDays == nil && ng.RetentionDays != nil {
		out = append(out, "retention declared")
	}
	if og.RetentionDays != nil && ng.RetentionDays != nil && *ng.RetentionDays > *og.RetentionDays {
		out = append(out, "retention lengthened")
	}
	if og.DataResidency == "" && ng.DataResidency != "" {
		out = append(out, "data residency declared")
	}
	for _, tag := range ng.ComplianceTags {
		if !containsString(og.ComplianceTags, tag) {
			out = append(out, "compliance tag added: "+tag)
		}
	}
	return out
}

func qualityBreaks(old, new *contracts.Contract) []string {
	var out []string
	out = appendThresholdBreak(out, "completeness_threshold", old.Quality.CompletenessThreshold, new.Quality.CompletenessThreshold)
	out = appendThresholdBreak(out, "accuracy_threshold", old.Quality.AccuracyThreshold, new.Quality.AccuracyThreshold)
	out = appendThresholdBreak(out, "availability_target", old.Quality.AvailabilityTarget, new.Quality.AvailabilityTarget)
	if old.Quality.FreshnessHorizon != 0 && new.Quality.FreshnessHorizon > old.Quality.FreshnessHorizon {
		out = append(out, "freshness horizon weakened")
	}
	if old.Quality.FreshnessHorizon != 0 && new.Quality.FreshnessHorizon == 0 {
		out = append(out, "freshness horizon removed")
	}
	return out
}

// appendThresholdBreak: a declared guarantee that weakens or disappears
// breaks consumers that sized for it.
func appendThresholdBreak(out []string, name string, old, new *float64) []string {
	if old == nil {
		return out
	}
	if new == nil {
		return append(out, name+" removed")
	}
	if *new < *old {
		return append(out, fmt.Sprintf("%s lowered: %g to %g", name, *old, *new))
	}
	return out
}

func qualityWidenings(old, new *contracts.Contract) []string {
	var out []string
	if old.Quality.CompletenessThreshold == nil && new.Quality.CompletenessThreshold != nil {
		out = append(out, "completeness threshold declared")
	}
	if raised(old.Quality.CompletenessThreshold, new.Quality.CompletenessThreshold) {
		out = append(out, "completeness threshold raised")
	}
	if old.Quality.AccuracyThreshold == nil && new.Quality.AccuracyThreshold != nil {
		out = append(out, "accuracy threshold declared")
	}
	if raised(old.Quality.AccuracyThreshold, new.Quality.AccuracyThreshold) {
		out = append(out, "accuracy threshold raised")
	}
	if old.Quality.AvailabilityTarget == nil && new.Quality.AvailabilityTarget != nil {
		out = append(out, "availability target declared")
	}
	if raised(old.Quality.AvailabilityTarget, new.Quality.AvailabilityTarget) {
		out = append(out, "availability target raised")
	}
	if old.Quality.FreshnessHorizon == 0 && new.Quality.FreshnessHorizon != 0 {
		out = append(out, "freshness horizon declared")
	}
	if old.Quality.FreshnessHorizon != 0 && new.Quality.FreshnessHorizon != 0 &&
		new.Quality.FreshnessHorizon < old.Quality.FreshnessHorizon {
		out = append(out, "freshness horizon strengthened")
	}
	if old.Quality.Tier == "" && new.Quality.Tier != "" {
		out = append(out, "quality tier declared")
	}
	if len(old.Quality.UniquenessKeys) > len(new.Quality.UniquenessKeys) {
		out = append(out, "uniqueness key removed")
	}
	return out
}

func raised(old, new *float64) bool {
	return old != nil && new != nil && *new > *old
}

func subscriptionBreaks(old, new *contracts.Contract) []string {
	var out []string
	for i := range old.Subscriptions {
		os := &old.Subscriptions[i]
		ns := new.Subscription(os.Consumer)
		if ns == nil {
			out = append(out, "subscription removed: "+os.Consumer)
			continue
		}
		if os.LatencyTargetMs > 0 && ns.LatencyTargetMs > os.LatencyTargetMs {
			out = append(out, "subscription "+os.Consumer+" latency target weakened")
		}
		if os.AvailabilityTarget > 0 && ns.AvailabilityTarget < os.AvailabilityTarget {
			out = append(out, "subscription "+os.Consumer+" availability target weakened")
		}
		if os.MaxStaleness != 0 && ns.MaxStaleness > os.MaxStaleness {
			out = append(out, "subscription "+os.Consumer+" staleness bound weakened")
		}
		for _, f := range os.ApprovedFields {
			if !containsString(ns.ApprovedFields, f) {
				out = append(out, "subscription "+os.Consumer+" lost approved field "+f)
			}
		}
	}
	return out
}

func subscriptionAdditions(old, new *contracts.Contract) []string {
	var out []string
	for i := range new.Subscriptions {
		ns := &new.Subscriptions[i]
		os := old.Subscription(ns.Consumer)
		if os == nil {
			out = append(out, "subscription added: "+ns.Consumer)
			continue
		}
		if ns.LatencyTargetMs > 0 && (os.LatencyTargetMs == 0 || ns.LatencyTargetMs < os.LatencyTargetMs) {
			out = append(out, "subscription "+ns.Consumer+" latency target strengthened")
		}
		if ns.AvailabilityTarget > os.AvailabilityTarget {
			out = append(out, "subscription "+ns.Consumer+" availability target strengthened")
		}
		if ns.MaxStaleness != 0 && (os.MaxStaleness == 0 || ns.MaxStaleness < os.MaxStaleness) {
			out = append(out, "subscription "+ns.Consumer+" staleness bound strengthened")
		}
		for _, f := range ns.ApprovedFields {
			if !containsString(os.ApprovedFields, f) {
				out = append(out, "subscription "+ns.Consumer+" gained approved field "+f)
			}
		}
	}
	return out
}

// comparableEqual strips version, fingerprint, and nothing else, then
// compares the canonical JSON of both documents.
func comparableEqual(old, new *contracts.Contract) bool {
	return string(comparableJSON(old)) == string(comparableJSON(new))
}

func comparableJSON(c *contracts.Contract) []byte {
	cp := *c
	cp.Version = ""
	cp.Fingerprint = ""
	b, err := json.Marshal(&cp)
	if err != nil {
		return nil
	}
	return b
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
