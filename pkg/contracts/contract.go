// Package contracts defines the data-contract domain model: the contract
// document itself, validation findings and reports, and the error taxonomy
// shared by every layer above it.
//
// A contract binds a dataset's schema to its governance, quality, and
// delivery commitments. Contracts are immutable once committed; evolution
// happens by publishing a successor version.
package contracts

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// FieldType enumerates the closed set of logical field types.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeInteger   FieldType = "integer"
	TypeNumber    FieldType = "number"
	TypeBoolean   FieldType = "boolean"
	TypeTimestamp FieldType = "timestamp"
	TypeDate      FieldType = "date"
	TypeUUID      FieldType = "uuid"
	TypeJSON      FieldType = "json"
	TypeBytes     FieldType = "bytes"
	TypeDecimal   FieldType = "decimal"
)

var fieldTypes = map[FieldType]bool{
	TypeString: true, TypeInteger: true, TypeNumber: true, TypeBoolean: true,
	TypeTimestamp: true, TypeDate: true, TypeUUID: true, TypeJSON: true,
	TypeBytes: true, TypeDecimal: true,
}

// ValidFieldType reports whether t is a member of the closed type set.
func ValidFieldType(t FieldType) bool { return fieldTypes[t] }

// Classification orders data sensitivity from least to most restricted.
type Classification string

const (
	ClassPublic       Classification = "public"
	ClassInternal     Classification = "internal"
	ClassConfidential Classification = "confidential"
	ClassRestricted   Classification = "restricted"
)

var classRank = map[Classification]int{
	ClassPublic: 0, ClassInternal: 1, ClassConfidential: 2, ClassRestricted: 3,
}

// Rank returns the sensitivity rank of c, or -1 for an unknown label.
func (c Classification) Rank() int {
	if r, ok := classRank[c]; ok {
		return r
	}
	return -1
}

// Valid reports whether c is one of the four known labels.
func (c Classification) Valid() bool { return c.Rank() >= 0 }

// Duration is a time.Duration that serializes as a Go duration string
// ("24h", "90m") in both JSON and YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }
func (d Duration) String() string     { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	return d.parse(s)
}

func (d Duration) MarshalYAML() (interface{}, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", s)
	}
	*d = Duration(v)
	return nil
}

// Field describes one column or attribute of the dataset schema.
type Field struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Nullable    bool      `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	PII         bool      `json:"pii,omitempty" yaml:"pii,omitempty"`
	Unique      bool      `json:"unique,omitempty" yaml:"unique,omitempty"`
	MaxLength   *int      `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Enum        []string  `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// Ownership names the accountable party for a dataset.
type Ownership struct {
	Name     string   `json:"name" yaml:"name"`
	Contact  string   `json:"contact,omitempty" yaml:"contact,omitempty"`
	Domain   string   `json:"domain,omitempty" yaml:"domain,omitempty"`
	Stewards []string `json:"stewards,omitempty" yaml:"stewards,omitempty"`
}

// Governance carries the compliance posture of the dataset.
type Governance struct {
	Classification     Classification `json:"classification" yaml:"classification"`
	RetentionDays      *int           `json:"retention_days,omitempty" yaml:"retention_days,omitempty"`
	ComplianceTags     []string       `json:"compliance_tags,omitempty" yaml:"compliance_tags,omitempty"`
	EncryptionRequired bool           `json:"encryption_required,omitempty" yaml:"encryption_required,omitempty"`
	ApprovedUseCases   []string       `json:"approved_use_cases,omitempty" yaml:"approved_use_cases,omitempty"`
	DataResidency      string         `json:"data_residency,omitempty" yaml:"data_residency,omitempty"`
	VersioningPolicy   string         `json:"versioning_policy,omitempty" yaml:"versioning_policy,omitempty"`
}

// Quality declares the measurable quality commitments for the dataset.
// Pointer fields distinguish "not declared" from an explicit zero.
type Quality struct {
	CompletenessThreshold *float64   `json:"completeness_threshold,omitempty" yaml:"completeness_threshold,omitempty"`
	AccuracyThreshold     *float64   `json:"accuracy_threshold,omitempty" yaml:"accuracy_threshold,omitempty"`
	FreshnessHorizon      Duration   `json:"freshness_horizon,omitempty" yaml:"freshness_horizon,omitempty"`
	AvailabilityTarget    *float64   `json:"availability_target,omitempty" yaml:"availability_target,omitempty"`
	UniquenessKeys        [][]string `json:"uniqueness_keys,omitempty" yaml:"uniqueness_keys,omitempty"`
	Tier                  string     `json:"tier,omitempty" yaml:"tier,omitempty"`
}

// SubscriptionSLA is a consumer's delivery agreement against the dataset.
type SubscriptionSLA struct {
	Consumer           string   `json:"consumer" yaml:"consumer"`
	LatencyTargetMs    int      `json:"latency_target_ms,omitempty" yaml:"latency_target_ms,omitempty"`
	AvailabilityTarget float64  `json:"availability_target,omitempty" yaml:"availability_target,omitempty"`
	MaxStaleness       Duration `json:"max_staleness,omitempty" yaml:"max_staleness,omitempty"`
	ApprovedFields     []string `json:"approved_fields,omitempty" yaml:"approved_fields,omitempty"`
	AccessWindow       string   `json:"access_window,omitempty" yaml:"access_window,omitempty"`
}

// Contract is the complete data-contract document for one dataset version.
type Contract struct {
	Dataset       string            `json:"dataset" yaml:"dataset"`
	Version       string            `json:"version,omitempty" yaml:"version,omitempty"`
	Fingerprint   string            `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Owner         Ownership         `json:"owner" yaml:"owner"`
	Schema        []Field           `json:"schema" yaml:"schema"`
	Governance    Governance        `json:"governance" yaml:"governance"`
	Quality       Quality           `json:"quality,omitempty" yaml:"quality,omitempty"`
	Subscriptions []SubscriptionSLA `json:"subscriptions,omitempty" yaml:"subscriptions,omitempty"`
	Notes         string            `json:"notes,omitempty" yaml:"notes,omitempty"`
}

const maxDatasetNameLen = 64

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidIdent reports whether s is a lowercase snake_case identifier.
func ValidIdent(s string) bool { return identRe.MatchString(s) }

// Field lookup helpers. Lookup is case-sensitive; Validate guarantees
// names are unique case-insensitively, so callers normalize first.

// FieldByName returns the schema field with the given name, or nil.
func (c *Contract) FieldByName(name string) *Field {
	for i := range c.Schema {
		if c.Schema[i].Name == name {
			return &c.Schema[i]
		}
	}
	return nil
}

// FieldNames returns schema field names in presentation order.
func (c *Contract) FieldNames() []string {
	out := make([]string, len(c.Schema))
	for i := range c.Schema {
		out[i] = c.Schema[i].Name
	}
	return out
}

// PIIFields returns the names of fields flagged as PII, in presentation order.
func (c *Contract) PIIFields() []string {
	var out []string
	for i := range c.Schema {
		if c.Schema[i].PII {
			out = append(out, c.Schema[i].Name)
		}
	}
	return out
}

// HasPII reports whether any schema field is flagged as PII.
func (c *Contract) HasPII() bool { return len(c.PIIFields()) > 0 }

// Subscription returns the SLA for the named consumer, or nil.
func (c *Contract) Subscription(consumer string) *SubscriptionSLA {
	for i := range c.Subscriptions {
		if c.Subscriptions[i].Consumer == consumer {
			return &c.Subscriptions[i]
		}
	}
	return nil
}

// Clone returns a deep copy that can be mutated without touching c.
func (c *Contract) Clone() *Contract {
	out := *c
	out.Schema = append([]Field(nil), c.Schema...)
	for i := range out.Schema {
		out.Schema[i].MaxLength = clonePtr(c.Schema[i].MaxLength)
		out.Schema[i].Enum = cloneStrings(c.Schema[i].Enum)
	}
	out.Owner.Stewards = cloneStrings(c.Owner.Stewards)
	out.Governance.RetentionDays = clonePtr(c.Governance.RetentionDays)
	out.Governance.ComplianceTags = cloneStrings(c.Governance.ComplianceTags)
	out.Governance.ApprovedUseCases = cloneStrings(c.Governance.ApprovedUseCases)
	out.Quality.CompletenessThreshold = clonePtr(c.Quality.CompletenessThreshold)
	out.Quality.AccuracyThreshold = clonePtr(c.Quality.AccuracyThreshold)
	out.Quality.AvailabilityTarget = clonePtr(c.Quality.AvailabilityTarget)
	if c.Quality.UniquenessKeys != nil {
		out.Quality.UniquenessKeys = make([][]string, len(c.Quality.UniquenessKeys))
		for i, key := range c.Quality.UniquenessKeys {
			out.Quality.UniquenessKeys[i] = cloneStrings(key)
		}
	}
	if c.Subscriptions != nil {
		out.Subscriptions = append([]SubscriptionSLA(nil), c.Subscriptions...)
		for i := range out.Subscriptions {
			out.Subscriptions[i].ApprovedFields = cloneStrings(c.Subscriptions[i].ApprovedFields)
		}
	}
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// Validate checks the structural invariants of the document. It returns an
// invalid_contract error naming the first violation found; policy-level
// judgements (encryption, retention, naming conventions) are not applied
// here, only what makes the document well-formed at all.
func (c *Contract) Validate() error {
	if c.Dataset == "" {
		return invalidf(c, "dataset name is required")
	}
	if len(c.Dataset) > maxDatasetNameLen {
		return invalidf(c, "dataset name exceeds %d characters", maxDatasetNameLen)
	}
	if !ValidIdent(c.Dataset) {
		return invalidf(c, "dataset name %q must be lowercase snake_case", c.Dataset)
	}
	if c.Version != "" {
		if _, err := ParseVersion(c.Version); err != nil {
			return invalidf(c, "version %q is not semantic: %v", c.Version, err)
		}
	}
	if len(c.Schema) == 0 {
		return invalidf(c, "schema must declare at least one field")
	}
	seen := make(map[string]bool, len(c.Schema))
	for i := range c.Schema {
		f := &c.Schema[i]
		if f.Name == "" {
			return invalidf(c, "schema field %d has no name", i)
		}
		// Naming convention is a governance policy (warning), not a
		// structural rejection; only uniqueness is enforced here.
		lower := strings.ToLower(f.Name)
		if seen[lower] {
			return invalidf(c, "duplicate field name %q", f.Name)
		}
		seen[lower] = true
		if !ValidFieldType(f.Type) {
			return invalidf(c, "field %q has unknown type %q", f.Name, f.Type)
		}
		// required+nullable is a governance contradiction (critical policy
		// finding), not a structural rejection, so reports can name it.
		if f.MaxLength != nil && *f.MaxLength <= 0 {
			return invalidf(c, "field %q max_length must be positive", f.Name)
		}
		if err := uniqueStrings(f.Enum); err != nil {
			return invalidf(c, "field %q enum: %v", f.Name, err)
		}
	}
	if c.Owner.Name == "" {
		return invalidf(c, "owner name is required")
	}
	if !c.Governance.Classification.Valid() {
		return invalidf(c, "classification %q is not one of public/internal/confidential/restricted", c.Governance.Classification)
	}
	if c.Governance.RetentionDays != nil && *c.Governance.RetentionDays < 1 {
		return invalidf(c, "retention_days must be at least 1")
	}
	if err := validRatio(c.Quality.CompletenessThreshold, "completeness_threshold"); err != nil {
		return invalidf(c, "%v", err)
	}
	if err := validRatio(c.Quality.AccuracyThreshold, "accuracy_threshold"); err != nil {
		return invalidf(c, "%v", err)
	}
	if err := validRatio(c.Quality.AvailabilityTarget, "availability_target"); err != nil {
		return invalidf(c, "%v", err)
	}
	for _, key := range c.Quality.UniquenessKeys {
		if len(key) == 0 {
			return invalidf(c, "uniqueness key must name at least one field")
		}
		for _, name := range key {
			if c.FieldByName(name) == nil {
				return invalidf(c, "uniqueness key references unknown field %q", name)
			}
		}
	}
	consumers := make(map[string]bool, len(c.Subscriptions))
	for i := range c.Subscriptions {
		s := &c.Subscriptions[i]
		if s.Consumer == "" {
			return invalidf(c, "subscription %d has no consumer", i)
		}
		if consumers[s.Consumer] {
			return invalidf(c, "duplicate subscription for consumer %q", s.Consumer)
		}
		consumers[s.Consumer] = true
		if s.LatencyTargetMs < 0 {
			return invalidf(c, "subscription %q latency target must not be negative", s.Consumer)
		}
		if s.AvailabilityTarget < 0 || s.AvailabilityTarget > 1 {
			return invalidf(c, "subscription %q availability target must be within [0,1]", s.Consumer)
		}
		for _, name := range s.ApprovedFields {
			if c.FieldByName(name) == nil {
				return invalidf(c, "subscription %q approves unknown field %q", s.Consumer, name)
			}
		}
	}
	return nil
}

func invalidf(c *Contract, format string, args ...any) error {
	return NewError(KindInvalidContract, c.Dataset, c.Version, fmt.Sprintf(format, args...), nil)
}

func validRatio(v *float64, name string) error {
	if v != nil && (*v < 0 || *v > 1) {
		return fmt.Errorf("%s must be within [0,1]", name)
	}
	return nil
}

func uniqueStrings(vals []string) error {
	seen := make(map[string]bool, len(vals))
	for _, v := range vals {
		if v == "" {
			return fmt.Errorf("empty value")
		}
		if seen[v] {
			return fmt.Errorf("duplicate value %q", v)
		}
		seen[v] = true
	}
	return nil
}
