package render

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

func intp(v int) *int { return &v }

func floatp(v float64) *float64 { return &v }

func sampleContract(t *testing.T) *contracts.Contract {
	t.Helper()
	c := &contracts.Contract{
		Dataset: "customer_profiles",
		Version: "1.2.0",
		Owner: contracts.Ownership{
			Name:     "Data Platform",
			Contact:  "data-platform@example.com",
			Domain:   "customer",
			Stewards: []string{"ana", "mei"},
		},
		Schema: []contracts.Field{
			{Name: "customer_id", Type: contracts.TypeUUID, Required: true, Unique: true, Description: "stable id"},
			{Name: "email", Type: contracts.TypeString, PII: true, Nullable: true, MaxLength: intp(255)},
			{Name: "segment", Type: contracts.TypeString, Enum: []string{"smb", "enterprise"}, MaxLength: intp(16)},
			{Name: "created_at", Type: contracts.TypeTimestamp, Required: true},
		},
		Governance: contracts.Governance{
			Classification:     contracts.ClassConfidential,
			RetentionDays:      intp(730),
			ComplianceTags:     []string{"gdpr", "ccpa"},
			EncryptionRequired: true,
			DataResidency:      "eu-west-1",
			VersioningPolicy:   "semver; breaking changes bump major",
		},
		Quality: contracts.Quality{
			CompletenessThreshold: floatp(0.99),
			AccuracyThreshold:     floatp(0.95),
			FreshnessHorizon:      contracts.Duration(24 * time.Hour),
			UniquenessKeys:        [][]string{{"customer_id"}},
			Tier:                  "gold",
		},
		Subscriptions: []contracts.SubscriptionSLA{{
			Consumer:           "crm",
			LatencyTargetMs:    200,
			AvailabilityTarget: 0.999,
			MaxStaleness:       contracts.Duration(time.Hour),
			ApprovedFields:     []string{"customer_id", "segment"},
			AccessWindow:       "business hours",
		}},
		Notes: "Primary customer dimension.\nSourced from the CRM nightly load.",
	}
	c.Normalize()
	require.NoError(t, c.Validate())
	c.Fingerprint = contracts.SchemaFingerprint(c)
	return c
}

func TestCanonicalDeterministicAndSorted(t *testing.T) {
	c := sampleContract(t)

	a, err := Canonical(c)
	require.NoError(t, err)
	b, err := Canonical(c)
	require.NoError(t, err)
	require.Equal(t, string(a), string(b))

	// Canonical JSON sorts sibling keys ascending.
	s := string(a)
	require.Less(t, strings.Index(s, `"dataset"`), strings.Index(s, `"governance"`))
	require.Less(t, strings.Index(s, `"governance"`), strings.Index(s, `"owner"`))
	require.NotContains(t, s, "\n")
}

func TestCanonicalRoundTrip(t *testing.T) {
	c := sampleContract(t)

	raw, err := Canonical(c)
	require.NoError(t, err)
	back, err := ParseCanonical(raw)
	require.NoError(t, err)

	if diff := cmp.Diff(c, back); diff != "" {
		t.Fatalf("canonical round trip drifted (-want +got):\n%s", diff)
	}

	again, err := Canonical(back)
	require.NoError(t, err)
	require.Equal(t, string(raw), string(again))
}

func TestParseCanonicalRejectsUnknownKeys(t *testing.T) {
	_, err := ParseCanonical([]byte(`{"dataset":"d","blast_radius":1}`))
	require.Error(t, err)
	require.Equal(t, contracts.KindInvalidContract, contracts.KindOf(err))
}

func TestTextHeaderAndBlockOrder(t *testing.T) {
	c := sampleContract(t)
	gen := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	b, err := Text(c, gen)
	require.NoError(t, err)
	s := string(b)

	require.True(t, strings.HasPrefix(s, "# Data Contract\n# Dataset: customer_profiles\n# Version: 1.2.0\n# Generated: 2026-03-14T09:26:53Z\n"))
	require.NotContains(t, s, "\r\n")

	order := []string{"\ndataset:\n", "\nschema:\n", "\ngovernance:\n", "\nquality:\n", "\nsubscriptions:\n"}
	last := -1
	for _, block := range order {
		i := strings.Index(s, block)
		require.Greater(t, i, last, "block %q out of order", strings.TrimSpace(block))
		last = i
	}
}

func TestTextRoundTrip(t *testing.T) {
	c := sampleContract(t)
	gen := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	b, err := Text(c, gen)
	require.NoError(t, err)

	back, parsedGen, err := ParseText(b)
	require.NoError(t, err)
	require.Equal(t, gen, parsedGen)
	if diff := cmp.Diff(c, back); diff != "" {
		t.Fatalf("text round trip drifted (-want +got):\n%s", diff)
	}

	// Re-rendering the parsed document is byte-identical.
	again, err := Text(back, parsedGen)
	require.NoError(t, err)
	require.Equal(t, string(b), string(again))
}

func TestTextMinimalContract(t *testing.T) {
	c := &contracts.Contract{
		Dataset: "public_kpis",
		Version: "1.0.0",
		Owner:   contracts.Ownership{Name: "BI"},
		Schema: []contracts.Field{
			{Name: "kpi_name", Type: contracts.TypeString, Description: "metric name", MaxLength: intp(64)},
		},
		Governance: contracts.Governance{Classification: contracts.ClassPublic},
	}
	c.Normalize()
	require.NoError(t, c.Validate())
	c.Fingerprint = contracts.SchemaFingerprint(c)

	b, err := Text(c, time.Unix(0, 0))
	require.NoError(t, err)

	back, _, err := ParseText(b)
	require.NoError(t, err)
	if diff := cmp.Diff(c, back); diff != "" {
		t.Fatalf("minimal round trip drifted (-want +got):\n%s", diff)
	}
}

func TestParseTextRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not yaml":        "# Data Contract\n\ndataset: [unclosed",
		"unknown block":   "# Data Contract\n\ndataset:\n  name: d\n  owner: o\nmystery:\n  x: 1\n",
		"bad header time": "# Data Contract\n# Generated: yesterday\n\ndataset:\n  name: d\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := ParseText([]byte(doc))
			require.Error(t, err)
			require.Equal(t, contracts.KindInvalidContract, contracts.KindOf(err))
		})
	}
}

func TestFingerprintRecomputedOnParse(t *testing.T) {
	c := sampleContract(t)
	b, err := Text(c, time.Unix(0, 0))
	require.NoError(t, err)

	tampered := strings.Replace(string(b), c.Fingerprint, strings.Repeat("0", 64), 1)
	back, _, err := ParseText([]byte(tampered))
	require.NoError(t, err)
	require.Equal(t, c.Fingerprint, back.Fingerprint, "stored fingerprint must not be trusted")
}
