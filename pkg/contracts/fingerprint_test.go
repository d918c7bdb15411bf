package contracts

import (
	"strings"
	"testing"
)

func TestFingerprintIgnoresFieldOrder(t *testing.T) {
	a := baseContract()
	b := baseContract()
	b.Schema[0], b.Schema[2] = b.Schema[2], b.Schema[0]

	if SchemaFingerprint(a) != SchemaFingerprint(b) {
		t.Fatal("field order changed the fingerprint")
	}
}

func TestFingerprintSeesMaterialChanges(t *testing.T) {
	base := SchemaFingerprint(baseContract())

	mutations := []struct {
		name   string
		mutate func(*Contract)
	}{
		{"rename", func(c *Contract) { c.Schema[1].Name = "email_address" }},
		{"retype", func(c *Contract) { c.Schema[1].Type = TypeBytes }},
		{"nullable", func(c *Contract) { c.Schema[1].Nullable = true }},
		{"max_length", func(c *Contract) { c.Schema[1].MaxLength = intp(512) }},
		{"pii flag", func(c *Contract) { c.Schema[1].PII = false }},
		{"enum", func(c *Contract) { c.Schema[1].Enum = []string{"work", "home"} }},
		{"added field", func(c *Contract) {
			c.Schema = append(c.Schema, Field{Name: "region", Type: TypeString})
		}},
		{"removed field", func(c *Contract) { c.Schema = c.Schema[:2] }},
	}
	for _, m := range mutations {
		t.Run(m.name, func(t *testing.T) {
			c := baseContract()
			m.mutate(c)
			if SchemaFingerprint(c) == base {
				t.Fatal("mutation did not change the fingerprint")
			}
		})
	}
}

func TestFingerprintIgnoresNonSchemaChanges(t *testing.T) {
	base := SchemaFingerprint(baseContract())

	c := baseContract()
	c.Owner.Name = "Someone Else"
	c.Notes = "now with notes"
	c.Governance.RetentionDays = intp(30)
	c.Schema[1].Description = "primary email"

	if SchemaFingerprint(c) != base {
		t.Fatal("non-schema change altered the fingerprint")
	}
}

func TestCanonicalSchemaShape(t *testing.T) {
	c := &Contract{Schema: []Field{
		{Name: "b_field", Type: TypeString, MaxLength: intp(10)},
		{Name: "a_field", Type: TypeInteger, Nullable: true, PII: true},
	}}
	got := CanonicalSchema(c)
	want := strings.Join([]string{
		"a_field|integer|true||true|",
		"b_field|string|false|10|false|",
	}, "\n")
	if got != want {
		t.Fatalf("canonical schema:\n%s\nwant:\n%s", got, want)
	}
}

func TestFingerprintUnicodeNormalization(t *testing.T) {
	// U+00E9 vs e + U+0301 spell the same grapheme; fingerprints must agree.
	a := &Contract{Schema: []Field{{Name: "café", Type: TypeString}}}
	b := &Contract{Schema: []Field{{Name: "café", Type: TypeString}}}
	if SchemaFingerprint(a) != SchemaFingerprint(b) {
		t.Fatal("NFC-equivalent names produced different fingerprints")
	}
}

func TestDisplayFingerprint(t *testing.T) {
	if got := DisplayFingerprint("abc"); got != "sha256:abc" {
		t.Fatalf("got %q", got)
	}
	if got := DisplayFingerprint("sha256:abc"); got != "sha256:abc" {
		t.Fatalf("double prefix: %q", got)
	}
}
