package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FingerprintPrefix is prepended to the hex digest in display contexts.
const FingerprintPrefix = "sha256:"

// CanonicalSchema renders the schema in its canonical textual form: fields
// sorted by name, one line per field,
//
//	name|type|nullable|max_length|pii|enum
//
// with booleans spelled out, an empty column for an absent max_length, and
// enum values sorted then comma-joined. All strings are NFC-normalized so
// visually identical Unicode spellings fingerprint identically.
func CanonicalSchema(c *Contract) string {
	lines := make([]string, 0, len(c.Schema))
	for i := range c.Schema {
		f := &c.Schema[i]
		maxLen := ""
		if f.MaxLength != nil {
			maxLen = strconv.Itoa(*f.MaxLength)
		}
		enum := ""
		if len(f.Enum) > 0 {
			vals := make([]string, len(f.Enum))
			for j, v := range f.Enum {
				vals[j] = norm.NFC.String(v)
			}
			sort.Strings(vals)
			enum = strings.Join(vals, ",")
		}
		lines = append(lines, strings.Join([]string{
			norm.NFC.String(f.Name),
			string(f.Type),
			strconv.FormatBool(f.Nullable),
			maxLen,
			strconv.FormatBool(f.PII),
			enum,
		}, "|"))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// SchemaFingerprint computes the 256-bit schema fingerprint as lowercase
// hex. Field order in the document does not affect the result; any material
// schema change does.
func SchemaFingerprint(c *Contract) string {
	sum := sha256.Sum256([]byte(CanonicalSchema(c)))
	return hex.EncodeToString(sum[:])
}

// DisplayFingerprint renders a digest with the sha256: prefix, tolerating
// digests that already carry it.
func DisplayFingerprint(digest string) string {
	if strings.HasPrefix(digest, FingerprintPrefix) {
		return digest
	}
	return FingerprintPrefix + digest
}
