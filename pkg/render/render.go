// Package render serializes contracts into their two published forms: a
// canonical machine form (RFC 8785 JSON) and a block-structured human text
// form. Both forms are UTF-8 with LF line endings, and both round-trip:
// parsing either form and re-emitting it reproduces the same bytes.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

// Canonical renders the machine form: canonical JSON with keys sorted
// ascending and minimal escaping. Equal contracts produce equal bytes.
func Canonical(c *contracts.Contract) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("render: marshal contract: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("render: canonicalize contract: %w", err)
	}
	return out, nil
}

// ParseCanonical decodes the machine form back into a contract. Unknown
// keys are rejected, the same strictness the builder applies to raw input.
func ParseCanonical(b []byte) (*contracts.Contract, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var c contracts.Contract
	if err := dec.Decode(&c); err != nil {
		return nil, contracts.NewError(contracts.KindInvalidContract, "", "", "parsing canonical contract", err)
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.Fingerprint = contracts.SchemaFingerprint(&c)
	return &c, nil
}
