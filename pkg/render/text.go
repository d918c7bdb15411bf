package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/datapact-labs/datapact/pkg/contracts"
)

// The human form opens with a fixed comment header and then lays the
// contract out in five blocks in fixed order: dataset, schema, governance,
// quality, subscriptions. The dataset block groups identity and ownership.

type datasetBlock struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version,omitempty"`
	Fingerprint string   `yaml:"fingerprint,omitempty"`
	Owner       string   `yaml:"owner"`
	Contact     string   `yaml:"contact,omitempty"`
	Domain      string   `yaml:"domain,omitempty"`
	Stewards    []string `yaml:"stewards,omitempty"`
	Notes       string   `yaml:"notes,omitempty"`
}

type textDoc struct {
	Dataset       datasetBlock                `yaml:"dataset"`
	Schema        []contracts.Field           `yaml:"schema"`
	Governance    contracts.Governance        `yaml:"governance"`
	Quality       contracts.Quality           `yaml:"quality"`
	Subscriptions []contracts.SubscriptionSLA `yaml:"subscriptions"`
}

// Text renders the human form. generated stamps the header; it is carried
// through ParseText so re-rendering a parsed document is byte-identical.
func Text(c *contracts.Contract, generated time.Time) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Data Contract\n# Dataset: %s\n# Version: %s\n# Generated: %s\n",
		c.Dataset, c.Version, generated.UTC().Truncate(time.Second).Format(time.RFC3339))

	blocks := []any{
		struct {
			Dataset datasetBlock `yaml:"dataset"`
		}{datasetBlock{
			Name:        c.Dataset,
			Version:     c.Version,
			Fingerprint: c.Fingerprint,
			Owner:       c.Owner.Name,
			Contact:     c.Owner.Contact,
			Domain:      c.Owner.Domain,
			Stewards:    c.Owner.Stewards,
			Notes:       c.Notes,
		}},
		struct {
			Schema []contracts.Field `yaml:"schema"`
		}{c.Schema},
		struct {
			Governance contracts.Governance `yaml:"governance"`
		}{c.Governance},
		struct {
			Quality contracts.Quality `yaml:"quality"`
		}{c.Quality},
		struct {
			Subscriptions []contracts.SubscriptionSLA `yaml:"subscriptions"`
		}{c.Subscriptions},
	}
	for _, b := range blocks {
		buf.WriteByte('\n')
		if err := encodeBlock(&buf, b); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeBlock(buf *bytes.Buffer, v any) error {
	enc := yaml.NewEncoder(buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("render: encode block: %w", err)
	}
	return enc.Close()
}

// ParseText parses the human form back into a contract and the generation
// timestamp from its header. The document is normalized, structurally
// validated, and re-fingerprinted; a stored fingerprint is not trusted.
func ParseText(b []byte) (*contracts.Contract, time.Time, error) {
	var generated time.Time
	body := make([]string, 0, 64)
	for _, line := range strings.Split(string(b), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if ts, ok := strings.CutPrefix(trimmed, "# Generated:"); ok {
				t, err := time.Parse(time.RFC3339, strings.TrimSpace(ts))
				if err != nil {
					return nil, time.Time{}, contracts.NewError(contracts.KindInvalidContract, "", "",
						"contract header carries an unparseable timestamp", err)
				}
				generated = t
			}
			continue
		}
		body = append(body, line)
	}

	var doc textDoc
	dec := yaml.NewDecoder(strings.NewReader(strings.Join(body, "\n")))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, time.Time{}, contracts.NewError(contracts.KindInvalidContract, "", "", "parsing contract text", err)
	}

	c := &contracts.Contract{
		Dataset:     doc.Dataset.Name,
		Version:     doc.Dataset.Version,
		Fingerprint: doc.Dataset.Fingerprint,
		Owner: contracts.Ownership{
			Name:     doc.Dataset.Owner,
			Contact:  doc.Dataset.Contact,
			Domain:   doc.Dataset.Domain,
			Stewards: doc.Dataset.Stewards,
		},
		Notes:         doc.Dataset.Notes,
		Schema:        doc.Schema,
		Governance:    doc.Governance,
		Quality:       doc.Quality,
		Subscriptions: doc.Subscriptions,
	}
	// YAML decodes an empty sequence as a non-nil empty slice; canonical
	// in-memory form uses nil for "none declared".
	if len(c.Subscriptions) == 0 {
		c.Subscriptions = nil
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, time.Time{}, err
	}
	c.Fingerprint = contracts.SchemaFingerprint(c)
	return c, generated, nil
}
