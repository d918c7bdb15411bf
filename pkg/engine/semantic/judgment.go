// Package semantic runs governance policies that need a language model to
// judge: intent, coherence, adequacy. Every verdict is structured and
// schema-checked; a model answer that does not parse contributes nothing.
package semantic

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Verdicts a judgment may carry.
const (
	VerdictCompliant = "compliant"
	VerdictViolation = "violation"
	VerdictUnknown   = "unknown"
)

// Judgment is the structured verdict a model must return.
type Judgment struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Field      string  `json:"field,omitempty"`
}

// defaultJudgmentSchema applies when a policy does not carry its own
// judgment schema. Extra keys are tolerated.
const defaultJudgmentSchema = `{
  "type": "object",
  "required": ["verdict"],
  "properties": {
    "verdict": {"enum": ["compliant", "violation", "unknown"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"},
    "field": {"type": "string"}
  }
}`

var defaultSchema = jsonschema.MustCompileString("judgment.json", defaultJudgmentSchema)

// ParseJudgment extracts the first JSON object from model output, validates
// it against the schema (the default one when nil), and normalizes the
// result. Models wrap JSON in prose and markdown fences often enough that
// extraction has to tolerate surrounding text.
func ParseJudgment(text string, schema *jsonschema.Schema) (*Judgment, error) {
	raw, err := firstJSONObject(text)
	if err != nil {
		return nil, err
	}

	if schema == nil {
		schema = defaultSchema
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("judgment is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("judgment rejected by schema: %w", err)
	}

	var j Judgment
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("judgment shape mismatch: %w", err)
	}

	switch j.Verdict {
	case VerdictCompliant, VerdictViolation, VerdictUnknown:
	default:
		// A custom schema may be looser than the default one.
		return nil, fmt.Errorf("unrecognized verdict %q", j.Verdict)
	}

	if j.Confidence < 0 {
		j.Confidence = 0
	}
	if j.Confidence > 1 {
		j.Confidence = 1
	}
	return &j, nil
}

// firstJSONObject returns the first decodable JSON object in text. A brace
// inside prose is skipped because it fails to decode.
func firstJSONObject(text string) (json.RawMessage, error) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil {
			return raw, nil
		}
	}
	return nil, errors.New("no JSON object in model output")
}
